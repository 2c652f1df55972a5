package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/soporte-live/pkg/audio"
	"github.com/vango-go/soporte-live/pkg/live/capture"
	"github.com/vango-go/soporte-live/pkg/live/playback"
	"github.com/vango-go/soporte-live/pkg/live/protocol"
)

type fakeConn struct {
	inbound chan protocol.Inbound
	recvErr chan error
	sent    chan protocol.Outbound
	closed  chan struct{}

	mu     sync.Mutex
	closes int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan protocol.Inbound, 16),
		recvErr: make(chan error, 1),
		sent:    make(chan protocol.Outbound, 256),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Send(ctx context.Context, out protocol.Outbound) error {
	select {
	case c.sent <- out:
	default:
	}
	return nil
}

func (c *fakeConn) Receive() (protocol.Inbound, error) {
	select {
	case msg := <-c.inbound:
		return msg, nil
	case err := <-c.recvErr:
		return protocol.Inbound{}, err
	case <-c.closed:
		return protocol.Inbound{}, io.ErrClosedPipe
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closes == 0 {
		close(c.closed)
	}
	c.closes++
	return nil
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// nextToolResponses skips audio sends and returns the next tool reply.
func (c *fakeConn) nextToolResponses(t *testing.T) []protocol.ToolResponse {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case out := <-c.sent:
			if !out.IsAudio() {
				return out.ToolResponses
			}
		case <-timeout:
			t.Fatalf("timed out waiting for tool responses")
			return nil
		}
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	reqs  []DialRequest
	err   error
	gate  chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, req DialRequest) (Conn, error) {
	if d.gate != nil {
		<-d.gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reqs = append(d.reqs, req)
	if d.err != nil {
		return nil, d.err
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reqs)
}

type fakeTrack struct {
	mu    sync.Mutex
	stops int
}

func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	return nil
}

func (t *fakeTrack) stopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

type fakeMic struct {
	mu      sync.Mutex
	err     error
	opens   int
	onFrame func([]float32)
	track   *fakeTrack
}

func (m *fakeMic) Open(format audio.Format, frameSize int, onFrame func([]float32)) (capture.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.err != nil {
		return nil, m.err
	}
	m.onFrame = onFrame
	m.track = &fakeTrack{}
	return m.track, nil
}

func (m *fakeMic) state() (int, func([]float32), *fakeTrack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens, m.onFrame, m.track
}

type scheduled struct {
	at  time.Duration
	dur time.Duration
}

type fakeOutput struct {
	mu      sync.Mutex
	now     time.Duration
	slots   []scheduled
	flushes int
	closes  int
}

func (o *fakeOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) Schedule(buf playback.Buffer, at time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.slots = append(o.slots, scheduled{at: at, dur: buf.Duration})
	return nil
}

func (o *fakeOutput) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flushes++
	return nil
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closes++
	return nil
}

func (o *fakeOutput) snapshot() (slots []scheduled, flushes, closes int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]scheduled(nil), o.slots...), o.flushes, o.closes
}

type fakeSpeaker struct {
	mu      sync.Mutex
	err     error
	outputs []*fakeOutput
}

func (s *fakeSpeaker) Open(format audio.Format) (playback.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := &fakeOutput{}
	s.outputs = append(s.outputs, out)
	return out, nil
}

func (s *fakeSpeaker) output(i int) *fakeOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.outputs) {
		return nil
	}
	return s.outputs[i]
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
