package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/soporte-live/pkg/audio"
	"github.com/vango-go/soporte-live/pkg/casefile"
	"github.com/vango-go/soporte-live/pkg/core"
	"github.com/vango-go/soporte-live/pkg/live/capture"
	"github.com/vango-go/soporte-live/pkg/live/playback"
	"github.com/vango-go/soporte-live/pkg/live/protocol"
	"github.com/vango-go/soporte-live/pkg/live/tools"
	"github.com/vango-go/soporte-live/pkg/metrics"
)

const eventQueueSize = 64

// DialRequest carries what the transport needs to open a session.
type DialRequest struct {
	APIKey    string
	Identity  string
	SessionID string
}

// Conn is a negotiated connection to the remote assistant. Receive returns
// io.EOF once the remote side closed normally; Close unblocks Receive.
type Conn interface {
	Send(ctx context.Context, out protocol.Outbound) error
	Receive() (protocol.Inbound, error)
	Close() error
}

// Dialer opens connections to the remote assistant.
type Dialer interface {
	Dial(ctx context.Context, req DialRequest) (Conn, error)
}

type Options struct {
	APIKey     string
	Dialer     Dialer
	Microphone capture.Microphone
	Speaker    playback.Device
	Store      *casefile.Store
	// Tools configures the dispatcher of every session.
	Tools      tools.Options
	FrameSize  int
	OutboxSize int
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Manager owns at most one live session.
type Manager struct {
	opts   Options
	logger *slog.Logger

	// notifyMu serializes state changes with their notifications so
	// observers see them in order. Lock order: notifyMu, then mu.
	notifyMu sync.Mutex

	mu       sync.Mutex
	state    State
	err      error
	cur      *session
	onChange func(State)

	wg sync.WaitGroup
}

type session struct {
	id       string
	identity string
	ctx      context.Context
	logger   *slog.Logger
	started  time.Time

	events     chan Event
	outbox     *outbox
	res        *resources
	kase       *casefile.Case
	capture    *capture.Pipeline
	scheduler  *playback.Scheduler
	dispatcher *tools.Dispatcher
}

func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Store == nil {
		opts.Store = casefile.NewStore()
	}
	if opts.Tools.Logger == nil {
		opts.Tools.Logger = opts.Logger
	}
	if opts.Tools.Metrics == nil {
		opts.Tools.Metrics = opts.Metrics
	}
	return &Manager{
		opts:   opts,
		logger: opts.Logger,
		state:  StateDisconnected,
	}
}

// Store returns the case store sessions write into.
func (m *Manager) Store() *casefile.Store {
	return m.opts.Store
}

// OnStateChange registers fn to be called after every state change, in
// order. fn must not call back into the Manager's Connect, Disconnect or
// Close.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error that ended the last session, if any.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// SessionID returns the id of the active session or "".
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return ""
	}
	return m.cur.id
}

// Volume returns the smoothed microphone level of the active session, or 0.
func (m *Manager) Volume() float64 {
	m.mu.Lock()
	s := m.cur
	m.mu.Unlock()
	if s == nil {
		return 0
	}
	return s.capture.Volume()
}

// Connect starts a new session for identity and returns without waiting
// for the remote side. An active session is torn down first.
func (m *Manager) Connect(ctx context.Context, identity string) error {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	old := m.cur
	m.cur = nil
	m.mu.Unlock()
	if old != nil {
		old.logger.Info("replacing active session")
		m.end(old, "replaced")
	}

	if strings.TrimSpace(m.opts.APIKey) == "" {
		err := core.NewConfigError("api key not configured")
		m.setLocked(StateError, err)
		return err
	}
	if m.opts.Dialer == nil {
		err := core.NewConfigError("no transport configured")
		m.setLocked(StateError, err)
		return err
	}

	s := m.newSession(ctx, identity)

	if m.opts.Speaker == nil {
		err := core.NewCaptureError("no audio output available", nil)
		m.end(s, "error")
		m.setLocked(StateError, err)
		return err
	}
	out, err := m.opts.Speaker.Open(audio.OutputFormat())
	if err != nil {
		cerr := core.NewCaptureError("open audio output", err)
		m.end(s, "error")
		m.setLocked(StateError, cerr)
		return cerr
	}
	s.scheduler = playback.NewScheduler(out, audio.OutputFormat())
	s.res.scheduler = s.scheduler

	m.mu.Lock()
	m.cur = s
	m.mu.Unlock()
	m.setLocked(StateConnecting, nil)
	s.logger.Info("session connecting", "identity", s.identity, "case_epoch", s.kase.Epoch())

	m.wg.Add(3)
	go func() {
		defer m.wg.Done()
		m.loop(s)
	}()
	go func() {
		defer m.wg.Done()
		m.dial(s)
	}()
	go func() {
		defer m.wg.Done()
		if err := s.outbox.run(s.ctx); err != nil {
			s.post(Event{Kind: EventError, Err: core.NewSessionError("send", err)})
		}
	}()
	return nil
}

func (m *Manager) newSession(ctx context.Context, identity string) *session {
	id := uuid.NewString()
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	logger := m.logger.With("session_id", id)

	s := &session{
		id:       id,
		identity: strings.TrimSpace(identity),
		ctx:      sctx,
		logger:   logger,
		started:  time.Now(),
		events:   make(chan Event, eventQueueSize),
		outbox:   newOutbox(sctx.Done(), m.opts.OutboxSize),
		kase:     m.opts.Store.Begin(identity),
	}
	s.capture = capture.New(capture.Config{
		Microphone: m.opts.Microphone,
		Sink:       s.outbox,
		Format:     audio.InputFormat(),
		FrameSize:  m.opts.FrameSize,
		Logger:     logger,
		Metrics:    m.opts.Metrics,
	})

	toolOpts := m.opts.Tools
	toolOpts.Logger = logger
	s.dispatcher = tools.NewDispatcher(sctx, s.kase, toolOpts)

	s.res = &resources{cancel: cancel, kase: s.kase, capture: s.capture}
	m.opts.Metrics.RecordSessionStart()
	return s
}

// Disconnect ends the active session, if any, and reports disconnected.
func (m *Manager) Disconnect() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	s := m.cur
	m.cur = nil
	prev := m.state
	m.mu.Unlock()

	if s == nil && prev == StateDisconnected {
		return
	}
	if s != nil {
		s.logger.Info("session disconnected by user")
		m.end(s, "disconnected")
	}
	m.setLocked(StateDisconnected, nil)
}

// Close disconnects and waits for every session goroutine to finish.
func (m *Manager) Close() error {
	m.Disconnect()
	m.wg.Wait()
	return nil
}

// setLocked stores the new state and notifies the observer. The caller
// holds notifyMu.
func (m *Manager) setLocked(state State, err error) {
	m.mu.Lock()
	changed := m.state != state
	m.state = state
	m.err = err
	fn := m.onChange
	m.mu.Unlock()

	if changed && fn != nil {
		fn(state)
	}
}

// end releases the session's resources. Only the first call per session
// records it.
func (m *Manager) end(s *session, status string) {
	first, err := s.res.release()
	if !first {
		return
	}
	if err != nil {
		s.logger.Warn("session cleanup", "error", err)
	}
	m.opts.Metrics.RecordSessionEnd(status, time.Since(s.started))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.dispatcher.Wait()
	}()
}

func (s *session) post(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (m *Manager) dial(s *session) {
	conn, err := m.opts.Dialer.Dial(s.ctx, DialRequest{
		APIKey:    m.opts.APIKey,
		Identity:  s.identity,
		SessionID: s.id,
	})
	if err != nil {
		s.post(Event{Kind: EventError, Err: core.NewSessionError("connect", err)})
		return
	}
	if !s.res.setConn(conn) {
		_ = conn.Close()
		return
	}
	s.outbox.resolve(conn)
	s.post(Event{Kind: EventOpen})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.receive(s, conn)
	}()
}

func (m *Manager) receive(s *session, conn Conn) {
	for {
		msg, err := conn.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.post(Event{Kind: EventClose})
			} else {
				s.post(Event{Kind: EventError, Err: core.NewSessionError("receive", err)})
			}
			return
		}
		if msg.Empty() {
			continue
		}
		s.post(Event{Kind: EventMessage, Message: msg})
	}
}

// loop is the session's control thread: every event is handled here in
// arrival order.
func (m *Manager) loop(s *session) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			if ev.Kind == EventMessage {
				m.handleMessage(s, ev.Message)
				continue
			}
			m.handleLifecycle(s, ev)
		}
	}
}

func (m *Manager) current(s *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur == s
}

func (m *Manager) handleLifecycle(s *session, ev Event) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.cur != s {
		m.mu.Unlock()
		return
	}
	prev := m.state
	next := transition(prev, ev.Kind)
	if next != StateConnecting && next != StateConnected {
		m.cur = nil
	}
	m.mu.Unlock()

	switch ev.Kind {
	case EventOpen:
		if prev != StateConnecting {
			return
		}
		m.setLocked(StateConnected, nil)
		s.logger.Info("session connected")
		if err := s.capture.Start(); err != nil {
			if errors.Is(err, capture.ErrStopped) {
				return
			}
			s.logger.Error("microphone unavailable", "error", err)
			m.mu.Lock()
			if m.cur == s {
				m.cur = nil
			}
			m.mu.Unlock()
			m.end(s, "error")
			m.setLocked(StateError, err)
		}
	case EventClose:
		s.logger.Info("session closed by remote")
		m.end(s, "closed")
		m.setLocked(next, nil)
	case EventError:
		s.logger.Error("session failed", "error", ev.Err)
		m.end(s, "error")
		m.setLocked(next, ev.Err)
	}
}

func (m *Manager) handleMessage(s *session, msg protocol.Inbound) {
	if !m.current(s) {
		return
	}

	if msg.Interrupted {
		s.logger.Debug("playback interrupted", "cursor", s.scheduler.Cursor())
		if err := s.scheduler.Interrupt(); err != nil && !errors.Is(err, playback.ErrClosed) {
			s.logger.Warn("playback interrupt", "error", err)
		}
	}
	for _, chunk := range msg.Audio {
		slot, err := s.scheduler.Enqueue(chunk)
		if err != nil {
			if errors.Is(err, playback.ErrClosed) {
				return
			}
			s.logger.Warn("dropping inbound audio", "error", err)
			continue
		}
		m.opts.Metrics.RecordPlayback(len(chunk.Data), slot.Snapped)
	}

	if len(msg.ToolCalls) == 0 {
		return
	}
	resps := s.dispatcher.Dispatch(s.ctx, msg.ToolCalls)
	if err := s.outbox.SendToolResponses(s.ctx, resps); err != nil && s.ctx.Err() == nil {
		s.logger.Warn("tool response not sent", "error", err)
	}
}
