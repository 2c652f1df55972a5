package session

import (
	"context"
	"errors"
	"io"
	"regexp"
	"slices"
	"testing"
	"time"

	"github.com/vango-go/soporte-live/pkg/casefile"
	"github.com/vango-go/soporte-live/pkg/core"
	"github.com/vango-go/soporte-live/pkg/live/protocol"
	"github.com/vango-go/soporte-live/pkg/live/tools"
)

type harness struct {
	m       *Manager
	dialer  *fakeDialer
	mic     *fakeMic
	speaker *fakeSpeaker
	states  *stateRecorder
}

func newHarness(t *testing.T, apiKey string) *harness {
	t.Helper()
	h := &harness{
		dialer:  &fakeDialer{},
		mic:     &fakeMic{},
		speaker: &fakeSpeaker{},
		states:  &stateRecorder{},
	}
	h.m = NewManager(Options{
		APIKey:     apiKey,
		Dialer:     h.dialer,
		Microphone: h.mic,
		Speaker:    h.speaker,
		Store:      casefile.NewStore(),
	})
	h.m.OnStateChange(h.states.record)
	t.Cleanup(func() { _ = h.m.Close() })
	return h
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	waitFor(t, "state "+string(want), func() bool { return h.m.State() == want })
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from State
		ev   EventKind
		want State
	}{
		{StateConnecting, EventOpen, StateConnected},
		{StateConnected, EventOpen, StateConnected},
		{StateDisconnected, EventOpen, StateDisconnected},
		{StateConnected, EventMessage, StateConnected},
		{StateConnecting, EventClose, StateDisconnected},
		{StateConnected, EventClose, StateDisconnected},
		{StateError, EventClose, StateError},
		{StateConnecting, EventError, StateError},
		{StateConnected, EventError, StateError},
		{StateDisconnected, EventError, StateDisconnected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+tt.ev.String(), func(t *testing.T) {
			if got := transition(tt.from, tt.ev); got != tt.want {
				t.Fatalf("transition(%s, %s) = %s, want %s", tt.from, tt.ev, got, tt.want)
			}
		})
	}
}

func TestManager_EndToEnd(t *testing.T) {
	h := newHarness(t, "key")

	if err := h.m.Connect(context.Background(), "user@x.cl"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.waitState(t, StateConnected)
	waitFor(t, "microphone", func() bool { opens, _, _ := h.mic.state(); return opens == 1 })

	conn := h.dialer.conn(0)
	if req := h.dialer.reqs[0]; req.Identity != "user@x.cl" || req.APIKey != "key" || req.SessionID != h.m.SessionID() {
		t.Fatalf("dial request = %+v", req)
	}

	conn.inbound <- protocol.Inbound{ToolCalls: []protocol.ToolCall{
		{ID: "1", Name: tools.UpdateCaseDetails, Args: map[string]any{"municipality": "Curicó"}},
	}}
	if resps := conn.nextToolResponses(t); len(resps) != 1 || resps[0].ID != "1" {
		t.Fatalf("responses = %+v", resps)
	}
	if got := h.m.Store().Snapshot().Municipality; got != "Curicó" {
		t.Fatalf("municipality = %q", got)
	}

	conn.inbound <- protocol.Inbound{ToolCalls: []protocol.ToolCall{
		{ID: "2", Name: tools.ProposeSolutions, Args: map[string]any{"solutions": []any{"Reiniciar módulo", "Verificar licencia"}}},
	}}
	conn.nextToolResponses(t)
	if sols := h.m.Store().Snapshot().Solutions; !slices.Equal(sols, []string{"Reiniciar módulo", "Verificar licencia"}) {
		t.Fatalf("solutions = %v", sols)
	}

	conn.inbound <- protocol.Inbound{ToolCalls: []protocol.ToolCall{
		{ID: "3", Name: tools.CreateTicket, Args: map[string]any{"status": "Pendiente"}},
	}}
	resps := conn.nextToolResponses(t)
	rec := h.m.Store().Snapshot()
	if !regexp.MustCompile(`^RE\d{6}$`).MatchString(rec.TicketCode) {
		t.Fatalf("ticket code = %q", rec.TicketCode)
	}
	if rec.Status != "Pendiente" {
		t.Fatalf("status = %q", rec.Status)
	}
	if resps[0].Response["ticketCode"] != rec.TicketCode {
		t.Fatalf("reply code = %v, record code = %q", resps[0].Response["ticketCode"], rec.TicketCode)
	}

	h.m.Disconnect()
	if h.m.State() != StateDisconnected {
		t.Fatalf("state = %s", h.m.State())
	}
	if h.m.Err() != nil {
		t.Fatalf("Err after disconnect = %v", h.m.Err())
	}
	want := []State{StateConnecting, StateConnected, StateDisconnected}
	if got := h.states.get(); !slices.Equal(got, want) {
		t.Fatalf("states = %v, want %v", got, want)
	}

	_, _, track := h.mic.state()
	if track.stopCount() != 1 {
		t.Fatalf("microphone track stopped %d times", track.stopCount())
	}
	if conn.closeCount() != 1 {
		t.Fatalf("connection closed %d times", conn.closeCount())
	}
	if _, _, closes := h.speaker.output(0).snapshot(); closes != 1 {
		t.Fatalf("output closed %d times", closes)
	}
	if h.m.Volume() != 0 || h.m.SessionID() != "" {
		t.Fatalf("session state survived disconnect")
	}
	if h.m.Store().Snapshot().TicketCode != rec.TicketCode {
		t.Fatalf("case record should remain readable after disconnect")
	}
}

func TestManager_BatchedToolResponses(t *testing.T) {
	h := newHarness(t, "key")
	if err := h.m.Connect(context.Background(), "user@x.cl"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.waitState(t, StateConnected)
	conn := h.dialer.conn(0)

	conn.inbound <- protocol.Inbound{ToolCalls: []protocol.ToolCall{
		{ID: "c", Name: tools.CreateTicket, Args: map[string]any{"status": "Pendiente"}},
		{ID: "a", Name: "unknownTool"},
		{ID: "b", Name: tools.UpdateCaseDetails, Args: map[string]any{"system": 3}},
	}}
	resps := conn.nextToolResponses(t)
	ids := []string{}
	for _, r := range resps {
		ids = append(ids, r.ID)
	}
	if !slices.Equal(ids, []string{"c", "a", "b"}) {
		t.Fatalf("response ids = %v", ids)
	}
	if resps[1].Response["status"] != "ok" || resps[2].Response["status"] != "invalid_arguments" {
		t.Fatalf("responses = %+v", resps)
	}
	if h.m.State() != StateConnected {
		t.Fatalf("tool failures must not end the session, state = %s", h.m.State())
	}
}

func TestManager_MissingAPIKey(t *testing.T) {
	h := newHarness(t, "")

	err := h.m.Connect(context.Background(), "user@x.cl")
	if !core.IsType(err, core.ErrConfig) {
		t.Fatalf("err = %v, want config error", err)
	}
	if h.m.State() != StateError {
		t.Fatalf("state = %s, want error", h.m.State())
	}
	if !core.IsType(h.m.Err(), core.ErrConfig) {
		t.Fatalf("Err = %v", h.m.Err())
	}
	if h.dialer.calls() != 0 || h.speaker.output(0) != nil {
		t.Fatalf("resources acquired without an api key")
	}
	if opens, _, _ := h.mic.state(); opens != 0 {
		t.Fatalf("microphone opened without an api key")
	}
}

func TestManager_MicrophoneDenied(t *testing.T) {
	h := newHarness(t, "key")
	h.mic.err = errors.New("permission denied")

	if err := h.m.Connect(context.Background(), "user@x.cl"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.waitState(t, StateError)

	if !core.IsType(h.m.Err(), core.ErrCapture) {
		t.Fatalf("Err = %v, want capture error", h.m.Err())
	}
	conn := h.dialer.conn(0)
	if conn.closeCount() != 1 {
		t.Fatalf("connection not released after capture failure")
	}
	if _, _, closes := h.speaker.output(0).snapshot(); closes != 1 {
		t.Fatalf("output not released after capture failure")
	}
	want := []State{StateConnecting, StateConnected, StateError}
	if got := h.states.get(); !slices.Equal(got, want) {
		t.Fatalf("states = %v, want %v", got, want)
	}

	h.m.Disconnect()
	if h.m.State() != StateDisconnected || h.m.Err() != nil {
		t.Fatalf("disconnect after error: state = %s, err = %v", h.m.State(), h.m.Err())
	}
}

func TestManager_SpeakerUnavailable(t *testing.T) {
	h := newHarness(t, "key")
	h.speaker.err = errors.New("no device")

	err := h.m.Connect(context.Background(), "user@x.cl")
	if !core.IsType(err, core.ErrCapture) {
		t.Fatalf("err = %v, want capture error", err)
	}
	if h.m.State() != StateError {
		t.Fatalf("state = %s", h.m.State())
	}
	if h.dialer.calls() != 0 {
		t.Fatalf("dialed without an output device")
	}
}

func TestManager_DialFailure(t *testing.T) {
	h := newHarness(t, "key")
	h.dialer.err = errors.New("handshake refused")

	if err := h.m.Connect(context.Background(), "user@x.cl"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.waitState(t, StateError)
	if !core.IsType(h.m.Err(), core.ErrSession) {
		t.Fatalf("Err = %v, want session error", h.m.Err())
	}
	if opens, _, _ := h.mic.state(); opens != 0 {
		t.Fatalf("microphone opened for a failed dial")
	}
	if _, _, closes := h.speaker.output(0).snapshot(); closes != 1 {
		t.Fatalf("output not released after dial failure")
	}
}

func TestManager_RemoteClose(t *testing.T) {
	h := newHarness(t, "key")
	if err := h.m.Connect(context.Background(), "user@x.cl"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.waitState(t, StateConnected)

	h.dialer.conn(0).recvErr <- io.EOF
	h.waitState(t, StateDisconnected)
	if h.m.Err() != nil {
		t.Fatalf("Err = %v after clean close", h.m.Err())
	}
	_, _, track := h.mic.state()
	waitFor(t, "microphone release", func() bool { return track.stopCount() == 1 })
}

func TestManager_RemoteError(t *testing.T) {
	h := newHarness(t, "key")
	if err := h.m.Connect(context.Background(), "user@x.cl"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.waitState(t, StateConnected)

	h.dialer.conn(0).recvErr <- errors.New("quota exceeded")
	h.waitState(t, StateError)
	if !core.IsType(h.m.Err(), core.ErrSession) {
		t.Fatalf("Err = %v", h.m.Err())
	}
}

func TestManager_DisconnectIdempotent(t *testing.T) {
	h := newHarness(t, "key")
	h.m.Disconnect()
	if len(h.states.get()) != 0 {
		t.Fatalf("disconnect on an idle manager notified %v", h.states.get())
	}

	if err := h.m.Connect(context.Background(), "user@x.cl"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.waitState(t, StateConnected)
	h.m.Disconnect()
	h.m.Disconnect()
	if err := h.m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := h.states.get()
	if got[len(got)-1] != StateDisconnected || slices.Index(got, StateDisconnected) != len(got)-1 {
		t.Fatalf("states = %v", got)
	}
	if h.dialer.conn(0).closeCount() != 1 {
		t.Fatalf("connection closed %d times", h.dialer.conn(0).closeCount())
	}
}

func TestManager_DisconnectWhileDialing(t *testing.T) {
	h := newHarness(t, "key")
	h.dialer.gate = make(chan struct{})

	if err := h.m.Connect(context.Background(), "user@x.cl"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if h.m.State() != StateConnecting {
		t.Fatalf("state = %s, want connecting", h.m.State())
	}
	h.m.Disconnect()
	close(h.dialer.gate)

	waitFor(t, "late connection closed", func() bool {
		c := h.dialer.conn(0)
		return c != nil && c.closeCount() == 1
	})
	if h.m.State() != StateDisconnected {
		t.Fatalf("late open changed state to %s", h.m.State())
	}
	if opens, _, _ := h.mic.state(); opens != 0 {
		t.Fatalf("microphone opened for a torn-down session")
	}
}

func TestManager_ReconnectStartsFresh(t *testing.T) {
	h := newHarness(t, "key")
	if err := h.m.Connect(context.Background(), "first@x.cl"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.waitState(t, StateConnected)
	first := h.dialer.conn(0)
	firstID := h.m.SessionID()

	first.inbound <- protocol.Inbound{ToolCalls: []protocol.ToolCall{
		{ID: "1", Name: tools.CreateTicket, Args: map[string]any{"status": "Pendiente"}},
	}}
	first.nextToolResponses(t)

	if err := h.m.Connect(context.Background(), "second@x.cl"); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if first.closeCount() != 1 {
		t.Fatalf("previous connection not closed")
	}
	rec := h.m.Store().Snapshot()
	if rec.TicketCode != "" || rec.Identity != "second@x.cl" {
		t.Fatalf("record not reset: %+v", rec)
	}
	h.waitState(t, StateConnected)
	if h.m.SessionID() == firstID {
		t.Fatalf("session id reused")
	}
	if slices.Contains(h.states.get(), StateDisconnected) {
		t.Fatalf("replacing a session should not report disconnected: %v", h.states.get())
	}
}

func TestManager_AudioFlow(t *testing.T) {
	h := newHarness(t, "key")
	if err := h.m.Connect(context.Background(), "user@x.cl"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h.waitState(t, StateConnected)
	waitFor(t, "microphone", func() bool { _, f, _ := h.mic.state(); return f != nil })
	conn := h.dialer.conn(0)
	_, onFrame, _ := h.mic.state()

	onFrame([]float32{0.5, -0.5, 0.25, 0})
	select {
	case out := <-conn.sent:
		if !out.IsAudio() || out.Audio.MIMEType != protocol.MIMEAudioInput || len(out.Audio.Data) != 8 {
			t.Fatalf("outbound = %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no outbound audio")
	}
	if v := h.m.Volume(); v <= 0.1 {
		t.Fatalf("volume = %v, want above floor", v)
	}

	pcm := make([]byte, 4800) // 100ms at 24kHz mono PCM16
	conn.inbound <- protocol.Inbound{Audio: []protocol.AudioChunk{
		{MIMEType: "audio/pcm;rate=24000", Data: pcm},
		{MIMEType: "audio/pcm;rate=24000", Data: pcm},
	}}
	out := h.speaker.output(0)
	waitFor(t, "playback", func() bool { slots, _, _ := out.snapshot(); return len(slots) == 2 })
	slots, _, _ := out.snapshot()
	if slots[1].at != slots[0].at+slots[0].dur {
		t.Fatalf("buffers not back to back: %+v", slots)
	}

	conn.inbound <- protocol.Inbound{Interrupted: true}
	waitFor(t, "interrupt", func() bool { _, flushes, _ := out.snapshot(); return flushes == 1 })
}
