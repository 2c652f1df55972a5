// Package casefeed serves the live case record to renderers over HTTP and
// WebSocket.
package casefeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/soporte-live/pkg/casefile"
	"github.com/vango-go/soporte-live/pkg/live/session"
	"github.com/vango-go/soporte-live/pkg/metrics"
)

const writeTimeout = 5 * time.Second

// Source reports the live session state shown next to the case.
type Source interface {
	State() session.State
	Volume() float64
	SessionID() string
}

// Snapshot is what renderers receive.
type Snapshot struct {
	State     session.State   `json:"state"`
	Volume    float64         `json:"volume"`
	SessionID string          `json:"session_id,omitempty"`
	Case      casefile.Record `json:"case"`
}

type Config struct {
	Source Source
	Store  *casefile.Store
	// VolumeInterval is how often streams re-check the session state and
	// volume.
	VolumeInterval time.Duration
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

type Server struct {
	source   Source
	store    *casefile.Store
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
	handler  http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	done       chan struct{}
	closeOnce  sync.Once
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Source == nil || cfg.Store == nil {
		return nil, errors.New("casefeed: source and store are required")
	}
	if cfg.VolumeInterval <= 0 {
		cfg.VolumeInterval = 100 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		source:   cfg.Source,
		store:    cfg.Store,
		interval: cfg.VolumeInterval,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/case", s.handleCase)
	mux.HandleFunc("GET /v1/case/stream", s.handleStream)
	mux.Handle("GET /metrics", s.metrics.Handler())

	var h http.Handler = mux
	h = recoverPanics(s.logger, h)
	h = allowCORS(h)
	h = logRequests(s.logger, h)
	s.handler = h
}

// Handler returns the feed's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	default:
	}
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("case feed listening", "addr", ln.Addr().String())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ln)
}

// Shutdown ends open streams and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Snapshot returns the current view of the session and case.
func (s *Server) Snapshot() Snapshot {
	return Snapshot{
		State:     s.source.State(),
		Volume:    s.source.Volume(),
		SessionID: s.source.SessionID(),
		Case:      s.store.Snapshot(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleCase(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(s.Snapshot()); err != nil {
		s.logger.Warn("encode case snapshot", "error", err)
	}
}

// handleStream pushes a snapshot whenever the case changes, and whenever
// the state or volume changed at the refresh interval.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var last []byte
	push := func(rec casefile.Record) error {
		data, err := json.Marshal(Snapshot{
			State:     s.source.State(),
			Volume:    s.source.Volume(),
			SessionID: s.source.SessionID(),
			Case:      rec,
		})
		if err != nil {
			return err
		}
		if bytes.Equal(data, last) {
			return nil
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
		last = data
		return nil
	}

	rec := s.store.Snapshot()
	for {
		var err error
		select {
		case <-closed:
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeTimeout))
			return
		case next, ok := <-updates:
			if !ok {
				return
			}
			rec = next
			err = push(rec)
		case <-ticker.C:
			err = push(rec)
		}
		if err != nil {
			s.logger.Debug("case stream closed", "error", err)
			return
		}
	}
}
