// Package metrics exposes Prometheus instrumentation for live support
// sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Audio metrics
	AudioFramesSent    prometheus.Counter
	AudioFramesDropped prometheus.Counter
	AudioBytesTotal    *prometheus.CounterVec
	PlaybackScheduled  prometheus.Counter
	PlaybackSnaps      prometheus.Counter

	// Tool metrics
	ToolCallsTotal *prometheus.CounterVec
	EmailsTotal    *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered on a private
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "soporte"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions_active",
			Help:      "Number of active live sessions",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_sessions_total",
			Help:      "Total number of live sessions by final state",
		},
		[]string{"status"},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "live_session_duration_seconds",
			Help:      "Live session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	audioFramesSent := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_sent_total",
			Help:      "Microphone frames queued for the remote peer",
		},
	)

	audioFramesDropped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Microphone frames dropped because the outbound queue was full",
		},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total PCM bytes by direction",
		},
		[]string{"direction"},
	)

	playbackScheduled := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_buffers_scheduled_total",
			Help:      "Decoded buffers scheduled for playback",
		},
	)

	playbackSnaps := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_cursor_snaps_total",
			Help:      "Times the playback cursor fell behind the output clock",
		},
	)

	toolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls handled by name and outcome",
		},
		[]string{"tool", "status"},
	)

	emailsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_total",
			Help:      "Case summary e-mails by outcome",
		},
		[]string{"status"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		audioFramesSent,
		audioFramesDropped,
		audioBytesTotal,
		playbackScheduled,
		playbackSnaps,
		toolCallsTotal,
		emailsTotal,
	)

	return &Metrics{
		registry:           registry,
		SessionsActive:     sessionsActive,
		SessionsTotal:      sessionsTotal,
		SessionDuration:    sessionDuration,
		AudioFramesSent:    audioFramesSent,
		AudioFramesDropped: audioFramesDropped,
		AudioBytesTotal:    audioBytesTotal,
		PlaybackScheduled:  playbackScheduled,
		PlaybackSnaps:      playbackSnaps,
		ToolCallsTotal:     toolCallsTotal,
		EmailsTotal:        emailsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStart records a new live session starting.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a live session ending in the given state.
func (m *Metrics) RecordSessionEnd(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(status).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordFrameSent records one outbound microphone frame.
func (m *Metrics) RecordFrameSent(bytes int) {
	if m == nil {
		return
	}
	m.AudioFramesSent.Inc()
	m.AudioBytesTotal.WithLabelValues("out").Add(float64(bytes))
}

// RecordFrameDropped records a frame lost to backpressure.
func (m *Metrics) RecordFrameDropped() {
	if m == nil {
		return
	}
	m.AudioFramesDropped.Inc()
}

// RecordPlayback records one scheduled playback buffer.
func (m *Metrics) RecordPlayback(bytes int, snapped bool) {
	if m == nil {
		return
	}
	m.PlaybackScheduled.Inc()
	m.AudioBytesTotal.WithLabelValues("in").Add(float64(bytes))
	if snapped {
		m.PlaybackSnaps.Inc()
	}
}

// RecordToolCall records the outcome of one tool call.
func (m *Metrics) RecordToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RecordEmail records the outcome of a simulated e-mail send.
func (m *Metrics) RecordEmail(status string) {
	if m == nil {
		return
	}
	m.EmailsTotal.WithLabelValues(status).Inc()
}
