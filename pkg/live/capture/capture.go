// Package capture turns a live microphone stream into encoded frames for
// the remote peer.
package capture

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/vango-go/soporte-live/pkg/audio"
	"github.com/vango-go/soporte-live/pkg/core"
	"github.com/vango-go/soporte-live/pkg/live/protocol"
	"github.com/vango-go/soporte-live/pkg/metrics"
)

// ErrStopped is returned by Start once the pipeline has been stopped.
var ErrStopped = errors.New("capture pipeline stopped")

// Track is an acquired microphone. Stop releases the device; no frame
// callback runs after Stop returns.
type Track interface {
	Stop() error
}

// Microphone acquires an input device that calls onFrame once per
// frameSize samples.
type Microphone interface {
	Open(format audio.Format, frameSize int, onFrame func(frame []float32)) (Track, error)
}

// Sink receives encoded frames in capture order. SendAudio must not block;
// it reports false when the frame was dropped.
type Sink interface {
	SendAudio(chunk protocol.AudioChunk) bool
}

type Config struct {
	Microphone Microphone
	Sink       Sink
	Format     audio.Format
	FrameSize  int
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Pipeline owns the microphone of one session.
type Pipeline struct {
	mic       Microphone
	sink      Sink
	format    audio.Format
	frameSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics

	meter audio.Meter

	mu      sync.Mutex
	track   Track
	stopped atomic.Bool
}

func New(cfg Config) *Pipeline {
	if cfg.Format.SampleRate <= 0 {
		cfg.Format = audio.InputFormat()
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = audio.FrameSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		mic:       cfg.Microphone,
		sink:      cfg.Sink,
		format:    cfg.Format,
		frameSize: cfg.FrameSize,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Start acquires the microphone. Failures are returned as capture errors.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped.Load() {
		return ErrStopped
	}
	if p.track != nil {
		return nil
	}
	if p.mic == nil {
		return core.NewCaptureError("no microphone available", nil)
	}
	track, err := p.mic.Open(p.format, p.frameSize, p.Process)
	if err != nil {
		return core.NewCaptureError("open microphone", err)
	}
	p.track = track
	p.logger.Debug("microphone started", "sample_rate", p.format.SampleRate, "frame_size", p.frameSize)
	return nil
}

// Process handles one captured frame: update the level, quantize to PCM16
// and hand the payload to the sink.
func (p *Pipeline) Process(frame []float32) {
	if p.stopped.Load() || len(frame) == 0 {
		return
	}
	p.meter.Observe(audio.RMS(frame))

	pcm := audio.EncodePCM16(frame)
	if p.sink == nil {
		return
	}
	if p.sink.SendAudio(protocol.AudioChunk{MIMEType: protocol.MIMEAudioInput, Data: pcm}) {
		p.metrics.RecordFrameSent(len(pcm))
		return
	}
	p.metrics.RecordFrameDropped()
}

// Volume returns the smoothed input level, or 0 once stopped.
func (p *Pipeline) Volume() float64 {
	if p.stopped.Load() {
		return 0
	}
	return p.meter.Level()
}

// Stop releases the microphone. Safe to call repeatedly and before Start.
func (p *Pipeline) Stop() error {
	p.stopped.Store(true)

	p.mu.Lock()
	track := p.track
	p.track = nil
	p.mu.Unlock()

	p.meter.Reset()
	if track == nil {
		return nil
	}
	return track.Stop()
}
