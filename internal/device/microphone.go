// Package device binds the capture and playback interfaces to the host's
// audio hardware.
package device

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/vango-go/soporte-live/pkg/audio"
	"github.com/vango-go/soporte-live/pkg/live/capture"
)

// Microphone opens the default capture device through miniaudio.
type Microphone struct {
	logger *slog.Logger

	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

func NewMicrophone(logger *slog.Logger) *Microphone {
	if logger == nil {
		logger = slog.Default()
	}
	return &Microphone{logger: logger}
}

func (m *Microphone) context() (*malgo.AllocatedContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx != nil {
		return m.ctx, nil
	}
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime
	ctx, err := malgo.InitContext(nil, cfg, func(message string) {
		m.logger.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	m.ctx = ctx
	return ctx, nil
}

// Open starts capturing float32 samples and delivers them in frames of
// frameSize samples.
func (m *Microphone) Open(format audio.Format, frameSize int, onFrame func([]float32)) (capture.Track, error) {
	ctx, err := m.context()
	if err != nil {
		return nil, err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	framer := audio.NewFramer(frameSize)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			framer.Write(audio.DecodeFloat32LE(pInputSamples), onFrame)
		},
	}

	dev, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("init microphone: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("start microphone: %w", err)
	}
	m.logger.Debug("microphone open", "sample_rate", format.SampleRate, "frame_size", frameSize)
	return &micTrack{device: dev}, nil
}

// Close releases the audio context. Tracks must be stopped first.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return nil
	}
	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	return err
}

type micTrack struct {
	once   sync.Once
	device *malgo.Device
	err    error
}

// Stop stops the device and waits for the data callback to return.
func (t *micTrack) Stop() error {
	t.once.Do(func() {
		t.err = t.device.Stop()
		t.device.Uninit()
	})
	return t.err
}
