// Package playback schedules the remote peer's speech for gapless output.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vango-go/soporte-live/pkg/audio"
	"github.com/vango-go/soporte-live/pkg/live/protocol"
)

// ErrClosed is returned when scheduling on a released scheduler.
var ErrClosed = errors.New("playback scheduler closed")

// Buffer is decoded audio ready for output.
type Buffer struct {
	PCM      []byte
	Format   audio.Format
	Duration time.Duration
}

// Output is a playback device with a monotonic clock. Buffers scheduled at
// a clock time begin playing exactly then.
type Output interface {
	// Now returns the current output clock position.
	Now() time.Duration
	// Schedule queues buf to start at the given clock time.
	Schedule(buf Buffer, at time.Duration) error
	// Flush drops everything not yet played.
	Flush() error
	Close() error
}

// Device opens one Output per session.
type Device interface {
	Open(format audio.Format) (Output, error)
}

// Decode turns an inbound payload into a Buffer in format. Payloads that
// declare a different rate are rejected; a trailing partial sample is
// dropped.
func Decode(chunk protocol.AudioChunk, format audio.Format) (Buffer, error) {
	rate, err := protocol.SampleRate(chunk.MIMEType, format.SampleRate)
	if err != nil {
		return Buffer{}, err
	}
	if rate != format.SampleRate {
		return Buffer{}, fmt.Errorf("inbound audio at %d Hz, output runs at %d Hz", rate, format.SampleRate)
	}
	frame := format.Channels * 2
	n := len(chunk.Data)
	if frame > 0 {
		n -= n % frame
	}
	return Buffer{
		PCM:      chunk.Data[:n],
		Format:   format,
		Duration: format.Duration(n),
	}, nil
}

// Slot describes where a buffer landed on the output clock.
type Slot struct {
	Start    time.Duration
	Duration time.Duration
	// Snapped is set when the cursor had fallen behind the clock and was
	// moved forward to now.
	Snapped bool
}

// Scheduler places decoded buffers back to back on the output clock.
// Arrival order is playback order; bursts queue through the cursor.
type Scheduler struct {
	mu     sync.Mutex
	out    Output
	format audio.Format
	next   time.Duration
}

// NewScheduler creates a scheduler whose cursor starts at the output's
// current time.
func NewScheduler(out Output, format audio.Format) *Scheduler {
	return &Scheduler{
		out:    out,
		format: format,
		next:   out.Now(),
	}
}

// Enqueue decodes chunk and schedules it at the cursor.
func (s *Scheduler) Enqueue(chunk protocol.AudioChunk) (Slot, error) {
	buf, err := Decode(chunk, s.format)
	if err != nil {
		return Slot{}, err
	}
	return s.Schedule(buf)
}

// Schedule places buf at max(cursor, now) and advances the cursor by its
// duration.
func (s *Scheduler) Schedule(buf Buffer) (Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return Slot{}, ErrClosed
	}
	if buf.Duration <= 0 {
		return Slot{Start: s.next}, nil
	}

	slot := Slot{Duration: buf.Duration}
	if now := s.out.Now(); s.next < now {
		s.next = now
		slot.Snapped = true
	}
	slot.Start = s.next
	if err := s.out.Schedule(buf, slot.Start); err != nil {
		return Slot{}, err
	}
	s.next += buf.Duration
	return slot, nil
}

// Interrupt discards pending speech and restarts the cursor from now.
func (s *Scheduler) Interrupt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return ErrClosed
	}
	err := s.out.Flush()
	s.next = s.out.Now()
	return err
}

// Cursor returns the end of already scheduled audio.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Close closes the output and clears the cursor. Safe to call repeatedly.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	out := s.out
	s.out = nil
	s.next = 0
	s.mu.Unlock()
	if out == nil {
		return nil
	}
	return out.Close()
}
