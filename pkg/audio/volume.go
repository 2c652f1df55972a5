package audio

import (
	"math"
	"sync/atomic"
)

const (
	// VolumeFloor keeps the level indicator visible while a session is live.
	VolumeFloor = 0.1
	// VolumeDecay weights the previous level.
	VolumeDecay = 0.8
	// VolumeGain weights the frame RMS.
	VolumeGain = 2.0
)

// SmoothVolume applies one step of exponential decay smoothing:
// max(VolumeFloor, prev*VolumeDecay + rms*VolumeGain).
func SmoothVolume(prev, rms float64) float64 {
	return math.Max(VolumeFloor, prev*VolumeDecay+rms*VolumeGain)
}

// Meter holds a smoothed volume level shared between the capture callback
// and readers.
type Meter struct {
	bits atomic.Uint64
}

// Observe folds a frame RMS into the level and returns the new value.
func (m *Meter) Observe(rms float64) float64 {
	for {
		old := m.bits.Load()
		next := SmoothVolume(math.Float64frombits(old), rms)
		if m.bits.CompareAndSwap(old, math.Float64bits(next)) {
			return next
		}
	}
}

// Level returns the current smoothed level.
func (m *Meter) Level() float64 {
	return math.Float64frombits(m.bits.Load())
}

// Reset drops the level to zero.
func (m *Meter) Reset() {
	m.bits.Store(0)
}
