package audio

// Framer slices an arbitrary stream of samples into fixed-size frames.
// Devices deliver periods whose size does not match the frame size; the
// framer holds at most one partial frame between writes.
type Framer struct {
	size    int
	pending []float32
}

// NewFramer creates a framer emitting frames of size samples.
func NewFramer(size int) *Framer {
	if size <= 0 {
		size = FrameSize
	}
	return &Framer{
		size:    size,
		pending: make([]float32, 0, size),
	}
}

// Write appends samples and calls emit once per completed frame. The frame
// passed to emit is only valid for the duration of the call.
func (f *Framer) Write(samples []float32, emit func(frame []float32)) {
	for len(samples) > 0 {
		n := f.size - len(f.pending)
		if n > len(samples) {
			n = len(samples)
		}
		f.pending = append(f.pending, samples[:n]...)
		samples = samples[n:]
		if len(f.pending) == f.size {
			emit(f.pending)
			f.pending = f.pending[:0]
		}
	}
}

// Reset discards any partial frame.
func (f *Framer) Reset() {
	f.pending = f.pending[:0]
}
