package device

import (
	"io"
	"sync"
)

type segment struct {
	start int64
	pcm   []byte
}

// timeline is the reader a speaker pulls from. It emits silence except
// where PCM has been placed, so byte offsets are the output clock.
type timeline struct {
	frame int

	mu     sync.Mutex
	pos    int64
	tail   int64
	segs   []segment
	closed bool
}

func newTimeline(frame int) *timeline {
	if frame <= 0 {
		frame = 2
	}
	return &timeline{frame: frame}
}

// position returns the number of bytes handed to the device so far.
func (t *timeline) position() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}

// place puts pcm at byte offset at, or later if that part of the timeline
// was already emitted or is taken. It returns the offset used.
func (t *timeline) place(pcm []byte, at int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	at -= at % int64(t.frame)
	at = max(at, t.pos, t.tail)
	n := len(pcm) - len(pcm)%t.frame
	if t.closed || n == 0 {
		return at
	}
	t.segs = append(t.segs, segment{start: at, pcm: pcm[:n]})
	t.tail = at + int64(n)
	return at
}

// flush drops everything not yet emitted.
func (t *timeline) flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segs = nil
	t.tail = t.pos
}

func (t *timeline) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.segs = nil
}

func (t *timeline) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.EOF
	}

	n := len(p) - len(p)%t.frame
	out := p[:n]
	clear(out)
	end := t.pos + int64(n)

	keep := t.segs[:0]
	for _, seg := range t.segs {
		segEnd := seg.start + int64(len(seg.pcm))
		if seg.start < end && segEnd > t.pos {
			from := max(seg.start, t.pos)
			to := min(segEnd, end)
			copy(out[from-t.pos:to-t.pos], seg.pcm[from-seg.start:to-seg.start])
		}
		if segEnd > end {
			keep = append(keep, seg)
		}
	}
	clear(t.segs[len(keep):])
	t.segs = keep
	t.pos = end
	return n, nil
}
