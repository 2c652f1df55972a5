package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/vango-go/soporte-live/pkg/audio"
	"github.com/vango-go/soporte-live/pkg/live/playback"
)

// DefaultBufferSize is the device-side buffer. Smaller values lower the
// latency at the risk of glitches.
const DefaultBufferSize = 100 * time.Millisecond

// Speaker plays sessions through the default output device. The underlying
// context can only be created once per process, so every Output shares it
// and must use the same format.
type Speaker struct {
	bufferSize time.Duration

	mu     sync.Mutex
	ctx    *oto.Context
	format audio.Format
}

func NewSpeaker(bufferSize time.Duration) *Speaker {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Speaker{bufferSize: bufferSize}
}

func (s *Speaker) context(format audio.Format) (*oto.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		if format != s.format {
			return nil, fmt.Errorf("speaker already running at %d Hz/%d ch", s.format.SampleRate, s.format.Channels)
		}
		return s.ctx, nil
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   s.bufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready
	s.ctx = ctx
	s.format = format
	return ctx, nil
}

// Open starts a player fed by a fresh timeline.
func (s *Speaker) Open(format audio.Format) (playback.Output, error) {
	ctx, err := s.context(format)
	if err != nil {
		return nil, err
	}
	tl := newTimeline(format.Channels * 2)
	player := ctx.NewPlayer(tl)
	player.Play()
	return &output{format: format, timeline: tl, player: player}, nil
}

type output struct {
	format   audio.Format
	timeline *timeline
	player   *oto.Player

	once sync.Once
	err  error
}

// Now is the write position of the timeline: the earliest time a buffer
// scheduled now can start.
func (o *output) Now() time.Duration {
	return o.format.Duration(int(o.timeline.position()))
}

func (o *output) Schedule(buf playback.Buffer, at time.Duration) error {
	o.timeline.place(buf.PCM, int64(o.format.BytesFor(at)))
	return nil
}

func (o *output) Flush() error {
	o.timeline.flush()
	return nil
}

func (o *output) Close() error {
	o.once.Do(func() {
		o.timeline.close()
		o.err = o.player.Close()
	})
	return o.err
}
