package audio

import "time"

const (
	// InputSampleRate is the microphone rate sent upstream.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of the assistant's speech.
	OutputSampleRate = 24000
	// FrameSize is the number of samples in one captured frame.
	FrameSize = 4096
)

// Format specifies audio format parameters.
type Format struct {
	// SampleRate in Hz.
	SampleRate int `json:"sample_rate" yaml:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels" yaml:"channels"`
}

// InputFormat is the capture format: 16 kHz mono.
func InputFormat() Format {
	return Format{SampleRate: InputSampleRate, Channels: 1}
}

// OutputFormat is the playback format: 24 kHz mono.
func OutputFormat() Format {
	return Format{SampleRate: OutputSampleRate, Channels: 1}
}

// BytesPerSecond returns the PCM16 byte rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns the playback duration of n PCM16 bytes.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// BytesFor returns the PCM16 byte count covering d, aligned to whole frames.
func (f Format) BytesFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	frame := f.Channels * 2
	if frame <= 0 {
		return 0
	}
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%frame
}
