package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func TestRMS(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float32
		expected float64
	}{
		{name: "empty", samples: nil, expected: 0},
		{name: "silence", samples: []float32{0, 0, 0, 0}, expected: 0},
		{name: "full scale", samples: []float32{1, -1, 1, -1}, expected: 1},
		{name: "half", samples: []float32{0.5, -0.5, 0.5, -0.5}, expected: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RMS(tt.samples); math.Abs(got-tt.expected) > 1e-6 {
				t.Errorf("RMS = %.4f, want %.4f", got, tt.expected)
			}
		})
	}
}

func TestQuantize_Clamps(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, math.MaxInt16},
		{1.7, math.MaxInt16},
		{-1, math.MinInt16},
		{-3, math.MinInt16},
		{0.5, 16383},
		{-0.5, -16384},
		{float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		if got := Quantize(tt.in); got != tt.want {
			t.Errorf("Quantize(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEncodePCM16_LittleEndian(t *testing.T) {
	out := EncodePCM16([]float32{1, -1})
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4", len(out))
	}
	if got := int16(binary.LittleEndian.Uint16(out[0:])); got != math.MaxInt16 {
		t.Errorf("sample 0 = %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(out[2:])); got != math.MinInt16 {
		t.Errorf("sample 1 = %d", got)
	}
}

func TestDecodeFloat32LE(t *testing.T) {
	data := make([]byte, 10) // two samples plus a partial one
	binary.LittleEndian.PutUint32(data[0:], math.Float32bits(0.25))
	binary.LittleEndian.PutUint32(data[4:], math.Float32bits(-0.75))
	got := DecodeFloat32LE(data)
	if len(got) != 2 || got[0] != 0.25 || got[1] != -0.75 {
		t.Fatalf("DecodeFloat32LE = %v", got)
	}
}

func TestFormat(t *testing.T) {
	f := OutputFormat()

	// 24kHz, mono, 16-bit = 48000 bytes/second
	if f.BytesPerSecond() != 48000 {
		t.Errorf("expected 48000 bytes/sec, got %d", f.BytesPerSecond())
	}
	if got := f.Duration(48000); got != time.Second {
		t.Errorf("Duration(48000) = %v, want 1s", got)
	}
	if got := f.Duration(4800); got != 100*time.Millisecond {
		t.Errorf("Duration(4800) = %v, want 100ms", got)
	}
	if got := f.BytesFor(100 * time.Millisecond); got != 4800 {
		t.Errorf("BytesFor(100ms) = %d, want 4800", got)
	}
	if got := f.BytesFor(time.Second / 48000); got%2 != 0 {
		t.Errorf("BytesFor must align to samples, got %d", got)
	}
}
