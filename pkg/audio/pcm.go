package audio

import (
	"encoding/binary"
	"math"
)

// RMS computes the root-mean-square energy of float samples in [-1, 1].
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Quantize converts one float sample to a signed 16-bit value, clamping
// anything outside [-1, 1].
func Quantize(s float32) int16 {
	if s != s { // NaN
		return 0
	}
	if s >= 1 {
		return math.MaxInt16
	}
	if s <= -1 {
		return math.MinInt16
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// EncodePCM16 quantizes float samples into 16-bit little-endian PCM.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(Quantize(s)))
	}
	return out
}

// DecodeFloat32LE reads little-endian IEEE-754 float32 samples, as
// delivered by capture devices in f32 mode. A trailing partial sample is
// ignored.
func DecodeFloat32LE(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}
