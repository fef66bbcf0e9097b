// Package audio implements the microphone and speaker devices on top of
// miniaudio (malgo) and reads and writes the WAV recording artifacts.
package audio

import (
	"encoding/binary"
	"math"
)

// BitDepth is the sample size of recording artifacts.
const BitDepth = 16

// Format is the single capture profile used for every recording.
type Format struct {
	SampleRate uint32
	Channels   uint32
}

// DefaultFormat is mono 44.1kHz.
var DefaultFormat = Format{SampleRate: 44100, Channels: 1}

// Seconds converts a count of interleaved samples to a duration in seconds.
func (f Format) Seconds(samples int) float64 {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	return float64(samples) / float64(f.Channels) / float64(f.SampleRate)
}

// bytesToFloat32 converts raw bytes (little-endian float32) to a float32 slice.
func bytesToFloat32(data []byte, sampleCount uint32) []float32 {
	samples := make([]float32, 0, sampleCount)
	for i := uint32(0); i < sampleCount; i++ {
		offset := i * 4
		if offset+4 > uint32(len(data)) {
			break
		}
		bits := binary.LittleEndian.Uint32(data[offset : offset+4])
		samples = append(samples, math.Float32frombits(bits))
	}
	return samples
}

// putFloat32 writes samples into dst as little-endian float32 and returns
// the number of samples written.
func putFloat32(dst []byte, samples []float32) int {
	n := min(len(dst)/4, len(samples))
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(samples[i]))
	}
	return n
}

// ToInt16 scales float samples in [-1, 1] to 16-bit integers, clipping
// anything outside that range. dst is reused when it has capacity.
func ToInt16(dst []int, samples []float32) []int {
	dst = dst[:0]
	for _, s := range samples {
		v := int(math.Round(float64(s) * 32767))
		dst = append(dst, max(-32768, min(32767, v)))
	}
	return dst
}

// PCM16 encodes samples as little-endian signed 16-bit PCM.
func PCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range ToInt16(nil, samples) {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
