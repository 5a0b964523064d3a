package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

var warnOddBytes sync.Once

// SamplesToBytes encodes samples as signed 16-bit little-endian PCM.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*BytesPerSample:], uint16(s))
	}
	return buf
}

// BytesToSamples decodes signed 16-bit little-endian PCM. A trailing odd
// byte cannot form a sample and is dropped; the first occurrence is logged.
func BytesToSamples(pcm []byte) []int16 {
	if len(pcm)%BytesPerSample != 0 {
		warnOddBytes.Do(func() {
			slog.Warn("audio: odd byte count in PCM data, dropping trailing byte",
				"bytes", len(pcm),
			)
		})
	}
	samples := make([]int16, len(pcm)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
	}
	return samples
}

// Normalize maps samples onto [-1, 1) by dividing by 32768.
func Normalize(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// Peak returns the largest absolute value in samples, or 0 for an empty slice.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}
