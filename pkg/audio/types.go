// ABOUTME: Audio type definitions
// ABOUTME: Defines stream formats and the normalized sample model
package audio

import "time"

const (
	// DefaultSampleRate is the playback rate of the reference deployment.
	DefaultSampleRate = 24000

	// BytesPerSample is the wire size of one 16-bit PCM sample.
	BytesPerSample = 2

	// scale maps the int16 range onto [-1.0, 1.0).
	scale = 32768
)

// Format describes an audio stream format.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono24k is the format the upstream service emits.
var Mono24k = Format{SampleRate: DefaultSampleRate, Channels: 1}

// Duration returns the play time of n samples at this format's rate.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}

// Samples returns how many samples cover d at this format's rate.
func (f Format) Samples(d time.Duration) int {
	return int(d * time.Duration(f.SampleRate) / time.Second)
}

// SampleFromInt16 normalizes a 16-bit PCM value into [-1.0, 1.0).
func SampleFromInt16(s int16) float32 {
	return float32(s) / scale
}

// SampleToInt16 re-quantizes a normalized sample, clamping out-of-range
// input. The round trip through SampleFromInt16 is a re-quantization, not a
// bit-exact inverse: normalization rounds in float32.
func SampleToInt16(s float32) int16 {
	v := s * scale
	if v > scale-1 {
		v = scale - 1
	} else if v < -scale {
		v = -scale
	}
	return int16(v)
}
