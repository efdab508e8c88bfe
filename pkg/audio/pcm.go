// ABOUTME: PCM wire codec
// ABOUTME: Decodes 16-bit little-endian PCM to normalized samples and back
package audio

import "encoding/binary"

// DecodePCM16 converts 16-bit little-endian signed PCM bytes into normalized
// samples, preserving order. A zero-length input yields nil. An odd-length
// input is treated as truncation: the trailing byte is dropped, so 2k+1
// bytes decode to exactly k samples.
func DecodePCM16(data []byte) []float32 {
	if len(data) < BytesPerSample {
		return nil
	}

	numSamples := len(data) / BytesPerSample
	samples := make([]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		s := int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
		samples[i] = SampleFromInt16(s)
	}
	return samples
}

// EncodePCM16 re-quantizes normalized samples into 16-bit little-endian PCM.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(SampleToInt16(s)))
	}
	return out
}
