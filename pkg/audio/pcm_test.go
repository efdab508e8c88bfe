// ABOUTME: Tests for the PCM wire codec
// ABOUTME: Covers normalization, truncation, and empty-input handling
package audio

import (
	"math"
	"testing"
	"time"
)

func TestDecodePCM16(t *testing.T) {
	// 0x00, 0x01 -> 0x0100 = 256; 0x02, 0x03 -> 0x0302 = 770
	input := []byte{0x00, 0x01, 0x02, 0x03}
	samples := DecodePCM16(input)

	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}

	if samples[0] != float32(256)/32768 {
		t.Errorf("expected first sample %v, got %v", float32(256)/32768, samples[0])
	}
	if samples[1] != float32(770)/32768 {
		t.Errorf("expected second sample %v, got %v", float32(770)/32768, samples[1])
	}
}

func TestDecodePCM16Extremes(t *testing.T) {
	// int16 min (-32768) and max (32767), little-endian
	input := []byte{0x00, 0x80, 0xFF, 0x7F}
	samples := DecodePCM16(input)

	if samples[0] != -1.0 {
		t.Errorf("expected -1.0 for int16 min, got %v", samples[0])
	}
	if samples[1] >= 1.0 || samples[1] < 0.999 {
		t.Errorf("expected just under 1.0 for int16 max, got %v", samples[1])
	}
}

func TestDecodePCM16Empty(t *testing.T) {
	if got := DecodePCM16(nil); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
	if got := DecodePCM16([]byte{}); got != nil {
		t.Errorf("expected nil for zero-length input, got %v", got)
	}
}

func TestDecodePCM16OddLength(t *testing.T) {
	// 2k+1 bytes decode to exactly k samples
	for _, k := range []int{0, 1, 3, 100} {
		input := make([]byte, 2*k+1)
		samples := DecodePCM16(input)
		if len(samples) != k {
			t.Errorf("length %d: expected %d samples, got %d", 2*k+1, k, len(samples))
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	// Round trip is re-quantization: values must match within one LSB
	original := []float32{0.0, 0.5, -0.5, 0.25, -1.0}
	decoded := DecodePCM16(EncodePCM16(original))

	if len(decoded) != len(original) {
		t.Fatalf("expected %d samples, got %d", len(original), len(decoded))
	}

	for i := range original {
		if math.Abs(float64(decoded[i]-original[i])) > 1.0/32768 {
			t.Errorf("sample %d: expected %v within one LSB, got %v", i, original[i], decoded[i])
		}
	}
}

func TestEncodePCM16Clamps(t *testing.T) {
	out := EncodePCM16([]float32{2.0, -2.0})
	decoded := DecodePCM16(out)

	if decoded[0] < 0.999 {
		t.Errorf("expected over-range sample clamped near 1.0, got %v", decoded[0])
	}
	if decoded[1] != -1.0 {
		t.Errorf("expected under-range sample clamped to -1.0, got %v", decoded[1])
	}
}

func TestFormatDuration(t *testing.T) {
	f := Format{SampleRate: 24000, Channels: 1}

	if d := f.Duration(24000); d.Seconds() != 1.0 {
		t.Errorf("expected 1s for 24000 samples, got %v", d)
	}
	if d := f.Duration(480); d.Milliseconds() != 20 {
		t.Errorf("expected 20ms for 480 samples, got %v", d)
	}
	if n := f.Samples(500 * time.Millisecond); n != 12000 {
		t.Errorf("expected 12000 samples for 500ms, got %d", n)
	}
}
