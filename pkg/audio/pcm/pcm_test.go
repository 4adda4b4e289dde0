package pcm

import (
	"math"
	"testing"
	"time"
)

func TestFormatMath(t *testing.T) {
	f := WireFormat
	if f.SampleRate() != 24000 {
		t.Fatalf("wire rate = %d, want 24000", f.SampleRate())
	}
	if f.BytesRate() != 48000 {
		t.Fatalf("byte rate = %d, want 48000", f.BytesRate())
	}
	if n := f.BytesInDuration(20 * time.Millisecond); n != 960 {
		t.Fatalf("20ms = %d bytes, want 960", n)
	}
	if d := f.Duration(960); d != 20*time.Millisecond {
		t.Fatalf("960 bytes = %v, want 20ms", d)
	}
	// Bytes and Duration invert each other for sample-aligned sizes.
	for _, ms := range []int{10, 20, 50, 100, 300} {
		d := time.Duration(ms) * time.Millisecond
		if got := f.Duration(f.BytesInDuration(d)); got != d {
			t.Errorf("round trip %v -> %v", d, got)
		}
	}
}

func TestQuantizeRoundTrip(t *testing.T) {
	// A float -> int16 -> float round trip must land within one
	// quantization step of the input.
	step := 1.0 / 32767.0
	for _, s := range []float32{0, 0.5, -0.5, 0.001, -0.001, 0.99997, -0.99997, 1, -1} {
		got := Int16ToFloat(FloatToInt16(s))
		if diff := math.Abs(float64(got - s)); diff > step {
			t.Errorf("round trip %v -> %v, off by %v (> %v)", s, got, diff, step)
		}
	}
}

func TestQuantizeClamps(t *testing.T) {
	if v := FloatToInt16(1.5); v != 32767 {
		t.Errorf("1.5 -> %d, want 32767", v)
	}
	if v := FloatToInt16(-2); v != -32767 {
		t.Errorf("-2 -> %d, want -32767", v)
	}
	if got := Int16ToFloat(-32768); got != -1 {
		t.Errorf("-32768 -> %v, want -1", got)
	}
}

func TestQuantizeExactForWireSamples(t *testing.T) {
	// Samples that already passed through the quantizer once must
	// survive another trip unchanged.
	for _, v := range []int16{0, 1, -1, 100, -100, 12345, -12345, 32767, -32767} {
		if got := FloatToInt16(Int16ToFloat(v)); got != v {
			t.Errorf("int16 round trip %d -> %d", v, got)
		}
	}
}

func TestFloatsBytesRoundTrip(t *testing.T) {
	samples := generateSineWave(440, 24000, 20)
	data := FloatsToBytes(samples)
	if len(data) != len(samples)*2 {
		t.Fatalf("byte length = %d, want %d", len(data), len(samples)*2)
	}
	back := BytesToFloats(data)
	if len(back) != len(samples) {
		t.Fatalf("sample count = %d, want %d", len(back), len(samples))
	}
	step := 1.0 / 32767.0
	for i := range samples {
		if diff := math.Abs(float64(back[i] - samples[i])); diff > step {
			t.Fatalf("sample %d off by %v", i, diff)
		}
	}
	t.Logf("round-tripped %d samples within one step", len(samples))
}

func TestInt16sBytesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 256, -256, 32767, -32768}
	back := BytesToInt16s(Int16sToBytes(in))
	for i := range in {
		if back[i] != in[i] {
			t.Fatalf("sample %d: %d != %d", i, back[i], in[i])
		}
	}
}

// generateSineWave produces float samples of a sine wave.
func generateSineWave(freq float64, sampleRate, durationMs int) []float32 {
	n := sampleRate * durationMs / 1000
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.8 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}
