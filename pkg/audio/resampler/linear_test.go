package resampler

import (
	"math"
	"testing"
)

func TestLinearIdentity(t *testing.T) {
	src := []float32{0.1, 0.2, 0.3, 0.4}
	out := Linear(src, 24000, 24000)
	if len(out) != len(src) {
		t.Fatalf("identity changed length: %d != %d", len(out), len(src))
	}
	// Identity must return the input slice itself, not a copy.
	src[0] = 0.9
	if out[0] != 0.9 {
		t.Fatal("identity resample copied the input")
	}
}

func TestLinearEmpty(t *testing.T) {
	if out := Linear(nil, 48000, 24000); len(out) != 0 {
		t.Fatalf("empty input produced %d samples", len(out))
	}
}

func TestLinearLength(t *testing.T) {
	src := make([]float32, 4800) // 100ms at 48k
	if out := Linear(src, 48000, 24000); len(out) != 2400 {
		t.Fatalf("48k->24k of 4800 samples = %d, want 2400", len(out))
	}
	src = make([]float32, 2400) // 100ms at 24k
	if out := Linear(src, 24000, 48000); len(out) != 4800 {
		t.Fatalf("24k->48k of 2400 samples = %d, want 4800", len(out))
	}
}

func TestLinearDC(t *testing.T) {
	// A constant signal stays constant through interpolation.
	src := make([]float32, 4410)
	for i := range src {
		src[i] = 0.5
	}
	out := Linear(src, 44100, 24000)
	for i, s := range out {
		if math.Abs(float64(s-0.5)) > 1e-6 {
			t.Fatalf("sample %d = %v, want 0.5", i, s)
		}
	}
}

func TestLinearPreservesFrequency(t *testing.T) {
	// A 440Hz tone resampled 48k->24k still crosses zero at 440Hz.
	const freq = 440.0
	srcRate, dstRate := 48000, 24000
	src := make([]float32, srcRate) // 1 second
	for i := range src {
		src[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / float64(srcRate)))
	}
	out := Linear(src, srcRate, dstRate)

	crossings := 0
	for i := 1; i < len(out); i++ {
		if (out[i-1] < 0) != (out[i] < 0) {
			crossings++
		}
	}
	// A sine crosses zero twice per cycle.
	want := int(2 * freq)
	if crossings < want-4 || crossings > want+4 {
		t.Fatalf("zero crossings = %d, want about %d", crossings, want)
	}
	t.Logf("440Hz tone kept %d zero crossings after 48k->24k", crossings)
}
