package audio

import (
	"math"
	"testing"
)

func sine(freq float64, rate, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestResampleSameRatePassthrough(t *testing.T) {
	in := sine(440, 16000, 320)
	out := Resample(in, 16000, 16000)
	if len(out) != len(in) {
		t.Fatalf("length changed: %d -> %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d changed", i)
		}
	}
}

func TestResampleOutputLength(t *testing.T) {
	cases := []struct {
		src, dst, n, want int
	}{
		{24000, 8000, 2400, 800},
		{8000, 16000, 800, 1600},
		{24000, 16000, 2400, 1600},
	}
	for _, c := range cases {
		out := Resample(sine(300, c.src, c.n), c.src, c.dst)
		if len(out) != c.want {
			t.Errorf("%d->%d with %d samples: got %d, want %d", c.src, c.dst, c.n, len(out), c.want)
		}
	}
}

func TestResamplePreservesTone(t *testing.T) {
	// A 440 Hz tone survives a 24k -> 16k conversion: the downsampled
	// signal should still swing with roughly the input amplitude.
	out := Resample(sine(440, 24000, 4800), 24000, 16000)
	var peak float32
	for _, s := range out {
		if s > peak {
			peak = s
		}
	}
	if peak < 0.4 || peak > 0.6 {
		t.Errorf("peak amplitude %v, want near 0.5", peak)
	}
}

func TestResampleRemovesAliasedTone(t *testing.T) {
	// 10 kHz sits above the 4 kHz Nyquist of an 8 kHz stream, so the
	// filter should attenuate it to near silence rather than fold it down.
	out := Resample(sine(10000, 24000, 4800), 24000, 8000)
	var sum float64
	for _, s := range out[100 : len(out)-100] {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(out)-200))
	if rms > 0.05 {
		t.Errorf("aliased tone rms %v, want near zero", rms)
	}
}
