package audio

import "math"

// firTaps is the kernel length of the anti-aliasing filter. Odd so the
// kernel is symmetric around a center tap.
const firTaps = 31

// Resample converts samples between rates by linear interpolation, with a
// windowed-sinc low-pass guarding against aliasing. The input is returned
// as-is when the rates already match.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	cutoff := float64(min(srcRate, dstRate)) / 2.0

	// When reducing the rate, frequencies above the new Nyquist must go
	// before interpolation.
	if srcRate > dstRate {
		samples = lowPass(samples, cutoff, float64(srcRate))
	}

	step := float64(srcRate) / float64(dstRate)
	out := make([]float32, int(float64(len(samples))/step))
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx+1 >= len(samples) {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}

	// When raising the rate, interpolation leaves imaging artifacts above
	// the source Nyquist.
	if dstRate > srcRate {
		out = lowPass(out, cutoff, float64(dstRate))
	}
	return out
}

// lowPass convolves the signal with a Blackman-windowed sinc kernel. Taps
// falling outside the signal are skipped, which tapers the first and last
// few samples instead of padding.
func lowPass(samples []float32, cutoff, rate float64) []float32 {
	kernel := sincKernel(cutoff/rate, firTaps)
	half := firTaps / 2
	out := make([]float32, len(samples))
	for i := range samples {
		lo := max(0, half-i)
		hi := min(firTaps, len(samples)-i+half)
		var sum float32
		for j := lo; j < hi; j++ {
			sum += samples[i+j-half] * kernel[j]
		}
		out[i] = sum
	}
	return out
}

// sincKernel builds a unity-gain low-pass FIR kernel for the given
// normalized cutoff frequency.
func sincKernel(fc float64, taps int) []float32 {
	kernel := make([]float32, taps)
	half := taps / 2
	var sum float64
	for i := range kernel {
		n := float64(i - half)
		sinc := 1.0
		if n != 0 {
			x := 2 * math.Pi * fc * n
			sinc = math.Sin(x) / x
		}
		t := float64(i) / float64(taps-1)
		window := 0.42 - 0.5*math.Cos(2*math.Pi*t) + 0.08*math.Cos(4*math.Pi*t)
		v := sinc * window
		kernel[i] = float32(v)
		sum += v
	}
	scale := float32(1 / sum)
	for i := range kernel {
		kernel[i] *= scale
	}
	return kernel
}
