package resampler

// Linear converts float samples from srcRate to dstRate by linear
// interpolation: output index i maps to source position i*srcRate/dstRate
// and blends the two neighboring source samples by the fractional part.
//
// When srcRate == dstRate the input slice is returned as is, with no copy
// and no per-sample work. The quality is sufficient for speech headed to a
// recognizer; playback audio goes through Stream instead.
func Linear(src []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(src) == 0 {
		return src
	}

	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(float64(len(src)) / ratio)
	if outLen == 0 {
		outLen = 1
	}

	out := make([]float32, outLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(src) {
			idx = len(src) - 1
		}
		frac := float32(pos - float64(idx))
		if idx+1 < len(src) {
			out[i] = src[idx]*(1-frac) + src[idx+1]*frac
		} else {
			out[i] = src[idx]
		}
	}
	return out
}
