package resampler

// Format describes a pcm16 stream for conversion. Only 16-bit signed
// samples are handled.
type Format struct {
	// SampleRate in Hz, e.g. 24000 or 48000.
	SampleRate int

	// Stereo selects two interleaved channels instead of one.
	Stereo bool
}

func (f Format) channels() int {
	if f.Stereo {
		return 2
	}
	return 1
}

// sampleBytes is one whole frame: two bytes per channel.
func (f Format) sampleBytes() int {
	return 2 * f.channels()
}
