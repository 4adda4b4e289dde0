// Package resampler provides audio sample rate conversion.
//
// Two converters cover the two places rates change:
//
//   - Linear: one-shot linear interpolation over float samples. Used by the
//     capture pipeline to bring a device's native rate to the wire rate.
//     When source and destination rates match it returns the input slice
//     unchanged.
//   - Stream: a streaming io.ReadCloser over 16-bit PCM backed by a
//     high-quality pure Go resampler. Used by the device layer when an
//     output device cannot be opened at the wire rate. Also converts
//     mono<->stereo.
//
// Example usage:
//
//	wire := resampler.Linear(samples, 48000, 24000)
//
//	src := resampler.Format{SampleRate: 24000}
//	dst := resampler.Format{SampleRate: 48000}
//	r, err := resampler.NewStream(audioReader, src, dst)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	io.Copy(output, r)
package resampler
