package pcm

import (
	"fmt"
	"time"
)

// Format identifies an audio/L16 stream layout. Every Format is mono
// 16-bit little-endian signed PCM; they differ only in rate.
type Format int

const (
	// L16Mono16K is audio/L16; rate=16000; channels=1.
	L16Mono16K Format = iota
	// L16Mono24K is audio/L16; rate=24000; channels=1.
	L16Mono24K
	// L16Mono44K1 is audio/L16; rate=44100; channels=1.
	L16Mono44K1
	// L16Mono48K is audio/L16; rate=48000; channels=1.
	L16Mono48K
)

// WireFormat is the format carried by both directions of the conversation
// channel: 16-bit little-endian signed mono PCM at 24000 Hz. Capture
// resamples up to it and playback schedules in it. The rate is fixed on
// both sides and never inferred from a device.
const WireFormat = L16Mono24K

var rates = [...]int{
	L16Mono16K:  16000,
	L16Mono24K:  24000,
	L16Mono44K1: 44100,
	L16Mono48K:  48000,
}

// SampleRate returns the rate in Hz.
func (f Format) SampleRate() int {
	if f < 0 || int(f) >= len(rates) {
		panic("pcm: invalid audio format")
	}
	return rates[f]
}

// Channels returns the channel count. Every Format is mono.
func (Format) Channels() int { return 1 }

// Depth returns the bits per sample. Every Format is 16-bit.
func (Format) Depth() int { return 16 }

// Samples converts a byte count to a sample count.
func (f Format) Samples(bytes int64) int64 {
	return bytes * 8 / int64(f.Channels()) / int64(f.Depth())
}

// SamplesInDuration returns how many samples span d.
func (f Format) SamplesInDuration(d time.Duration) int64 {
	return int64(time.Duration(f.SampleRate()) * d / time.Second)
}

// BytesInDuration returns how many bytes span d, aligned to whole
// samples.
func (f Format) BytesInDuration(d time.Duration) int64 {
	return f.SamplesInDuration(d) * int64(f.Channels()) * int64(f.Depth()) / 8
}

// Duration returns how long the given bytes play for.
func (f Format) Duration(bytes int64) time.Duration {
	return time.Duration(f.Samples(bytes)) * time.Second / time.Duration(f.SampleRate())
}

// BytesRate returns the bytes per second of the stream.
func (f Format) BytesRate() int {
	return f.SampleRate() * f.Channels() * f.Depth() / 8
}

// String renders the MIME-style description.
func (f Format) String() string {
	return fmt.Sprintf("audio/L16; rate=%d; channels=%d", f.SampleRate(), f.Channels())
}
