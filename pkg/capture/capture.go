package capture

import (
	"context"
	"errors"
	"time"
)

// Defaults for the pipeline options.
const (
	// DefaultMinDuration is the shortest capture that will be committed.
	// Anything shorter is rejected with ErrTooShort.
	DefaultMinDuration = 100 * time.Millisecond

	// DefaultFrameDuration is the microphone read granularity.
	DefaultFrameDuration = 20 * time.Millisecond
)

var (
	// ErrTooShort is returned by Stop when the captured audio is below
	// the minimum duration. Nothing was appended to the channel.
	ErrTooShort = errors.New("capture: captured audio too short")

	// ErrCaptureActive is returned by Start while a capture session is
	// already running.
	ErrCaptureActive = errors.New("capture: capture already active")

	// ErrNotCapturing is returned by Stop without a matching Start.
	ErrNotCapturing = errors.New("capture: no active capture")
)

// RawFrame is one microphone read of float samples at the device's
// native rate.
type RawFrame []float32

// Mic is the microphone surface the pipeline reads from. Implemented by
// pkg/audio/device and by test fakes.
type Mic interface {
	// Rate returns the native sample rate in Hz.
	Rate() int

	// Start opens the device. The first Start may trigger an OS
	// permission prompt.
	Start() error

	// Read blocks until samples are available and copies them into p.
	Read(p []float32) (int, error)

	// Stop closes the device and unblocks a pending Read.
	Stop() error
}

// Sender is the channel surface the pipeline commits through. Satisfied
// by realtime.Channel.
type Sender interface {
	AppendAudioBase64(ctx context.Context, audioBase64 string) error
	CommitInput(ctx context.Context) error
}

// TapeSink receives a copy of the wire-format audio for diagnostics.
// The copy is recorded before the send, so a tape survives a broken
// channel.
type TapeSink interface {
	RecordCapture(pcm []byte)
}
