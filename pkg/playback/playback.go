// Package playback schedules response audio fragments for gapless output
// against the audio clock.
//
// Fragments arrive as base64 PCM16 at the 24 kHz wire rate, are queued
// per turn and scheduled back to back: each fragment starts exactly where
// the previous one ends unless the queue starved, in which case the next
// start snaps to the current clock. A turn completes only when the server
// marked the stream ended, the queue is empty and nothing is pending on
// the device.
package playback

import (
	"encoding/json"
	"errors"
	"time"
)

// Defaults for the player options.
const (
	// DefaultPreBuffer is how much audio must be queued before playback
	// starts. Short turns start immediately once the stream has ended.
	DefaultPreBuffer = 300 * time.Millisecond

	// DefaultQuiescentPoll is how often a starving player re-checks for
	// progress.
	DefaultQuiescentPoll = 50 * time.Millisecond

	// DefaultQuiescentGiveUp is how long a started turn may starve with
	// no new fragment and no end-of-stream before it is failed.
	DefaultQuiescentGiveUp = 5 * time.Second
)

var (
	// ErrTurnActive is returned by AddFragment for a turn other than the
	// active one. Force-stop the active turn first.
	ErrTurnActive = errors.New("playback: another turn is active")

	// ErrStalled is delivered through the turn-end callback when a
	// started turn starved past the give-up window.
	ErrStalled = errors.New("playback: stream stalled")

	// ErrForceStopped is delivered through the turn-end callback when a
	// started turn was preempted by ForceStop.
	ErrForceStopped = errors.New("playback: force stopped")
)

// State is the player lifecycle state.
type State int

const (
	// StateIdle means no turn is active.
	StateIdle State = iota

	// StateBuffering means fragments are queued but playback has not
	// started.
	StateBuffering

	// StatePlaying means audio is scheduled and the stream is still open.
	StatePlaying

	// StateDraining means the stream has ended and queued audio is
	// playing out.
	StateDraining
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "idle":
		*s = StateIdle
	case "buffering":
		*s = StateBuffering
	case "playing":
		*s = StatePlaying
	case "draining":
		*s = StateDraining
	default:
		return errors.New("playback: unknown state " + name)
	}
	return nil
}

// Output is the audio clock and sink the player schedules against.
// Implemented by pkg/audio/device and by test fakes.
type Output interface {
	// Now returns the monotonic position of the output clock.
	Now() time.Duration

	// PlayAt schedules pcm to begin at start on the output clock. done
	// fires once the sink has finished the fragment; it must not be
	// invoked synchronously from inside PlayAt.
	PlayAt(start time.Duration, pcm []byte, done func()) error

	// Stop cancels everything scheduled. done callbacks for canceled
	// fragments do not fire.
	Stop()
}

// TapeSink receives accepted fragments in arrival order for diagnostics.
type TapeSink interface {
	RecordPlayback(pcm []byte)
}
