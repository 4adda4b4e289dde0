// Package tape records the raw audio of each conversation turn to a
// file store, so a turn heard over the speaker can be replayed and
// inspected after the fact.
//
// Layout under the store root, one directory per turn:
//
//	{turn_id}/capture.pcm   audio the client committed upstream
//	{turn_id}/playback.pcm  reply fragments in arrival order
//	{turn_id}/meta.json     format, sizes, digests, timestamps
//
// Both tracks are raw PCM in the wire format (16-bit LE mono 24 kHz),
// playable with e.g. ffplay -f s16le -ar 24000 -ch_layout mono. The meta
// file is written last, so its presence marks a complete tape.
package tape

import (
	"github.com/voicewire/voicewire/pkg/encoding"
	"github.com/voicewire/voicewire/pkg/jsontime"
)

// Meta describes one taped turn. It is stored as meta.json next to the
// audio tracks.
type Meta struct {
	// TurnID is the server-assigned turn ID, or a local_ fallback when
	// the turn ended before the server named it.
	TurnID string `json:"turn_id"`
	// SessionID identifies the session, when known.
	SessionID string `json:"session_id,omitempty"`

	// Format is the PCM format of both tracks.
	Format string `json:"format"`
	// SampleRate is the per-track sample rate in Hz.
	SampleRate int `json:"sample_rate"`
	// Channels is the channel count.
	Channels int `json:"channels"`
	// Depth is the bits per sample.
	Depth int `json:"depth"`

	// StartedAt is when the first audio byte was buffered.
	StartedAt jsontime.Milli `json:"started_at"`
	// FlushedAt is when the tape was written out.
	FlushedAt jsontime.Milli `json:"flushed_at"`

	// Capture describes capture.pcm.
	Capture TrackMeta `json:"capture"`
	// Playback describes playback.pcm.
	Playback TrackMeta `json:"playback"`
}

// TrackMeta describes one audio track of a taped turn.
type TrackMeta struct {
	// Bytes is the track length. Zero means the track file was not
	// written.
	Bytes int `json:"bytes"`
	// Duration is the track length as wire-format play time.
	Duration jsontime.Duration `json:"duration"`
	// Chunks is the number of writes that produced the track.
	Chunks int `json:"chunks"`
	// SHA256 is the digest of the track bytes.
	SHA256 encoding.HexData `json:"sha256,omitempty"`
}
