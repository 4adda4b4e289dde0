// Package turnlog persists a record of every completed conversation turn
// in a key-value store, so past turns can be listed and inspected after
// the session ends.
//
// Records are msgpack-encoded and keyed by session and start timestamp,
// which keeps listing order chronological without a secondary sort. A
// reverse index supports direct lookup by turn ID.
package turnlog

import (
	"github.com/voicewire/voicewire/pkg/jsontime"
)

// Outcome classifies how a turn ended.
type Outcome string

const (
	// OutcomeOK means the turn played to completion.
	OutcomeOK Outcome = "ok"
	// OutcomeCanceled means the user interrupted or canceled the turn.
	OutcomeCanceled Outcome = "canceled"
	// OutcomeFailed means the turn ended with an error.
	OutcomeFailed Outcome = "failed"
)

// Record captures one conversation turn.
type Record struct {
	// TurnID is the server-assigned turn identifier.
	TurnID string `msgpack:"turn_id" json:"turn_id" yaml:"turn_id"`
	// SessionID identifies the session the turn belongs to.
	SessionID string `msgpack:"session_id" json:"session_id" yaml:"session_id"`

	// StartedAt is when the turn was requested.
	StartedAt jsontime.Milli `msgpack:"started_at" json:"started_at" yaml:"started_at"`
	// EndedAt is when the turn finished, failed, or was canceled.
	EndedAt jsontime.Milli `msgpack:"ended_at" json:"ended_at" yaml:"ended_at"`

	// Captured is the duration of user audio committed for this turn.
	Captured jsontime.Duration `msgpack:"captured" json:"captured" yaml:"captured"`
	// Played is the duration of reply audio scheduled for playback.
	Played jsontime.Duration `msgpack:"played" json:"played" yaml:"played"`
	// Fragments is the number of non-empty audio fragments received.
	Fragments int `msgpack:"fragments" json:"fragments" yaml:"fragments"`

	// Transcript is the reply text, if the server sent one.
	Transcript string `msgpack:"transcript,omitempty" json:"transcript,omitempty" yaml:"transcript,omitempty"`

	// Outcome classifies how the turn ended.
	Outcome Outcome `msgpack:"outcome" json:"outcome" yaml:"outcome"`
	// Error holds the failure message when Outcome is OutcomeFailed.
	Error string `msgpack:"error,omitempty" json:"error,omitempty" yaml:"error,omitempty"`
}

// SessionMeta summarizes the turns recorded for one session.
type SessionMeta struct {
	// SessionID identifies the session.
	SessionID string `msgpack:"session_id" json:"session_id" yaml:"session_id"`
	// Turns is the number of records appended for the session.
	Turns int `msgpack:"turns" json:"turns" yaml:"turns"`
	// FirstAt is the start time of the earliest recorded turn.
	FirstAt jsontime.Milli `msgpack:"first_at" json:"first_at" yaml:"first_at"`
	// LastAt is the start time of the latest recorded turn.
	LastAt jsontime.Milli `msgpack:"last_at" json:"last_at" yaml:"last_at"`
}

// recordRef locates a Record from the turn-ID reverse index.
type recordRef struct {
	Session string `msgpack:"session"`
	TS      int64  `msgpack:"ts"`
}
