// Package turn coordinates the conversation session: it owns the relay
// channel, gates turns so at most one is in flight, and drives the
// capture and playback pipelines from the server's event stream.
//
// The lifecycle of one turn:
//
//	BeginCapture          push-to-talk pressed (barges in on a playing turn)
//	EndCapture            audio committed, turn_request sent, gate taken
//	turn_started          server acknowledged, watchdog armed
//	audio_fragment...     fed to playback
//	audio_fragment_end    playback drains
//	turn_complete + playback end -> gate freed
//
// Connection loss fails the in-flight turn and reconnects with capped
// exponential backoff. A clean close or a credential reject never
// reconnects.
package turn

import (
	"context"
	"errors"
	"time"

	"github.com/voicewire/voicewire/pkg/realtime"
)

// Sentinel errors reported by the coordinator.
var (
	// ErrClosed is returned by operations after Close.
	ErrClosed = errors.New("turn: coordinator closed")

	// ErrNotConnected is returned when an operation needs a ready
	// session and there is none.
	ErrNotConnected = errors.New("turn: not connected")

	// ErrTurnInFlight is returned when a turn is requested while one is
	// already running.
	ErrTurnInFlight = errors.New("turn: a turn is already in flight")

	// ErrStartTimeout marks a turn the server never acknowledged.
	ErrStartTimeout = errors.New("turn: no turn_started before timeout")

	// ErrStuckTurn marks a started turn that stopped making progress.
	ErrStuckTurn = errors.New("turn: turn made no progress")
)

// Dialer opens a fresh channel to the relay. The coordinator never
// reuses a channel across reconnects; it dials a new one instead.
type Dialer interface {
	Dial(ctx context.Context) (realtime.Channel, error)
}

// DialFunc adapts a function to the Dialer interface.
type DialFunc func(ctx context.Context) (realtime.Channel, error)

// Dial implements Dialer.
func (f DialFunc) Dial(ctx context.Context) (realtime.Channel, error) {
	return f(ctx)
}

// WebSocketDialer dials the relay's WebSocket endpoint through a
// realtime.Client.
func WebSocketDialer(client *realtime.Client) Dialer {
	return DialFunc(client.ConnectWebSocket)
}

// WebRTCDialer dials the relay's WebRTC endpoint through a
// realtime.Client.
func WebRTCDialer(client *realtime.Client) Dialer {
	return DialFunc(client.ConnectWebRTC)
}

// TurnPhase names a point in a turn's lifecycle.
type TurnPhase string

const (
	// TurnRequested: capture was committed and turn_request sent.
	TurnRequested TurnPhase = "requested"
	// TurnStarted: the server acknowledged the turn.
	TurnStarted TurnPhase = "started"
	// TurnCompleted: server completion and playback end both happened.
	TurnCompleted TurnPhase = "completed"
	// TurnCanceled: the turn was barged in on or the coordinator closed.
	TurnCanceled TurnPhase = "canceled"
	// TurnFailed: the turn ended with an error.
	TurnFailed TurnPhase = "failed"
	// TurnRejected: the capture was too short and no turn was requested.
	TurnRejected TurnPhase = "rejected"
)

// TurnEvent reports a turn lifecycle change to the observer. Each turn
// sees requested, optionally started, then exactly one of completed,
// canceled or failed; a rejected capture produces a lone rejected event.
type TurnEvent struct {
	// Phase is the lifecycle point reached.
	Phase TurnPhase
	// TurnID is the server-assigned ID, empty before turn_started.
	TurnID string
	// Err is set for failed and rejected events.
	Err error
	// At is when the event happened.
	At time.Time
}

// ToolCall is a server request to run an application tool.
type ToolCall struct {
	// TurnID is the turn the call belongs to.
	TurnID string
	// CallID must be echoed back with the result.
	CallID string
	// Name is the tool to run.
	Name string
	// Arguments is the parsed argument object, nil when parsing failed.
	Arguments map[string]any
	// RawArguments is the argument string as received.
	RawArguments string
}

// ToolHandler runs a tool and returns its output, usually JSON. A
// returned error is reported upstream as the tool's failure.
type ToolHandler func(ctx context.Context, call ToolCall) (string, error)
