package realtime

import (
	"context"
	"iter"
)

// Channel is a duplex, message-framed session with the relay. Both the
// WebSocket and WebRTC implementations carry the identical JSON protocol.
//
// Send methods are safe for concurrent use. Events must have a single
// consumer.
type Channel interface {
	// AppendAudio appends raw PCM16 audio (24 kHz mono little-endian) to
	// the input buffer. The payload is base64 encoded on the wire.
	AppendAudio(ctx context.Context, pcm []byte) error

	// AppendAudioBase64 appends already-encoded audio to the input buffer.
	AppendAudioBase64(ctx context.Context, audioBase64 string) error

	// CommitInput commits the input buffer as one utterance.
	CommitInput(ctx context.Context) error

	// RequestTurn asks the relay to start a response turn.
	RequestTurn(ctx context.Context) error

	// CancelTurn aborts the named in-flight turn (barge-in).
	CancelTurn(ctx context.Context, turnID string) error

	// SendToolResult delivers the application's answer to a tool_call.
	SendToolResult(ctx context.Context, callID, output string) error

	// SendRaw sends an arbitrary message. Use for messages not covered by
	// the helpers.
	SendRaw(ctx context.Context, msg *Message) error

	// Events returns an iterator over server messages. The iterator ends
	// when the channel closes cleanly (local Close or a clean remote
	// close) and yields a terminal error otherwise. Server error messages
	// are yielded as *Error in the error position.
	Events() iter.Seq2[*Message, error]

	// SessionID returns the ID announced by session_ready, or "" before
	// that message arrives.
	SessionID() string

	// Close tears down the transport. The Events iterator ends without
	// error.
	Close() error
}
