package realtime

import (
	"github.com/google/uuid"

	"github.com/voicewire/voicewire/pkg/encoding"
)

// MessageType identifies a wire message.
type MessageType string

// Client message types (sent from client to relay).
const (
	// TypeAudioAppend appends base64 PCM16 audio to the input buffer.
	TypeAudioAppend MessageType = "audio_append"

	// TypeAudioCommit commits the input buffer as one utterance.
	TypeAudioCommit MessageType = "audio_commit"

	// TypeTurnRequest asks the relay to start a response turn.
	TypeTurnRequest MessageType = "turn_request"

	// TypeTurnCancel aborts an in-flight turn (barge-in).
	TypeTurnCancel MessageType = "turn_cancel"

	// TypeToolResult delivers the application's answer to a tool_call.
	TypeToolResult MessageType = "tool_result"
)

// Server message types (sent from relay to client).
const (
	// TypeSessionReady signals the session is usable. Distinct from the
	// socket being open: the relay sends it after its upstream is live.
	TypeSessionReady MessageType = "session_ready"

	// TypeTurnStarted signals the first response activity for a turn.
	TypeTurnStarted MessageType = "turn_started"

	// TypeAudioFragment carries one chunk of response audio.
	TypeAudioFragment MessageType = "audio_fragment"

	// TypeAudioFragmentEnd signals no more fragments will arrive for the
	// turn.
	TypeAudioFragmentEnd MessageType = "audio_fragment_end"

	// TypeTurnComplete signals the turn is fully finished server-side.
	TypeTurnComplete MessageType = "turn_complete"

	// TypeTurnTranscript carries incremental or final response text.
	TypeTurnTranscript MessageType = "turn_transcript"

	// TypeToolCall asks the application to run a named tool.
	TypeToolCall MessageType = "tool_call"

	// TypeError reports a server-side failure. Fatal errors must not be
	// retried.
	TypeError MessageType = "error"
)

// Message is the wire message union. One JSON object per WebSocket text
// frame or data channel message; unset fields are omitted.
//
// Audio is standard base64 on the wire and raw little-endian PCM16 at
// 24 kHz mono in memory; json unmarshaling decodes it.
type Message struct {
	Type    MessageType `json:"type"`
	EventID string      `json:"event_id,omitempty"`

	// SessionID is set on session_ready.
	SessionID string `json:"session_id,omitempty"`

	// TurnID scopes turn_started, audio_fragment, audio_fragment_end,
	// turn_complete, turn_transcript, tool_call and turn_cancel.
	TurnID string `json:"turn_id,omitempty"`

	// Audio is the PCM payload of audio_append and audio_fragment.
	Audio encoding.StdBase64Data `json:"audio,omitempty"`

	// Text and Final carry turn_transcript content.
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`

	// CallID, Name, Arguments describe a tool_call; CallID and Output
	// travel back in tool_result.
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`

	// Code, ErrorMessage and Fatal carry error payloads.
	Code         string `json:"code,omitempty"`
	ErrorMessage string `json:"message,omitempty"`
	Fatal        bool   `json:"fatal,omitempty"`

	// Raw is the original JSON, populated on receipt.
	Raw []byte `json:"-"`
}

// Err converts an error message into an *Error. Returns nil for other
// message types.
func (m *Message) Err() *Error {
	if m.Type != TypeError {
		return nil
	}
	return &Error{
		Code:    m.Code,
		Message: m.ErrorMessage,
		Fatal:   m.Fatal,
	}
}

// NewEventID mints a wire event ID.
func NewEventID() string {
	return "evt_" + uuid.New().String()[:12]
}
