package relay

import "fmt"

// Upstream event types, client to server.
const (
	upSessionUpdate          = "session.update"
	upInputAudioAppend       = "input_audio_buffer.append"
	upInputAudioCommit       = "input_audio_buffer.commit"
	upConversationItemCreate = "conversation.item.create"
	upResponseCreate         = "response.create"
	upResponseCancel         = "response.cancel"
)

// Upstream event types, server to client. Only the events the relay
// translates are named; everything else is forwarded to the debug log
// and dropped.
const (
	upSessionCreated     = "session.created"
	upSessionUpdated     = "session.updated"
	upResponseCreated    = "response.created"
	upResponseDone       = "response.done"
	upResponseAudioDelta = "response.audio.delta"
	upResponseAudioDone  = "response.audio.done"
	upTranscriptDelta    = "response.audio_transcript.delta"
	upTranscriptDone     = "response.audio_transcript.done"
	upFunctionArgsDone   = "response.function_call_arguments.done"
	upError              = "error"
)

// upstreamEvent is one decoded upstream server event. Fields are a
// union across event types; which ones are populated depends on Type.
type upstreamEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	Session  *upstreamSessionInfo `json:"session,omitempty"`
	Response *upstreamResponse    `json:"response,omitempty"`

	// ResponseID is set on streaming deltas (audio, transcript,
	// function call arguments).
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`

	// Delta carries base64 audio for response.audio.delta and text for
	// transcript deltas.
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`

	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	Err *upstreamError `json:"error,omitempty"`

	// Audio is the decoded payload of an audio delta, populated on
	// receipt.
	Audio []byte `json:"-"`

	// Raw is the original JSON, populated on receipt.
	Raw []byte `json:"-"`
}

type upstreamSessionInfo struct {
	ID string `json:"id"`
}

type upstreamResponse struct {
	ID            string                 `json:"id,omitempty"`
	Status        string                 `json:"status,omitempty"`
	StatusDetails *upstreamStatusDetails `json:"status_details,omitempty"`
}

type upstreamStatusDetails struct {
	Type   string         `json:"type,omitempty"`
	Reason string         `json:"reason,omitempty"`
	Error  *upstreamError `json:"error,omitempty"`
}

// upstreamError is the error payload of an upstream error event or a
// failed response's status details.
type upstreamError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

func (e *upstreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("upstream %s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("upstream %s: %s", e.Type, e.Message)
}

// fatal reports whether the error means the upstream credential is bad,
// in which case reconnecting with the same key cannot help.
func (e *upstreamError) fatal() bool {
	switch e.Code {
	case "invalid_api_key", "missing_api_key", "account_deactivated":
		return true
	}
	return e.Type == "authentication_error"
}

// failureError extracts the error from a failed response, if any.
func (r *upstreamResponse) failureError() *upstreamError {
	if r == nil || r.StatusDetails == nil {
		return nil
	}
	return r.StatusDetails.Error
}
