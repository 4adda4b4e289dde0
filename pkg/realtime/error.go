package realtime

import (
	"errors"
	"fmt"
)

// Error codes used on the wire and for connect failures.
const (
	// CodeAuthRejected means the credential was refused. Fatal.
	CodeAuthRejected = "auth_rejected"

	// CodeConnectFailed means the transport could not be established.
	CodeConnectFailed = "connect_failed"

	// CodeSDPFailed means the WebRTC offer/answer exchange failed.
	CodeSDPFailed = "sdp_failed"

	// CodeTurnActive means a turn_request arrived while a turn was already
	// in flight.
	CodeTurnActive = "turn_active"

	// CodeBadMessage means the peer sent something unparseable.
	CodeBadMessage = "bad_message"

	// CodeUpstreamFailed means the relay lost its upstream session.
	CodeUpstreamFailed = "upstream_failed"
)

// Error is a protocol-level failure, either received as an error message
// or synthesized from a failed connect.
type Error struct {
	// Code is the machine-readable error code.
	Code string `json:"code,omitempty"`

	// Message is the human-readable description.
	Message string `json:"message,omitempty"`

	// Fatal marks errors that must not be retried (credential rejects,
	// protocol violations).
	Fatal bool `json:"fatal,omitempty"`

	// HTTPStatus is set when the failure came from an HTTP response.
	HTTPStatus int `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("realtime: %s", e.Message)
}

// IsFatal reports whether err is (or wraps) a fatal protocol error.
func IsFatal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Fatal
}
