package turn

import (
	"encoding/json"
	"errors"
	"time"
)

// ConnState is the coordinator's view of the relay connection.
type ConnState int

const (
	// ConnIdle means no connection exists and none is being attempted.
	ConnIdle ConnState = iota

	// ConnConnecting means a dial or reconnect is in progress.
	ConnConnecting

	// ConnConnected means the session is ready for turns.
	ConnConnected

	// ConnFailed means connecting gave up: attempts were exhausted or
	// the relay rejected the credentials.
	ConnFailed
)

// String returns the string representation of the state.
func (s ConnState) String() string {
	switch s {
	case ConnIdle:
		return "idle"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s ConnState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *ConnState) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "idle":
		*s = ConnIdle
	case "connecting":
		*s = ConnConnecting
	case "connected":
		*s = ConnConnected
	case "failed":
		*s = ConnFailed
	default:
		return errors.New("turn: unknown connection state " + name)
	}
	return nil
}

// ConnStateEvent reports a connection state change to the observer.
type ConnStateEvent struct {
	// State is the state entered.
	State ConnState
	// Cause is the error that forced the change, if any.
	Cause error
	// At is when the change happened.
	At time.Time
}
