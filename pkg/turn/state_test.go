package turn

import (
	"encoding/json"
	"testing"
)

func TestConnState_String(t *testing.T) {
	tests := []struct {
		state ConnState
		want  string
	}{
		{ConnIdle, "idle"},
		{ConnConnecting, "connecting"},
		{ConnConnected, "connected"},
		{ConnFailed, "failed"},
		{ConnState(99), "unknown"},
	}

	for _, tc := range tests {
		if tc.state.String() != tc.want {
			t.Errorf("ConnState(%d).String() = %q; want %q", tc.state, tc.state.String(), tc.want)
		}
	}
}

func TestConnState_JSON(t *testing.T) {
	tests := []ConnState{
		ConnIdle,
		ConnConnecting,
		ConnConnected,
		ConnFailed,
	}

	for _, state := range tests {
		data, err := json.Marshal(state)
		if err != nil {
			t.Errorf("Marshal ConnState(%d) error: %v", state, err)
			continue
		}

		var restored ConnState
		if err := json.Unmarshal(data, &restored); err != nil {
			t.Errorf("Unmarshal ConnState error: %v", err)
			continue
		}

		if restored != state {
			t.Errorf("ConnState JSON roundtrip: got %v, want %v", restored, state)
		}
	}

	var s ConnState
	if err := json.Unmarshal([]byte(`"dialing"`), &s); err == nil {
		t.Error("unknown connection state name accepted")
	}
}
