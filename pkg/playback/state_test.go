package playback

import (
	"encoding/json"
	"testing"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateBuffering, "buffering"},
		{StatePlaying, "playing"},
		{StateDraining, "draining"},
		{State(99), "unknown"},
	}

	for _, tc := range tests {
		if tc.state.String() != tc.want {
			t.Errorf("State(%d).String() = %q; want %q", tc.state, tc.state.String(), tc.want)
		}
	}
}

func TestState_JSON(t *testing.T) {
	tests := []State{
		StateIdle,
		StateBuffering,
		StatePlaying,
		StateDraining,
	}

	for _, state := range tests {
		data, err := json.Marshal(state)
		if err != nil {
			t.Errorf("Marshal State(%d) error: %v", state, err)
			continue
		}

		var restored State
		if err := json.Unmarshal(data, &restored); err != nil {
			t.Errorf("Unmarshal State error: %v", err)
			continue
		}

		if restored != state {
			t.Errorf("State JSON roundtrip: got %v, want %v", restored, state)
		}
	}

	var s State
	if err := json.Unmarshal([]byte(`"rewinding"`), &s); err == nil {
		t.Error("unknown state name accepted")
	}
}
