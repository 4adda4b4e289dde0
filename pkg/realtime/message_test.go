package realtime_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/voicewire/voicewire/pkg/realtime"
)

func TestMessageAudioWireShape(t *testing.T) {
	msg := &realtime.Message{
		Type:    realtime.TypeAudioAppend,
		EventID: "evt_000000000001",
		Audio:   []byte{0x00, 0x00, 0xff, 0x7f},
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"audio":"AAD/fw=="`) {
		t.Errorf("audio not base64 on the wire: %s", raw)
	}
	if !strings.Contains(string(raw), `"type":"audio_append"`) {
		t.Errorf("missing type: %s", raw)
	}

	var back realtime.Message
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(back.Audio) != string(msg.Audio) {
		t.Errorf("audio round trip: got %v, want %v", []byte(back.Audio), []byte(msg.Audio))
	}
}

func TestMessageOmitsUnsetFields(t *testing.T) {
	raw, err := json.Marshal(&realtime.Message{Type: realtime.TypeAudioCommit, EventID: "evt_000000000002"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"audio_commit","event_id":"evt_000000000002"}`
	if string(raw) != want {
		t.Errorf("got %s, want %s", raw, want)
	}
}

func TestMessageUnmarshalFragment(t *testing.T) {
	raw := `{"type":"audio_fragment","event_id":"evt_abc123def456","turn_id":"turn_7","audio":"AQACAA=="}`

	var msg realtime.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != realtime.TypeAudioFragment {
		t.Errorf("type: got %q", msg.Type)
	}
	if msg.TurnID != "turn_7" {
		t.Errorf("turn_id: got %q", msg.TurnID)
	}
	if want := []byte{0x01, 0x00, 0x02, 0x00}; string(msg.Audio) != string(want) {
		t.Errorf("audio: got %v, want %v", []byte(msg.Audio), want)
	}
	if msg.Err() != nil {
		t.Errorf("Err() on fragment: got %v", msg.Err())
	}
}

func TestMessageErrConversion(t *testing.T) {
	raw := `{"type":"error","code":"turn_active","message":"turn already in flight","fatal":false}`

	var msg realtime.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	e := msg.Err()
	if e == nil {
		t.Fatal("Err() returned nil for error message")
	}
	if e.Code != realtime.CodeTurnActive {
		t.Errorf("code: got %q", e.Code)
	}
	if e.Message != "turn already in flight" {
		t.Errorf("message: got %q", e.Message)
	}
	if e.Fatal {
		t.Error("fatal: got true, want false")
	}
	if got := e.Error(); got != "realtime: turn_active: turn already in flight" {
		t.Errorf("Error(): got %q", got)
	}
}

func TestIsFatal(t *testing.T) {
	fatal := &realtime.Error{Code: realtime.CodeAuthRejected, Message: "bad token", Fatal: true}
	if !realtime.IsFatal(fatal) {
		t.Error("fatal error not reported fatal")
	}
	transient := &realtime.Error{Code: realtime.CodeConnectFailed, Message: "refused"}
	if realtime.IsFatal(transient) {
		t.Error("transient error reported fatal")
	}
	if realtime.IsFatal(nil) {
		t.Error("nil reported fatal")
	}
}

func TestNewEventID(t *testing.T) {
	a := realtime.NewEventID()
	b := realtime.NewEventID()
	if !strings.HasPrefix(a, "evt_") {
		t.Errorf("missing prefix: %q", a)
	}
	if len(a) != len("evt_")+12 {
		t.Errorf("length: got %d from %q", len(a), a)
	}
	if a == b {
		t.Errorf("ids collide: %q", a)
	}
}
