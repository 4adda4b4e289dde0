package realtime_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire/pkg/realtime"
)

// wireMsg mirrors the JSON the relay reads off the socket, with audio
// kept as the raw base64 string so tests can assert the wire shape.
type wireMsg struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	TurnID  string `json:"turn_id"`
	Audio   string `json:"audio"`
	CallID  string `json:"call_id"`
	Output  string `json:"output"`
}

// startRelay runs a WebSocket test server and returns a client pointed
// at it. The script is invoked for each accepted connection. Connections
// missing the bearer token are rejected with 401 before the upgrade.
func startRelay(t *testing.T, token string, script func(t *testing.T, conn *websocket.Conn), opts ...realtime.Option) *realtime.Client {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime" {
			http.NotFound(w, r)
			return
		}
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "credential rejected", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(t, conn)
	}))
	t.Cleanup(srv.Close)

	all := []realtime.Option{realtime.WithBaseURL(srv.URL), realtime.WithToken(token)}
	all = append(all, opts...)
	return realtime.NewClient(all...)
}

func expectMessage(t *testing.T, conn *websocket.Conn, wantType string) wireMsg {
	t.Helper()
	var msg wireMsg
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Errorf("read %s: %v", wantType, err)
		return msg
	}
	if msg.Type != wantType {
		t.Errorf("got message type %q, want %q", msg.Type, wantType)
	}
	if !strings.HasPrefix(msg.EventID, "evt_") {
		t.Errorf("message %q has no event id: %+v", msg.Type, msg)
	}
	return msg
}

// holdOpen keeps the server side reading until the client disconnects.
func holdOpen(_ *testing.T, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func sendCloseFrame(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func TestWebSocketTurnExchange(t *testing.T) {
	client := startRelay(t, "tok_test", func(t *testing.T, conn *websocket.Conn) {
		appended := expectMessage(t, conn, "audio_append")
		if appended.Audio != "AAD/fw==" {
			t.Errorf("audio on the wire: got %q, want %q", appended.Audio, "AAD/fw==")
		}
		expectMessage(t, conn, "audio_commit")
		expectMessage(t, conn, "turn_request")

		conn.WriteJSON(map[string]any{"type": "session_ready", "event_id": "evt_srv000000001", "session_id": "sess_01"})
		conn.WriteJSON(map[string]any{"type": "turn_started", "event_id": "evt_srv000000002", "turn_id": "turn_01"})
		conn.WriteJSON(map[string]any{"type": "audio_fragment", "event_id": "evt_srv000000003", "turn_id": "turn_01", "audio": "AQACAA=="})
		conn.WriteJSON(map[string]any{"type": "audio_fragment_end", "event_id": "evt_srv000000004", "turn_id": "turn_01"})
		conn.WriteJSON(map[string]any{"type": "turn_complete", "event_id": "evt_srv000000005", "turn_id": "turn_01"})
		sendCloseFrame(conn)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := client.ConnectWebSocket(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Close()

	if err := ch.AppendAudio(ctx, []byte{0x00, 0x00, 0xff, 0x7f}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := ch.CommitInput(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := ch.RequestTurn(ctx); err != nil {
		t.Fatalf("request turn: %v", err)
	}

	var types []realtime.MessageType
	var audio []byte
	for msg, err := range ch.Events() {
		if err != nil {
			t.Fatalf("events: %v", err)
		}
		types = append(types, msg.Type)
		if msg.Type == realtime.TypeAudioFragment {
			audio = append(audio, msg.Audio...)
		}
		if msg.TurnID != "" && msg.TurnID != "turn_01" {
			t.Errorf("turn id: got %q", msg.TurnID)
		}
	}

	want := []realtime.MessageType{
		realtime.TypeSessionReady,
		realtime.TypeTurnStarted,
		realtime.TypeAudioFragment,
		realtime.TypeAudioFragmentEnd,
		realtime.TypeTurnComplete,
	}
	if len(types) != len(want) {
		t.Fatalf("got %d messages %v, want %d", len(types), types, len(want))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("message %d: got %q, want %q", i, types[i], want[i])
		}
	}
	if wantAudio := []byte{0x01, 0x00, 0x02, 0x00}; string(audio) != string(wantAudio) {
		t.Errorf("fragment audio: got %v, want %v", audio, wantAudio)
	}
	if got := ch.SessionID(); got != "sess_01" {
		t.Errorf("session id: got %q", got)
	}
}

func TestWebSocketServerError(t *testing.T) {
	client := startRelay(t, "", func(t *testing.T, conn *websocket.Conn) {
		conn.WriteJSON(map[string]any{"type": "session_ready", "session_id": "sess_02"})
		conn.WriteJSON(map[string]any{"type": "error", "code": "upstream_failed", "message": "model unavailable", "fatal": true})
		holdOpen(t, conn)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := client.ConnectWebSocket(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Close()

	var sawReady bool
	var gotErr error
	for msg, err := range ch.Events() {
		if err != nil {
			gotErr = err
			continue
		}
		if msg.Type == realtime.TypeSessionReady {
			sawReady = true
		}
	}

	if !sawReady {
		t.Error("session_ready not delivered before the error")
	}
	if gotErr == nil {
		t.Fatal("iterator ended without the server error")
	}
	var rtErr *realtime.Error
	if !errors.As(gotErr, &rtErr) {
		t.Fatalf("error type: got %T: %v", gotErr, gotErr)
	}
	if rtErr.Code != realtime.CodeUpstreamFailed {
		t.Errorf("code: got %q", rtErr.Code)
	}
	if !realtime.IsFatal(gotErr) {
		t.Error("fatal flag lost")
	}
}

func TestWebSocketCleanRemoteClose(t *testing.T) {
	client := startRelay(t, "", func(t *testing.T, conn *websocket.Conn) {
		conn.WriteJSON(map[string]any{"type": "turn_transcript", "turn_id": "turn_9", "text": "hello", "final": true})
		sendCloseFrame(conn)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := client.ConnectWebSocket(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Close()

	var count int
	for msg, err := range ch.Events() {
		if err != nil {
			t.Fatalf("clean close surfaced an error: %v", err)
		}
		count++
		if msg.Text != "hello" || !msg.Final {
			t.Errorf("transcript: got %+v", msg)
		}
	}
	if count != 1 {
		t.Errorf("message count: got %d, want 1", count)
	}
}

func TestWebSocketClientClose(t *testing.T) {
	client := startRelay(t, "", holdOpen)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := client.ConnectWebSocket(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, err := range ch.Events() {
			if err != nil {
				t.Errorf("local close surfaced an error: %v", err)
			}
		}
	}()

	if err := ch.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("iterator did not end after Close")
	}
}

func TestWebSocketAppendAudioBase64(t *testing.T) {
	received := make(chan string, 1)
	client := startRelay(t, "", func(t *testing.T, conn *websocket.Conn) {
		msg := expectMessage(t, conn, "audio_append")
		received <- msg.Audio
		holdOpen(t, conn)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := client.ConnectWebSocket(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Close()

	if err := ch.AppendAudioBase64(ctx, "not base64!!"); err == nil {
		t.Error("invalid base64 accepted")
	}
	if err := ch.AppendAudioBase64(ctx, "AAD/fw=="); err != nil {
		t.Fatalf("append base64: %v", err)
	}

	select {
	case got := <-received:
		if got != "AAD/fw==" {
			t.Errorf("audio on the wire: got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("append never reached the relay")
	}
}

func TestWebSocketDialRejected(t *testing.T) {
	client := startRelay(t, "tok_valid", holdOpen, realtime.WithToken("tok_wrong"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.ConnectWebSocket(ctx)
	if err == nil {
		t.Fatal("connect succeeded with a rejected credential")
	}
	var rtErr *realtime.Error
	if !errors.As(err, &rtErr) {
		t.Fatalf("error type: got %T: %v", err, err)
	}
	if rtErr.Code != realtime.CodeAuthRejected {
		t.Errorf("code: got %q", rtErr.Code)
	}
	if rtErr.HTTPStatus != http.StatusUnauthorized {
		t.Errorf("http status: got %d", rtErr.HTTPStatus)
	}
	if !realtime.IsFatal(err) {
		t.Error("credential reject not fatal")
	}
}

func TestWebSocketDialRefused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := realtime.NewClient(realtime.WithWebSocketURL("ws://127.0.0.1:1/realtime"))
	_, err := client.ConnectWebSocket(ctx)
	if err == nil {
		t.Fatal("connect succeeded against a dead port")
	}
	if realtime.IsFatal(err) {
		t.Errorf("transport failure marked fatal: %v", err)
	}
}
