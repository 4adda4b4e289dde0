package realtime

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire/pkg/encoding"
)

// WebSocketChannel is a WebSocket-backed realtime channel.
type WebSocketChannel struct {
	*eventPump

	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *Client) connectWebSocket(ctx context.Context) (*WebSocketChannel, error) {
	headers := http.Header{}
	if c.config.token != "" {
		headers.Set("Authorization", "Bearer "+c.config.token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.httpClient.Timeout,
	}
	conn, resp, err := dialer.DialContext(ctx, c.config.wsURL, headers)
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, &Error{
					Code:       CodeAuthRejected,
					Message:    fmt.Sprintf("credential rejected: %v", err),
					Fatal:      true,
					HTTPStatus: resp.StatusCode,
				}
			}
			return nil, &Error{
				Code:       CodeConnectFailed,
				Message:    fmt.Sprintf("failed to connect: %v", err),
				HTTPStatus: resp.StatusCode,
			}
		}
		return nil, fmt.Errorf("realtime: connect %s: %w", c.config.wsURL, err)
	}

	ch := &WebSocketChannel{
		eventPump: newEventPump(),
		conn:      conn,
	}
	go ch.readLoop()
	return ch, nil
}

// readLoop reads frames from the connection until close or error.
func (ch *WebSocketChannel) readLoop() {
	defer close(ch.eventsCh)

	for {
		select {
		case <-ch.closeCh:
			return
		default:
		}

		_, raw, err := ch.conn.ReadMessage()
		if err != nil {
			select {
			case <-ch.closeCh:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				// Clean remote close ends iteration without error.
				return
			}
			ch.forward(nil, fmt.Errorf("realtime: read: %w", err))
			return
		}
		ch.dispatch(raw)
	}
}

func (ch *WebSocketChannel) send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.EventID == "" {
		msg.EventID = NewEventID()
	}
	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		slog.Debug("sending message", "type", msg.Type, "event_id", msg.EventID)
	}

	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	ch.conn.SetWriteDeadline(deadline)
	return ch.conn.WriteJSON(msg)
}

// AppendAudio appends raw PCM16 audio to the input buffer.
func (ch *WebSocketChannel) AppendAudio(ctx context.Context, pcm []byte) error {
	return ch.send(ctx, &Message{Type: TypeAudioAppend, Audio: pcm})
}

// AppendAudioBase64 appends already-encoded audio to the input buffer.
func (ch *WebSocketChannel) AppendAudioBase64(ctx context.Context, audioBase64 string) error {
	pcm, err := encoding.DecodeStdBase64(audioBase64)
	if err != nil {
		return fmt.Errorf("realtime: append audio: %w", err)
	}
	return ch.AppendAudio(ctx, pcm)
}

// CommitInput commits the input buffer as one utterance.
func (ch *WebSocketChannel) CommitInput(ctx context.Context) error {
	return ch.send(ctx, &Message{Type: TypeAudioCommit})
}

// RequestTurn asks the relay to start a response turn.
func (ch *WebSocketChannel) RequestTurn(ctx context.Context) error {
	return ch.send(ctx, &Message{Type: TypeTurnRequest})
}

// CancelTurn aborts the named in-flight turn.
func (ch *WebSocketChannel) CancelTurn(ctx context.Context, turnID string) error {
	return ch.send(ctx, &Message{Type: TypeTurnCancel, TurnID: turnID})
}

// SendToolResult delivers the application's answer to a tool_call.
func (ch *WebSocketChannel) SendToolResult(ctx context.Context, callID, output string) error {
	return ch.send(ctx, &Message{Type: TypeToolResult, CallID: callID, Output: output})
}

// SendRaw sends an arbitrary message.
func (ch *WebSocketChannel) SendRaw(ctx context.Context, msg *Message) error {
	return ch.send(ctx, msg)
}

// Events returns the server message iterator.
func (ch *WebSocketChannel) Events() iter.Seq2[*Message, error] {
	return ch.events()
}

// Close tears down the connection. A close frame is sent best-effort so
// the relay sees a clean disconnect.
func (ch *WebSocketChannel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		close(ch.closeCh)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		ch.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = ch.conn.Close()
	})
	return err
}

var _ Channel = (*WebSocketChannel)(nil)
