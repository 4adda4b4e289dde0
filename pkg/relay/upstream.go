package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire/pkg/realtime"
)

const (
	// DefaultUpstreamURL is the stock OpenAI realtime endpoint.
	DefaultUpstreamURL = "wss://api.openai.com/v1/realtime"

	// DefaultModel is dialed when the config names none.
	DefaultModel = "gpt-4o-realtime-preview"

	// DefaultVoice is used when the config names none.
	DefaultVoice = "alloy"
)

// upstreamSession is one WebSocket session against the upstream
// realtime API. One downstream conversation owns exactly one.
type upstreamSession struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	closeCh   chan struct{}
	eventsCh  chan upstreamItem
	closeOnce sync.Once

	mu        sync.Mutex
	sessionID string
}

type upstreamItem struct {
	event *upstreamEvent
	err   error
}

// dialUpstream opens the upstream WebSocket and starts its reader. A
// 401 or 403 handshake response is reported as a fatal credential
// error; retrying it cannot succeed.
func dialUpstream(ctx context.Context, url, apiKey, model string, logger *slog.Logger) (*upstreamSession, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+apiKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{}
	conn, resp, err := dialer.DialContext(ctx, fmt.Sprintf("%s?model=%s", url, model), headers)
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, &realtime.Error{
					Code:       realtime.CodeAuthRejected,
					Message:    fmt.Sprintf("upstream rejected api key: %v", err),
					Fatal:      true,
					HTTPStatus: resp.StatusCode,
				}
			}
			return nil, &realtime.Error{
				Code:       realtime.CodeUpstreamFailed,
				Message:    fmt.Sprintf("upstream connect failed: %v", err),
				HTTPStatus: resp.StatusCode,
			}
		}
		return nil, fmt.Errorf("relay: dial upstream: %w", err)
	}

	s := &upstreamSession{
		conn:     conn,
		logger:   logger,
		closeCh:  make(chan struct{}),
		eventsCh: make(chan upstreamItem, 100),
	}
	go s.readLoop()
	return s, nil
}

// updateSession configures the upstream session for manual turn taking:
// PCM16 both ways, server VAD off, the relay's tool definitions
// attached.
func (s *upstreamSession) updateSession(voice, instructions string, tools []map[string]any) error {
	session := map[string]any{
		"modalities":          []string{"text", "audio"},
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		// Explicit null disables server-side VAD; the client decides
		// when a turn starts.
		"turn_detection": nil,
	}
	if voice != "" {
		session["voice"] = voice
	}
	if instructions != "" {
		session["instructions"] = instructions
	}
	if len(tools) > 0 {
		session["tools"] = tools
		session["tool_choice"] = "auto"
	}
	return s.sendEvent(map[string]any{
		"type":    upSessionUpdate,
		"session": session,
	})
}

// appendAudio appends base64 PCM16 audio to the upstream input buffer.
func (s *upstreamSession) appendAudio(audioBase64 string) error {
	return s.sendEvent(map[string]any{
		"type":  upInputAudioAppend,
		"audio": audioBase64,
	})
}

// commitInput commits the upstream input buffer as one utterance.
func (s *upstreamSession) commitInput() error {
	return s.sendEvent(map[string]any{
		"type": upInputAudioCommit,
	})
}

// createResponse asks the model to generate the next response.
func (s *upstreamSession) createResponse() error {
	return s.sendEvent(map[string]any{
		"type": upResponseCreate,
	})
}

// cancelResponse aborts the in-progress response, if any.
func (s *upstreamSession) cancelResponse() error {
	return s.sendEvent(map[string]any{
		"type": upResponseCancel,
	})
}

// addToolOutput records a tool call's output in the conversation.
func (s *upstreamSession) addToolOutput(callID, output string) error {
	return s.sendEvent(map[string]any{
		"type": upConversationItemCreate,
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	})
}

func (s *upstreamSession) sendEvent(event map[string]any) error {
	if event["event_id"] == nil {
		event["event_id"] = realtime.NewEventID()
	}

	if s.logger.Enabled(context.Background(), slog.LevelDebug) {
		if raw, err := json.Marshal(event); err == nil {
			str := string(raw)
			if len(str) > 500 {
				str = str[:500] + "..."
			}
			s.logger.Debug("upstream send", "content", str)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(event)
}

// events returns the upstream event iterator. Error events arrive as
// ordinary events so the consumer can judge their severity; transport
// failures end the iterator with an error.
func (s *upstreamSession) events() iter.Seq2[*upstreamEvent, error] {
	return func(yield func(*upstreamEvent, error) bool) {
		for {
			select {
			case <-s.closeCh:
				return
			case item, ok := <-s.eventsCh:
				if !ok {
					return
				}
				if !yield(item.event, item.err) {
					return
				}
				if item.err != nil {
					return
				}
			}
		}
	}
}

func (s *upstreamSession) readLoop() {
	defer close(s.eventsCh)

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closeCh:
			case s.eventsCh <- upstreamItem{err: fmt.Errorf("relay: upstream read: %w", err)}:
			}
			return
		}

		if s.logger.Enabled(context.Background(), slog.LevelDebug) {
			str := string(message)
			if len(str) > 1000 {
				str = str[:1000] + "..."
			}
			s.logger.Debug("upstream recv", "len", len(message), "content", str)
		}

		event, err := parseUpstreamEvent(message)
		if err != nil {
			// One malformed frame is not worth tearing the session
			// down for.
			s.logger.Warn("upstream frame unparseable", "error", err)
			continue
		}

		if event.Type == upSessionCreated && event.Session != nil {
			s.mu.Lock()
			s.sessionID = event.Session.ID
			s.mu.Unlock()
		}

		select {
		case <-s.closeCh:
			return
		case s.eventsCh <- upstreamItem{event: event}:
		}
	}
}

func parseUpstreamEvent(message []byte) (*upstreamEvent, error) {
	var event upstreamEvent
	if err := json.Unmarshal(message, &event); err != nil {
		return nil, fmt.Errorf("parse upstream event: %w", err)
	}
	event.Raw = message

	if event.Type == upResponseAudioDelta && event.Delta != "" {
		decoded, err := base64.StdEncoding.DecodeString(event.Delta)
		if err != nil {
			return nil, fmt.Errorf("parse audio delta: %w", err)
		}
		event.Audio = decoded
	}
	return &event, nil
}

// SessionID returns the upstream session ID once session.created has
// been seen.
func (s *upstreamSession) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Close tears the upstream connection down. Safe to call twice.
func (s *upstreamSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		err = s.conn.Close()
	})
	return err
}
