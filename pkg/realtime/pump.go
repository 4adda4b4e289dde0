package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"sync"
)

type messageOrError struct {
	msg *Message
	err error
}

// eventPump is the receive side shared by both transports: a buffered
// message channel, close signaling and session_ready tracking.
type eventPump struct {
	closeCh  chan struct{}
	eventsCh chan messageOrError

	mu        sync.Mutex
	sessionID string
}

func newEventPump() *eventPump {
	return &eventPump{
		closeCh:  make(chan struct{}),
		eventsCh: make(chan messageOrError, 100),
	}
}

// dispatch parses one raw frame and forwards it to the consumer. Server
// error messages become terminal iterator errors.
func (p *eventPump) dispatch(raw []byte) {
	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		slog.Debug("received message", "len", len(raw), "content", preview(raw, 1000))
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		p.forward(nil, fmt.Errorf("realtime: parse message: %w", err))
		return
	}
	msg.Raw = raw

	if msg.Type == TypeSessionReady {
		p.mu.Lock()
		p.sessionID = msg.SessionID
		p.mu.Unlock()
	}

	if e := msg.Err(); e != nil {
		p.forward(nil, e)
		return
	}
	p.forward(&msg, nil)
}

// forward pushes one item unless the channel is already closed.
func (p *eventPump) forward(msg *Message, err error) {
	select {
	case <-p.closeCh:
	case p.eventsCh <- messageOrError{msg: msg, err: err}:
	}
}

// events yields messages until close or a terminal error.
func (p *eventPump) events() iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		for {
			select {
			case <-p.closeCh:
				return
			case item, ok := <-p.eventsCh:
				if !ok {
					return
				}
				if !yield(item.msg, item.err) {
					return
				}
				if item.err != nil {
					return
				}
			}
		}
	}
}

// SessionID returns the ID announced by session_ready.
func (p *eventPump) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// preview truncates b for debug logging.
func preview(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
