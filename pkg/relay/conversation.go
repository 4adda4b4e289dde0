package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	gax "github.com/googleapis/gax-go/v2"
	"github.com/kaptinlin/jsonrepair"

	"github.com/voicewire/voicewire/pkg/buffer"
	"github.com/voicewire/voicewire/pkg/realtime"
)

const (
	// sessionReadyTimeout bounds the wait for session.created after the
	// upstream socket connects.
	sessionReadyTimeout = 10 * time.Second

	// dialAttempts is how many times a conversation tries the upstream
	// before rejecting the client.
	dialAttempts = 3

	// drainTimeout bounds the final flush of queued downstream messages
	// at teardown so an error frame still reaches the client.
	drainTimeout = 2 * time.Second
)

// conversation bridges one downstream client to one upstream session.
// The downstream read loop runs in run's goroutine, upstream events in
// their own, and a writer goroutine drains the outbound queue, so a
// slow client never stalls the upstream reader.
//
// The conversation also owns turn identity: one client turn may span
// several upstream responses when the model pauses for tool calls, and
// all of them are folded into the single turn ID the client was given.
type conversation struct {
	relay  *Relay
	id     string
	down   downstream
	logger *slog.Logger

	out        *buffer.Buffer[*realtime.Message]
	writerDone chan struct{}
	done       chan struct{}
	closeOnce  sync.Once

	mu           sync.Mutex
	up           *upstreamSession
	closed       bool
	activeTurn   string
	startSent    bool
	pendingTools int
	resps        map[string]bool
	callNames    map[string]string
}

func newConversation(r *Relay, down downstream) *conversation {
	id := "conv_" + uuid.New().String()[:8]
	return &conversation{
		relay:      r,
		id:         id,
		down:       down,
		logger:     r.logger.With("conversation", id, "transport", down.transport()),
		out:        buffer.N[*realtime.Message](32),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
		resps:      make(map[string]bool),
		callNames:  make(map[string]string),
	}
}

// run drives the conversation to completion: dial upstream, configure
// the session, announce session_ready, then pump client messages until
// either side goes away.
func (c *conversation) run(ctx context.Context) {
	defer c.close()
	go c.writeLoop()

	c.logger.Info("client connected")

	up, err := c.dialWithRetry(ctx)
	if err != nil {
		c.reject(err)
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		up.Close()
		return
	}
	c.up = up
	c.mu.Unlock()

	ready := make(chan error, 1)
	go c.upstreamLoop(up, ready)

	t := time.NewTimer(sessionReadyTimeout)
	defer t.Stop()
	select {
	case err := <-ready:
		if err != nil {
			c.reject(err)
			return
		}
	case <-t.C:
		c.reject(fmt.Errorf("relay: no session.created within %v", sessionReadyTimeout))
		return
	case <-ctx.Done():
		return
	case <-c.done:
		return
	}

	cfg := c.relay.cfg
	if err := up.updateSession(cfg.Voice, cfg.Instructions, c.relay.toolDefs); err != nil {
		c.reject(fmt.Errorf("relay: configure upstream session: %w", err))
		return
	}

	c.send(&realtime.Message{Type: realtime.TypeSessionReady, SessionID: up.SessionID()})
	c.logger.Info("conversation ready", "session_id", up.SessionID())

	for {
		msg, err := c.down.read()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				c.logger.Info("client disconnected")
			case errors.Is(err, errBadMessage):
				c.logger.Warn("dropping client", "error", err)
				c.send(&realtime.Message{
					Type:         realtime.TypeError,
					Code:         realtime.CodeBadMessage,
					ErrorMessage: "unparseable message",
				})
			case c.isClosed():
			default:
				c.logger.Warn("client read failed", "error", err)
			}
			return
		}
		c.handleDown(msg)
	}
}

// dialWithRetry dials the upstream, pausing between transient failures.
// Credential rejections are returned immediately.
func (c *conversation) dialWithRetry(ctx context.Context) (*upstreamSession, error) {
	cfg := c.relay.cfg
	bo := gax.Backoff{
		Initial:    500 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 2,
	}
	for attempt := 1; ; attempt++ {
		up, err := dialUpstream(ctx, cfg.UpstreamURL, cfg.APIKey, cfg.Model, c.logger)
		if err == nil {
			return up, nil
		}
		if realtime.IsFatal(err) || attempt >= dialAttempts {
			return nil, err
		}
		c.logger.Warn("upstream dial failed, retrying", "attempt", attempt, "error", err)
		t := time.NewTimer(bo.Pause())
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-c.done:
			t.Stop()
			return nil, errors.New("relay: conversation closed")
		case <-t.C:
		}
	}
}

// upstreamLoop consumes upstream events. Until session.created it only
// reports readiness; afterwards it translates events downstream. A
// transport failure after ready tears the conversation down.
func (c *conversation) upstreamLoop(up *upstreamSession, ready chan<- error) {
	readySent := false
	var loopErr error
	for ev, err := range up.events() {
		if err != nil {
			loopErr = err
			continue
		}
		switch {
		case ev.Type == upSessionCreated:
			if !readySent {
				readySent = true
				ready <- nil
			}
		case !readySent:
			c.logger.Debug("upstream event before session.created", "type", ev.Type)
		default:
			c.handleUpstream(ev)
		}
	}
	if !readySent {
		if loopErr == nil {
			loopErr = errors.New("relay: upstream closed before session.created")
		}
		ready <- loopErr
		return
	}
	if c.isClosed() {
		return
	}
	if loopErr != nil {
		c.logger.Warn("upstream connection lost", "error", loopErr)
	} else {
		c.logger.Warn("upstream closed the session")
	}
	c.fail(realtime.CodeUpstreamFailed, "upstream session lost", false)
}

// handleUpstream translates one upstream event into downstream protocol
// messages. Events for responses outside the active turn are stale
// tails of a canceled turn and are dropped.
func (c *conversation) handleUpstream(ev *upstreamEvent) {
	if ev.Type == upError {
		c.upstreamError(ev)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case upSessionUpdated:
		c.logger.Debug("upstream session updated")

	case upResponseCreated:
		if ev.Response == nil || ev.Response.ID == "" {
			return
		}
		if c.activeTurn == "" {
			c.logger.Debug("response without a requested turn", "response_id", ev.Response.ID)
			return
		}
		c.resps[ev.Response.ID] = true
		if !c.startSent {
			c.startSent = true
			c.logger.Info("turn started", "turn_id", c.activeTurn, "response_id", ev.Response.ID)
			c.send(&realtime.Message{Type: realtime.TypeTurnStarted, TurnID: c.activeTurn})
		}

	case upResponseAudioDelta:
		if !c.turnResponseLocked(ev.ResponseID) || len(ev.Audio) == 0 {
			return
		}
		c.send(&realtime.Message{Type: realtime.TypeAudioFragment, TurnID: c.activeTurn, Audio: ev.Audio})

	case upResponseAudioDone:
		if !c.turnResponseLocked(ev.ResponseID) {
			return
		}
		c.send(&realtime.Message{Type: realtime.TypeAudioFragmentEnd, TurnID: c.activeTurn})

	case upTranscriptDelta:
		if !c.turnResponseLocked(ev.ResponseID) || ev.Delta == "" {
			return
		}
		c.send(&realtime.Message{Type: realtime.TypeTurnTranscript, TurnID: c.activeTurn, Text: ev.Delta})

	case upTranscriptDone:
		if !c.turnResponseLocked(ev.ResponseID) {
			return
		}
		c.send(&realtime.Message{Type: realtime.TypeTurnTranscript, TurnID: c.activeTurn, Text: ev.Transcript, Final: true})

	case upFunctionArgsDone:
		c.toolCallLocked(ev)

	case upResponseDone:
		c.responseDoneLocked(ev)

	default:
		c.logger.Debug("unhandled upstream event", "type", ev.Type)
	}
}

// upstreamError judges an upstream error event. Credential errors are
// fatal for the conversation; everything else is logged and survived,
// since the upstream reports benign request problems through the same
// event.
func (c *conversation) upstreamError(ev *upstreamEvent) {
	e := ev.Err
	if e == nil {
		c.logger.Warn("upstream error event without payload")
		return
	}
	if e.fatal() {
		c.logger.Error("upstream credential rejected", "error", e)
		c.fail(realtime.CodeUpstreamFailed, e.Error(), true)
		return
	}
	c.logger.Warn("upstream error", "error", e)
}

func (c *conversation) turnResponseLocked(responseID string) bool {
	return c.activeTurn != "" && c.resps[responseID]
}

// toolCallLocked forwards a completed tool call downstream, repairing
// truncated argument JSON when it can.
func (c *conversation) toolCallLocked(ev *upstreamEvent) {
	if !c.turnResponseLocked(ev.ResponseID) {
		return
	}
	args := ev.Arguments
	if args == "" {
		args = "{}"
	} else if !json.Valid([]byte(args)) {
		if fixed, err := jsonrepair.JSONRepair(args); err == nil {
			c.logger.Warn("repaired malformed tool arguments", "call_id", ev.CallID)
			args = fixed
		} else {
			c.logger.Warn("tool arguments unrepairable", "call_id", ev.CallID, "error", err)
		}
	}
	c.pendingTools++
	c.callNames[ev.CallID] = ev.Name
	c.logger.Info("tool call", "turn_id", c.activeTurn, "call_id", ev.CallID, "tool", ev.Name)
	c.send(&realtime.Message{
		Type:      realtime.TypeToolCall,
		TurnID:    c.activeTurn,
		CallID:    ev.CallID,
		Name:      ev.Name,
		Arguments: args,
	})
}

// responseDoneLocked decides whether the turn is over. A response that
// ended while tool results are outstanding pauses the turn; the
// continuation response after the result picks it back up.
func (c *conversation) responseDoneLocked(ev *upstreamEvent) {
	if ev.Response == nil || !c.resps[ev.Response.ID] {
		return
	}
	delete(c.resps, ev.Response.ID)

	switch ev.Response.Status {
	case "failed":
		c.logger.Warn("upstream response failed",
			"turn_id", c.activeTurn, "error", ev.Response.failureError())
		c.completeTurnLocked()
		return
	case "cancelled":
		c.completeTurnLocked()
		return
	}
	if c.pendingTools > 0 {
		c.logger.Debug("turn awaiting tool result",
			"turn_id", c.activeTurn, "pending", c.pendingTools)
		return
	}
	c.completeTurnLocked()
}

func (c *conversation) completeTurnLocked() {
	turnID := c.activeTurn
	c.resetTurnLocked()
	c.logger.Info("turn complete", "turn_id", turnID)
	c.send(&realtime.Message{Type: realtime.TypeTurnComplete, TurnID: turnID})
}

func (c *conversation) resetTurnLocked() {
	c.activeTurn = ""
	c.startSent = false
	c.pendingTools = 0
	clear(c.resps)
}

// handleDown translates one client message into upstream events.
func (c *conversation) handleDown(msg *realtime.Message) {
	up := c.upstream()
	if up == nil {
		return
	}

	var err error
	switch msg.Type {
	case realtime.TypeAudioAppend:
		if len(msg.Audio) == 0 {
			return
		}
		err = up.appendAudio(base64.StdEncoding.EncodeToString(msg.Audio))

	case realtime.TypeAudioCommit:
		err = up.commitInput()

	case realtime.TypeTurnRequest:
		err = c.beginTurn(up)

	case realtime.TypeTurnCancel:
		err = c.cancelTurn(up, msg.TurnID)

	case realtime.TypeToolResult:
		err = c.toolResult(up, msg)

	default:
		c.logger.Warn("unexpected client message", "type", msg.Type)
		return
	}
	if err != nil {
		c.logger.Warn("upstream send failed", "type", msg.Type, "error", err)
		c.fail(realtime.CodeUpstreamFailed, "upstream send failed", false)
	}
}

// beginTurn mints the turn ID and asks the model for a response. The
// protocol allows one turn at a time; a second request while one is
// active drops the client.
func (c *conversation) beginTurn(up *upstreamSession) error {
	c.mu.Lock()
	if c.activeTurn != "" {
		active := c.activeTurn
		c.mu.Unlock()
		c.logger.Warn("turn_request while turn active", "turn_id", active)
		c.fail(realtime.CodeTurnActive, fmt.Sprintf("turn %s still active", active), false)
		return nil
	}
	c.activeTurn = "turn_" + uuid.New().String()[:12]
	c.startSent = false
	c.pendingTools = 0
	clear(c.resps)
	turnID := c.activeTurn
	c.mu.Unlock()

	c.logger.Info("turn requested", "turn_id", turnID)
	return up.createResponse()
}

// cancelTurn aborts the active turn. Upstream events for its responses
// that are already in flight get dropped by the response filter.
func (c *conversation) cancelTurn(up *upstreamSession, turnID string) error {
	c.mu.Lock()
	if turnID == "" || c.activeTurn != turnID {
		c.mu.Unlock()
		c.logger.Debug("cancel for inactive turn", "turn_id", turnID)
		return nil
	}
	c.resetTurnLocked()
	c.mu.Unlock()

	c.logger.Info("turn canceled", "turn_id", turnID)
	return up.cancelResponse()
}

// toolResult records a tool's output upstream and, when the turn is
// still live, asks the model to continue it.
func (c *conversation) toolResult(up *upstreamSession, msg *realtime.Message) error {
	c.mu.Lock()
	name := c.callNames[msg.CallID]
	delete(c.callNames, msg.CallID)
	if c.pendingTools > 0 {
		c.pendingTools--
	}
	turnActive := c.activeTurn != ""
	c.mu.Unlock()

	output := msg.Output
	if name == "" {
		c.logger.Warn("result for unknown tool call", "call_id", msg.CallID)
	} else if filtered, err := c.relay.cfg.Tools.FilterResult(name, output); err != nil {
		c.logger.Warn("tool result filter failed, forwarding raw", "tool", name, "error", err)
	} else {
		output = filtered
	}

	c.logger.Info("tool result", "call_id", msg.CallID, "tool", name, "bytes", len(output))
	if err := up.addToolOutput(msg.CallID, output); err != nil {
		return err
	}
	if !turnActive {
		// Late result for a canceled turn. Record it, start nothing.
		return nil
	}
	return up.createResponse()
}

// reject reports a pre-ready failure to the client and gives up.
func (c *conversation) reject(err error) {
	c.logger.Warn("conversation failed before ready", "error", err)
	msg := &realtime.Message{
		Type:         realtime.TypeError,
		Code:         realtime.CodeUpstreamFailed,
		ErrorMessage: err.Error(),
	}
	var re *realtime.Error
	if errors.As(err, &re) {
		// The downstream token was fine; only fatality carries over.
		msg.Fatal = re.Fatal
	}
	c.send(msg)
}

// fail sends a terminal error downstream and closes the conversation.
func (c *conversation) fail(code, message string, fatal bool) {
	c.send(&realtime.Message{
		Type:         realtime.TypeError,
		Code:         code,
		ErrorMessage: message,
		Fatal:        fatal,
	})
	c.close()
}

// send queues a message for the writer goroutine. Messages queued after
// close are dropped.
func (c *conversation) send(msg *realtime.Message) {
	if err := c.out.Add(msg); err != nil {
		c.logger.Debug("dropping message for closed conversation", "type", msg.Type)
	}
}

func (c *conversation) writeLoop() {
	defer close(c.writerDone)
	for {
		msg, err := c.out.Next()
		if err != nil {
			return
		}
		if err := c.down.send(msg); err != nil {
			if !c.isClosed() {
				c.logger.Warn("client write failed", "error", err)
			}
			c.out.CloseWithError(err)
			return
		}
	}
}

func (c *conversation) upstream() *upstreamSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.up
}

func (c *conversation) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// close tears the conversation down from either side. The outbound
// queue gets a short drain so a final error frame reaches the client
// before the transport drops.
func (c *conversation) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		up := c.up
		c.mu.Unlock()
		close(c.done)

		if up != nil {
			up.Close()
		}
		c.out.CloseWrite()
		t := time.NewTimer(drainTimeout)
		select {
		case <-c.writerDone:
			t.Stop()
		case <-t.C:
		}
		c.down.close()
		c.relay.untrack(c)
		c.logger.Info("conversation closed")
	})
}
