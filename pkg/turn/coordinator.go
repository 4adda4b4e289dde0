package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/voicewire/voicewire/pkg/audio/pcm"
	"github.com/voicewire/voicewire/pkg/capture"
	"github.com/voicewire/voicewire/pkg/jsontime"
	"github.com/voicewire/voicewire/pkg/playback"
	"github.com/voicewire/voicewire/pkg/realtime"
	"github.com/voicewire/voicewire/pkg/tape"
	"github.com/voicewire/voicewire/pkg/turnlog"
)

const (
	// DefaultTurnStartTimeout bounds the wait for turn_started after a
	// request. The same window bounds the wait for session_ready when
	// connecting.
	DefaultTurnStartTimeout = 10 * time.Second

	// DefaultWatchdogInterval is the rolling window in which a started
	// turn must show progress.
	DefaultWatchdogInterval = 30 * time.Second

	// DefaultBackoffInitial is the delay before the first reconnect
	// attempt; it doubles per attempt.
	DefaultBackoffInitial = time.Second

	// DefaultMaxAttempts caps connect and reconnect attempts.
	DefaultMaxAttempts = 3

	// toolCallTimeout bounds one tool execution.
	toolCallTimeout = 30 * time.Second
)

type config struct {
	turnStartTimeout time.Duration
	watchdogInterval time.Duration
	backoffInitial   time.Duration
	maxAttempts      int
	logger           *slog.Logger
	tlog             *turnlog.Log
	tape             *tape.Recorder
	captureOpts      []capture.Option
	playbackOpts     []playback.Option
	onState          func(ConnStateEvent)
	onTranscript     func(turnID, text string, final bool)
	onToolCall       ToolHandler
	onTurnEvent      func(TurnEvent)
}

// Option configures a Coordinator.
type Option func(*config)

// WithTurnStartTimeout sets how long a requested turn may wait for
// turn_started, and a connect for session_ready.
func WithTurnStartTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.turnStartTimeout = d
		}
	}
}

// WithWatchdogInterval sets the rolling progress window for a started
// turn.
func WithWatchdogInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.watchdogInterval = d
		}
	}
}

// WithBackoff sets the initial reconnect delay (doubled per attempt)
// and the attempt cap.
func WithBackoff(initial time.Duration, maxAttempts int) Option {
	return func(c *config) {
		if initial > 0 {
			c.backoffInitial = initial
		}
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTurnLog persists a record of every finished turn.
func WithTurnLog(log *turnlog.Log) Option {
	return func(c *config) {
		c.tlog = log
	}
}

// WithTape records each turn's audio. The recorder is wired into both
// pipelines and flushed at turn boundaries.
func WithTape(rec *tape.Recorder) Option {
	return func(c *config) {
		c.tape = rec
	}
}

// WithCaptureOptions passes options through to the capture pipeline.
func WithCaptureOptions(opts ...capture.Option) Option {
	return func(c *config) {
		c.captureOpts = append(c.captureOpts, opts...)
	}
}

// WithPlaybackOptions passes options through to the playback player.
// The turn-start and turn-end callbacks are owned by the coordinator
// and must not be set here.
func WithPlaybackOptions(opts ...playback.Option) Option {
	return func(c *config) {
		c.playbackOpts = append(c.playbackOpts, opts...)
	}
}

// OnState registers the connection state observer.
func OnState(fn func(ConnStateEvent)) Option {
	return func(c *config) {
		c.onState = fn
	}
}

// OnTranscript registers the transcript observer.
func OnTranscript(fn func(turnID, text string, final bool)) Option {
	return func(c *config) {
		c.onTranscript = fn
	}
}

// OnToolCall registers the tool handler. Without one, tool calls are
// answered with an error result.
func OnToolCall(h ToolHandler) Option {
	return func(c *config) {
		c.onToolCall = h
	}
}

// OnTurnEvent registers the turn lifecycle observer.
func OnTurnEvent(fn func(TurnEvent)) Option {
	return func(c *config) {
		c.onTurnEvent = fn
	}
}

// turnState tracks one in-flight turn from request to completion.
type turnState struct {
	seq          uint64
	id           string // server-assigned, "" until turn_started
	requestedAt  time.Time
	captured     time.Duration
	played       time.Duration
	fragments    int
	transcript   string
	finalText    bool
	sawAudio     bool
	serverDone   bool
	playbackDone bool
	playbackErr  error
	startTimer   *time.Timer
	watchdog     *time.Timer
}

// Coordinator owns the session. It composes the capture and playback
// pipelines with a dialed channel and enforces the one-turn gate.
//
// All state lives under one mutex; channel sends, pipeline calls and
// observer callbacks run outside it.
type Coordinator struct {
	dialer  Dialer
	logger  *slog.Logger
	capture *capture.Pipeline
	player  *playback.Player
	tlog    *turnlog.Log
	tape    *tape.Recorder

	turnStartTimeout time.Duration
	watchdogInterval time.Duration
	backoffInitial   time.Duration
	maxAttempts      int

	onState      func(ConnStateEvent)
	onTranscript func(turnID, text string, final bool)
	onToolCall   ToolHandler
	onTurnEvent  func(TurnEvent)

	closeCh chan struct{}

	mu        sync.Mutex
	conn      ConnState
	ch        realtime.Channel
	sessionID string
	connEpoch uint64
	turnSeq   uint64
	turn      *turnState
	closed    bool
}

// New creates a Coordinator over a dialer, a microphone and an audio
// output. Connect must be called before turns can run.
func New(dialer Dialer, mic capture.Mic, out playback.Output, opts ...Option) *Coordinator {
	cfg := config{
		turnStartTimeout: DefaultTurnStartTimeout,
		watchdogInterval: DefaultWatchdogInterval,
		backoffInitial:   DefaultBackoffInitial,
		maxAttempts:      DefaultMaxAttempts,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Coordinator{
		dialer:           dialer,
		logger:           cfg.logger,
		tlog:             cfg.tlog,
		tape:             cfg.tape,
		turnStartTimeout: cfg.turnStartTimeout,
		watchdogInterval: cfg.watchdogInterval,
		backoffInitial:   cfg.backoffInitial,
		maxAttempts:      cfg.maxAttempts,
		onState:          cfg.onState,
		onTranscript:     cfg.onTranscript,
		onToolCall:       cfg.onToolCall,
		onTurnEvent:      cfg.onTurnEvent,
		closeCh:          make(chan struct{}),
		conn:             ConnIdle,
	}

	capOpts := []capture.Option{capture.WithLogger(cfg.logger)}
	if cfg.tape != nil {
		capOpts = append(capOpts, capture.WithTape(cfg.tape))
	}
	capOpts = append(capOpts, cfg.captureOpts...)
	c.capture = capture.New(mic, uplink{c}, capOpts...)

	playOpts := []playback.Option{
		playback.WithLogger(cfg.logger),
		playback.OnTurnStart(c.playbackStarted),
		playback.OnTurnEnd(c.playbackEnded),
	}
	if cfg.tape != nil {
		playOpts = append(playOpts, playback.WithTape(cfg.tape))
	}
	playOpts = append(playOpts, cfg.playbackOpts...)
	c.player = playback.New(out, playOpts...)

	return c
}

// uplink forwards capture sends to whatever channel is current, so the
// pipeline survives reconnects without rebinding.
type uplink struct {
	c *Coordinator
}

func (u uplink) AppendAudioBase64(ctx context.Context, audioBase64 string) error {
	ch := u.c.channel()
	if ch == nil {
		return ErrNotConnected
	}
	return ch.AppendAudioBase64(ctx, audioBase64)
}

func (u uplink) CommitInput(ctx context.Context) error {
	ch := u.c.channel()
	if ch == nil {
		return ErrNotConnected
	}
	return ch.CommitInput(ctx)
}

func (c *Coordinator) channel() realtime.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch
}

// State returns the connection state.
func (c *Coordinator) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// SessionID returns the ID announced by the current session, or "".
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ActiveTurn returns the in-flight turn's server ID, or "" when the
// gate is free or the turn has not started yet.
func (c *Coordinator) ActiveTurn() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn == nil {
		return ""
	}
	return c.turn.id
}

// TurnInFlight reports whether the one-turn gate is held.
func (c *Coordinator) TurnInFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn != nil
}

// Capturing reports whether the microphone is live.
func (c *Coordinator) Capturing() bool {
	return c.capture.Active()
}

// PlaybackState returns the player's state.
func (c *Coordinator) PlaybackState() playback.State {
	return c.player.State()
}

// RequestPermission probes the microphone once. See
// capture.Pipeline.RequestPermission.
func (c *Coordinator) RequestPermission(ctx context.Context) error {
	return c.capture.RequestPermission(ctx)
}

// setConnLocked records a state change and returns the closure that
// logs it and notifies the observer. Callers run the closure outside
// the mutex.
func (c *Coordinator) setConnLocked(s ConnState, cause error) func() {
	if c.conn == s {
		return func() {}
	}
	c.conn = s
	ev := ConnStateEvent{State: s, Cause: cause, At: time.Now()}
	cb := c.onState
	return func() {
		if cause != nil {
			c.logger.Info("connection state", "state", s.String(), "cause", cause)
		} else {
			c.logger.Info("connection state", "state", s.String())
		}
		if cb != nil {
			cb(ev)
		}
	}
}

// Connect establishes the session, retrying with backoff. It returns
// once session_ready arrived or the attempts are exhausted. Calling it
// while connected or connecting is a no-op.
func (c *Coordinator) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn == ConnConnected || c.conn == ConnConnecting {
		c.mu.Unlock()
		return nil
	}
	fire := c.setConnLocked(ConnConnecting, nil)
	c.mu.Unlock()
	fire()
	return c.runConnect(ctx, true)
}

// runConnect tries up to maxAttempts times to establish a session.
// immediate skips the delay before the first attempt (a user-initiated
// connect); reconnects wait backoffInitial, then double it per attempt.
func (c *Coordinator) runConnect(ctx context.Context, immediate bool) error {
	delay := c.backoffInitial
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if !immediate || attempt > 1 {
			c.logger.Info("connect backoff", "attempt", attempt, "delay", delay)
			if err := c.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
			delay *= 2
		}
		err := c.establish(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if realtime.IsFatal(err) {
			c.logger.Error("connect rejected", "error", err)
			break
		}
		c.logger.Warn("connect attempt failed", "attempt", attempt, "error", err)
	}

	c.mu.Lock()
	fire := func() {}
	if !c.closed {
		fire = c.setConnLocked(ConnFailed, lastErr)
	}
	c.mu.Unlock()
	fire()
	return lastErr
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closeCh:
		return ErrClosed
	case <-t.C:
		return nil
	}
}

// establish dials once and waits for session_ready. The new channel's
// event loop is started here; failures before session_ready come back
// to the caller, failures after belong to the loop.
func (c *Coordinator) establish(ctx context.Context) error {
	ch, err := c.dialer.Dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ch.Close()
		return ErrClosed
	}
	c.connEpoch++
	epoch := c.connEpoch
	c.ch = ch
	c.mu.Unlock()

	ready := make(chan error, 1)
	go c.eventLoop(ch, epoch, ready)

	t := time.NewTimer(c.turnStartTimeout)
	defer t.Stop()
	select {
	case err := <-ready:
		if err != nil {
			c.detachChannel(epoch, ch)
			return err
		}
	case <-t.C:
		c.detachChannel(epoch, ch)
		return errors.New("turn: timed out waiting for session_ready")
	case <-ctx.Done():
		c.detachChannel(epoch, ch)
		return ctx.Err()
	case <-c.closeCh:
		c.detachChannel(epoch, ch)
		return ErrClosed
	}

	c.mu.Lock()
	if c.closed || c.connEpoch != epoch {
		c.mu.Unlock()
		return ErrClosed
	}
	c.sessionID = ch.SessionID()
	sid := c.sessionID
	fire := c.setConnLocked(ConnConnected, nil)
	c.mu.Unlock()
	fire()
	c.logger.Info("session ready", "session", sid)
	return nil
}

// detachChannel invalidates a channel that failed before session_ready
// so its dying event loop cannot trigger reconnect handling.
func (c *Coordinator) detachChannel(epoch uint64, ch realtime.Channel) {
	c.mu.Lock()
	if c.connEpoch == epoch {
		c.connEpoch++
		c.ch = nil
	}
	c.mu.Unlock()
	ch.Close()
}

// eventLoop consumes one channel's events. It signals ready on the
// first session_ready; before that, failures are establish's to handle,
// after it they are loopEnded's.
func (c *Coordinator) eventLoop(ch realtime.Channel, epoch uint64, ready chan<- error) {
	readySent := false
	var loopErr error
	for msg, err := range ch.Events() {
		if err != nil {
			loopErr = err
			continue // the iterator ends after a terminal error
		}
		if msg.Type == realtime.TypeSessionReady {
			c.mu.Lock()
			if c.connEpoch == epoch {
				c.sessionID = msg.SessionID
			}
			c.mu.Unlock()
			if !readySent {
				readySent = true
				ready <- nil
			} else {
				c.logger.Debug("duplicate session_ready", "session", msg.SessionID)
			}
			continue
		}
		c.handleMessage(epoch, msg)
	}

	if !readySent {
		if loopErr == nil {
			loopErr = errors.New("turn: channel closed before session_ready")
		}
		ready <- loopErr
		return
	}
	c.loopEnded(epoch, loopErr)
}

// loopEnded handles the end of a ready channel's event stream: clean
// remote close, fatal error, or transport loss with reconnect.
func (c *Coordinator) loopEnded(epoch uint64, err error) {
	c.mu.Lock()
	if c.closed || c.connEpoch != epoch {
		c.mu.Unlock()
		return
	}
	ch := c.ch
	c.ch = nil
	c.connEpoch++

	var fires []func()
	if c.turn != nil {
		cause := err
		if cause == nil {
			cause = errors.New("turn: channel closed")
		}
		fires = c.finishTurnLocked(TurnFailed, cause)
	}

	var fireState func()
	switch {
	case err == nil:
		fireState = c.setConnLocked(ConnIdle, nil)
	case realtime.IsFatal(err):
		fireState = c.setConnLocked(ConnFailed, err)
	default:
		fireState = c.setConnLocked(ConnConnecting, err)
	}
	c.mu.Unlock()

	c.capture.Abort()
	c.player.ForceStop()
	for _, f := range fires {
		f()
	}
	fireState()
	if ch != nil {
		ch.Close()
	}

	switch {
	case err == nil:
		c.logger.Info("channel closed by remote")
	case realtime.IsFatal(err):
		c.logger.Error("fatal channel error", "error", err)
	default:
		c.logger.Warn("channel lost, reconnecting", "error", err)
		if rerr := c.runConnect(context.Background(), false); rerr != nil {
			c.logger.Error("reconnect failed", "error", rerr)
		}
	}
}

// handleMessage dispatches one server message. Handlers mutate state
// under the mutex and return closures that run outside it.
func (c *Coordinator) handleMessage(epoch uint64, msg *realtime.Message) {
	var fires []func()

	c.mu.Lock()
	if c.closed || c.connEpoch != epoch {
		c.mu.Unlock()
		return
	}
	switch msg.Type {
	case realtime.TypeTurnStarted:
		fires = c.turnStartedLocked(msg)
	case realtime.TypeAudioFragment:
		fires = c.fragmentLocked(msg)
	case realtime.TypeAudioFragmentEnd:
		fires = c.fragmentEndLocked(msg)
	case realtime.TypeTurnComplete:
		fires = c.turnCompleteLocked(msg)
	case realtime.TypeTurnTranscript:
		fires = c.transcriptLocked(msg)
	case realtime.TypeToolCall:
		fires = c.toolCallLocked(msg)
	default:
		c.logger.Debug("unhandled message", "type", string(msg.Type))
	}
	c.mu.Unlock()

	for _, f := range fires {
		f()
	}
}

func (c *Coordinator) turnStartedLocked(msg *realtime.Message) []func() {
	t := c.turn
	if t == nil {
		c.logger.Warn("turn_started with no turn in flight", "turn", msg.TurnID)
		return nil
	}
	if t.id != "" {
		c.logger.Warn("duplicate turn_started", "turn", msg.TurnID, "active", t.id)
		return nil
	}
	t.id = msg.TurnID
	if t.startTimer != nil {
		t.startTimer.Stop()
		t.startTimer = nil
	}
	seq := t.seq
	t.watchdog = time.AfterFunc(c.watchdogInterval, func() { c.watchdogFired(seq) })

	sessionID := c.sessionID
	turnID := t.id
	rec := c.tape
	cb := c.onTurnEvent
	ev := TurnEvent{Phase: TurnStarted, TurnID: turnID, At: time.Now()}
	return []func(){func() {
		c.logger.Info("turn started", "turn", turnID)
		if rec != nil {
			rec.BeginTurn(sessionID, turnID)
		}
		if cb != nil {
			cb(ev)
		}
	}}
}

func (c *Coordinator) fragmentLocked(msg *realtime.Message) []func() {
	t := c.turn
	if t == nil || t.id != msg.TurnID {
		c.logger.Debug("fragment for inactive turn", "turn", msg.TurnID)
		return nil
	}
	c.petWatchdogLocked(t)
	if len(msg.Audio) == 0 {
		return nil
	}
	t.sawAudio = true
	t.fragments++
	t.played += pcm.WireFormat.Duration(int64(len(msg.Audio)))

	turnID := msg.TurnID
	data := []byte(msg.Audio)
	return []func(){func() {
		if err := c.player.AddFragmentPCM(turnID, data); err != nil {
			c.logger.Warn("fragment rejected", "turn", turnID, "error", err)
		}
	}}
}

func (c *Coordinator) fragmentEndLocked(msg *realtime.Message) []func() {
	t := c.turn
	if t == nil || t.id != msg.TurnID {
		c.logger.Debug("fragment_end for inactive turn", "turn", msg.TurnID)
		return nil
	}
	c.petWatchdogLocked(t)
	t.sawAudio = true

	turnID := msg.TurnID
	return []func(){func() {
		c.player.EndOfStream(turnID)
	}}
}

func (c *Coordinator) turnCompleteLocked(msg *realtime.Message) []func() {
	t := c.turn
	if t == nil || t.id != msg.TurnID {
		c.logger.Warn("turn_complete for unknown turn", "turn", msg.TurnID)
		return nil
	}
	t.serverDone = true
	if t.watchdog != nil {
		t.watchdog.Stop()
		t.watchdog = nil
	}
	if !t.sawAudio {
		// Nothing was ever fed to playback, so no playback end will come.
		t.playbackDone = true
	}
	return c.maybeFinishLocked()
}

func (c *Coordinator) transcriptLocked(msg *realtime.Message) []func() {
	t := c.turn
	if t == nil || t.id != msg.TurnID {
		c.logger.Debug("transcript for inactive turn", "turn", msg.TurnID)
		return nil
	}
	c.petWatchdogLocked(t)
	if msg.Final {
		t.transcript = msg.Text
		t.finalText = true
	} else if !t.finalText {
		t.transcript += msg.Text
	}

	cb := c.onTranscript
	if cb == nil {
		return nil
	}
	turnID, text, final := msg.TurnID, msg.Text, msg.Final
	return []func(){func() {
		cb(turnID, text, final)
	}}
}

func (c *Coordinator) toolCallLocked(msg *realtime.Message) []func() {
	if t := c.turn; t != nil && t.id == msg.TurnID {
		c.petWatchdogLocked(t)
	}
	ch := c.ch
	if ch == nil {
		return nil
	}
	handler := c.onToolCall
	m := msg
	return []func(){func() {
		go c.runTool(ch, handler, m)
	}}
}

func (c *Coordinator) petWatchdogLocked(t *turnState) {
	if t.watchdog != nil {
		t.watchdog.Reset(c.watchdogInterval)
	}
}

// runTool executes one tool call and reports the result upstream. It
// runs on its own goroutine so a slow tool never stalls the event loop.
func (c *Coordinator) runTool(ch realtime.Channel, handler ToolHandler, msg *realtime.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), toolCallTimeout)
	defer cancel()

	if handler == nil {
		c.logger.Warn("tool_call with no handler", "name", msg.Name, "call", msg.CallID)
		result := `{"error":"no tool handler registered"}`
		if err := ch.SendToolResult(ctx, msg.CallID, result); err != nil {
			c.logger.Warn("tool result send failed", "call", msg.CallID, "error", err)
		}
		return
	}

	call := ToolCall{
		TurnID:       msg.TurnID,
		CallID:       msg.CallID,
		Name:         msg.Name,
		RawArguments: msg.Arguments,
	}
	if msg.Arguments != "" {
		if err := unmarshalArguments(msg.Arguments, &call.Arguments); err != nil {
			c.logger.Warn("tool arguments unparseable", "name", call.Name, "error", err)
		}
	}

	c.logger.Info("tool call", "name", call.Name, "call", call.CallID)
	output, err := handler(ctx, call)
	if err != nil {
		c.logger.Warn("tool failed", "name", call.Name, "error", err)
		output = fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	if err := ch.SendToolResult(ctx, call.CallID, output); err != nil {
		c.logger.Warn("tool result send failed", "call", call.CallID, "error", err)
	}
}

// unmarshalArguments parses tool arguments, repairing malformed JSON
// the way models commonly emit it (trailing commas, single quotes).
func unmarshalArguments(s string, v any) error {
	err := json.Unmarshal([]byte(s), v)
	if err == nil {
		return nil
	}
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		fixed, rerr := jsonrepair.JSONRepair(s)
		if rerr != nil {
			return err
		}
		return json.Unmarshal([]byte(fixed), v)
	}
	return err
}

// playbackStarted is the player's turn-start callback.
func (c *Coordinator) playbackStarted(turnID string) {
	c.logger.Debug("playback started", "turn", turnID)
}

// playbackEnded is the player's turn-end callback. It frees the gate
// when the server completion already happened, or fails the turn when
// playback broke before it.
func (c *Coordinator) playbackEnded(turnID string, err error) {
	var fires []func()
	c.mu.Lock()
	t := c.turn
	if t != nil && t.id == turnID {
		t.playbackDone = true
		t.playbackErr = err
		if err != nil && !t.serverDone {
			fires = c.finishTurnLocked(TurnFailed, err)
		} else {
			fires = c.maybeFinishLocked()
		}
	}
	c.mu.Unlock()
	for _, f := range fires {
		f()
	}
}

// maybeFinishLocked frees the gate once both completion conditions
// hold.
func (c *Coordinator) maybeFinishLocked() []func() {
	t := c.turn
	if t == nil || !t.serverDone || !t.playbackDone {
		return nil
	}
	if t.playbackErr != nil {
		return c.finishTurnLocked(TurnFailed, t.playbackErr)
	}
	return c.finishTurnLocked(TurnCompleted, nil)
}

// finishTurnLocked ends the in-flight turn exactly once and returns the
// closure that notifies observers, appends the turn log record, and
// cuts the tape. The tape cut happens inside the closure, before any
// new capture can start, so takes never mix turns.
func (c *Coordinator) finishTurnLocked(phase TurnPhase, cause error) []func() {
	t := c.turn
	if t == nil {
		return nil
	}
	c.turn = nil
	if t.startTimer != nil {
		t.startTimer.Stop()
		t.startTimer = nil
	}
	if t.watchdog != nil {
		t.watchdog.Stop()
		t.watchdog = nil
	}

	rec := c.recordLocked(t, phase, cause)
	ev := TurnEvent{Phase: phase, TurnID: t.id, Err: cause, At: time.Now()}
	cb := c.onTurnEvent
	tlog := c.tlog
	tapeRec := c.tape

	return []func(){func() {
		switch phase {
		case TurnCompleted:
			c.logger.Info("turn complete", "turn", rec.TurnID, "played", t.played, "fragments", t.fragments)
		case TurnCanceled:
			c.logger.Info("turn canceled", "turn", rec.TurnID)
		default:
			c.logger.Warn("turn failed", "turn", rec.TurnID, "error", cause)
		}
		if cb != nil {
			cb(ev)
		}
		if tlog != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := tlog.Append(ctx, rec); err != nil {
				c.logger.Warn("turn log append failed", "turn", rec.TurnID, "error", err)
			}
			cancel()
		}
		if tapeRec != nil {
			if take := tapeRec.Cut(); take != nil {
				go c.writeTake(take)
			}
		}
	}}
}

func (c *Coordinator) writeTake(take *tape.Take) {
	if err := take.Write(context.Background()); err != nil {
		c.logger.Warn("tape write failed", "turn", take.TurnID(), "error", err)
	}
}

// recordLocked builds the turn log record for a finished turn.
func (c *Coordinator) recordLocked(t *turnState, phase TurnPhase, cause error) *turnlog.Record {
	id := t.id
	if id == "" {
		id = "local_" + strconv.FormatInt(t.requestedAt.UnixNano(), 10)
	}
	session := c.sessionID
	if session == "" {
		session = "unknown"
	}
	rec := &turnlog.Record{
		TurnID:     id,
		SessionID:  session,
		StartedAt:  jsontime.Milli(t.requestedAt),
		EndedAt:    jsontime.NowEpochMilli(),
		Captured:   jsontime.Duration(t.captured),
		Played:     jsontime.Duration(t.played),
		Fragments:  t.fragments,
		Transcript: t.transcript,
	}
	switch phase {
	case TurnCompleted:
		rec.Outcome = turnlog.OutcomeOK
	case TurnCanceled:
		rec.Outcome = turnlog.OutcomeCanceled
	default:
		rec.Outcome = turnlog.OutcomeFailed
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	return rec
}

// turnStartTimedOut fires when a requested turn saw no turn_started.
func (c *Coordinator) turnStartTimedOut(seq uint64) {
	var fires []func()
	c.mu.Lock()
	t := c.turn
	if t == nil || t.seq != seq || t.id != "" {
		c.mu.Unlock()
		return
	}
	fires = c.finishTurnLocked(TurnFailed, fmt.Errorf("%w (%v)", ErrStartTimeout, c.turnStartTimeout))
	c.mu.Unlock()

	c.player.ForceStop()
	for _, f := range fires {
		f()
	}
}

// watchdogFired fires when a started turn showed no progress for the
// whole interval.
func (c *Coordinator) watchdogFired(seq uint64) {
	var fires []func()
	c.mu.Lock()
	t := c.turn
	if t == nil || t.seq != seq || t.serverDone {
		c.mu.Unlock()
		return
	}
	fires = c.finishTurnLocked(TurnFailed, fmt.Errorf("%w within %v", ErrStuckTurn, c.watchdogInterval))
	c.mu.Unlock()

	c.player.ForceStop()
	for _, f := range fires {
		f()
	}
}

// BeginCapture starts the push-to-talk press. An in-flight turn is
// barged in on: playback stops first, the server is told to cancel,
// and the turn is recorded as canceled before capture starts.
func (c *Coordinator) BeginCapture(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != ConnConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	ch := c.ch
	var cancelID string
	var fires []func()
	if c.turn != nil {
		cancelID = c.turn.id
		fires = c.finishTurnLocked(TurnCanceled, nil)
	}
	c.mu.Unlock()

	if fires != nil {
		c.player.ForceStop()
		if cancelID != "" && ch != nil {
			if err := ch.CancelTurn(ctx, cancelID); err != nil {
				c.logger.Warn("turn cancel send failed", "turn", cancelID, "error", err)
			}
		}
		for _, f := range fires {
			f()
		}
	}

	return c.capture.Start(ctx)
}

// EndCapture ends the press: the pipeline commits the audio, then a
// turn is requested and the gate taken. A capture under the minimum
// duration surfaces capture.ErrTooShort and requests nothing.
func (c *Coordinator) EndCapture(ctx context.Context) error {
	captured, err := c.capture.Stop(ctx)
	if err != nil {
		if errors.Is(err, capture.ErrTooShort) {
			c.logger.Info("capture rejected", "error", err)
			c.fireTurnEvent(TurnEvent{Phase: TurnRejected, Err: err, At: time.Now()})
			return err
		}
		// The pipeline tapes committed audio before sending, so a send
		// failure can still leave a take worth writing.
		if c.tape != nil {
			if take := c.tape.Cut(); take != nil {
				go c.writeTake(take)
			}
		}
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != ConnConnected || c.ch == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.turn != nil {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.turnSeq++
	t := &turnState{seq: c.turnSeq, requestedAt: time.Now(), captured: captured}
	seq := t.seq
	t.startTimer = time.AfterFunc(c.turnStartTimeout, func() { c.turnStartTimedOut(seq) })
	c.turn = t
	ch := c.ch
	c.mu.Unlock()

	c.fireTurnEvent(TurnEvent{Phase: TurnRequested, At: time.Now()})
	if err := ch.RequestTurn(ctx); err != nil {
		var fires []func()
		c.mu.Lock()
		if c.turn == t {
			fires = c.finishTurnLocked(TurnFailed, err)
		}
		c.mu.Unlock()
		for _, f := range fires {
			f()
		}
		return fmt.Errorf("turn: request turn: %w", err)
	}
	c.logger.Info("turn requested", "captured", captured)
	return nil
}

func (c *Coordinator) fireTurnEvent(ev TurnEvent) {
	if cb := c.onTurnEvent; cb != nil {
		cb(ev)
	}
}

// Close shuts the coordinator down. An in-flight turn is recorded as
// canceled. Close never triggers a reconnect.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closeCh)
	ch := c.ch
	c.ch = nil
	fires := c.finishTurnLocked(TurnCanceled, nil)
	fireState := c.setConnLocked(ConnIdle, nil)
	c.mu.Unlock()

	c.capture.Abort()
	c.player.ForceStop()
	for _, f := range fires {
		f()
	}
	fireState()
	if ch != nil {
		return ch.Close()
	}
	return nil
}
