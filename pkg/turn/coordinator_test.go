package turn_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voicewire/voicewire/pkg/capture"
	"github.com/voicewire/voicewire/pkg/encoding"
	"github.com/voicewire/voicewire/pkg/kv"
	"github.com/voicewire/voicewire/pkg/playback"
	"github.com/voicewire/voicewire/pkg/realtime"
	"github.com/voicewire/voicewire/pkg/turn"
	"github.com/voicewire/voicewire/pkg/turnlog"
)

type chanEvent struct {
	msg *realtime.Message
	err error
}

type toolResult struct {
	callID string
	output string
}

// fakeChannel is a scripted server: tests push messages and terminal
// errors, and every client send is recorded.
type fakeChannel struct {
	sessionID string
	closeCh   chan struct{}
	eventsCh  chan chanEvent
	toolCh    chan toolResult
	closeOnce sync.Once

	mu         sync.Mutex
	appends    []string
	commits    int
	requests   int
	cancels    []string
	requestErr error
	closes     int
}

func newFakeChannel(sessionID string) *fakeChannel {
	return &fakeChannel{
		sessionID: sessionID,
		closeCh:   make(chan struct{}),
		eventsCh:  make(chan chanEvent, 100),
		toolCh:    make(chan toolResult, 8),
	}
}

func (ch *fakeChannel) AppendAudio(ctx context.Context, pcm []byte) error {
	return ch.AppendAudioBase64(ctx, base64.StdEncoding.EncodeToString(pcm))
}

func (ch *fakeChannel) AppendAudioBase64(ctx context.Context, audioBase64 string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.appends = append(ch.appends, audioBase64)
	return nil
}

func (ch *fakeChannel) CommitInput(ctx context.Context) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.commits++
	return nil
}

func (ch *fakeChannel) RequestTurn(ctx context.Context) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.requestErr != nil {
		return ch.requestErr
	}
	ch.requests++
	return nil
}

func (ch *fakeChannel) CancelTurn(ctx context.Context, turnID string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.cancels = append(ch.cancels, turnID)
	return nil
}

func (ch *fakeChannel) SendToolResult(ctx context.Context, callID, output string) error {
	ch.toolCh <- toolResult{callID: callID, output: output}
	return nil
}

func (ch *fakeChannel) SendRaw(ctx context.Context, msg *realtime.Message) error {
	return nil
}

func (ch *fakeChannel) Events() iter.Seq2[*realtime.Message, error] {
	return func(yield func(*realtime.Message, error) bool) {
		for {
			select {
			case <-ch.closeCh:
				return
			case ev, ok := <-ch.eventsCh:
				if !ok {
					return
				}
				if !yield(ev.msg, ev.err) {
					return
				}
				if ev.err != nil {
					return
				}
			}
		}
	}
}

func (ch *fakeChannel) SessionID() string { return ch.sessionID }

func (ch *fakeChannel) Close() error {
	ch.mu.Lock()
	ch.closes++
	ch.mu.Unlock()
	ch.closeOnce.Do(func() { close(ch.closeCh) })
	return nil
}

func (ch *fakeChannel) push(msg *realtime.Message) { ch.eventsCh <- chanEvent{msg: msg} }

func (ch *fakeChannel) pushErr(err error) { ch.eventsCh <- chanEvent{err: err} }

func (ch *fakeChannel) ready() {
	ch.push(&realtime.Message{Type: realtime.TypeSessionReady, SessionID: ch.sessionID})
}

func (ch *fakeChannel) endStream() { close(ch.eventsCh) }

func (ch *fakeChannel) setRequestErr(err error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.requestErr = err
}

func (ch *fakeChannel) sends() (appends []string, commits, requests int, cancels []string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]string(nil), ch.appends...), ch.commits, ch.requests, append([]string(nil), ch.cancels...)
}

func (ch *fakeChannel) closeCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closes
}

type dialResult struct {
	ch  *fakeChannel
	err error
}

// fakeDialer hands out scripted results and timestamps every attempt.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	dials   []time.Time
}

func (d *fakeDialer) Dial(ctx context.Context) (realtime.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, time.Now())
	if len(d.results) == 0 {
		return nil, errors.New("dial: nothing scripted")
	}
	r := d.results[0]
	d.results = d.results[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.ch, nil
}

func (d *fakeDialer) queue(ch *fakeChannel, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, dialResult{ch: ch, err: err})
}

func (d *fakeDialer) times() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.dials...)
}

type micRead struct {
	samples []float32
	err     error
}

// testMic hands frames to the reader over an unbuffered channel, like
// the capture package's own tests, so feeds are deterministic.
type testMic struct {
	rate int

	mu sync.Mutex
	ch chan micRead
}

func newTestMic(rate int) *testMic { return &testMic{rate: rate} }

func (m *testMic) Rate() int { return m.rate }

func (m *testMic) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ch = make(chan micRead)
	return nil
}

func (m *testMic) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ch != nil {
		close(m.ch)
		m.ch = nil
	}
	return nil
}

func (m *testMic) Read(p []float32) (int, error) {
	m.mu.Lock()
	ch := m.ch
	m.mu.Unlock()
	if ch == nil {
		return 0, errors.New("mic not started")
	}
	r, ok := <-ch
	if !ok {
		return 0, errors.New("mic stopped")
	}
	if r.err != nil {
		return 0, r.err
	}
	return copy(p, r.samples), nil
}

func (m *testMic) feed(t *testing.T, samples []float32) {
	t.Helper()
	m.mu.Lock()
	ch := m.ch
	m.mu.Unlock()
	select {
	case ch <- micRead{samples: samples}:
	case <-time.After(time.Second):
		t.Fatal("mic feed timed out")
	}
}

type testPlay struct {
	start time.Duration
	dur   time.Duration
	done  func()
	fired bool
}

// testOutput is a virtual audio clock.
type testOutput struct {
	mu    sync.Mutex
	now   time.Duration
	plays []testPlay
	stops int
}

func (o *testOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *testOutput) PlayAt(start time.Duration, data []byte, done func()) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.plays = append(o.plays, testPlay{
		start: start,
		dur:   time.Duration(len(data)/2) * time.Second / 24000,
		done:  done,
	})
	return nil
}

func (o *testOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stops++
	for i := range o.plays {
		if !o.plays[i].fired {
			o.plays[i].fired = true
		}
	}
}

// advance moves the clock and fires due completions, looping so plays
// the player schedules from a completion fire too.
func (o *testOutput) advance(d time.Duration) {
	o.mu.Lock()
	o.now += d
	o.mu.Unlock()
	for {
		o.mu.Lock()
		var fire []func()
		for i := range o.plays {
			p := &o.plays[i]
			if !p.fired && p.start+p.dur <= o.now {
				p.fired = true
				fire = append(fire, p.done)
			}
		}
		o.mu.Unlock()
		if len(fire) == 0 {
			return
		}
		for _, f := range fire {
			f()
		}
	}
}

func (o *testOutput) playCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.plays)
}

func (o *testOutput) stopCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stops
}

type fixture struct {
	mic    *testMic
	out    *testOutput
	dialer *fakeDialer
	co     *turn.Coordinator
	tlog   *turnlog.Log
	events chan string
	states chan string

	mu          sync.Mutex
	transcripts []string
}

// newFixture builds a coordinator over fakes: 10ms mic frames, a 50ms
// minimum capture, and every observer feeding a channel.
func newFixture(t *testing.T, opts ...turn.Option) *fixture {
	t.Helper()
	f := &fixture{
		mic:    newTestMic(24000),
		out:    &testOutput{},
		dialer: &fakeDialer{},
		tlog:   turnlog.New(kv.NewMemory(nil), kv.Key{"test"}),
		events: make(chan string, 64),
		states: make(chan string, 64),
	}
	base := []turn.Option{
		turn.WithTurnLog(f.tlog),
		turn.WithCaptureOptions(
			capture.WithFrameDuration(10*time.Millisecond),
			capture.WithMinDuration(50*time.Millisecond),
		),
		turn.WithPlaybackOptions(playback.WithPreBuffer(50 * time.Millisecond)),
		turn.OnTurnEvent(func(ev turn.TurnEvent) { f.events <- string(ev.Phase) }),
		turn.OnState(func(ev turn.ConnStateEvent) { f.states <- ev.State.String() }),
		turn.OnTranscript(func(turnID, text string, final bool) {
			f.mu.Lock()
			f.transcripts = append(f.transcripts, fmt.Sprintf("%s:%t:%s", turnID, final, text))
			f.mu.Unlock()
		}),
	}
	f.co = turn.New(f.dialer, f.mic, f.out, append(base, opts...)...)
	t.Cleanup(func() { f.co.Close() })
	return f
}

// connect dials a ready channel and drains the two state transitions.
func (f *fixture) connect(t *testing.T, sessionID string) *fakeChannel {
	t.Helper()
	ch := newFakeChannel(sessionID)
	ch.ready()
	f.dialer.queue(ch, nil)
	if err := f.co.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitState(t, f.states, "connecting")
	waitState(t, f.states, "connected")
	return ch
}

// speak captures the given number of 10ms frames and requests a turn.
func (f *fixture) speak(t *testing.T, frames int) {
	t.Helper()
	ctx := context.Background()
	if err := f.co.BeginCapture(ctx); err != nil {
		t.Fatalf("BeginCapture: %v", err)
	}
	f.feedFrames(t, frames)
	if err := f.co.EndCapture(ctx); err != nil {
		t.Fatalf("EndCapture: %v", err)
	}
}

func (f *fixture) feedFrames(t *testing.T, frames int) {
	t.Helper()
	for i := 0; i < frames; i++ {
		f.mic.feed(t, make([]float32, 240))
	}
}

// drainUntilEvent keeps advancing the virtual clock until the wanted
// turn event fires, so chains of scheduled plays complete no matter how
// pushes interleave with scheduling.
func (f *fixture) drainUntilEvent(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.out.advance(100 * time.Millisecond)
		select {
		case got := <-f.events:
			if got != want {
				t.Fatalf("event = %q; want %q", got, want)
			}
			return
		default:
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event %q", want)
}

func waitEvent(t *testing.T, ch chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("event = %q; want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event %q", want)
	}
}

func waitState(t *testing.T, ch chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("connection state = %q; want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for state %q", want)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for " + what)
}

func msgStarted(turnID string) *realtime.Message {
	return &realtime.Message{Type: realtime.TypeTurnStarted, TurnID: turnID}
}

func msgFragment(turnID string, n int) *realtime.Message {
	return &realtime.Message{
		Type:   realtime.TypeAudioFragment,
		TurnID: turnID,
		Audio:  encoding.StdBase64Data(make([]byte, n)),
	}
}

func msgFragmentEnd(turnID string) *realtime.Message {
	return &realtime.Message{Type: realtime.TypeAudioFragmentEnd, TurnID: turnID}
}

func msgComplete(turnID string) *realtime.Message {
	return &realtime.Message{Type: realtime.TypeTurnComplete, TurnID: turnID}
}

func msgTranscript(turnID, text string, final bool) *realtime.Message {
	return &realtime.Message{Type: realtime.TypeTurnTranscript, TurnID: turnID, Text: text, Final: final}
}

func msgToolCall(turnID, callID, name, args string) *realtime.Message {
	return &realtime.Message{Type: realtime.TypeToolCall, TurnID: turnID, CallID: callID, Name: name, Arguments: args}
}

func TestConnect(t *testing.T) {
	f := newFixture(t)

	if err := f.co.BeginCapture(context.Background()); !errors.Is(err, turn.ErrNotConnected) {
		t.Fatalf("BeginCapture before connect = %v; want ErrNotConnected", err)
	}

	f.connect(t, "sess_1")

	if got := f.co.State(); got != turn.ConnConnected {
		t.Fatalf("State = %v; want connected", got)
	}
	if got := f.co.SessionID(); got != "sess_1" {
		t.Fatalf("SessionID = %q; want sess_1", got)
	}

	// A second Connect on a live session is a no-op.
	if err := f.co.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if got := len(f.dialer.times()); got != 1 {
		t.Fatalf("dials = %d; want 1", got)
	}
}

func TestConnectSessionReadyTimeout(t *testing.T) {
	f := newFixture(t,
		turn.WithTurnStartTimeout(40*time.Millisecond),
		turn.WithBackoff(5*time.Millisecond, 2),
	)

	silent1 := newFakeChannel("sess_1")
	silent2 := newFakeChannel("sess_1")
	f.dialer.queue(silent1, nil)
	f.dialer.queue(silent2, nil)

	err := f.co.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect succeeded without session_ready")
	}
	if !strings.Contains(err.Error(), "session_ready") {
		t.Fatalf("Connect error = %v", err)
	}
	if got := f.co.State(); got != turn.ConnFailed {
		t.Fatalf("State = %v; want failed", got)
	}
	if got := len(f.dialer.times()); got != 2 {
		t.Fatalf("dials = %d; want 2", got)
	}
	if silent1.closeCount() == 0 || silent2.closeCount() == 0 {
		t.Fatal("abandoned channels were not closed")
	}
}

func TestConnectFatalNoRetry(t *testing.T) {
	f := newFixture(t, turn.WithBackoff(5*time.Millisecond, 3))
	f.dialer.queue(nil, &realtime.Error{Code: realtime.CodeAuthRejected, Message: "bad token", Fatal: true})

	err := f.co.Connect(context.Background())
	if !realtime.IsFatal(err) {
		t.Fatalf("Connect error = %v; want fatal", err)
	}
	if got := len(f.dialer.times()); got != 1 {
		t.Fatalf("dials = %d; want 1 (fatal must not retry)", got)
	}
	if got := f.co.State(); got != turn.ConnFailed {
		t.Fatalf("State = %v; want failed", got)
	}
}

func TestFullTurn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ch := f.connect(t, "sess_1")

	f.speak(t, 6) // 60ms
	waitEvent(t, f.events, "requested")

	appends, commits, requests, _ := ch.sends()
	if len(appends) != 1 {
		t.Fatalf("appends = %d; want 1", len(appends))
	}
	data, err := base64.StdEncoding.DecodeString(appends[0])
	if err != nil {
		t.Fatalf("append is not base64: %v", err)
	}
	if len(data) != 2880 { // 60ms of 16-bit mono at 24kHz
		t.Fatalf("appended %d bytes; want 2880", len(data))
	}
	if commits != 1 || requests != 1 {
		t.Fatalf("commits = %d, requests = %d; want 1, 1", commits, requests)
	}

	ch.push(msgStarted("turn_1"))
	waitEvent(t, f.events, "started")
	if got := f.co.ActiveTurn(); got != "turn_1" {
		t.Fatalf("ActiveTurn = %q; want turn_1", got)
	}

	ch.push(msgFragment("turn_1", 4800)) // 100ms
	ch.push(msgTranscript("turn_1", "hello there", true))
	ch.push(msgFragmentEnd("turn_1"))
	ch.push(msgComplete("turn_1"))

	f.drainUntilEvent(t, "completed")
	waitUntil(t, "gate free", func() bool { return !f.co.TurnInFlight() })

	waitUntil(t, "turn log record", func() bool {
		_, err := f.tlog.Get(ctx, "turn_1")
		return err == nil
	})
	rec, err := f.tlog.Get(ctx, "turn_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Outcome != turnlog.OutcomeOK {
		t.Fatalf("Outcome = %q; want ok", rec.Outcome)
	}
	if rec.SessionID != "sess_1" {
		t.Fatalf("SessionID = %q; want sess_1", rec.SessionID)
	}
	if rec.Captured.Duration() != 60*time.Millisecond {
		t.Fatalf("Captured = %v; want 60ms", rec.Captured.Duration())
	}
	if rec.Played.Duration() != 100*time.Millisecond {
		t.Fatalf("Played = %v; want 100ms", rec.Played.Duration())
	}
	if rec.Fragments != 1 {
		t.Fatalf("Fragments = %d; want 1", rec.Fragments)
	}
	if rec.Transcript != "hello there" {
		t.Fatalf("Transcript = %q", rec.Transcript)
	}

	f.mu.Lock()
	transcripts := append([]string(nil), f.transcripts...)
	f.mu.Unlock()
	if len(transcripts) != 1 || transcripts[0] != "turn_1:true:hello there" {
		t.Fatalf("transcripts = %v", transcripts)
	}
}

func TestZeroAudioTurn(t *testing.T) {
	f := newFixture(t)
	ch := f.connect(t, "sess_1")

	f.speak(t, 6)
	waitEvent(t, f.events, "requested")
	ch.push(msgStarted("turn_1"))
	waitEvent(t, f.events, "started")
	ch.push(msgComplete("turn_1"))

	// No fragments ever arrived, so completion must not wait on playback.
	waitEvent(t, f.events, "completed")
	waitUntil(t, "gate free", func() bool { return !f.co.TurnInFlight() })
	if got := f.out.playCount(); got != 0 {
		t.Fatalf("plays = %d; want 0", got)
	}
}

func TestTooShortCapture(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ch := f.connect(t, "sess_1")

	if err := f.co.BeginCapture(ctx); err != nil {
		t.Fatalf("BeginCapture: %v", err)
	}
	f.feedFrames(t, 2) // 20ms, under the 50ms minimum
	err := f.co.EndCapture(ctx)
	if !errors.Is(err, capture.ErrTooShort) {
		t.Fatalf("EndCapture = %v; want ErrTooShort", err)
	}
	waitEvent(t, f.events, "rejected")

	appends, commits, requests, _ := ch.sends()
	if len(appends) != 0 || commits != 0 || requests != 0 {
		t.Fatalf("short capture leaked sends: appends=%d commits=%d requests=%d", len(appends), commits, requests)
	}
	if f.co.TurnInFlight() {
		t.Fatal("gate taken by a rejected capture")
	}

	// The next press works as usual.
	f.speak(t, 6)
	waitEvent(t, f.events, "requested")
	ch.push(msgStarted("turn_1"))
	waitEvent(t, f.events, "started")
	ch.push(msgComplete("turn_1"))
	waitEvent(t, f.events, "completed")
}

func TestBargeIn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ch := f.connect(t, "sess_1")

	f.speak(t, 6)
	waitEvent(t, f.events, "requested")
	ch.push(msgStarted("turn_1"))
	waitEvent(t, f.events, "started")
	ch.push(msgFragment("turn_1", 4800))
	waitUntil(t, "fragment scheduled", func() bool { return f.out.playCount() > 0 })

	// Pressing again while the assistant talks cancels the turn.
	if err := f.co.BeginCapture(ctx); err != nil {
		t.Fatalf("barge-in BeginCapture: %v", err)
	}
	waitEvent(t, f.events, "canceled")
	if got := f.out.stopCount(); got == 0 {
		t.Fatal("playback was not stopped")
	}
	_, _, _, cancels := ch.sends()
	if len(cancels) != 1 || cancels[0] != "turn_1" {
		t.Fatalf("cancels = %v; want [turn_1]", cancels)
	}
	if !f.co.Capturing() {
		t.Fatal("capture not active after barge-in")
	}

	// A late fragment for the canceled turn is discarded.
	before := f.out.playCount()
	ch.push(msgFragment("turn_1", 4800))
	time.Sleep(20 * time.Millisecond)
	if got := f.out.playCount(); got != before {
		t.Fatalf("late fragment scheduled: plays %d -> %d", before, got)
	}

	// The barge-in press becomes the next turn.
	f.feedFrames(t, 6)
	if err := f.co.EndCapture(ctx); err != nil {
		t.Fatalf("EndCapture: %v", err)
	}
	waitEvent(t, f.events, "requested")
	ch.push(msgStarted("turn_2"))
	waitEvent(t, f.events, "started")
	ch.push(msgComplete("turn_2"))
	waitEvent(t, f.events, "completed")

	waitUntil(t, "canceled record", func() bool {
		_, err := f.tlog.Get(ctx, "turn_1")
		return err == nil
	})
	rec, err := f.tlog.Get(ctx, "turn_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Outcome != turnlog.OutcomeCanceled {
		t.Fatalf("Outcome = %q; want canceled", rec.Outcome)
	}
}

func TestTurnStartTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, turn.WithTurnStartTimeout(40*time.Millisecond))
	ch := f.connect(t, "sess_1")

	f.speak(t, 6)
	waitEvent(t, f.events, "requested")
	// No turn_started ever arrives.
	waitEvent(t, f.events, "failed")
	waitUntil(t, "gate free", func() bool { return !f.co.TurnInFlight() })

	waitUntil(t, "failed record", func() bool {
		recs, err := f.tlog.Recent(ctx, "sess_1", 1)
		return err == nil && len(recs) == 1
	})
	recs, err := f.tlog.Recent(ctx, "sess_1", 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if recs[0].Outcome != turnlog.OutcomeFailed {
		t.Fatalf("Outcome = %q; want failed", recs[0].Outcome)
	}
	if !strings.Contains(recs[0].Error, "no turn_started") {
		t.Fatalf("Error = %q", recs[0].Error)
	}

	// A late turn_started for the abandoned request is ignored and the
	// next press still works.
	ch.push(msgStarted("turn_late"))
	f.speak(t, 6)
	waitEvent(t, f.events, "requested")
	ch.push(msgStarted("turn_2"))
	waitEvent(t, f.events, "started")
	ch.push(msgComplete("turn_2"))
	waitEvent(t, f.events, "completed")
}

func TestWatchdogStuckTurn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, turn.WithWatchdogInterval(50*time.Millisecond))
	ch := f.connect(t, "sess_1")

	f.speak(t, 6)
	waitEvent(t, f.events, "requested")
	ch.push(msgStarted("turn_1"))
	waitEvent(t, f.events, "started")
	ch.push(msgFragment("turn_1", 4800))
	waitUntil(t, "fragment scheduled", func() bool { return f.out.playCount() > 0 })
	// The turn then goes silent mid-playback.
	waitEvent(t, f.events, "failed")
	waitUntil(t, "gate free", func() bool { return !f.co.TurnInFlight() })
	if got := f.out.stopCount(); got == 0 {
		t.Fatal("stuck turn did not stop playback")
	}

	waitUntil(t, "failed record", func() bool {
		_, err := f.tlog.Get(ctx, "turn_1")
		return err == nil
	})
	rec, err := f.tlog.Get(ctx, "turn_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.Contains(rec.Error, "no progress") {
		t.Fatalf("Error = %q", rec.Error)
	}
}

func TestWatchdogPetByProgress(t *testing.T) {
	f := newFixture(t, turn.WithWatchdogInterval(80*time.Millisecond))
	ch := f.connect(t, "sess_1")

	f.speak(t, 6)
	waitEvent(t, f.events, "requested")
	ch.push(msgStarted("turn_1"))
	waitEvent(t, f.events, "started")

	// Keep fragments coming for two full intervals; each one resets the
	// watchdog.
	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		ch.push(msgFragment("turn_1", 4800))
	}
	ch.push(msgFragmentEnd("turn_1"))
	ch.push(msgComplete("turn_1"))
	f.drainUntilEvent(t, "completed")
}

func TestCleanRemoteClose(t *testing.T) {
	f := newFixture(t)
	ch := f.connect(t, "sess_1")

	f.speak(t, 6)
	waitEvent(t, f.events, "requested")
	ch.push(msgStarted("turn_1"))
	waitEvent(t, f.events, "started")

	// The server hangs up cleanly: the in-flight turn fails, the session
	// goes idle and no reconnect happens.
	ch.endStream()
	waitEvent(t, f.events, "failed")
	waitState(t, f.states, "idle")
	if got := f.co.State(); got != turn.ConnIdle {
		t.Fatalf("State = %v; want idle", got)
	}

	time.Sleep(30 * time.Millisecond)
	if got := len(f.dialer.times()); got != 1 {
		t.Fatalf("dials = %d; want 1 (clean close must not reconnect)", got)
	}
}

func TestTransportLossReconnects(t *testing.T) {
	f := newFixture(t, turn.WithBackoff(30*time.Millisecond, 3))
	ch := f.connect(t, "sess_1")

	// Two failed redials, then a fresh session.
	f.dialer.queue(nil, errors.New("connection refused"))
	f.dialer.queue(nil, errors.New("connection refused"))
	ch2 := newFakeChannel("sess_2")
	ch2.ready()
	f.dialer.queue(ch2, nil)

	ch.pushErr(errors.New("network blip"))
	waitState(t, f.states, "connecting")
	waitState(t, f.states, "connected")

	if got := f.co.SessionID(); got != "sess_2" {
		t.Fatalf("SessionID = %q; want sess_2", got)
	}

	dials := f.dialer.times()
	if len(dials) != 4 {
		t.Fatalf("dials = %d; want 4", len(dials))
	}
	gap2 := dials[2].Sub(dials[1])
	gap3 := dials[3].Sub(dials[2])
	if gap2 < 55*time.Millisecond {
		t.Fatalf("second redial gap = %v; want >= 60ms", gap2)
	}
	if gap3 < 110*time.Millisecond {
		t.Fatalf("third redial gap = %v; want >= 120ms", gap3)
	}
	if gap3 <= gap2 {
		t.Fatalf("redial gaps not increasing: %v then %v", gap2, gap3)
	}

	// The new session takes turns.
	f.speak(t, 6)
	waitEvent(t, f.events, "requested")
	_, _, requests, _ := ch2.sends()
	if requests != 1 {
		t.Fatalf("requests on new channel = %d; want 1", requests)
	}
	ch2.push(msgStarted("turn_1"))
	waitEvent(t, f.events, "started")
	ch2.push(msgComplete("turn_1"))
	waitEvent(t, f.events, "completed")
}

func TestReconnectExhaustion(t *testing.T) {
	f := newFixture(t, turn.WithBackoff(5*time.Millisecond, 3))
	ch := f.connect(t, "sess_1")

	f.dialer.queue(nil, errors.New("connection refused"))
	f.dialer.queue(nil, errors.New("connection refused"))
	f.dialer.queue(nil, errors.New("connection refused"))

	ch.pushErr(errors.New("network blip"))
	waitState(t, f.states, "connecting")
	waitState(t, f.states, "failed")

	if got := len(f.dialer.times()); got != 4 {
		t.Fatalf("dials = %d; want 4", got)
	}
	if got := f.co.State(); got != turn.ConnFailed {
		t.Fatalf("State = %v; want failed", got)
	}
}

func TestFatalChannelErrorNoReconnect(t *testing.T) {
	f := newFixture(t)
	ch := f.connect(t, "sess_1")

	ch.pushErr(&realtime.Error{Code: realtime.CodeAuthRejected, Message: "token expired", Fatal: true})
	waitState(t, f.states, "failed")

	time.Sleep(30 * time.Millisecond)
	if got := len(f.dialer.times()); got != 1 {
		t.Fatalf("dials = %d; want 1 (fatal must not reconnect)", got)
	}
}

func TestToolCall(t *testing.T) {
	var mu sync.Mutex
	var calls []turn.ToolCall
	handler := func(ctx context.Context, call turn.ToolCall) (string, error) {
		mu.Lock()
		calls = append(calls, call)
		mu.Unlock()
		if call.Name == "explode" {
			return "", errors.New("boom")
		}
		return `{"temp":21}`, nil
	}

	f := newFixture(t, turn.OnToolCall(handler))
	ch := f.connect(t, "sess_1")

	// Arguments the way models actually emit them: repairable JSON.
	ch.push(msgToolCall("", "call_1", "weather", `{city: 'berlin'}`))
	select {
	case res := <-ch.toolCh:
		if res.callID != "call_1" || res.output != `{"temp":21}` {
			t.Fatalf("tool result = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tool result")
	}

	mu.Lock()
	got := calls[0]
	mu.Unlock()
	if got.Name != "weather" || got.Arguments["city"] != "berlin" {
		t.Fatalf("handler saw %+v", got)
	}

	// A handler error becomes an error result.
	ch.push(msgToolCall("", "call_2", "explode", `{}`))
	select {
	case res := <-ch.toolCh:
		if res.callID != "call_2" || res.output != `{"error":"boom"}` {
			t.Fatalf("tool result = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tool result")
	}
}

func TestToolCallNoHandler(t *testing.T) {
	f := newFixture(t)
	ch := f.connect(t, "sess_1")

	ch.push(msgToolCall("", "call_1", "weather", `{"city":"berlin"}`))
	select {
	case res := <-ch.toolCh:
		if res.output != `{"error":"no tool handler registered"}` {
			t.Fatalf("tool result = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tool result")
	}
}

func TestRequestTurnSendFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ch := f.connect(t, "sess_1")
	ch.setRequestErr(errors.New("pipe broken"))

	if err := f.co.BeginCapture(ctx); err != nil {
		t.Fatalf("BeginCapture: %v", err)
	}
	f.feedFrames(t, 6)
	err := f.co.EndCapture(ctx)
	if err == nil || !strings.Contains(err.Error(), "request turn") {
		t.Fatalf("EndCapture = %v; want request turn error", err)
	}
	waitEvent(t, f.events, "requested")
	waitEvent(t, f.events, "failed")
	if f.co.TurnInFlight() {
		t.Fatal("gate held after failed request")
	}
}

func TestCloseCancelsInFlightTurn(t *testing.T) {
	f := newFixture(t)
	ch := f.connect(t, "sess_1")

	f.speak(t, 6)
	waitEvent(t, f.events, "requested")
	ch.push(msgStarted("turn_1"))
	waitEvent(t, f.events, "started")

	if err := f.co.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitEvent(t, f.events, "canceled")
	if ch.closeCount() == 0 {
		t.Fatal("channel not closed")
	}

	if err := f.co.BeginCapture(context.Background()); !errors.Is(err, turn.ErrClosed) {
		t.Fatalf("BeginCapture after Close = %v; want ErrClosed", err)
	}
	if err := f.co.Connect(context.Background()); !errors.Is(err, turn.ErrClosed) {
		t.Fatalf("Connect after Close = %v; want ErrClosed", err)
	}
	if err := f.co.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
