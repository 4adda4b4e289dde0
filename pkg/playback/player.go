package playback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicewire/voicewire/pkg/audio/pcm"
	"github.com/voicewire/voicewire/pkg/encoding"
)

type fragment struct {
	pcm []byte
	dur time.Duration
}

// Player owns one turn of response audio at a time. All mutation happens
// under one mutex; callbacks and Output.Stop run outside it, so callbacks
// may call back into the player.
type Player struct {
	out Output

	preBuffer       time.Duration
	quiescentPoll   time.Duration
	quiescentGiveUp time.Duration
	logger          *slog.Logger
	tape            TapeSink
	onTurnStart     func(turnID string)
	onTurnEnd       func(turnID string, err error)

	mu           sync.Mutex
	state        State
	turnID       string
	staleTurn    string
	epoch        uint64
	queue        []fragment
	queued       time.Duration
	started      bool
	streamEnded  bool
	pendingCount int
	nextPlayTime time.Duration
	stallSince   time.Time
	quiesceArmed bool
	fragsAdded   int
	fragsStale   int
	fragsEmpty   int
}

// Option configures the Player.
type Option func(*Player)

// WithPreBuffer sets how much audio must be queued before playback
// starts.
func WithPreBuffer(d time.Duration) Option {
	return func(p *Player) {
		p.preBuffer = d
	}
}

// WithQuiescentWait sets the starvation poll interval and the give-up
// window after which a starving turn is failed with ErrStalled.
func WithQuiescentWait(poll, giveUp time.Duration) Option {
	return func(p *Player) {
		p.quiescentPoll = poll
		p.quiescentGiveUp = giveUp
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Player) {
		p.logger = logger
	}
}

// WithTape attaches a diagnostic tape sink.
func WithTape(sink TapeSink) Option {
	return func(p *Player) {
		p.tape = sink
	}
}

// OnTurnStart sets the callback fired once per turn, when enough audio
// is buffered and playback begins.
func OnTurnStart(fn func(turnID string)) Option {
	return func(p *Player) {
		p.onTurnStart = fn
	}
}

// OnTurnEnd sets the callback fired at most once per turn: with a nil
// error on normal completion, with ErrStalled, ErrForceStopped or a
// device error otherwise.
func OnTurnEnd(fn func(turnID string, err error)) Option {
	return func(p *Player) {
		p.onTurnEnd = fn
	}
}

// New creates a player scheduling against out.
func New(out Output, opts ...Option) *Player {
	p := &Player{
		out:             out,
		preBuffer:       DefaultPreBuffer,
		quiescentPoll:   DefaultQuiescentPoll,
		quiescentGiveUp: DefaultQuiescentGiveUp,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the lifecycle state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ActiveTurn returns the active turn ID, or "" when idle.
func (p *Player) ActiveTurn() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.turnID
}

// Buffered returns the queued audio duration for the active turn.
func (p *Player) Buffered() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queued
}

// AddFragment decodes and enqueues one response fragment. Fragments
// queue until the pre-buffer fills; the turn-start callback fires when
// playback begins. Fragments for the most recently ended turn are
// discarded; fragments for a different turn while one is active return
// ErrTurnActive.
func (p *Player) AddFragment(turnID, audioBase64 string) error {
	if audioBase64 == "" {
		return p.AddFragmentPCM(turnID, nil)
	}
	data, err := encoding.DecodeStdBase64(audioBase64)
	if err != nil {
		return fmt.Errorf("playback: decode fragment: %w", err)
	}
	return p.AddFragmentPCM(turnID, data)
}

// AddFragmentPCM enqueues one already-decoded response fragment. Wire
// messages carry audio decoded, so this path avoids a re-encode round
// trip. Semantics match AddFragment.
func (p *Player) AddFragmentPCM(turnID string, data []byte) error {
	if len(data) == 0 {
		p.mu.Lock()
		p.fragsEmpty++
		n := p.fragsEmpty
		p.mu.Unlock()
		p.logger.Debug("empty fragment ignored", "turn", turnID, "count", n)
		return nil
	}
	if len(data)%2 != 0 {
		return fmt.Errorf("playback: fragment has a partial sample (%d bytes)", len(data))
	}

	p.mu.Lock()
	if turnID == p.staleTurn && turnID != p.turnID {
		p.fragsStale++
		n := p.fragsStale
		p.mu.Unlock()
		p.logger.Debug("stale fragment discarded", "turn", turnID, "count", n)
		return nil
	}
	if p.turnID != "" && turnID != p.turnID {
		active := p.turnID
		p.mu.Unlock()
		return fmt.Errorf("%w: %s is active, got fragment for %s", ErrTurnActive, active, turnID)
	}

	if p.turnID == "" {
		p.beginTurnLocked(turnID)
	}
	p.enqueueLocked(data)
	fire := p.pumpLocked()
	p.mu.Unlock()

	if p.tape != nil {
		p.tape.RecordPlayback(data)
	}
	if fire != nil {
		fire()
	}
	return nil
}

// EndOfStream marks that no more fragments will arrive for the turn. A
// turn that never produced a fragment completes immediately: the end
// callback fires once, the start callback not at all.
func (p *Player) EndOfStream(turnID string) {
	var fires []func()

	p.mu.Lock()
	switch {
	case turnID == "" || turnID == p.staleTurn:
		p.mu.Unlock()
		p.logger.Debug("end of stream ignored", "turn", turnID)
		return

	case p.turnID == turnID:
		p.streamEnded = true
		if len(p.queue) == 0 && p.pendingCount == 0 && p.started {
			fires = append(fires, p.finishLocked(nil))
		} else {
			if p.started {
				p.state = StateDraining
			}
			if f := p.pumpLocked(); f != nil {
				fires = append(fires, f)
			}
		}

	case p.turnID == "":
		// Zero-fragment turn: no audio, so no start announcement.
		p.staleTurn = turnID
		p.epoch++
		if cb := p.onTurnEnd; cb != nil {
			fires = append(fires, func() { cb(turnID, nil) })
		}
		p.logger.Debug("zero-fragment turn completed", "turn", turnID)

	default:
		p.logger.Debug("end of stream for inactive turn ignored", "turn", turnID, "active", p.turnID)
	}
	p.mu.Unlock()

	for _, f := range fires {
		f()
	}
}

// ForceStop preempts the active turn: the output is stopped, the queue
// cleared and late arrivals for the turn discarded. If the turn had
// started, the turn-end callback fires with ErrForceStopped.
func (p *Player) ForceStop() {
	p.mu.Lock()
	if p.turnID == "" {
		p.mu.Unlock()
		return
	}
	turnID := p.turnID
	started := p.started
	cb := p.onTurnEnd
	p.resetLocked(turnID)
	p.mu.Unlock()

	p.out.Stop()
	p.logger.Debug("playback force-stopped", "turn", turnID, "started", started)
	if started && cb != nil {
		cb(turnID, ErrForceStopped)
	}
}

// beginTurnLocked initializes state for a new turn.
func (p *Player) beginTurnLocked(turnID string) {
	p.turnID = turnID
	p.state = StateBuffering
	p.queue = nil
	p.queued = 0
	p.started = false
	p.streamEnded = false
	p.pendingCount = 0
	p.nextPlayTime = 0
	p.stallSince = time.Time{}
	p.fragsAdded = 0
	p.logger.Debug("turn buffering", "turn", turnID)
}

func (p *Player) enqueueLocked(data []byte) {
	dur := pcm.WireFormat.Duration(int64(len(data)))
	p.queue = append(p.queue, fragment{pcm: data, dur: dur})
	p.queued += dur
	p.fragsAdded++
}

// resetLocked clears all turn state and bumps the epoch so in-flight done
// callbacks are ignored.
func (p *Player) resetLocked(staleTurn string) {
	p.epoch++
	p.staleTurn = staleTurn
	p.turnID = ""
	p.state = StateIdle
	p.queue = nil
	p.queued = 0
	p.started = false
	p.streamEnded = false
	p.pendingCount = 0
	p.nextPlayTime = 0
	p.stallSince = time.Time{}
	p.quiesceArmed = false
}

// finishLocked ends the turn and returns a closure firing the turn-end
// callback. The caller invokes it after releasing the mutex.
func (p *Player) finishLocked(err error) func() {
	turnID := p.turnID
	played := p.nextPlayTime
	p.resetLocked(turnID)
	cb := p.onTurnEnd
	logger := p.logger
	stopOut := err != nil
	out := p.out
	return func() {
		if stopOut {
			out.Stop()
		}
		if err != nil {
			logger.Warn("turn failed", "turn", turnID, "error", err)
		} else {
			logger.Debug("turn complete", "turn", turnID, "played_to", played)
		}
		if cb != nil {
			cb(turnID, err)
		}
	}
}

// pumpLocked starts or continues scheduling when conditions allow. The
// returned closure, if any, must run after the mutex is released.
func (p *Player) pumpLocked() func() {
	if p.turnID == "" {
		return nil
	}
	if !p.started {
		if p.queued < p.preBuffer && !p.streamEnded {
			return nil
		}
		if len(p.queue) == 0 {
			return nil
		}
		p.started = true
		if p.streamEnded {
			p.state = StateDraining
		} else {
			p.state = StatePlaying
		}
		p.logger.Debug("playback started", "turn", p.turnID, "buffered", p.queued)
		turnID := p.turnID
		startCb := p.onTurnStart
		fin := p.scheduleNextLocked()
		return func() {
			if startCb != nil {
				startCb(turnID)
			}
			if fin != nil {
				fin()
			}
		}
	}
	if p.pendingCount == 0 && len(p.queue) > 0 {
		return p.scheduleNextLocked()
	}
	return nil
}

// scheduleNextLocked pops the queue head and hands it to the output,
// back to back with the previous fragment or snapped to the clock after
// a starvation gap.
func (p *Player) scheduleNextLocked() func() {
	if len(p.queue) == 0 {
		return nil
	}
	frag := p.queue[0]
	p.queue = p.queue[1:]
	p.queued -= frag.dur

	start := p.out.Now()
	if p.nextPlayTime > start {
		start = p.nextPlayTime
	}
	p.nextPlayTime = start + frag.dur
	p.pendingCount++
	p.stallSince = time.Time{}

	epoch := p.epoch
	if err := p.out.PlayAt(start, frag.pcm, func() { p.fragmentDone(epoch) }); err != nil {
		p.pendingCount--
		return p.finishLocked(fmt.Errorf("playback: schedule fragment: %w", err))
	}
	return nil
}

// fragmentDone is the completion callback for one scheduled fragment.
func (p *Player) fragmentDone(epoch uint64) {
	var fire func()

	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		return
	}
	p.pendingCount--
	switch {
	case len(p.queue) > 0:
		fire = p.scheduleNextLocked()
	case p.pendingCount > 0:
		// More device completions on the way.
	case p.streamEnded:
		fire = p.finishLocked(nil)
	default:
		p.armQuiesceLocked()
	}
	p.mu.Unlock()

	if fire != nil {
		fire()
	}
}

// armQuiesceLocked starts the starvation watch: the stream is open but
// nothing is queued or pending. One poll chain per starvation episode.
func (p *Player) armQuiesceLocked() {
	if p.stallSince.IsZero() {
		p.stallSince = time.Now()
	}
	if p.quiesceArmed {
		return
	}
	p.quiesceArmed = true
	epoch := p.epoch
	time.AfterFunc(p.quiescentPoll, func() { p.quiescePoll(epoch) })
}

func (p *Player) quiescePoll(epoch uint64) {
	var fire func()

	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		return
	}
	starving := p.turnID != "" && p.started && !p.streamEnded &&
		len(p.queue) == 0 && p.pendingCount == 0
	if !starving || p.stallSince.IsZero() {
		p.quiesceArmed = false
		p.stallSince = time.Time{}
		p.mu.Unlock()
		return
	}
	if time.Since(p.stallSince) >= p.quiescentGiveUp {
		fire = p.finishLocked(fmt.Errorf("%w: no fragment for %v", ErrStalled, p.quiescentGiveUp))
	} else {
		time.AfterFunc(p.quiescentPoll, func() { p.quiescePoll(epoch) })
	}
	p.mu.Unlock()

	if fire != nil {
		fire()
	}
}
