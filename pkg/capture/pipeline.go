package capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicewire/voicewire/pkg/audio/pcm"
	"github.com/voicewire/voicewire/pkg/audio/resampler"
)

// Pipeline is the capture half of a conversation: it owns the microphone
// reader goroutine and the local frame accumulator.
type Pipeline struct {
	mic    Mic
	sender Sender

	minDuration   time.Duration
	frameDuration time.Duration
	logger        *slog.Logger
	tape          TapeSink

	mu         sync.Mutex
	active     bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	frames     []RawFrame
	readErr    error
	probed     bool
	permission error
}

// Option configures the Pipeline.
type Option func(*Pipeline)

// WithMinDuration sets the shortest capture that will be committed.
func WithMinDuration(d time.Duration) Option {
	return func(p *Pipeline) {
		p.minDuration = d
	}
}

// WithFrameDuration sets the microphone read granularity.
func WithFrameDuration(d time.Duration) Option {
	return func(p *Pipeline) {
		p.frameDuration = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithTape attaches a diagnostic tape sink.
func WithTape(sink TapeSink) Option {
	return func(p *Pipeline) {
		p.tape = sink
	}
}

// New creates a capture pipeline reading from mic and committing through
// sender.
func New(mic Mic, sender Sender, opts ...Option) *Pipeline {
	p := &Pipeline{
		mic:           mic,
		sender:        sender,
		minDuration:   DefaultMinDuration,
		frameDuration: DefaultFrameDuration,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RequestPermission probes the microphone with a start/stop cycle so any
// OS permission prompt happens up front, not mid-conversation. The result
// is cached.
func (p *Pipeline) RequestPermission(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.active {
		// A running capture is proof enough.
		p.probed, p.permission = true, nil
		p.mu.Unlock()
		return nil
	}
	if p.probed {
		err := p.permission
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	var err error
	if startErr := p.mic.Start(); startErr != nil {
		err = fmt.Errorf("capture: microphone permission: %w", startErr)
	} else if stopErr := p.mic.Stop(); stopErr != nil {
		err = fmt.Errorf("capture: microphone permission: %w", stopErr)
	}

	p.mu.Lock()
	p.probed, p.permission = true, err
	p.mu.Unlock()
	return err
}

// Start opens the microphone and spawns the reader goroutine. Frames
// accumulate locally; nothing is sent while capturing.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return ErrCaptureActive
	}
	p.active = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.frames = nil
	p.readErr = nil
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	if err := p.mic.Start(); err != nil {
		p.mu.Lock()
		p.active = false
		p.mu.Unlock()
		return fmt.Errorf("capture: start microphone: %w", err)
	}

	rate := p.mic.Rate()
	if rate <= 0 {
		p.mic.Stop()
		p.mu.Lock()
		p.active = false
		p.mu.Unlock()
		return fmt.Errorf("capture: invalid microphone rate %d", rate)
	}

	frameSamples := int(int64(rate) * int64(p.frameDuration) / int64(time.Second))
	if frameSamples < 1 {
		frameSamples = 1
	}

	go p.readLoop(stopCh, doneCh, frameSamples)
	p.logger.Debug("capture started", "rate", rate, "frame_samples", frameSamples)
	return nil
}

// Stop ends the capture session and commits the audio. Below the minimum
// duration the audio is dropped and ErrTooShort returned: nothing was
// appended, so nothing needs clearing upstream. Returns the committed
// duration at the wire rate.
func (p *Pipeline) Stop(ctx context.Context) (time.Duration, error) {
	frames, err := p.finish()
	if err != nil {
		return 0, err
	}

	rate := p.mic.Rate()
	var total int
	for _, f := range frames {
		total += len(f)
	}
	captured := time.Duration(total) * time.Second / time.Duration(rate)
	if captured < p.minDuration {
		p.logger.Debug("capture rejected", "captured", captured, "min", p.minDuration)
		return 0, fmt.Errorf("%w: %v < %v", ErrTooShort, captured, p.minDuration)
	}

	samples := make([]float32, 0, total)
	for _, f := range frames {
		samples = append(samples, f...)
	}
	out := resampler.Linear(samples, rate, pcm.WireFormat.SampleRate())
	data := pcm.FloatsToBytes(out)
	if p.tape != nil {
		p.tape.RecordCapture(data)
	}

	if err := p.sender.AppendAudioBase64(ctx, base64.StdEncoding.EncodeToString(data)); err != nil {
		return 0, fmt.Errorf("capture: append audio: %w", err)
	}
	if err := p.sender.CommitInput(ctx); err != nil {
		return 0, fmt.Errorf("capture: commit input: %w", err)
	}

	committed := pcm.WireFormat.Duration(int64(len(data)))
	p.logger.Debug("capture committed", "captured", captured, "committed", committed, "bytes", len(data))
	return committed, nil
}

// Abort ends the capture session and discards everything without
// touching the channel.
func (p *Pipeline) Abort() {
	frames, err := p.finish()
	if err != nil {
		return
	}
	p.logger.Debug("capture aborted", "frames_discarded", len(frames))
}

// Active reports whether a capture session is running.
func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Buffered returns the duration accumulated so far at the native rate.
func (p *Pipeline) Buffered() time.Duration {
	rate := p.mic.Rate()
	if rate <= 0 {
		return 0
	}
	p.mu.Lock()
	var total int
	for _, f := range p.frames {
		total += len(f)
	}
	p.mu.Unlock()
	return time.Duration(total) * time.Second / time.Duration(rate)
}

// finish claims the active session, stops the reader and returns the
// accumulated frames. A mic read error that ended the session early is
// returned instead.
func (p *Pipeline) finish() ([]RawFrame, error) {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return nil, ErrNotCapturing
	}
	p.active = false
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)
	if err := p.mic.Stop(); err != nil {
		p.logger.Warn("microphone stop failed", "error", err)
	}
	<-doneCh

	p.mu.Lock()
	frames, readErr := p.frames, p.readErr
	p.frames, p.readErr = nil, nil
	p.mu.Unlock()

	if readErr != nil {
		return nil, fmt.Errorf("capture: microphone read: %w", readErr)
	}
	return frames, nil
}

// readLoop accumulates frames until the session stops. A read error
// after stop is the device winding down and is ignored.
func (p *Pipeline) readLoop(stopCh, doneCh chan struct{}, frameSamples int) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		buf := make([]float32, frameSamples)
		n, err := p.mic.Read(buf)
		if n > 0 {
			p.mu.Lock()
			p.frames = append(p.frames, RawFrame(buf[:n]))
			p.mu.Unlock()
		}
		if err != nil {
			select {
			case <-stopCh:
			default:
				p.mu.Lock()
				p.readErr = err
				p.mu.Unlock()
				p.logger.Warn("capture ended early", "error", err)
			}
			return
		}
	}
}
