package tape

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	gax "github.com/googleapis/gax-go/v2"

	"github.com/voicewire/voicewire/pkg/audio/pcm"
	"github.com/voicewire/voicewire/pkg/capture"
	"github.com/voicewire/voicewire/pkg/encoding"
	"github.com/voicewire/voicewire/pkg/jsontime"
	"github.com/voicewire/voicewire/pkg/playback"
	"github.com/voicewire/voicewire/pkg/storage"
)

const (
	// DefaultRetryAttempts is how many times each file write is tried.
	DefaultRetryAttempts = 3
	// DefaultRetryPause is the initial pause between write attempts.
	DefaultRetryPause = 200 * time.Millisecond
)

// Recorder buffers one turn's audio in memory and writes it to a file
// store when the turn ends. It satisfies both pipeline tape sinks, so a
// single Recorder can be handed to capture and playback at once.
//
// Buffers are snapshotted and cleared at the start of Flush, so a slow
// upload never bleeds audio into the next turn, and the held bytes let
// failed writes be retried without the pipelines replaying anything.
type Recorder struct {
	fs         storage.FileStore
	logger     *slog.Logger
	attempts   int
	retryPause time.Duration

	mu             sync.Mutex
	sessionID      string
	turnID         string
	startedAt      jsontime.Milli
	capture        []byte
	captureChunks  int
	playback       []byte
	playbackChunks int
}

var (
	_ capture.TapeSink  = (*Recorder)(nil)
	_ playback.TapeSink = (*Recorder)(nil)
)

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRetry sets how many times each file write is attempted and the
// initial pause between attempts. Pauses double with jitter up to ten
// times the initial pause.
func WithRetry(attempts int, pause time.Duration) Option {
	return func(r *Recorder) {
		if attempts > 0 {
			r.attempts = attempts
		}
		if pause > 0 {
			r.retryPause = pause
		}
	}
}

// NewRecorder creates a Recorder writing turn directories under the
// given store's root.
func NewRecorder(fs storage.FileStore, opts ...Option) *Recorder {
	r := &Recorder{
		fs:         fs,
		logger:     slog.Default(),
		attempts:   DefaultRetryAttempts,
		retryPause: DefaultRetryPause,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordCapture buffers wire-format PCM the capture pipeline committed.
func (r *Recorder) RecordCapture(data []byte) {
	if len(data) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startedAt.IsZero() {
		r.startedAt = jsontime.NowEpochMilli()
	}
	r.capture = append(r.capture, data...)
	r.captureChunks++
}

// RecordPlayback buffers a wire-format PCM reply fragment.
func (r *Recorder) RecordPlayback(data []byte) {
	if len(data) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startedAt.IsZero() {
		r.startedAt = jsontime.NowEpochMilli()
	}
	r.playback = append(r.playback, data...)
	r.playbackChunks++
}

// BeginTurn names the turn the buffered audio belongs to. Capture audio
// buffered before the server assigned a turn ID is kept.
func (r *Recorder) BeginTurn(sessionID, turnID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = sessionID
	r.turnID = turnID
}

// Take is one turn's buffered audio, cut loose from the Recorder so it
// can be written out while the next turn records.
type Take struct {
	r              *Recorder
	sessionID      string
	turnID         string
	startedAt      jsontime.Milli
	capture        []byte
	captureChunks  int
	playback       []byte
	playbackChunks int
}

// Cut detaches and clears the buffered turn. Returns nil when nothing
// was buffered, and never blocks on the store, so callers can cut
// synchronously at a turn boundary and upload in the background.
func (r *Recorder) Cut() *Take {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.capture) == 0 && len(r.playback) == 0 {
		r.resetLocked()
		return nil
	}
	t := &Take{
		r:              r,
		sessionID:      r.sessionID,
		turnID:         r.turnID,
		startedAt:      r.startedAt,
		capture:        r.capture,
		captureChunks:  r.captureChunks,
		playback:       r.playback,
		playbackChunks: r.playbackChunks,
	}
	r.resetLocked()
	return t
}

// TurnID returns the turn the take belongs to, or "" when the turn
// ended before the server named it.
func (t *Take) TurnID() string {
	return t.turnID
}

// Write uploads the take's files, retrying per the Recorder's
// configuration.
func (t *Take) Write(ctx context.Context) error {
	r := t.r
	turnID := t.turnID
	if turnID == "" {
		turnID = fmt.Sprintf("local_%d", time.Now().UnixNano())
	}
	dir := safeID(turnID)

	if len(t.capture) > 0 {
		if err := r.writeFile(ctx, path.Join(dir, "capture.pcm"), t.capture); err != nil {
			return err
		}
	}
	if len(t.playback) > 0 {
		if err := r.writeFile(ctx, path.Join(dir, "playback.pcm"), t.playback); err != nil {
			return err
		}
	}

	meta := Meta{
		TurnID:     turnID,
		SessionID:  t.sessionID,
		Format:     pcm.WireFormat.String(),
		SampleRate: pcm.WireFormat.SampleRate(),
		Channels:   pcm.WireFormat.Channels(),
		Depth:      pcm.WireFormat.Depth(),
		StartedAt:  t.startedAt,
		FlushedAt:  jsontime.NowEpochMilli(),
		Capture:    trackMeta(t.capture, t.captureChunks),
		Playback:   trackMeta(t.playback, t.playbackChunks),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("tape: encode meta: %w", err)
	}
	if err := r.writeFile(ctx, path.Join(dir, "meta.json"), data); err != nil {
		return err
	}

	r.logger.Debug("tape written",
		"turn", turnID,
		"capture_bytes", len(t.capture),
		"playback_bytes", len(t.playback))
	return nil
}

// Flush is Cut followed by Write. A turn with no buffered audio is a
// no-op. Buffers are cleared even when a write ultimately fails; the
// failure is returned.
func (r *Recorder) Flush(ctx context.Context) error {
	t := r.Cut()
	if t == nil {
		return nil
	}
	return t.Write(ctx)
}

// Discard drops the buffered turn without writing anything.
func (r *Recorder) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.capture) > 0 || len(r.playback) > 0 {
		r.logger.Debug("tape discarded",
			"turn", r.turnID,
			"capture_bytes", len(r.capture),
			"playback_bytes", len(r.playback))
	}
	r.resetLocked()
}

func (r *Recorder) resetLocked() {
	r.sessionID = ""
	r.turnID = ""
	r.startedAt = jsontime.Milli{}
	r.capture = nil
	r.captureChunks = 0
	r.playback = nil
	r.playbackChunks = 0
}

// writeFile writes one file, retrying transient store failures with
// exponential pauses.
func (r *Recorder) writeFile(ctx context.Context, p string, data []byte) error {
	bo := gax.Backoff{
		Initial:    r.retryPause,
		Max:        10 * r.retryPause,
		Multiplier: 2,
	}
	for attempt := 1; ; attempt++ {
		err := writeOnce(ctx, r.fs, p, data)
		if err == nil {
			return nil
		}
		if attempt >= r.attempts {
			return fmt.Errorf("tape: write %s: %w", p, err)
		}
		r.logger.Warn("tape write failed, retrying",
			"path", p, "attempt", attempt, "error", err)
		t := time.NewTimer(bo.Pause())
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("tape: write %s: %w", p, ctx.Err())
		case <-t.C:
		}
	}
}

func writeOnce(ctx context.Context, fs storage.FileStore, p string, data []byte) error {
	w, err := fs.Write(ctx, p)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func trackMeta(data []byte, chunks int) TrackMeta {
	tm := TrackMeta{
		Bytes:    len(data),
		Duration: jsontime.Duration(pcm.WireFormat.Duration(int64(len(data)))),
		Chunks:   chunks,
	}
	if len(data) > 0 {
		sum := sha256.Sum256(data)
		tm.SHA256 = encoding.HexData(sum[:])
	}
	return tm
}

// safeID reduces a turn ID to a single safe path segment.
func safeID(id string) string {
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			return c
		}
		return '_'
	}, id)
}
