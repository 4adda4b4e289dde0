package device

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/voicewire/voicewire/pkg/audio/pcm"
	"github.com/voicewire/voicewire/pkg/audio/portaudio"
	"github.com/voicewire/voicewire/pkg/audio/resampler"
)

// blockDuration is the speaker write granularity. Blocks are assembled at
// the wire rate and rate-converted only when the device could not open at
// the wire rate.
const blockDuration = 20 * time.Millisecond

// ErrSpeakerClosed is returned by PlayAt after Close or a device failure.
var ErrSpeakerClosed = errors.New("device: speaker closed")

// Speaker plays scheduled wire PCM on the default output device. From the
// moment it opens, a write loop pushes one block every block interval:
// silence where nothing is scheduled, fragment bytes from each scheduled
// start. Now derives from samples written, so the clock advances exactly
// as fast as the device consumes audio.
type Speaker struct {
	out     *portaudio.OutputStream
	rs      resampler.Resampler
	src     *byteSource
	devRate int
	logger  *slog.Logger

	sched   schedule
	gain    pcm.Gain
	written atomic.Int64
	closed  atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// SpeakerOption configures the Speaker.
type SpeakerOption func(*Speaker)

// WithSpeakerLogger sets the logger.
func WithSpeakerLogger(logger *slog.Logger) SpeakerOption {
	return func(sp *Speaker) {
		sp.logger = logger
	}
}

// NewSpeaker opens the default output device and starts the write loop.
// When the device cannot open at the wire rate, it opens at its default
// rate and a stream resampler converts each block on the way out.
func NewSpeaker(opts ...SpeakerOption) (*Speaker, error) {
	sp := &Speaker{
		logger: slog.Default(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	sp.gain.Store(1)
	for _, opt := range opts {
		opt(sp)
	}

	wireRate := pcm.WireFormat.SampleRate()
	sp.devRate = wireRate
	if !portaudio.SupportsOutputRate(1, float64(wireRate)) {
		info, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, fmt.Errorf("device: default output device: %w", err)
		}
		sp.devRate = int(info.DefaultSampleRate)
		if sp.devRate <= 0 {
			return nil, fmt.Errorf("device: output device %q reports rate %d", info.Name, sp.devRate)
		}
		sp.src = &byteSource{}
		sp.rs, err = resampler.NewStream(sp.src,
			resampler.Format{SampleRate: wireRate},
			resampler.Format{SampleRate: sp.devRate})
		if err != nil {
			return nil, fmt.Errorf("device: output resampler: %w", err)
		}
		sp.logger.Debug("speaker rate fallback", "device", info.Name, "rate", sp.devRate)
	}

	frames := int(time.Duration(sp.devRate) * blockDuration / time.Second)
	out, err := portaudio.NewOutputStream(sp.devRate, frames)
	if err != nil {
		return nil, fmt.Errorf("device: open speaker: %w", err)
	}
	sp.out = out

	go sp.writeLoop()
	return sp, nil
}

// Now returns the playback clock: the duration of audio written since the
// speaker opened, at the wire rate.
func (sp *Speaker) Now() time.Duration {
	return pcm.WireFormat.Duration(2 * sp.written.Load())
}

// Rate returns the rate the device opened at.
func (sp *Speaker) Rate() int {
	return sp.devRate
}

// SetGain sets the master gain. 1 is unity; negative values clamp to 0.
func (sp *Speaker) SetGain(g float32) {
	if g < 0 {
		g = 0
	}
	sp.gain.Store(g)
}

// Gain returns the master gain.
func (sp *Speaker) Gain() float32 {
	return sp.gain.Load()
}

// PlayAt schedules pcm16 to begin at start on the playback clock. A start
// already in the past begins at the next block. The done callback fires
// from the write loop after the fragment's last sample has reached the
// device; fragments discarded by Stop never fire it.
func (sp *Speaker) PlayAt(start time.Duration, pcm16 []byte, done func()) error {
	if sp.closed.Load() {
		return ErrSpeakerClosed
	}
	if len(pcm16)%2 != 0 {
		return fmt.Errorf("device: fragment has a partial sample (%d bytes)", len(pcm16))
	}
	sp.sched.add(wireSamples(start), pcm16, done)
	return nil
}

// Stop discards everything scheduled and keeps the clock running on
// silence. At most one block already handed to the device still plays
// out.
func (sp *Speaker) Stop() {
	if n := sp.sched.flush(); n > 0 {
		sp.logger.Debug("speaker flushed", "fragments", n)
	}
}

// Close stops the write loop and releases the device. Anything still
// scheduled is discarded.
func (sp *Speaker) Close() error {
	if sp.closed.Swap(true) {
		return nil
	}
	close(sp.stopCh)
	<-sp.doneCh
	sp.sched.flush()
	if sp.rs != nil {
		sp.rs.Close()
	}
	return sp.out.Close()
}

// writeLoop pushes one block per iteration, paced by the device consuming
// the previous one. Done callbacks fire only after their block was
// written, so a write failure never reports audio as played.
func (sp *Speaker) writeLoop() {
	defer close(sp.doneCh)

	wireFrames := int(time.Duration(pcm.WireFormat.SampleRate()) * blockDuration / time.Second)
	block := make([]int16, wireFrames)
	var blockBytes, devBuf []byte
	var devSamples []int16
	if sp.rs != nil {
		blockBytes = make([]byte, 2*wireFrames)
		devBuf = make([]byte, 8192)
		devSamples = make([]int16, len(devBuf)/2)
	}
	lastGen := sp.sched.generation()

	for {
		select {
		case <-sp.stopCh:
			return
		default:
		}

		if g := sp.sched.generation(); g != lastGen {
			lastGen = g
			sp.resetConverter()
		}

		clear(block)
		fired := sp.sched.fill(block)
		sp.applyGain(block)

		var err error
		if sp.rs == nil {
			err = sp.out.Write(block)
		} else {
			err = sp.writeConverted(block, blockBytes, devBuf, devSamples)
		}
		if err != nil {
			sp.closed.Store(true)
			sp.logger.Warn("speaker write failed", "error", err)
			return
		}

		sp.written.Add(int64(len(block)))
		for _, fn := range fired {
			fn()
		}
	}
}

// writeConverted pushes one wire block through the rate converter and
// writes whatever comes out.
func (sp *Speaker) writeConverted(block []int16, blockBytes, devBuf []byte, devSamples []int16) error {
	for i, v := range block {
		blockBytes[i*2] = byte(v)
		blockBytes[i*2+1] = byte(v >> 8)
	}
	sp.src.refill(blockBytes)

	for {
		n, err := sp.rs.Read(devBuf)
		if n > 0 {
			m := n / 2
			for i := 0; i < m; i++ {
				devSamples[i] = int16(devBuf[i*2]) | int16(devBuf[i*2+1])<<8
			}
			if werr := sp.out.Write(devSamples[:m]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// resetConverter rebuilds the rate converter after a flush so output
// buffered inside it from the flushed schedule is not played.
func (sp *Speaker) resetConverter() {
	if sp.rs == nil {
		return
	}
	sp.src.refill(nil)
	rs, err := resampler.NewStream(sp.src,
		resampler.Format{SampleRate: pcm.WireFormat.SampleRate()},
		resampler.Format{SampleRate: sp.devRate})
	if err != nil {
		sp.logger.Warn("speaker converter reset failed", "error", err)
		return
	}
	sp.rs.Close()
	sp.rs = rs
}

// applyGain scales the block by the master gain, clipping at full scale.
func (sp *Speaker) applyGain(block []int16) {
	g := sp.gain.Load()
	if g == 1 {
		return
	}
	for i, v := range block {
		f := float32(v) * g
		if f > 32767 {
			f = 32767
		} else if f < -32768 {
			f = -32768
		}
		block[i] = int16(f)
	}
}

// byteSource is the converter's input: the write loop refills it with one
// block, the converter drains it to EOF, the next refill replaces it.
type byteSource struct {
	buf []byte
}

func (s *byteSource) Read(p []byte) (int, error) {
	if len(s.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *byteSource) refill(b []byte) {
	s.buf = b
}
