package device

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/voicewire/voicewire/pkg/audio/pcm"
	"github.com/voicewire/voicewire/pkg/audio/portaudio"
)

const (
	// DefaultMicBuffer is how much audio the microphone ring holds before
	// the oldest samples are dropped.
	DefaultMicBuffer = time.Second

	// micFrameDuration is the device read granularity.
	micFrameDuration = 20 * time.Millisecond
)

// Mic reads mono float32 frames from the default input device. The rate
// is picked once at construction: the wire rate when the device supports
// it, the device default rate otherwise.
//
// Start opens the device and spawns a pump moving samples into a ring;
// Read drains the ring. Start and Stop cycle any number of times, so a
// permission probe costs one cycle and each capture session another.
type Mic struct {
	rate    int
	frames  int
	ringCap int
	buffer  time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	stream *portaudio.InputStream
	ring   *floatRing
	stopCh chan struct{}
	doneCh chan struct{}
}

// MicOption configures the Mic.
type MicOption func(*Mic)

// WithMicBuffer sets how much audio the ring holds before dropping the
// oldest samples.
func WithMicBuffer(d time.Duration) MicOption {
	return func(m *Mic) {
		m.buffer = d
	}
}

// WithMicLogger sets the logger.
func WithMicLogger(logger *slog.Logger) MicOption {
	return func(m *Mic) {
		m.logger = logger
	}
}

// NewMic probes the default input device and picks the capture rate. The
// device itself is not held open until Start.
func NewMic(opts ...MicOption) (*Mic, error) {
	m := &Mic{
		buffer: DefaultMicBuffer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	rate := pcm.WireFormat.SampleRate()
	if !portaudio.SupportsInputRate(1, float64(rate)) {
		info, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("device: default input device: %w", err)
		}
		rate = int(info.DefaultSampleRate)
		if rate <= 0 {
			return nil, fmt.Errorf("device: input device %q reports rate %d", info.Name, rate)
		}
		m.logger.Debug("microphone rate fallback", "device", info.Name, "rate", rate)
	}

	m.rate = rate
	m.frames = int(time.Duration(rate) * micFrameDuration / time.Second)
	m.ringCap = int(time.Duration(rate) * m.buffer / time.Second)
	if m.ringCap < m.frames {
		m.ringCap = m.frames
	}
	return m, nil
}

// Rate returns the capture rate in Hz. It is fixed for the lifetime of
// the Mic.
func (m *Mic) Rate() int {
	return m.rate
}

// Start opens the device and begins pumping samples into the ring. The
// first Start may trigger an OS permission prompt.
func (m *Mic) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil {
		return errors.New("device: microphone already started")
	}

	stream, err := portaudio.NewInputStream(m.rate, m.frames)
	if err != nil {
		return fmt.Errorf("device: open microphone: %w", err)
	}

	m.stream = stream
	m.ring = newFloatRing(m.ringCap)
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.pump(stream, m.ring, m.stopCh, m.doneCh)
	return nil
}

// Read blocks until samples are available and copies them into p. After
// Stop the buffered remainder drains, then Read returns io.EOF.
func (m *Mic) Read(p []float32) (int, error) {
	m.mu.Lock()
	ring := m.ring
	m.mu.Unlock()

	if ring == nil {
		return 0, io.EOF
	}
	return ring.read(p)
}

// Stop closes the device and unblocks a pending Read. The Mic can be
// started again afterwards.
func (m *Mic) Stop() error {
	m.mu.Lock()
	stream, ring := m.stream, m.ring
	stopCh, doneCh := m.stopCh, m.doneCh
	m.stream, m.ring = nil, nil
	m.stopCh, m.doneCh = nil, nil
	m.mu.Unlock()

	if stream == nil {
		return nil
	}

	close(stopCh)
	ring.close()
	err := stream.Close()
	<-doneCh

	if err != nil {
		return fmt.Errorf("device: close microphone: %w", err)
	}
	return nil
}

// pump moves samples from the device into the ring until stopped. A read
// error after stop is the device winding down and is ignored.
func (m *Mic) pump(stream *portaudio.InputStream, ring *floatRing, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		samples, err := stream.ReadFrame()
		if len(samples) > 0 {
			if dropped := ring.write(samples); dropped > 0 {
				m.logger.Debug("microphone overrun", "dropped_samples", dropped)
			}
		}
		if err != nil {
			select {
			case <-stopCh:
			default:
				m.logger.Warn("microphone read failed", "error", err)
				ring.fail(err)
			}
			return
		}
	}
}
