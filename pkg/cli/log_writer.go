package cli

import (
	"strings"

	"github.com/voicewire/voicewire/pkg/buffer"
)

// LogWriter is an io.Writer for slog handlers that keeps the log tail
// for frame rendering instead of letting it scroll the terminal. Each
// write fans out to a bounded ring and a non-blocking notify channel.
type LogWriter struct {
	ring *buffer.RingBuffer[string]
	ch   chan string
}

// NewLogWriter keeps at most maxLines of tail.
func NewLogWriter(maxLines int) *LogWriter {
	return &LogWriter{
		ring: buffer.RingN[string](maxLines),
		ch:   make(chan string, 100),
	}
}

// Write records each line of p. It never blocks: when the notify
// channel is full the nudge is dropped, not the line.
func (w *LogWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		_ = w.ring.Add(line)
		select {
		case w.ch <- line:
		default:
		}
	}
	return len(p), nil
}

// Lines returns the buffered tail, oldest first.
func (w *LogWriter) Lines() []string {
	return w.ring.Items()
}

// Channel delivers one nudge per recorded line.
func (w *LogWriter) Channel() <-chan string {
	return w.ch
}
