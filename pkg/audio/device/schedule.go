package device

import (
	"sync"
	"time"

	"github.com/voicewire/voicewire/pkg/audio/pcm"
)

// wireSamples converts a position on the playback clock to a sample count
// at the wire rate, rounded to the nearest sample.
func wireSamples(d time.Duration) int64 {
	rate := int64(pcm.WireFormat.SampleRate())
	return (int64(d)*rate + int64(time.Second)/2) / int64(time.Second)
}

// scheduledFragment is one span of wire PCM with a start position on the
// sample clock.
type scheduledFragment struct {
	start int64
	data  []byte
	off   int
	done  func()
}

// schedule holds queued fragments against the sample clock. The write
// loop drains it one block at a time; everything else appends or flushes.
// Queue order is arrival order; the player hands fragments over with
// monotonic starts.
type schedule struct {
	mu    sync.Mutex
	queue []*scheduledFragment
	pos   int64
	gen   uint64
}

// add enqueues a fragment starting at the given sample position.
func (s *schedule) add(start int64, data []byte, done func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, &scheduledFragment{start: start, data: data, done: done})
}

// fill copies the scheduled audio for the next block into block and
// advances the clock by its length. Unscheduled stretches stay silent;
// block must arrive zeroed. A start already in the past snaps to the
// block head and the fragment plays contiguously from there. Returned are
// the done callbacks of fragments whose last sample landed in this block;
// the caller fires them once the block has reached the device.
func (s *schedule) fill(block []int16) []func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fired []func()
	n := int64(len(block))
	for len(s.queue) > 0 {
		f := s.queue[0]
		rel := f.start + int64(f.off/2) - s.pos
		if rel < 0 {
			rel = 0
		}
		if rel >= n {
			break
		}
		take := (len(f.data) - f.off) / 2
		if room := int(n - rel); take > room {
			take = room
		}
		for i := 0; i < take; i++ {
			j := f.off + i*2
			block[int(rel)+i] = int16(f.data[j]) | int16(f.data[j+1])<<8
		}
		f.off += take * 2
		if f.off < len(f.data) {
			break
		}
		if f.done != nil {
			fired = append(fired, f.done)
		}
		s.queue = s.queue[1:]
	}
	s.pos += n
	return fired
}

// flush discards everything queued, including a partially played head.
// Done callbacks of flushed fragments never fire. Returns the number of
// fragments discarded.
func (s *schedule) flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	s.queue = nil
	s.gen++
	return n
}

// generation increments on every flush. The write loop watches it to drop
// converter state carried over from a flushed schedule.
func (s *schedule) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}
