package device

import (
	"testing"
	"time"

	"github.com/voicewire/voicewire/pkg/audio/pcm"
)

// fillBlock runs one write-loop iteration's worth of assembly: a zeroed
// block of n samples filled from the schedule.
func fillBlock(s *schedule, n int) ([]int16, []func()) {
	block := make([]int16, n)
	fired := s.fill(block)
	return block, fired
}

func rampPCM(from, n int) []byte {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(from + i)
	}
	return pcm.Int16sToBytes(samples)
}

func checkBlock(t *testing.T, got, want []int16) {
	t.Helper()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("block = %v, want %v", got, want)
		}
	}
}

func TestScheduleSilenceWhenEmpty(t *testing.T) {
	var s schedule
	block, fired := fillBlock(&s, 8)
	if len(fired) != 0 {
		t.Fatalf("fired %d callbacks on empty schedule", len(fired))
	}
	checkBlock(t, block, make([]int16, 8))
}

func TestScheduleStartsMidBlock(t *testing.T) {
	var s schedule
	s.add(10, rampPCM(1, 4), nil)

	block, _ := fillBlock(&s, 8)
	checkBlock(t, block, make([]int16, 8))

	block, _ = fillBlock(&s, 8)
	checkBlock(t, block, []int16{0, 0, 1, 2, 3, 4, 0, 0})
}

func TestScheduleGaplessAcrossBlocks(t *testing.T) {
	var s schedule
	var done1, done2 bool
	s.add(0, rampPCM(1, 6), func() { done1 = true })
	s.add(6, rampPCM(7, 6), func() { done2 = true })

	block, fired := fillBlock(&s, 8)
	checkBlock(t, block, []int16{1, 2, 3, 4, 5, 6, 7, 8})
	if len(fired) != 1 {
		t.Fatalf("block 1 fired %d callbacks, want 1", len(fired))
	}
	fired[0]()
	if !done1 || done2 {
		t.Fatalf("after block 1: done1=%v done2=%v, want true false", done1, done2)
	}

	block, fired = fillBlock(&s, 8)
	checkBlock(t, block, []int16{9, 10, 11, 12, 0, 0, 0, 0})
	if len(fired) != 1 {
		t.Fatalf("block 2 fired %d callbacks, want 1", len(fired))
	}
	fired[0]()
	if !done2 {
		t.Fatal("done2 not fired after block 2")
	}
}

func TestScheduleMultipleFragmentsOneBlock(t *testing.T) {
	var s schedule
	s.add(1, rampPCM(1, 2), nil)
	s.add(3, rampPCM(3, 2), nil)
	s.add(5, rampPCM(5, 2), nil)

	block, _ := fillBlock(&s, 8)
	checkBlock(t, block, []int16{0, 1, 2, 3, 4, 5, 6, 0})
}

func TestSchedulePastStartSnapsToBlockHead(t *testing.T) {
	var s schedule
	fillBlock(&s, 8)
	fillBlock(&s, 8)

	s.add(4, rampPCM(1, 4), nil)
	block, _ := fillBlock(&s, 8)
	checkBlock(t, block, []int16{1, 2, 3, 4, 0, 0, 0, 0})
}

func TestScheduleFlushDropsQueueAndDones(t *testing.T) {
	var s schedule
	var done bool
	s.add(0, rampPCM(1, 12), func() { done = true })

	fillBlock(&s, 8)

	gen := s.generation()
	if n := s.flush(); n != 1 {
		t.Fatalf("flush discarded %d fragments, want 1", n)
	}
	if s.generation() != gen+1 {
		t.Fatal("flush did not advance the generation")
	}

	block, fired := fillBlock(&s, 8)
	if len(fired) != 0 || done {
		t.Fatalf("flushed fragment completed: fired=%d done=%v", len(fired), done)
	}
	checkBlock(t, block, make([]int16, 8))
}

func TestScheduleEmptyFragmentCompletesAtStart(t *testing.T) {
	var s schedule
	var done bool
	s.add(12, nil, func() { done = true })

	_, fired := fillBlock(&s, 8)
	if len(fired) != 0 {
		t.Fatal("empty fragment completed before its start")
	}
	_, fired = fillBlock(&s, 8)
	if len(fired) != 1 {
		t.Fatalf("fired %d callbacks, want 1", len(fired))
	}
	fired[0]()
	if !done {
		t.Fatal("done not fired")
	}
}

func TestWireSamples(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want int64
	}{
		{0, 0},
		{20 * time.Millisecond, 480},
		{time.Second, 24000},
		// A 100-sample duration truncates to 4166666ns; the conversion
		// back must round to 100, not 99.
		{4166666 * time.Nanosecond, 100},
	}
	for _, tt := range tests {
		if got := wireSamples(tt.d); got != tt.want {
			t.Errorf("wireSamples(%v) = %d, want %d", tt.d, got, tt.want)
		}
	}
}
