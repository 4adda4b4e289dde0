package device

import (
	"io"
	"sync"
)

// floatRing is a fixed-capacity sample ring between the device pump and
// the pipeline reader. On overflow the oldest samples are dropped, so a
// reader that catches up again hears now rather than the backlog.
type floatRing struct {
	mu    sync.Mutex
	cond  *sync.Cond
	buf   []float32
	start int
	n     int
	err   error
}

func newFloatRing(capacity int) *floatRing {
	r := &floatRing{buf: make([]float32, capacity)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// write appends samples, dropping the oldest on overflow, and returns the
// number dropped. Writes after close are discarded.
func (r *floatRing) write(p []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil || len(p) == 0 {
		return 0
	}

	dropped := 0
	if len(p) >= len(r.buf) {
		dropped = r.n + len(p) - len(r.buf)
		copy(r.buf, p[len(p)-len(r.buf):])
		r.start, r.n = 0, len(r.buf)
	} else {
		if over := r.n + len(p) - len(r.buf); over > 0 {
			r.start = (r.start + over) % len(r.buf)
			r.n -= over
			dropped = over
		}
		w := (r.start + r.n) % len(r.buf)
		c := copy(r.buf[w:], p)
		if c < len(p) {
			copy(r.buf, p[c:])
		}
		r.n += len(p)
	}
	r.cond.Broadcast()
	return dropped
}

// read blocks until samples are available and copies up to len(p) of them
// into p. After close the remaining samples drain first, then the close
// error is returned.
func (r *floatRing) read(p []float32) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for r.n == 0 && r.err == nil {
		r.cond.Wait()
	}
	if r.n == 0 {
		return 0, r.err
	}

	take := len(p)
	if take > r.n {
		take = r.n
	}
	c := copy(p[:take], r.buf[r.start:])
	if c < take {
		copy(p[c:take], r.buf[:take-c])
	}
	r.start = (r.start + take) % len(r.buf)
	r.n -= take
	return take, nil
}

// close ends the stream. Blocked readers wake, drain and then see io.EOF.
func (r *floatRing) close() {
	r.fail(io.EOF)
}

// fail ends the stream with err delivered to readers after the drain.
func (r *floatRing) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
	r.cond.Broadcast()
}
