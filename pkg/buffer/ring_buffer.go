package buffer

import (
	"fmt"
	"io"
	"slices"
	"sync"
)

// RingBuffer is a thread-safe fixed-capacity FIFO that overwrites the
// oldest elements when full. Reads block while the ring is empty. Useful
// for live sources such as microphones where stale data should be dropped
// rather than backpressure the producer.
type RingBuffer[T any] struct {
	writeNotify chan struct{}

	mu         sync.Mutex
	closeWrite bool
	closeErr   error
	buf        []T
	head       int64 // next write position, monotonic
	tail       int64 // next read position, monotonic
}

// RingN creates a new RingBuffer holding at most n elements.
func RingN[T any](n int) *RingBuffer[T] {
	if n <= 0 {
		panic("buffer: ring capacity must be positive")
	}
	return &RingBuffer[T]{
		writeNotify: make(chan struct{}, 1),
		buf:         make([]T, n),
	}
}

func (r *RingBuffer[T]) notifyLocked() {
	select {
	case r.writeNotify <- struct{}{}:
	default:
	}
}

func (r *RingBuffer[T]) lenLocked() int {
	return int(r.head - r.tail)
}

// Write appends all elements of p to the ring, overwriting the oldest
// elements if the ring is full, and wakes a waiting reader.
func (r *RingBuffer[T]) Write(p []T) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closeErr != nil {
		return 0, fmt.Errorf("buffer: write to closed ring: %w", r.closeErr)
	}
	if r.closeWrite {
		return 0, fmt.Errorf("buffer: write to closed ring: %w", io.ErrClosedPipe)
	}
	size := int64(len(r.buf))
	for _, t := range p {
		r.buf[r.head%size] = t
		r.head++
	}
	if r.head-r.tail > size {
		r.tail = r.head - size
	}
	r.notifyLocked()
	return len(p), nil
}

// Add appends a single element, overwriting the oldest if the ring is
// full, and wakes a waiting reader.
func (r *RingBuffer[T]) Add(t T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closeErr != nil {
		return fmt.Errorf("buffer: write to closed ring: %w", r.closeErr)
	}
	if r.closeWrite {
		return fmt.Errorf("buffer: write to closed ring: %w", io.ErrClosedPipe)
	}
	size := int64(len(r.buf))
	r.buf[r.head%size] = t
	r.head++
	if r.head-r.tail > size {
		r.tail = r.head - size
	}
	r.notifyLocked()
	return nil
}

// Read copies buffered elements into p in FIFO order. It blocks until at
// least one element is available or the ring is closed. Returns io.EOF
// when the write side is closed and the ring has drained.
func (r *RingBuffer[T]) Read(p []T) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closeErr != nil {
		return 0, fmt.Errorf("buffer: read from closed ring: %w", r.closeErr)
	}
	for r.lenLocked() == 0 {
		if r.closeWrite {
			return 0, io.EOF
		}
		r.mu.Unlock()
		<-r.writeNotify
		r.mu.Lock()
		if r.closeErr != nil {
			return 0, fmt.Errorf("buffer: read from closed ring: %w", r.closeErr)
		}
	}
	size := int64(len(r.buf))
	for n < len(p) && r.tail < r.head {
		p[n] = r.buf[r.tail%size]
		r.tail++
		n++
	}
	return n, nil
}

// Next removes and returns the oldest element. It blocks until an element
// is available or the ring is closed. Returns ErrIteratorDone when the
// write side is closed and the ring has drained.
func (r *RingBuffer[T]) Next() (t T, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closeErr != nil {
		err = fmt.Errorf("buffer: read from closed ring: %w", r.closeErr)
		return
	}
	for r.lenLocked() == 0 {
		if r.closeWrite {
			err = ErrIteratorDone
			return
		}
		r.mu.Unlock()
		<-r.writeNotify
		r.mu.Lock()
		if r.closeErr != nil {
			err = fmt.Errorf("buffer: read from closed ring: %w", r.closeErr)
			return
		}
	}
	size := int64(len(r.buf))
	t = r.buf[r.tail%size]
	r.tail++
	return
}

// CloseWithError closes both sides of the ring. All pending operations
// unblock and return err. A nil err defaults to io.ErrClosedPipe.
func (r *RingBuffer[T]) CloseWithError(err error) error {
	if err == nil {
		err = io.ErrClosedPipe
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closeErr != nil {
		return nil
	}
	r.closeErr = err
	if !r.closeWrite {
		r.closeWrite = true
		close(r.writeNotify)
	}
	return nil
}

// Error returns the error the ring was closed with, if any.
func (r *RingBuffer[T]) Error() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeErr
}

// Close closes the ring. Equivalent to CloseWithError(io.ErrClosedPipe).
func (r *RingBuffer[T]) Close() error {
	return r.CloseWithError(io.ErrClosedPipe)
}

// CloseWrite closes the write side only. Buffered data remains readable;
// once drained, reads return io.EOF and Next returns ErrIteratorDone.
func (r *RingBuffer[T]) CloseWrite() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closeWrite {
		return nil
	}
	r.closeWrite = true
	close(r.writeNotify)
	return nil
}

// Reset discards all buffered data, keeping the ring usable.
func (r *RingBuffer[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tail = r.head
}

// Len returns the number of buffered elements.
func (r *RingBuffer[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lenLocked()
}

// Items returns a copy of the buffered elements in FIFO order.
func (r *RingBuffer[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	size := int64(len(r.buf))
	n := r.lenLocked()
	if n == 0 {
		return nil
	}
	start := r.tail % size
	end := r.head % size
	if start < end {
		return slices.Clone(r.buf[start:end])
	}
	return slices.Concat(r.buf[start:], r.buf[:end])
}
