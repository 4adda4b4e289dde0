package resampler

import (
	"bytes"
	"io"
	"testing"
)

func TestFrameReader_ExactMultiple(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	r := newFrameReader(bytes.NewReader(data), 4)

	buf := make([]byte, 8)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if n != 8 {
		t.Fatalf("Read returned %d, want 8", n)
	}
	if !bytes.Equal(buf[:n], data) {
		t.Fatalf("Read got %v, want %v", buf[:n], data)
	}
}

func TestFrameReader_PartialSample(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6} // 6 bytes, sample size 4
	r := newFrameReader(bytes.NewReader(data), 4)

	buf := make([]byte, 8)

	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("First Read error: %v", err)
	}
	if n != 4 {
		t.Fatalf("First Read returned %d, want 4", n)
	}

	// The unaligned tail surfaces with ErrUnexpectedEOF.
	n, err = r.Read(buf)
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("Second Read error = %v, want io.ErrUnexpectedEOF", err)
	}
	if n != 2 {
		t.Fatalf("Second Read returned %d, want 2", n)
	}
}

func TestFrameReader_ShortBuffer(t *testing.T) {
	r := newFrameReader(bytes.NewReader([]byte{1, 2, 3, 4}), 4)
	buf := make([]byte, 3)
	if _, err := r.Read(buf); err != io.ErrShortBuffer {
		t.Fatalf("Read error = %v, want io.ErrShortBuffer", err)
	}
}

// drip returns one byte per Read call.
type drip struct {
	data []byte
	pos  int
}

func (d *drip) Read(p []byte) (int, error) {
	if d.pos >= len(d.data) {
		return 0, io.EOF
	}
	p[0] = d.data[d.pos]
	d.pos++
	return 1, nil
}

func TestFrameReader_CarriesRemainder(t *testing.T) {
	// A source that drips single bytes forces the reader to carry
	// partial samples between calls.
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	r := newFrameReader(&drip{data: data}, 2)

	var got []byte
	buf := make([]byte, 4)
	for {
		n, err := r.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read error: %v", err)
		}
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got %v, want %v", got, data)
	}
	if len(got)%2 != 0 {
		t.Fatalf("returned %d bytes, not sample aligned", len(got))
	}
}
