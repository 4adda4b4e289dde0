package resampler

import "io"

// frameReader aligns reads from an io.Reader to whole frames. A torn
// frame at the end of one read is carried over and prepended to the
// next, so conversion downstream never sees a partial sample.
type frameReader struct {
	r     io.Reader
	frame int

	// partial frame held between reads, always shorter than frame
	carry []byte
}

func newFrameReader(r io.Reader, frame int) *frameReader {
	return &frameReader{r: r, frame: frame, carry: make([]byte, 0, frame-1)}
}

// Read fills p with a multiple of the frame size. It returns
// io.ErrShortBuffer when p cannot hold a single frame, and
// io.ErrUnexpectedEOF when the source ends mid-frame.
func (fr *frameReader) Read(p []byte) (int, error) {
	if len(p) < fr.frame {
		return 0, io.ErrShortBuffer
	}
	p = p[:len(p)-len(p)%fr.frame]

	n := copy(p, fr.carry)
	fr.carry = fr.carry[:0]

	rn, err := fr.r.Read(p[n:])
	n += rn
	torn := n % fr.frame
	if err != nil {
		if err == io.EOF && torn != 0 {
			return n, io.ErrUnexpectedEOF
		}
		return n, err
	}
	if torn != 0 {
		n -= torn
		fr.carry = append(fr.carry, p[n:n+torn]...)
	}
	return n, nil
}
