package portaudio

// InputStream captures mono float32 audio from the default input device.
type InputStream struct {
	stream *Stream
	rate   int
}

// NewInputStream opens the default input device for mono float32 capture
// at the given sample rate. Each ReadFrame returns frames samples.
func NewInputStream(sampleRate, frames int) (*InputStream, error) {
	stream, err := openStream(1, 0, formatFloat32, float64(sampleRate), frames)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, err
	}
	return &InputStream{stream: stream, rate: sampleRate}, nil
}

// SampleRate returns the rate the stream was opened at.
func (is *InputStream) SampleRate() int {
	return is.rate
}

// ReadFrame blocks until one buffer of samples has been captured.
func (is *InputStream) ReadFrame() ([]float32, error) {
	return is.stream.ReadFloat32()
}

// Close stops and closes the stream.
func (is *InputStream) Close() error {
	return is.stream.Close()
}

// OutputStream plays mono int16 audio on the default output device.
type OutputStream struct {
	stream *Stream
	rate   int
}

// NewOutputStream opens the default output device for mono int16 playback
// at the given sample rate. frames sizes the transfer buffer; larger
// writes are split.
func NewOutputStream(sampleRate, frames int) (*OutputStream, error) {
	stream, err := openStream(0, 1, formatInt16, float64(sampleRate), frames)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, err
	}
	return &OutputStream{stream: stream, rate: sampleRate}, nil
}

// SampleRate returns the rate the stream was opened at.
func (os *OutputStream) SampleRate() int {
	return os.rate
}

// Write blocks until the device has consumed the samples.
func (os *OutputStream) Write(samples []int16) error {
	return os.stream.Write(samples)
}

// Close stops and closes the stream.
func (os *OutputStream) Close() error {
	return os.stream.Close()
}
