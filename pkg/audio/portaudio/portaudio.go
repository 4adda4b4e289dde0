// Package portaudio provides Go bindings for the PortAudio library.
//
// This package uses CGO to interface with the PortAudio C library. Streams
// use the blocking API: reads and writes pace themselves against the
// device clock. Input streams carry float32 samples, output streams int16.
//
// For go build: requires portaudio installed via pkg-config (brew install portaudio)
package portaudio

/*
#cgo pkg-config: portaudio-2.0

#include <portaudio.h>
#include <stdlib.h>
#include <string.h>

// PaStream is an opaque typedef of void. These shims take void* so cgo
// never has to name the type.
static PaError stream_open(void **stream,
                           const PaStreamParameters *inputParams,
                           const PaStreamParameters *outputParams,
                           double sampleRate,
                           unsigned long framesPerBuffer,
                           PaStreamFlags streamFlags) {
    return Pa_OpenStream((PaStream**)stream, inputParams, outputParams, sampleRate,
                         framesPerBuffer, streamFlags, NULL, NULL);
}

static PaError stream_start(void *stream) {
    return Pa_StartStream((PaStream*)stream);
}

static PaError stream_stop(void *stream) {
    return Pa_StopStream((PaStream*)stream);
}

static PaError stream_close(void *stream) {
    return Pa_CloseStream((PaStream*)stream);
}

static PaError stream_read(void *stream, void *buffer, unsigned long frames) {
    return Pa_ReadStream((PaStream*)stream, buffer, frames);
}

static PaError stream_write(void *stream, const void *buffer, unsigned long frames) {
    return Pa_WriteStream((PaStream*)stream, buffer, frames);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"
)

var (
	initOnce sync.Once
	initErr  error
)

// paError converts a PortAudio error code to a Go error.
func paError(code C.PaError) error {
	if code == C.paNoError {
		return nil
	}
	return errors.New(C.GoString(C.Pa_GetErrorText(code)))
}

// Initialize loads the PortAudio runtime. The first call does the work;
// later calls return the same result.
func Initialize() error {
	initOnce.Do(func() {
		initErr = paError(C.Pa_Initialize())
	})
	return initErr
}

// Terminate shuts the PortAudio runtime down.
func Terminate() error {
	return paError(C.Pa_Terminate())
}

// DeviceInfo describes one entry in the PortAudio device table.
type DeviceInfo struct {
	Index                    int
	Name                     string
	MaxInputChannels         int
	MaxOutputChannels        int
	DefaultLowInputLatency   float64
	DefaultHighInputLatency  float64
	DefaultLowOutputLatency  float64
	DefaultHighOutputLatency float64
	DefaultSampleRate        float64
	IsDefaultInput           bool
	IsDefaultOutput          bool
}

// deviceAt reads the device table entry at index i.
func deviceAt(i int) (*DeviceInfo, error) {
	info := C.Pa_GetDeviceInfo(C.PaDeviceIndex(i))
	if info == nil {
		return nil, errors.New("failed to get device info")
	}
	return &DeviceInfo{
		Index:                    i,
		Name:                     C.GoString(info.name),
		MaxInputChannels:         int(info.maxInputChannels),
		MaxOutputChannels:        int(info.maxOutputChannels),
		DefaultLowInputLatency:   float64(info.defaultLowInputLatency),
		DefaultHighInputLatency:  float64(info.defaultHighInputLatency),
		DefaultLowOutputLatency:  float64(info.defaultLowOutputLatency),
		DefaultHighOutputLatency: float64(info.defaultHighOutputLatency),
		DefaultSampleRate:        float64(info.defaultSampleRate),
		IsDefaultInput:           C.Pa_GetDefaultInputDevice() == C.PaDeviceIndex(i),
		IsDefaultOutput:          C.Pa_GetDefaultOutputDevice() == C.PaDeviceIndex(i),
	}, nil
}

// Devices lists every audio device PortAudio can see. Entries the
// backend refuses to describe are skipped.
func Devices() ([]DeviceInfo, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}

	count := int(C.Pa_GetDeviceCount())
	if count < 0 {
		return nil, paError(C.PaError(count))
	}

	devices := make([]DeviceInfo, 0, count)
	for i := 0; i < count; i++ {
		d, err := deviceAt(i)
		if err != nil {
			continue
		}
		devices = append(devices, *d)
	}
	return devices, nil
}

// DefaultInputDevice describes the device input streams open on.
func DefaultInputDevice() (*DeviceInfo, error) {
	return defaultDevice(true)
}

// DefaultOutputDevice describes the device output streams open on.
func DefaultOutputDevice() (*DeviceInfo, error) {
	return defaultDevice(false)
}

func defaultDevice(input bool) (*DeviceInfo, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}

	idx, kind := C.Pa_GetDefaultOutputDevice(), "output"
	if input {
		idx, kind = C.Pa_GetDefaultInputDevice(), "input"
	}
	if idx == C.paNoDevice {
		return nil, fmt.Errorf("no default %s device", kind)
	}
	return deviceAt(int(idx))
}

// streamFormat selects the sample format of an opened stream.
type streamFormat int

const (
	formatInt16 streamFormat = iota
	formatFloat32
)

func (f streamFormat) paFormat() C.PaSampleFormat {
	if f == formatFloat32 {
		return C.paFloat32
	}
	return C.paInt16
}

func (f streamFormat) bytes() int {
	if f == formatFloat32 {
		return 4
	}
	return 2
}

// deviceParams builds open parameters for the default device of one
// direction, at its low-latency setting.
func deviceParams(input bool, channels int, format streamFormat) (*C.PaStreamParameters, error) {
	device := C.Pa_GetDefaultOutputDevice()
	if input {
		device = C.Pa_GetDefaultInputDevice()
	}
	if device == C.paNoDevice {
		if input {
			return nil, errors.New("no default input device")
		}
		return nil, errors.New("no default output device")
	}

	info := C.Pa_GetDeviceInfo(device)
	if info == nil {
		return nil, errors.New("failed to get device info")
	}
	latency := info.defaultLowOutputLatency
	if input {
		latency = info.defaultLowInputLatency
	}

	return &C.PaStreamParameters{
		device:           device,
		channelCount:     C.int(channels),
		sampleFormat:     format.paFormat(),
		suggestedLatency: latency,
	}, nil
}

// SupportsInputRate reports whether the default input device can open a
// float32 stream with the given channel count at the given sample rate.
func SupportsInputRate(channels int, sampleRate float64) bool {
	return supportsRate(true, channels, sampleRate)
}

// SupportsOutputRate reports whether the default output device can open an
// int16 stream with the given channel count at the given sample rate.
func SupportsOutputRate(channels int, sampleRate float64) bool {
	return supportsRate(false, channels, sampleRate)
}

func supportsRate(input bool, channels int, sampleRate float64) bool {
	if Initialize() != nil {
		return false
	}

	format := formatInt16
	if input {
		format = formatFloat32
	}
	params, err := deviceParams(input, channels, format)
	if err != nil {
		return false
	}

	if input {
		return C.Pa_IsFormatSupported(params, nil, C.double(sampleRate)) == C.paFormatIsSupported
	}
	return C.Pa_IsFormatSupported(nil, params, C.double(sampleRate)) == C.paFormatIsSupported
}

// Stream is an open PortAudio stream plus the C-side transfer buffer
// reads and writes stage through.
type Stream struct {
	stream   unsafe.Pointer
	buffer   unsafe.Pointer
	format   streamFormat
	frames   int
	channels int
	closed   bool
	mu       sync.Mutex
}

// openStream opens a PortAudio stream on the default devices.
func openStream(inputChannels, outputChannels int, format streamFormat, sampleRate float64, framesPerBuffer int) (*Stream, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}

	var inputParams, outputParams *C.PaStreamParameters
	var err error
	if inputChannels > 0 {
		if inputParams, err = deviceParams(true, inputChannels, format); err != nil {
			return nil, err
		}
	}
	if outputChannels > 0 {
		if outputParams, err = deviceParams(false, outputChannels, format); err != nil {
			return nil, err
		}
	}

	var paStream unsafe.Pointer
	if err := paError(C.stream_open(
		&paStream,
		inputParams,
		outputParams,
		C.double(sampleRate),
		C.ulong(framesPerBuffer),
		C.paClipOff,
	)); err != nil {
		return nil, err
	}

	channels := max(inputChannels, outputChannels)
	return &Stream{
		stream:   paStream,
		buffer:   C.malloc(C.size_t(framesPerBuffer * channels * format.bytes())),
		format:   format,
		frames:   framesPerBuffer,
		channels: channels,
	}, nil
}

// Start starts the audio stream.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("stream closed")
	}
	return paError(C.stream_start(s.stream))
}

// Stop stops the audio stream.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	return paError(C.stream_stop(s.stream))
}

// Close stops the stream, closes it, and frees the transfer buffer.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	C.stream_stop(s.stream)
	err := paError(C.stream_close(s.stream))
	C.free(s.buffer)
	return err
}

// ReadFloat32 reads one buffer of samples from a float32 input stream.
// An input overflow means the device dropped audio between reads; the
// samples returned are still valid.
func (s *Stream) ReadFloat32() ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("stream closed")
	}
	if s.format != formatFloat32 {
		return nil, errors.New("portaudio: stream is not float32")
	}

	code := C.stream_read(s.stream, s.buffer, C.ulong(s.frames))
	if code != C.paNoError && code != C.paInputOverflowed {
		return nil, paError(code)
	}

	samples := make([]float32, s.frames*s.channels)
	C.memcpy(unsafe.Pointer(&samples[0]), s.buffer, C.size_t(len(samples)*4))
	return samples, nil
}

// Write writes samples to an int16 output stream, blocking until the
// device has consumed them. Writes larger than the stream buffer are
// split. An output underflow means the device ran dry before the write;
// playback continues.
func (s *Stream) Write(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("stream closed")
	}
	if s.format != formatInt16 {
		return errors.New("portaudio: stream is not int16")
	}

	chunk := s.frames * s.channels
	for off := 0; off < len(samples); off += chunk {
		n := min(len(samples)-off, chunk)
		C.memcpy(s.buffer, unsafe.Pointer(&samples[off]), C.size_t(n*2))
		code := C.stream_write(s.stream, s.buffer, C.ulong(n/s.channels))
		if code != C.paNoError && code != C.paOutputUnderflowed {
			return paError(code)
		}
	}
	return nil
}
