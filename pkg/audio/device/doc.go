// Package device provides the portaudio-backed microphone and speaker at
// the edges of the conversation pipelines.
//
// Mic feeds the capture pipeline mono float32 frames, preferring the wire
// rate and falling back to the device default rate; the pipeline resamples
// either way. A ring between the device pump and the reader drops the
// oldest samples when the reader falls behind.
//
// Speaker keeps the playback schedule: a write loop pushes one block to
// the device every block interval, silence where nothing is scheduled and
// fragment bytes from each scheduled start. The clock reported by Now
// derives from samples written, so fragment starts land on exact sample
// positions and back-to-back fragments play gapless.
package device
