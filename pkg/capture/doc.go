// Package capture turns microphone input into committed utterances on a
// realtime channel.
//
// The pipeline accumulates raw float frames locally while capturing;
// nothing reaches the channel until Stop. On Stop the frames are
// resampled to the 24 kHz wire rate, quantized to little-endian PCM16,
// base64-encoded and committed as one utterance:
//
//	pipe := capture.New(mic, ch)
//	if err := pipe.Start(ctx); err != nil { ... }
//	// push-to-talk held down; frames accumulate
//	dur, err := pipe.Stop(ctx)
//	if errors.Is(err, capture.ErrTooShort) {
//		// nothing was sent; tell the user to hold the button longer
//	}
//
// Captures shorter than the minimum duration are rejected with
// ErrTooShort before any channel traffic.
package capture
