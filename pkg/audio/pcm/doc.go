// Package pcm defines the audio/L16 formats the conversation channel
// carries and the float<->int16 quantizer shared by the capture and
// playback pipelines.
//
// Example usage:
//
//	// Bytes on the wire for 20ms of audio
//	n := pcm.WireFormat.BytesInDuration(20 * time.Millisecond)
//
//	// Quantize captured samples for the wire
//	data := pcm.FloatsToBytes(samples)
//
//	// Duration of a received fragment
//	d := pcm.WireFormat.Duration(int64(len(data)))
package pcm
