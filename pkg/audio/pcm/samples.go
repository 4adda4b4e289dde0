package pcm

import "math"

// The quantizer scale. The same constant is used in both directions so a
// float -> int16 -> float round trip lands within one quantization step
// (1/32767) of the input. -32768, which only appears in audio produced
// elsewhere, dequantizes to exactly -1.
const quantScale = 32767

// FloatToInt16 quantizes a sample in [-1, 1] to int16. Values outside the
// range clamp, never wrap. Rounding is to nearest, half away from zero.
func FloatToInt16(s float32) int16 {
	if s >= 1 {
		return quantScale
	}
	if s <= -1 {
		return -quantScale
	}
	return int16(math.Round(float64(s) * quantScale))
}

// Int16ToFloat dequantizes an int16 sample to [-1, 1].
func Int16ToFloat(v int16) float32 {
	if v <= -quantScale {
		return -1
	}
	return float32(v) / quantScale
}

// FloatsToBytes quantizes float samples to 16-bit little-endian PCM bytes.
func FloatsToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := FloatToInt16(s)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// BytesToFloats dequantizes 16-bit little-endian PCM bytes to float
// samples. A trailing odd byte is ignored.
func BytesToFloats(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(data[i*2]) | int16(data[i*2+1])<<8
		out[i] = Int16ToFloat(v)
	}
	return out
}

// Int16sToBytes packs int16 samples as little-endian bytes.
func Int16sToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// BytesToInt16s unpacks little-endian bytes into int16 samples. A trailing
// odd byte is ignored.
func BytesToInt16s(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return out
}
