package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Decode converts wire audio bytes to float32 PCM samples normalized to [-1, 1].
// The effective sample rate is the format's: G.711 is always 8 kHz.
func Decode(data []byte, f Format) ([]float32, error) {
	switch f.Encoding {
	case EncodingPCM16:
		return decodePCM16(data), nil
	case EncodingG711Ulaw:
		return decodeG711(data, ulawTable[:]), nil
	case EncodingG711Alaw:
		return decodeG711(data, alawTable[:]), nil
	default:
		return nil, fmt.Errorf("unsupported encoding: %q", f.Encoding)
	}
}

// EncodePCM16 converts float32 samples to 16-bit little-endian PCM bytes,
// clamping out-of-range values.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		clamped := max(float32(-1.0), min(float32(1.0), s))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(clamped*math.MaxInt16)))
	}
	return out
}

func decodePCM16(data []byte) []float32 {
	n := len(data) / 2
	samples := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(s) / math.MaxInt16
	}
	return samples
}

func decodeG711(data []byte, table []int16) []float32 {
	samples := make([]float32, len(data))
	for i, b := range data {
		samples[i] = float32(table[b]) / math.MaxInt16
	}
	return samples
}

var ulawTable [256]int16
var alawTable [256]int16

func init() {
	for i := range 256 {
		ulawTable[i] = decodeUlawSample(byte(i))
		alawTable[i] = decodeAlawSample(byte(i))
	}
}

func decodeUlawSample(b byte) int16 {
	b = ^b
	sign := int16(1)
	if b&0x80 != 0 {
		sign = -1
		b &= 0x7F
	}
	exponent := int16((b >> 4) & 0x07)
	mantissa := int16(b & 0x0F)
	sample := (mantissa<<3 + 0x84) << exponent
	sample -= 0x84
	return sign * sample
}

func decodeAlawSample(b byte) int16 {
	b ^= 0x55
	sign := int16(1)
	if b&0x80 == 0 {
		sign = -1
	}
	b &= 0x7F
	exponent := int16((b >> 4) & 0x07)
	mantissa := int16(b & 0x0F)
	if exponent == 0 {
		return sign * (mantissa<<4 + 8)
	}
	return sign * ((mantissa<<4 + 0x108) << (exponent - 1))
}
