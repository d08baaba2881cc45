package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmptyPCM is returned by [DecodePCM16] when there is nothing to decode.
	ErrEmptyPCM = errors.New("audio: empty pcm payload")

	// ErrOddPCM is returned by [DecodePCM16] when the payload does not contain
	// a whole number of sample frames.
	ErrOddPCM = errors.New("audio: pcm payload is not frame aligned")
)

// FloatToPCM16 converts a normalised float sample to int16. The input is
// clamped to [-1, 1] before scaling; negative values scale by 32768 and
// positive values by 32767 so both ends of the range are reachable without
// wraparound. NaN maps to silence.
func FloatToPCM16(f float32) int16 {
	if f != f {
		return 0
	}
	v := float64(f)
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

// PCM16ToFloat converts an int16 sample to a float in [-1, 1).
func PCM16ToFloat(s int16) float32 {
	return float32(s) / 32768
}

// EncodePCM16 writes samples as little-endian int16 into dst, which must hold
// at least 2*len(samples) bytes. It returns the number of bytes written.
func EncodePCM16(dst []byte, samples []float32) int {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(FloatToPCM16(s)))
	}
	return len(samples) * 2
}

// DecodePCM16 interprets data as consecutive little-endian int16 samples at
// the declared rate and channel count and returns normalised float samples.
// It has no side effects.
func DecodePCM16(data []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("audio: decode pcm16: invalid format %s", formatString(sampleRate, channels))
	}
	if len(data) == 0 {
		return nil, ErrEmptyPCM
	}
	if len(data)%(2*channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes for %d channels", ErrOddPCM, len(data), channels)
	}
	samples := make([]float32, len(data)/2)
	for i := range samples {
		samples[i] = PCM16ToFloat(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	return &Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

// Int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
