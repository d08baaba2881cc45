package audio

import (
	"fmt"
	"time"
)

// Buffer is a decoded block of audio ready for playback. Samples are
// normalised floats in [-1, 1], interleaved when Channels > 1.
type Buffer struct {
	// Samples holds interleaved float samples.
	Samples []float32

	// SampleRate in Hz (e.g., 24000 for Gemini Live output, 48000 for Opus).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int
}

// Frames returns the number of sample frames (samples per channel).
func (b *Buffer) Frames() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// EncodedChunk is one fixed-size unit of outbound audio: little-endian PCM16
// mono samples at the provider's input rate, tagged with the media type the
// provider expects. Ownership of Data passes to the receiver.
type EncodedChunk struct {
	// Data is little-endian int16 PCM.
	Data []byte

	// SampleRate of Data in Hz.
	SampleRate int

	// MIMEType is the media-envelope tag, e.g. "audio/pcm;rate=16000".
	MIMEType string

	// Seq is the capture-order sequence number, starting at 1.
	Seq uint64
}

// Samples returns the number of PCM16 samples in the chunk.
func (c EncodedChunk) Samples() int { return len(c.Data) / 2 }

// Duration returns the audio length carried by the chunk.
func (c EncodedChunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Samples()) * time.Second / time.Duration(c.SampleRate)
}

// PCMMIMEType returns the raw PCM media type for the given sample rate.
func PCMMIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
