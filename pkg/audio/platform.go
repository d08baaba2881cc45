// Package audio holds the local half of the real-time translation pipeline:
// the sample and chunk types, the PCM16 codec, the linear resampler, the
// downsampling/encoding stage and the device abstractions it runs on.
//
// The two device abstractions are:
//
//   - [Capture] delivers mono float blocks from a microphone on a real-time
//     callback thread.
//   - [Output] plays decoded [Buffer] values at absolute positions on its own
//     device clock and reports completion per buffer.
//
// Concrete implementations live in audio/device (malgo + oto) and audio/mock.
package audio

import (
	"context"
	"time"
)

// CaptureConfig selects and configures the microphone.
type CaptureConfig struct {
	// Device is a substring of the input device name. Empty selects the
	// system default.
	Device string

	// SampleRate is the requested rate. It is advisory; the granted rate is
	// reported by [Capture.SampleRate].
	SampleRate int

	// EchoCancellation, NoiseSuppression and AutoGainControl request the
	// corresponding processing. Backends that cannot honour a flag ignore it.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// OutputConfig selects and configures the playback device.
type OutputConfig struct {
	Device     string
	SampleRate int
}

// Capture is an open microphone.
//
// Implementations must be safe for concurrent use.
type Capture interface {
	// SampleRate returns the rate granted by the device.
	SampleRate() int

	// Start begins delivering mono float blocks to onData on the device's
	// real-time thread. The slice is only valid for the duration of the call.
	// onStop is invoked at most once if the device stops on its own.
	Start(onData func(samples []float32), onStop func(err error)) error

	// Close stops capture and releases the device. Safe to call more than once.
	Close() error
}

// Voice is one buffer scheduled on an [Output].
type Voice interface {
	// Stop silences the voice immediately. The onEnded callback passed to
	// [Output.Play] is not invoked for a stopped voice.
	Stop()
}

// Output is an open playback device with its own monotonically advancing
// clock.
//
// Implementations must be safe for concurrent use.
type Output interface {
	// Now returns the current position of the device clock.
	Now() time.Duration

	// Play schedules buf to start at the absolute device time at. If at is in
	// the past playback starts immediately. onEnded, if non-nil, is invoked
	// once when the buffer finishes playing naturally.
	Play(buf *Buffer, at time.Duration, onEnded func()) (Voice, error)

	// Close stops all voices and releases the device. Safe to call more than once.
	Close() error
}

// Devices opens capture and playback devices.
type Devices interface {
	OpenCapture(ctx context.Context, cfg CaptureConfig) (Capture, error)
	OpenOutput(ctx context.Context, cfg OutputConfig) (Output, error)
}
