// Package s2s defines the Provider interface for speech-to-speech translation
// backends.
//
// An S2S provider wraps a real-time voice service that accepts raw microphone
// audio and returns translated speech plus live transcripts in a single,
// stateful session. Two wire mechanics are supported behind one contract: a
// streaming socket carrying base64 media envelopes (see s2s/gemini) and a
// peer connection with a native media track and a JSON data channel (see
// s2s/openai). Both normalise their inbound vocabulary into [Event] so the
// caller never branches on provider identity.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/dolmetscher/pkg/audio"
)

var (
	// ErrSessionClosed is returned by SessionHandle methods after the session
	// has ended.
	ErrSessionClosed = errors.New("s2s: session closed")

	// ErrUpdateUnsupported is returned by [SessionHandle.Update] when the
	// provider cannot reconfigure a live session. The caller should restart
	// the session instead.
	ErrUpdateUnsupported = errors.New("s2s: live session update not supported")
)

// TurnDetection configures the provider's server-side voice activity
// detection.
type TurnDetection struct {
	// SilenceDuration is how long the speaker must pause before the turn ends.
	SilenceDuration time.Duration

	// PrefixPadding is the amount of audio kept before detected speech.
	PrefixPadding time.Duration

	// Threshold is the VAD activation threshold in [0, 1].
	Threshold float64

	// CreateResponse asks the provider to answer automatically at turn end.
	CreateResponse bool

	// InterruptResponse lets new speech cut off an in-progress response.
	InterruptResponse bool
}

// SessionConfig is the configuration for a new translation session.
type SessionConfig struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// Instructions is the system prompt sent to the provider.
	Instructions string

	// SourceLanguage and TargetLanguage name the translation pair.
	SourceLanguage string
	TargetLanguage string

	// Voice selects the synthesised output voice.
	Voice string

	// Turn configures server-side turn detection.
	Turn TurnDetection

	// Transcription enables input transcription events.
	Transcription bool

	// LowLatency trades transcription and gain control for faster turnaround.
	LowLatency bool
}

// Capabilities describes static properties of a provider.
type Capabilities struct {
	// InputSampleRate is the PCM rate the provider expects for outbound audio.
	InputSampleRate int

	// OutputSampleRate is the rate of inline audio events.
	OutputSampleRate int

	// LiveUpdate reports whether [SessionHandle.Update] can reconfigure a
	// session without reconnecting.
	LiveUpdate bool
}

// SessionHandle represents an open S2S session. It is an interface so that test
// code can supply mock implementations without a live provider connection.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one encoded chunk to the provider. Chunks must be
	// sent in capture order. Returns ErrSessionClosed after the session ends.
	SendAudio(chunk audio.EncodedChunk) error

	// Events returns the ordered stream of normalised inbound events. The
	// final event is always an [EventClosed]; the channel is closed right
	// after it.
	Events() <-chan Event

	// Update reconfigures the live session in-band. Providers without live
	// reconfiguration return ErrUpdateUnsupported.
	Update(cfg SessionConfig) error

	// Close terminates the session. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider opens translation sessions.
type Provider interface {
	// Open establishes a new session. The returned handle is ready to accept
	// audio immediately. ctx bounds the handshake only.
	Open(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Name returns the registry name of the provider.
	Name() string

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
