package s2s

import (
	"time"

	"github.com/MrWong99/dolmetscher/pkg/audio"
)

// EventType classifies a normalised inbound event.
type EventType int

const (
	// EventOpened reports that the provider accepted the session setup.
	EventOpened EventType = iota

	// EventPartialInput carries a fragment of the speaker's transcript.
	EventPartialInput

	// EventPartialOutput carries a fragment of the translation transcript.
	EventPartialOutput

	// EventTurnComplete marks the end of a turn.
	EventTurnComplete

	// EventAudio carries translated audio, either as PCM16 bytes or as an
	// already decoded buffer.
	EventAudio

	// EventInterrupted reports that the provider discarded its in-progress
	// response.
	EventInterrupted

	// EventSpeechStarted reports that the provider detected the speaker
	// starting to talk.
	EventSpeechStarted

	// EventGoAway announces that the provider will close the session soon.
	EventGoAway

	// EventActivity is any other parsed message. It carries no payload and
	// exists so liveness tracking sees every inbound message.
	EventActivity

	// EventError carries a provider-reported error. It does not end the session.
	EventError

	// EventClosed is the last event of every session.
	EventClosed
)

var eventTypeNames = [...]string{
	EventOpened:        "opened",
	EventPartialInput:  "partial_input",
	EventPartialOutput: "partial_output",
	EventTurnComplete:  "turn_complete",
	EventAudio:         "audio",
	EventInterrupted:   "interrupted",
	EventSpeechStarted: "speech_started",
	EventGoAway:        "go_away",
	EventActivity:      "activity",
	EventError:         "error",
	EventClosed:        "closed",
}

// String returns the snake_case name of the event type.
func (t EventType) String() string {
	if t >= 0 && int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return "unknown"
}

// Event is one normalised inbound message.
type Event struct {
	Type EventType

	// Text is set for partial transcripts and error messages.
	Text string

	// Audio holds little-endian PCM16 for inline audio events.
	Audio []byte

	// SampleRate and Channels describe Audio.
	SampleRate int
	Channels   int

	// Buffer holds audio that the adapter already decoded. When set it is
	// played directly and Audio is ignored.
	Buffer *audio.Buffer

	// Reason explains EventClosed and EventGoAway.
	Reason string

	// Err is the underlying cause for EventClosed, if any.
	Err error

	// Received is when the adapter parsed the message.
	Received time.Time
}
