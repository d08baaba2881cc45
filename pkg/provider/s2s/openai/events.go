package openai

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/dolmetscher/pkg/provider/s2s"
)

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Type             string      `json:"type"`
	Model            string      `json:"model,omitempty"`
	OutputModalities []string    `json:"output_modalities"`
	Instructions     string      `json:"instructions,omitempty"`
	Audio            audioConfig `json:"audio"`
}

type audioConfig struct {
	Input  audioInput  `json:"input"`
	Output audioOutput `json:"output"`
}

type audioFormat struct {
	Type string `json:"type"`
	Rate int    `json:"rate,omitempty"`
}

type audioInput struct {
	Format        audioFormat    `json:"format"`
	TurnDetection turnDetection  `json:"turn_detection"`
	Transcription *transcription `json:"transcription,omitempty"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	Threshold         float64 `json:"threshold"`
	CreateResponse    bool    `json:"create_response"`
	InterruptResponse bool    `json:"interrupt_response"`
}

type transcription struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type audioOutput struct {
	Format audioFormat `json:"format"`
	Voice  string      `json:"voice,omitempty"`
}

const transcriptionModel = "gpt-4o-mini-transcribe"

// buildSessionUpdate translates the session config into a session.update
// control message.
func buildSessionUpdate(cfg s2s.SessionConfig) sessionUpdate {
	instructions := cfg.Instructions
	if instructions == "" {
		instructions = s2s.TranslationInstructions(cfg.SourceLanguage, cfg.TargetLanguage)
	}
	msg := sessionUpdate{
		Type: "session.update",
		Session: sessionConfig{
			Type:             "realtime",
			OutputModalities: []string{"audio"},
			Instructions:     instructions,
			Audio: audioConfig{
				Input: audioInput{
					Format: audioFormat{Type: "audio/pcm", Rate: 24000},
					TurnDetection: turnDetection{
						Type:              "server_vad",
						SilenceDurationMs: int(cfg.Turn.SilenceDuration / time.Millisecond),
						PrefixPaddingMs:   int(cfg.Turn.PrefixPadding / time.Millisecond),
						Threshold:         cfg.Turn.Threshold,
						CreateResponse:    cfg.Turn.CreateResponse,
						InterruptResponse: cfg.Turn.InterruptResponse,
					},
				},
				Output: audioOutput{
					Format: audioFormat{Type: "audio/pcm", Rate: 24000},
					Voice:  cfg.Voice,
				},
			},
		},
	}
	if cfg.Transcription {
		msg.Session.Audio.Input.Transcription = &transcription{
			Model:    transcriptionModel,
			Language: isoLanguage(cfg.SourceLanguage),
		}
	}
	return msg
}

// languageCodes maps common language names to ISO-639-1 codes for the
// transcription hint.
var languageCodes = map[string]string{
	"English": "en", "German": "de", "French": "fr", "Spanish": "es",
	"Italian": "it", "Portuguese": "pt", "Dutch": "nl", "Polish": "pl",
	"Japanese": "ja", "Chinese": "zh", "Korean": "ko", "Russian": "ru",
	"Turkish": "tr", "Ukrainian": "uk",
}

// isoLanguage returns the transcription language hint for name. Two-letter
// codes pass through; unknown names yield no hint.
func isoLanguage(name string) string {
	if len(name) == 2 {
		return strings.ToLower(name)
	}
	return languageCodes[name]
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type       string       `json:"type"`
	ItemID     string       `json:"item_id,omitempty"`
	Delta      string       `json:"delta,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	Error      *serverError `json:"error,omitempty"`
}

type serverError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// translator maps data channel events onto the normalised event set. It
// remembers which input items already produced transcription deltas so a
// completed transcript without preceding deltas can still be surfaced once.
//
// A translator is used from the data channel's message goroutine only.
type translator struct {
	streamed map[string]bool
	order    []string // streamed keys, oldest first
}

// maxStreamedItems bounds the remembered items. Transcription of an item
// that never completes is forgotten once this many newer items streamed.
const maxStreamedItems = 64

func newTranslator() *translator {
	return &translator{streamed: make(map[string]bool)}
}

func (tr *translator) markStreamed(id string) {
	if tr.streamed[id] {
		return
	}
	tr.streamed[id] = true
	tr.order = append(tr.order, id)
	if len(tr.order) > maxStreamedItems {
		delete(tr.streamed, tr.order[0])
		tr.order = tr.order[1:]
	}
}

// forget reports whether id had streamed and drops it.
func (tr *translator) forget(id string) bool {
	if !tr.streamed[id] {
		return false
	}
	delete(tr.streamed, id)
	if i := slices.Index(tr.order, id); i >= 0 {
		tr.order = slices.Delete(tr.order, i, i+1)
	}
	return true
}

// translate returns the normalised event for one data channel message. ok is
// false for payloads that are not valid JSON.
func (tr *translator) translate(data []byte) (ev s2s.Event, ok bool) {
	var msg serverEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return s2s.Event{}, false
	}
	switch msg.Type {
	case "session.created":
		return s2s.Event{Type: s2s.EventOpened}, true

	case "conversation.item.input_audio_transcription.delta":
		if msg.ItemID != "" {
			tr.markStreamed(msg.ItemID)
		}
		if msg.Delta == "" {
			break
		}
		return s2s.Event{Type: s2s.EventPartialInput, Text: msg.Delta}, true

	case "conversation.item.input_audio_transcription.completed":
		if !tr.forget(msg.ItemID) && msg.Transcript != "" {
			return s2s.Event{Type: s2s.EventPartialInput, Text: msg.Transcript}, true
		}

	case "conversation.item.input_audio_transcription.failed":
		tr.forget(msg.ItemID)

	case "response.output_audio_transcript.delta", "response.audio_transcript.delta":
		if msg.Delta == "" {
			break
		}
		return s2s.Event{Type: s2s.EventPartialOutput, Text: msg.Delta}, true

	case "response.done":
		return s2s.Event{Type: s2s.EventTurnComplete}, true

	case "input_audio_buffer.speech_started":
		return s2s.Event{Type: s2s.EventSpeechStarted}, true

	case "output_audio_buffer.cleared":
		return s2s.Event{Type: s2s.EventInterrupted}, true

	case "error":
		text := "unknown error"
		if msg.Error != nil && msg.Error.Message != "" {
			text = msg.Error.Message
		}
		return s2s.Event{Type: s2s.EventError, Text: text}, true
	}
	return s2s.Event{Type: s2s.EventActivity}, true
}
