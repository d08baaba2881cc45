package openai

import (
	"encoding/json"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/dolmetscher/pkg/provider/s2s"
)

func TestTranslate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		in       string
		wantType s2s.EventType
		wantText string
	}{
		{"session created", `{"type":"session.created"}`, s2s.EventOpened, ""},
		{"input delta", `{"type":"conversation.item.input_audio_transcription.delta","item_id":"i1","delta":"Hal"}`, s2s.EventPartialInput, "Hal"},
		{"output transcript delta", `{"type":"response.output_audio_transcript.delta","delta":"Hel"}`, s2s.EventPartialOutput, "Hel"},
		{"legacy output transcript delta", `{"type":"response.audio_transcript.delta","delta":"lo"}`, s2s.EventPartialOutput, "lo"},
		{"response done", `{"type":"response.done"}`, s2s.EventTurnComplete, ""},
		{"speech started", `{"type":"input_audio_buffer.speech_started"}`, s2s.EventSpeechStarted, ""},
		{"output cleared", `{"type":"output_audio_buffer.cleared"}`, s2s.EventInterrupted, ""},
		{"error", `{"type":"error","error":{"message":"rate limited"}}`, s2s.EventError, "rate limited"},
		{"error without detail", `{"type":"error"}`, s2s.EventError, "unknown error"},
		{"unmapped", `{"type":"rate_limits.updated"}`, s2s.EventActivity, ""},
		{"empty delta", `{"type":"response.output_audio_transcript.delta","delta":""}`, s2s.EventActivity, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ev, ok := newTranslator().translate([]byte(tc.in))
			if !ok {
				t.Fatal("translate rejected valid JSON")
			}
			if ev.Type != tc.wantType || ev.Text != tc.wantText {
				t.Errorf("got %v %q; want %v %q", ev.Type, ev.Text, tc.wantType, tc.wantText)
			}
		})
	}
}

func TestTranslate_Malformed(t *testing.T) {
	t.Parallel()
	if _, ok := newTranslator().translate([]byte("{oops")); ok {
		t.Fatal("malformed JSON must be rejected")
	}
}

func TestTranslate_CompletedFallback(t *testing.T) {
	t.Parallel()
	tr := newTranslator()

	// Streamed item: completion adds nothing.
	tr.translate([]byte(`{"type":"conversation.item.input_audio_transcription.delta","item_id":"a","delta":"Hi"}`))
	ev, _ := tr.translate([]byte(`{"type":"conversation.item.input_audio_transcription.completed","item_id":"a","transcript":"Hi"}`))
	if ev.Type != s2s.EventActivity {
		t.Fatalf("completed after deltas = %v; want activity", ev.Type)
	}

	// Non-streamed item: completion is surfaced once as a partial.
	ev, _ = tr.translate([]byte(`{"type":"conversation.item.input_audio_transcription.completed","item_id":"b","transcript":"Guten Tag"}`))
	if ev.Type != s2s.EventPartialInput || ev.Text != "Guten Tag" {
		t.Fatalf("completed without deltas = %v %q; want partial_input", ev.Type, ev.Text)
	}
	if len(tr.streamed) != 0 {
		t.Fatalf("streamed map leaks %d items", len(tr.streamed))
	}
}

func TestTranslate_StreamedItemsBounded(t *testing.T) {
	t.Parallel()
	tr := newTranslator()

	// Transcriptions that never complete must not accumulate.
	for i := range maxStreamedItems + 10 {
		tr.translate(fmt.Appendf(nil, `{"type":"conversation.item.input_audio_transcription.delta","item_id":"item-%d","delta":"x"}`, i))
	}
	if len(tr.streamed) != maxStreamedItems || len(tr.order) != maxStreamedItems {
		t.Fatalf("remembered %d items (%d ordered), want %d", len(tr.streamed), len(tr.order), maxStreamedItems)
	}
	if tr.streamed["item-0"] {
		t.Error("oldest item was not evicted")
	}

	// A failed transcription is forgotten.
	last := fmt.Sprintf("item-%d", maxStreamedItems+9)
	tr.translate(fmt.Appendf(nil, `{"type":"conversation.item.input_audio_transcription.failed","item_id":%q}`, last))
	if tr.streamed[last] || slices.Contains(tr.order, last) {
		t.Error("failed item still remembered")
	}
}

func TestBuildSessionUpdate(t *testing.T) {
	t.Parallel()
	msg := buildSessionUpdate(s2s.SessionConfig{
		SourceLanguage: "German",
		TargetLanguage: "English",
		Voice:          "marin",
		Transcription:  true,
		Turn: s2s.TurnDetection{
			SilenceDuration:   200 * time.Millisecond,
			PrefixPadding:     300 * time.Millisecond,
			Threshold:         0.5,
			CreateResponse:    true,
			InterruptResponse: true,
		},
	})
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Type    string `json:"type"`
		Session struct {
			Type             string   `json:"type"`
			OutputModalities []string `json:"output_modalities"`
			Instructions     string   `json:"instructions"`
			Audio            struct {
				Input struct {
					Format struct {
						Type string `json:"type"`
					} `json:"format"`
					TurnDetection struct {
						Type              string  `json:"type"`
						SilenceDurationMs int     `json:"silence_duration_ms"`
						PrefixPaddingMs   int     `json:"prefix_padding_ms"`
						Threshold         float64 `json:"threshold"`
						CreateResponse    bool    `json:"create_response"`
						InterruptResponse bool    `json:"interrupt_response"`
					} `json:"turn_detection"`
					Transcription *struct {
						Model    string `json:"model"`
						Language string `json:"language"`
					} `json:"transcription"`
				} `json:"input"`
				Output struct {
					Voice string `json:"voice"`
				} `json:"output"`
			} `json:"audio"`
		} `json:"session"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != "session.update" || got.Session.Type != "realtime" {
		t.Errorf("type = %q/%q", got.Type, got.Session.Type)
	}
	if len(got.Session.OutputModalities) != 1 || got.Session.OutputModalities[0] != "audio" {
		t.Errorf("output_modalities = %v", got.Session.OutputModalities)
	}
	if got.Session.Instructions == "" {
		t.Error("default instructions missing")
	}
	td := got.Session.Audio.Input.TurnDetection
	if td.Type != "server_vad" || td.SilenceDurationMs != 200 || td.PrefixPaddingMs != 300 || td.Threshold != 0.5 || !td.CreateResponse || !td.InterruptResponse {
		t.Errorf("turn_detection = %+v", td)
	}
	if tr := got.Session.Audio.Input.Transcription; tr == nil || tr.Language != "de" {
		t.Errorf("transcription = %+v", tr)
	}
	if got.Session.Audio.Output.Voice != "marin" {
		t.Errorf("voice = %q", got.Session.Audio.Output.Voice)
	}

	noTranscript, _ := json.Marshal(buildSessionUpdate(s2s.SessionConfig{TargetLanguage: "English"}))
	var raw map[string]any
	_ = json.Unmarshal(noTranscript, &raw)
	input := raw["session"].(map[string]any)["audio"].(map[string]any)["input"].(map[string]any)
	if _, ok := input["transcription"]; ok {
		t.Error("transcription must be omitted when disabled")
	}
}

func TestOpusEncoder_Framing(t *testing.T) {
	t.Parallel()
	enc, err := newOpusEncoder()
	if err != nil {
		t.Fatal(err)
	}
	// 2048 samples = two full 960-sample frames plus a residual of 128.
	pkts, err := enc.encode(make([]int16, 2048))
	if err != nil {
		t.Fatal(err)
	}
	if len(pkts) != 2 {
		t.Fatalf("packets = %d; want 2", len(pkts))
	}
	if len(enc.residual) != 128 {
		t.Fatalf("residual = %d; want 128", len(enc.residual))
	}
	pkts, err = enc.encode(make([]int16, 832))
	if err != nil {
		t.Fatal(err)
	}
	if len(pkts) != 1 || len(enc.residual) != 0 {
		t.Fatalf("packets = %d residual = %d; want 1/0", len(pkts), len(enc.residual))
	}

	dec, err := newOpusDecoder()
	if err != nil {
		t.Fatal(err)
	}
	buf, err := dec.decode(pkts[0])
	if err != nil {
		t.Fatal(err)
	}
	if buf.Frames() != opusFrameSize || buf.SampleRate != opusSampleRate {
		t.Fatalf("decoded %d frames @ %d", buf.Frames(), buf.SampleRate)
	}
}
