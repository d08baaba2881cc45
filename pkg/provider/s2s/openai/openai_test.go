package openai_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/dolmetscher/pkg/audio"
	"github.com/MrWong99/dolmetscher/pkg/provider/s2s"
	"github.com/MrWong99/dolmetscher/pkg/provider/s2s/openai"
	"github.com/pion/webrtc/v4"
)

// answerer is an in-process stand-in for the Realtime calls endpoint. It
// answers one offer, records the first session.update it receives, and
// plays the scripted events once the data channel opens.
type answerer struct {
	t       *testing.T
	script  []string
	updates chan map[string]any
	headers chan http.Header
	model   chan string
}

func startAnswerer(t *testing.T, script ...string) (*answerer, *httptest.Server) {
	t.Helper()
	a := &answerer{
		t:       t,
		script:  script,
		updates: make(chan map[string]any, 4),
		headers: make(chan http.Header, 1),
		model:   make(chan string, 1),
	}
	srv := httptest.NewServer(http.HandlerFunc(a.serveHTTP))
	t.Cleanup(srv.Close)
	return a, srv
}

func (a *answerer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	a.headers <- r.Header.Clone()
	a.model <- r.URL.Query().Get("model")
	offer, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.t.Cleanup(func() { _ = pc.Close() })

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			var v map[string]any
			if json.Unmarshal(msg.Data, &v) == nil && v["type"] == "session.update" {
				a.updates <- v
			}
		})
		dc.OnOpen(func() {
			for _, ev := range a.script {
				_ = dc.SendText(ev)
			}
		})
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: string(offer)}); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	<-gathered

	w.Header().Set("Content-Type", "application/sdp")
	w.WriteHeader(http.StatusCreated)
	_, _ = io.WriteString(w, pc.LocalDescription().SDP)
}

func newProvider(srv *httptest.Server) *openai.Provider {
	return openai.New("sk-test",
		openai.WithBaseURL(srv.URL),
		openai.WithModel("gpt-realtime-test"),
		openai.WithICEServers(),
		openai.WithICETimeout(500*time.Millisecond),
	)
}

// waitEvent returns the next event of type want, skipping others.
func waitEvent(t *testing.T, h s2s.SessionHandle, want s2s.EventType) s2s.Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %v", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %v", want)
		}
	}
}

func TestProvider_Capabilities(t *testing.T) {
	t.Parallel()
	p := openai.New("k")
	caps := p.Capabilities()
	if caps.InputSampleRate != 48000 || !caps.LiveUpdate {
		t.Errorf("caps = %+v", caps)
	}
	if p.Name() != openai.Name {
		t.Errorf("Name = %q", p.Name())
	}
}

func TestOpen_NegotiatesAndTranslates(t *testing.T) {
	t.Parallel()
	a, srv := startAnswerer(t,
		`{"type":"session.created"}`,
		`{"type":"conversation.item.input_audio_transcription.delta","item_id":"x","delta":"Hallo"}`,
		`{"type":"response.output_audio_transcript.delta","delta":"Hello"}`,
		`{"type":"response.done"}`,
	)

	h, err := newProvider(srv).Open(t.Context(), s2s.SessionConfig{
		TargetLanguage: "English",
		Voice:          "marin",
		Transcription:  true,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	hdr := <-a.headers
	if got := hdr.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got)
	}
	if got := hdr.Get("Content-Type"); got != "application/sdp" {
		t.Errorf("Content-Type = %q", got)
	}
	if m := <-a.model; m != "gpt-realtime-test" {
		t.Errorf("model = %q", m)
	}

	waitEvent(t, h, s2s.EventOpened)
	if ev := waitEvent(t, h, s2s.EventPartialInput); ev.Text != "Hallo" {
		t.Errorf("partial input = %q", ev.Text)
	}
	if ev := waitEvent(t, h, s2s.EventPartialOutput); ev.Text != "Hello" {
		t.Errorf("partial output = %q", ev.Text)
	}
	waitEvent(t, h, s2s.EventTurnComplete)

	select {
	case upd := <-a.updates:
		sess, _ := upd["session"].(map[string]any)
		if sess["type"] != "realtime" {
			t.Errorf("session.update = %v", upd)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no session.update received")
	}

	// Live reconfiguration goes out on the same channel.
	if err := h.Update(s2s.SessionConfig{TargetLanguage: "English", LowLatency: true}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	select {
	case <-a.updates:
	case <-time.After(10 * time.Second):
		t.Fatal("live update not received")
	}

	if err := h.SendAudio(audio.EncodedChunk{Data: make([]byte, 2048*2), SampleRate: 48000}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
}

func TestOpen_SDPRejected(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newProvider(srv).Open(t.Context(), s2s.SessionConfig{})
	if err == nil {
		t.Fatal("expected error for rejected offer")
	}
}

func TestClose_EndsEvents(t *testing.T) {
	t.Parallel()
	_, srv := startAnswerer(t)
	h, err := newProvider(srv).Open(t.Context(), s2s.SessionConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := h.SendAudio(audio.EncodedChunk{Data: []byte{0, 0}}); !errors.Is(err, s2s.ErrSessionClosed) {
		t.Fatalf("SendAudio after Close = %v", err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-h.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events not closed")
		}
	}
}
