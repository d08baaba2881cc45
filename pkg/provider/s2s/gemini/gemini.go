// Package gemini implements the s2s.Provider interface for Google's Gemini Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live endpoint
// and exchanges JSON messages according to the BidiGenerateContent protocol.
// Microphone audio is sent as base64-encoded PCM media chunks; translated audio
// arrives inline in model turns. Server messages are normalised into s2s.Event.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/dolmetscher/pkg/audio"
	"github.com/MrWong99/dolmetscher/pkg/provider/s2s"
	"github.com/coder/websocket"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

// Name is the registry name of this provider.
const Name = "gemini-live"

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	inputSampleRate  = 16000
	outputSampleRate = 24000

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	writeTimeout      = 5 * time.Second
	eventBuffer       = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithHTTPClient sets the client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns the registry name.
func (p *Provider) Name() string { return Name }

// Capabilities returns static metadata about the Gemini Live provider. The
// setup message cannot be changed on a live socket, so LiveUpdate is false.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		InputSampleRate:  inputSampleRate,
		OutputSampleRate: outputSampleRate,
		LiveUpdate:       false,
	}
}

// Open dials the Live endpoint, sends the setup message and starts the
// receive and keepalive loops. The returned session accepts audio
// immediately; [s2s.EventOpened] follows once the server acknowledges setup.
func (p *Provider) Open(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, url.QueryEscape(p.apiKey),
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: p.httpClient,
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	// Inline audio for long turns exceeds the default 32 KiB read limit.
	conn.SetReadLimit(4 << 20)

	model := p.model
	if cfg.Model != "" {
		model = cfg.Model
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan s2s.Event, eventBuffer),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.writeJSON(buildSetup(model, cfg)); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string               `json:"model"`
	GenerationConfig         generationConfig     `json:"generationConfig"`
	SystemInstruction        *systemInstruction   `json:"systemInstruction,omitempty"`
	RealtimeInputConfig      *realtimeInputConfig `json:"realtimeInputConfig,omitempty"`
	InputAudioTranscription  *struct{}            `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}            `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig  voiceConfig `json:"voiceConfig"`
	LanguageCode string      `json:"languageCode,omitempty"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type realtimeInputConfig struct {
	AutomaticActivityDetection activityDetection `json:"automaticActivityDetection"`
}

type activityDetection struct {
	StartOfSpeechSensitivity string `json:"startOfSpeechSensitivity,omitempty"`
	EndOfSpeechSensitivity   string `json:"endOfSpeechSensitivity,omitempty"`
	PrefixPaddingMs          int    `json:"prefixPaddingMs,omitempty"`
	SilenceDurationMs        int    `json:"silenceDurationMs,omitempty"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *goAway          `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// buildSetup translates the session config into the BidiGenerateContent
// setup message.
func buildSetup(model string, cfg s2s.SessionConfig) setupMessage {
	msg := setupMessage{
		Setup: setupConfig{
			Model: "models/" + model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
			OutputAudioTranscription: &struct{}{},
		},
	}
	instructions := cfg.Instructions
	if instructions == "" {
		instructions = s2s.TranslationInstructions(cfg.SourceLanguage, cfg.TargetLanguage)
	}
	msg.Setup.SystemInstruction = &systemInstruction{Parts: []part{{Text: instructions}}}

	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.Transcription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}

	ad := activityDetection{
		PrefixPaddingMs:   int(cfg.Turn.PrefixPadding / time.Millisecond),
		SilenceDurationMs: int(cfg.Turn.SilenceDuration / time.Millisecond),
	}
	if cfg.LowLatency {
		ad.EndOfSpeechSensitivity = "END_SENSITIVITY_HIGH"
	}
	if cfg.Turn.Threshold > 0 {
		if cfg.Turn.Threshold >= 0.5 {
			ad.StartOfSpeechSensitivity = "START_SENSITIVITY_LOW"
		} else {
			ad.StartOfSpeechSensitivity = "START_SENSITIVITY_HIGH"
		}
	}
	if ad != (activityDetection{}) {
		msg.Setup.RealtimeInputConfig = &realtimeInputConfig{AutomaticActivityDetection: ad}
	}
	return msg
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan s2s.Event

	mu     sync.Mutex
	done   chan struct{}
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// emit delivers ev in order. It gives up only when the session is closed
// locally.
func (s *session) emit(ev s2s.Event) bool {
	ev.Received = time.Now()
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// receiveLoop reads messages from the WebSocket and dispatches them.
// It owns the events channel: it emits the final EventClosed and closes the
// channel when it exits.
func (s *session) receiveLoop() {
	var cause error
	defer func() { s.finish(cause) }()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			cause = err
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("gemini: skipping malformed frame", "err", err)
			continue
		}

		if !s.handleServerMessage(&msg) {
			return
		}
	}
}

// finish emits EventClosed and closes the events channel.
func (s *session) finish(cause error) {
	ev := s2s.Event{Type: s2s.EventClosed, Err: cause, Received: time.Now()}
	switch {
	case s.ctx.Err() != nil:
		ev.Reason = "closed locally"
		ev.Err = nil
	case websocket.CloseStatus(cause) != -1:
		var ce websocket.CloseError
		if errors.As(cause, &ce) {
			ev.Reason = fmt.Sprintf("remote close %d: %s", ce.Code, ce.Reason)
		}
	case cause != nil:
		ev.Reason = cause.Error()
	}
	if ev.Reason == "" {
		ev.Reason = "connection closed"
	}

	if s.ctx.Err() != nil {
		select {
		case s.events <- ev:
		default:
		}
	} else {
		s.events <- ev
	}
	close(s.events)
}

// handleServerMessage normalises one message. It reports false when the
// session was closed while delivering.
func (s *session) handleServerMessage(msg *serverMessage) bool {
	handled := false
	if msg.SetupComplete != nil {
		handled = true
		if !s.emit(s2s.Event{Type: s2s.EventOpened}) {
			return false
		}
	}
	if msg.Error != nil {
		handled = true
		text := msg.Error.Message
		if text == "" {
			text = "unknown error"
		}
		if !s.emit(s2s.Event{Type: s2s.EventError, Text: text}) {
			return false
		}
	}
	if msg.GoAway != nil {
		handled = true
		if !s.emit(s2s.Event{Type: s2s.EventGoAway, Reason: "time left " + msg.GoAway.TimeLeft}) {
			return false
		}
	}
	if msg.ServerContent != nil {
		handled = true
		if !s.handleServerContent(msg.ServerContent) {
			return false
		}
	}
	if !handled {
		return s.emit(s2s.Event{Type: s2s.EventActivity})
	}
	return true
}

func (s *session) handleServerContent(sc *serverContent) bool {
	emitted := false
	send := func(ev s2s.Event) bool {
		emitted = true
		return s.emit(ev)
	}

	// Transcripts precede audio so the display leads the sound slightly.
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		if !send(s2s.Event{Type: s2s.EventPartialInput, Text: sc.InputTranscription.Text}) {
			return false
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		if !send(s2s.Event{Type: s2s.EventPartialOutput, Text: sc.OutputTranscription.Text}) {
			return false
		}
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil || len(data) == 0 {
				slog.Debug("gemini: skipping undecodable inline audio", "err", err)
				continue
			}
			if !send(s2s.Event{
				Type:       s2s.EventAudio,
				Audio:      data,
				SampleRate: rateFromMIME(p.InlineData.MIMEType, outputSampleRate),
				Channels:   1,
			}) {
				return false
			}
		}
	}
	if sc.Interrupted {
		if !send(s2s.Event{Type: s2s.EventInterrupted}) {
			return false
		}
	}
	if sc.TurnComplete {
		if !send(s2s.Event{Type: s2s.EventTurnComplete}) {
			return false
		}
	}
	if !emitted {
		return s.emit(s2s.Event{Type: s2s.EventActivity})
	}
	return true
}

// rateFromMIME extracts the rate parameter of "audio/pcm;rate=24000".
func rateFromMIME(mime string, fallback int) int {
	for param := range strings.SplitSeq(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || k != "rate" {
			continue
		}
		if r, err := strconv.Atoi(v); err == nil && r > 0 {
			return r
		}
	}
	return fallback
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio delivers one PCM16 chunk wrapped in a base64 media envelope.
func (s *session) SendAudio(chunk audio.EncodedChunk) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s2s.ErrSessionClosed
	}
	s.mu.Unlock()

	mime := chunk.MIMEType
	if mime == "" {
		mime = audio.PCMMIMEType(inputSampleRate)
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: mime, Data: base64.StdEncoding.EncodeToString(chunk.Data)},
			},
		},
	}
	if err := s.writeJSON(msg); err != nil {
		return fmt.Errorf("gemini: send audio: %w", err)
	}
	return nil
}

// Events returns the normalised event stream.
func (s *session) Events() <-chan s2s.Event { return s.events }

// Update is not supported by the Gemini Live protocol; the setup message is
// fixed for the lifetime of the socket.
func (s *session) Update(_ s2s.SessionConfig) error {
	return s2s.ErrUpdateUnsupported
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
