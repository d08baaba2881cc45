// Package openai implements the s2s.Provider interface for OpenAI's Realtime
// API over WebRTC.
//
// A session is a pion peer connection carrying one bidirectional Opus audio
// track and the "oai-events" data channel. The offer is posted once to the
// calls endpoint and the SDP answer applied; ICE gathering is bounded so a
// slow candidate never stalls the handshake. Translated audio is decoded from
// the remote track by the adapter and delivered as ready-to-play buffers,
// while transcripts and control events arrive as JSON on the data channel
// and are normalised into s2s.Event.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/dolmetscher/pkg/audio"
	"github.com/MrWong99/dolmetscher/pkg/provider/s2s"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

// Name is the registry name of this provider.
const Name = "openai-webrtc"

const (
	defaultModel   = "gpt-realtime"
	defaultBaseURL = "https://api.openai.com/v1/realtime/calls"

	dataChannelLabel  = "oai-events"
	defaultICETimeout = 2 * time.Second
	eventBuffer       = 64
	maxAnswerBytes    = 1 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the SDP exchange endpoint. Primarily used in tests to
// point at a local answerer.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithHTTPClient sets the client used for the SDP exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithICETimeout bounds ICE candidate gathering before the offer is sent
// with whatever candidates are available.
func WithICETimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.iceTimeout = d
		}
	}
}

// WithICEServers replaces the STUN/TURN servers used for gathering.
func WithICEServers(urls ...string) Option {
	return func(p *Provider) {
		p.iceServers = nil
		if len(urls) > 0 {
			p.iceServers = []webrtc.ICEServer{{URLs: urls}}
		}
	}
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for OpenAI's Realtime API over WebRTC.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	iceTimeout time.Duration
	iceServers []webrtc.ICEServer
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		iceTimeout: defaultICETimeout,
		iceServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns the registry name.
func (p *Provider) Name() string { return Name }

// Capabilities returns static metadata about the provider. Outbound audio is
// Opus-encoded at 48 kHz, so the encoding stage should not downsample.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		InputSampleRate:  opusSampleRate,
		OutputSampleRate: opusSampleRate,
		LiveUpdate:       true,
	}
}

// Open negotiates the peer connection and returns once the SDP answer has
// been applied. session.update is sent as soon as the data channel opens.
func (p *Provider) Open(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: p.iceServers})
	if err != nil {
		return nil, fmt.Errorf("openai: new peer connection: %w", err)
	}

	sess, err := newSession(pc, cfg)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	answer, err := p.negotiate(ctx, pc)
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("openai: set remote description: %w", err)
	}
	return sess, nil
}

// negotiate creates the offer, waits for ICE gathering up to the configured
// timeout and exchanges it for the provider's answer.
func (p *Provider) negotiate(ctx context.Context, pc *webrtc.PeerConnection) (string, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("openai: create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("openai: set local description: %w", err)
	}

	timer := time.NewTimer(p.iceTimeout)
	defer timer.Stop()
	select {
	case <-gathered:
	case <-timer.C:
		slog.Debug("openai: ice gathering timed out, sending partial candidates", "timeout", p.iceTimeout)
	case <-ctx.Done():
		return "", fmt.Errorf("openai: ice gathering: %w", ctx.Err())
	}

	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", fmt.Errorf("openai: parse base url: %w", err)
	}
	q := u.Query()
	q.Set("model", p.model)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(pc.LocalDescription().SDP))
	if err != nil {
		return "", fmt.Errorf("openai: build sdp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: sdp exchange: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerBytes))
	if err != nil {
		return "", fmt.Errorf("openai: read sdp answer: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("openai: sdp exchange: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	pc    *webrtc.PeerConnection
	dc    *webrtc.DataChannel
	track *webrtc.TrackLocalStaticSample
	tr    *translator

	sendMu sync.Mutex
	enc    *opusEncoder

	cfgMu  sync.Mutex
	cfg    s2s.SessionConfig
	dcOpen bool

	// emitMu guards events against sends after close: emitters hold the read
	// lock, finish holds the write lock.
	emitMu   sync.RWMutex
	finished bool
	events   chan s2s.Event

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(pc *webrtc.PeerConnection, cfg s2s.SessionConfig) (*session, error) {
	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusSampleRate, Channels: 2},
		"audio", "dolmetscher",
	)
	if err != nil {
		return nil, fmt.Errorf("openai: new local track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("openai: add track: %w", err)
	}
	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return nil, fmt.Errorf("openai: create data channel: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		pc:     pc,
		dc:     dc,
		track:  track,
		tr:     newTranslator(),
		enc:    enc,
		cfg:    cfg,
		events: make(chan s2s.Event, eventBuffer),
		ctx:    ctx,
		cancel: cancel,
	}

	// RTCP must be read for interceptors to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	dc.OnOpen(s.onDataChannelOpen)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			return
		}
		ev, ok := s.tr.translate(msg.Data)
		if !ok {
			slog.Debug("openai: skipping malformed event", "bytes", len(msg.Data))
			return
		}
		s.emit(ev)
	})
	dc.OnClose(func() { s.finish("data channel closed", nil) })

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		go s.readTrack(remote)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed:
			s.finish("peer connection failed", errors.New("openai: peer connection failed"))
		case webrtc.PeerConnectionStateClosed:
			s.finish("peer connection closed", nil)
		}
	})
	return s, nil
}

func (s *session) onDataChannelOpen() {
	s.cfgMu.Lock()
	s.dcOpen = true
	cfg := s.cfg
	s.cfgMu.Unlock()
	if err := s.sendJSON(buildSessionUpdate(cfg)); err != nil {
		slog.Warn("openai: initial session.update failed", "err", err)
	}
}

// readTrack decodes the remote Opus track until it ends.
func (s *session) readTrack(remote *webrtc.TrackRemote) {
	dec, err := newOpusDecoder()
	if err != nil {
		slog.Error("openai: remote track unusable", "err", err)
		return
	}
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		buf, err := dec.decode(pkt.Payload)
		if err != nil {
			slog.Debug("openai: dropping undecodable packet", "err", err)
			continue
		}
		if !s.emit(s2s.Event{Type: s2s.EventAudio, Buffer: buf, SampleRate: buf.SampleRate, Channels: buf.Channels}) {
			return
		}
	}
}

// emit delivers ev unless the session has finished.
func (s *session) emit(ev s2s.Event) bool {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if s.finished {
		return false
	}
	ev.Received = time.Now()
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// finish emits EventClosed once and closes the events channel.
func (s *session) finish(reason string, cause error) {
	local := s.ctx.Err() != nil
	s.emitMu.Lock()
	if s.finished {
		s.emitMu.Unlock()
		return
	}
	s.finished = true
	ev := s2s.Event{Type: s2s.EventClosed, Reason: reason, Err: cause, Received: time.Now()}
	if local {
		select {
		case s.events <- ev:
		default:
		}
	} else {
		s.events <- ev
	}
	close(s.events)
	s.emitMu.Unlock()

	if !local {
		go s.Close()
	}
}

func (s *session) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	if err := s.dc.SendText(string(data)); err != nil {
		return fmt.Errorf("openai: data channel send: %w", err)
	}
	return nil
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio Opus-encodes the chunk in 20 ms frames onto the media track.
func (s *session) SendAudio(chunk audio.EncodedChunk) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s2s.ErrSessionClosed
	}
	s.mu.Unlock()

	pcm := audio.BytesToInt16s(chunk.Data)
	if chunk.SampleRate != 0 && chunk.SampleRate != opusSampleRate {
		buf, err := audio.DecodePCM16(chunk.Data, chunk.SampleRate, 1)
		if err != nil {
			return fmt.Errorf("openai: send audio: %w", err)
		}
		buf = audio.ResampleBuffer(buf, opusSampleRate)
		pcm = make([]int16, len(buf.Samples))
		for i, f := range buf.Samples {
			pcm[i] = audio.FloatToPCM16(f)
		}
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	packets, err := s.enc.encode(pcm)
	for _, pkt := range packets {
		if werr := s.track.WriteSample(media.Sample{Data: pkt, Duration: opusFrameSizeMs * time.Millisecond}); werr != nil {
			return fmt.Errorf("openai: write sample: %w", werr)
		}
	}
	return err
}

// Events returns the normalised event stream.
func (s *session) Events() <-chan s2s.Event { return s.events }

// Update sends session.update over the data channel. If the channel is not
// open yet the config is sent when it opens.
func (s *session) Update(cfg s2s.SessionConfig) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return s2s.ErrSessionClosed
	}

	s.cfgMu.Lock()
	s.cfg = cfg
	open := s.dcOpen
	s.cfgMu.Unlock()
	if !open {
		return nil
	}
	return s.sendJSON(buildSessionUpdate(cfg))
}

// Close tears down the peer connection. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	err := s.pc.Close()
	s.finish("closed locally", nil)
	if err != nil {
		return fmt.Errorf("openai: close: %w", err)
	}
	return nil
}
