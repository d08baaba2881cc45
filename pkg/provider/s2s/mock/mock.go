// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Open calls and hand out controllable sessions. Use
// Session to script inbound events and inspect what the coordinator sent.
//
// Example:
//
//	p := &mock.Provider{Caps: s2s.Capabilities{InputSampleRate: 16000}}
//	handle, _ := p.Open(ctx, cfg)
//	sess := p.LastSession()
//	sess.Emit(s2s.Event{Type: s2s.EventPartialInput, Text: "Hel"})
//	sess.CloseRemote("server restart")
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/dolmetscher/pkg/audio"
	"github.com/MrWong99/dolmetscher/pkg/provider/s2s"
)

// OpenCall records a single invocation of Provider.Open.
type OpenCall struct {
	// Cfg is the SessionConfig passed to Open.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider. Every successful Open
// returns a fresh [Session].
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Caps is returned by Capabilities.
	Caps s2s.Capabilities

	// OpenErr, if non-nil, is returned as the error from Open.
	OpenErr error

	// OpenErrs are returned by successive Open calls before OpenErr is
	// consulted. Nil entries succeed.
	OpenErrs []error

	// Gate, if non-nil, makes Open block until it receives a value or ctx
	// is done.
	Gate chan struct{}

	// OpenCalls records every call to Open in order.
	OpenCalls []OpenCall

	// Sessions records every session handed out in order.
	Sessions []*Session
}

// Open records the call and returns a new Session or the configured error.
func (p *Provider) Open(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	gate := p.Gate
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.OpenCalls = append(p.OpenCalls, OpenCall{Cfg: cfg})
	if len(p.OpenErrs) > 0 {
		err := p.OpenErrs[0]
		p.OpenErrs = p.OpenErrs[1:]
		if err != nil {
			return nil, err
		}
	} else if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	s := NewSession()
	s.Config = cfg
	s.liveUpdate = p.Caps.LiveUpdate
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// Name implements s2s.Provider.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Capabilities implements s2s.Provider.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Caps
}

// OpenCount returns the number of Open calls so far.
func (p *Provider) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.OpenCalls)
}

// FailNextOpens queues errs for the next Open calls.
func (p *Provider) FailNextOpens(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OpenErrs = append(p.OpenErrs, errs...)
}

// LastSession returns the most recently opened session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// AllSessions returns a snapshot of every session handed out.
func (p *Provider) AllSessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.Sessions))
	copy(out, p.Sessions)
	return out
}

// SessionCount returns the number of sessions handed out.
func (p *Provider) SessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Sessions)
}

// ─── Session ──────────────────────────────────────────────────────────────────

// Session is a mock implementation of s2s.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Config is the SessionConfig the session was opened with.
	Config s2s.SessionConfig

	// SendErr, if non-nil, is returned by SendAudio.
	SendErr error

	// Sent records every chunk passed to SendAudio.
	Sent []audio.EncodedChunk

	// Updates records every config passed to Update.
	Updates []s2s.SessionConfig

	// CloseCount is the number of times Close was called.
	CloseCount int

	liveUpdate bool
	events     chan s2s.Event
	ended      bool
}

// NewSession returns a session with a buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan s2s.Event, 256)}
}

// SendAudio implements s2s.SessionHandle.
func (s *Session) SendAudio(chunk audio.EncodedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CloseCount > 0 {
		return s2s.ErrSessionClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.Sent = append(s.Sent, chunk)
	return nil
}

// Events implements s2s.SessionHandle.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Update implements s2s.SessionHandle. It records cfg when the provider
// advertises live updates and returns ErrUpdateUnsupported otherwise.
func (s *Session) Update(cfg s2s.SessionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.liveUpdate {
		return s2s.ErrUpdateUnsupported
	}
	s.Updates = append(s.Updates, cfg)
	return nil
}

// Close implements s2s.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCount++
	s.mu.Unlock()
	s.end(s2s.Event{Type: s2s.EventClosed, Reason: "closed locally"})
	return nil
}

// Emit delivers ev to the event stream. It is a no-op after the session ended.
func (s *Session) Emit(ev s2s.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if ev.Received.IsZero() {
		ev.Received = time.Now()
	}
	s.events <- ev
}

// CloseRemote simulates the provider closing the session.
func (s *Session) CloseRemote(reason string) {
	s.end(s2s.Event{Type: s2s.EventClosed, Reason: reason, Err: errors.New(reason)})
}

func (s *Session) end(ev s2s.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	ev.Received = time.Now()
	select {
	case s.events <- ev:
	default:
	}
	close(s.events)
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCount > 0
}

// SentCount returns the number of chunks received by SendAudio.
func (s *Session) SentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Sent)
}

// SentChunks returns a snapshot of the chunks received by SendAudio.
func (s *Session) SentChunks() []audio.EncodedChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.EncodedChunk, len(s.Sent))
	copy(out, s.Sent)
	return out
}

// UpdateCount returns the number of successful Update calls.
func (s *Session) UpdateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Updates)
}
