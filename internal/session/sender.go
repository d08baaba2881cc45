package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/dolmetscher/internal/resilience"
	"github.com/MrWong99/dolmetscher/pkg/audio"
	"github.com/MrWong99/dolmetscher/pkg/provider/s2s"
)

// Drop reasons reported to [Metrics.ChunkDropped].
const (
	DropQueueFull = "queue_full"
	DropInactive  = "inactive"
	DropCircuit   = "circuit_open"
	DropSendError = "send_error"
)

// sender drains the pipeline's chunk queue in capture order and forwards each
// chunk to the active session. The active handle is swapped by the event
// loop and read here immediately before every send.
type sender struct {
	active  atomic.Pointer[s2s.SessionHandle]
	breaker *resilience.CircuitBreaker
	metrics Metrics

	sent atomic.Uint64
}

func newSender(breaker *resilience.CircuitBreaker, m Metrics) *sender {
	return &sender{breaker: breaker, metrics: m}
}

// setActive installs h as the send target. A nil h stops all sends.
func (s *sender) setActive(h s2s.SessionHandle) {
	if h == nil {
		s.active.Store(nil)
		return
	}
	s.active.Store(&h)
	s.breaker.Reset()
}

// run forwards chunks until the pipeline is released or ctx ends.
func (s *sender) run(ctx context.Context, p *audio.Pipeline) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.Done():
			return
		case chunk := <-p.Chunks():
			s.send(chunk)
		}
	}
}

func (s *sender) send(chunk audio.EncodedChunk) {
	hp := s.active.Load()
	if hp == nil {
		s.metrics.ChunkDropped(DropInactive)
		return
	}
	h := *hp
	err := s.breaker.Execute(func() error { return h.SendAudio(chunk) })
	switch {
	case err == nil:
		s.sent.Add(1)
		s.metrics.ChunkSent()
	case errors.Is(err, resilience.ErrCircuitOpen):
		s.metrics.ChunkDropped(DropCircuit)
	default:
		slog.Debug("send audio failed", "seq", chunk.Seq, "err", err)
		s.metrics.ChunkDropped(DropSendError)
	}
}

// drainQueued discards chunks captured while no session was active so a new
// session starts with live audio.
func drainQueued(p *audio.Pipeline) int {
	n := 0
	for {
		select {
		case <-p.Chunks():
			n++
		default:
			return n
		}
	}
}
