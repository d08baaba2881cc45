// Package playback schedules decoded translation audio onto an
// [audio.Output] so that consecutive buffers play back to back without gaps
// or overlaps, and supports an immediate full stop on interruption.
package playback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/dolmetscher/pkg/audio"
)

// Metrics receives scheduler events. Implementations must be cheap and safe
// for concurrent use.
type Metrics interface {
	UnitScheduled()
	DecodeFailed()
}

type nopMetrics struct{}

func (nopMetrics) UnitScheduled() {}
func (nopMetrics) DecodeFailed()  {}

// Unit is one scheduled buffer.
type Unit struct {
	Start    time.Duration
	Duration time.Duration

	voice audio.Voice
}

// Scheduler owns the next-start cursor and the set of active units.
//
// All exported methods are safe for concurrent use.
type Scheduler struct {
	out     audio.Output
	metrics Metrics

	mu     sync.Mutex
	cursor time.Duration
	active map[*Unit]struct{}
	epoch  uint64
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithMetrics installs a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New creates a Scheduler playing onto out.
func New(out audio.Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:     out,
		metrics: nopMetrics{},
		active:  make(map[*Unit]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue schedules buf at max(cursor, now) and advances the cursor by the
// buffer's duration. The unit removes itself from the active set when it
// finishes naturally.
func (s *Scheduler) Enqueue(buf *audio.Buffer) (*Unit, error) {
	if buf == nil || buf.Frames() == 0 {
		return nil, audio.ErrEmptyPCM
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := max(s.cursor, s.out.Now())
	u := &Unit{Start: start, Duration: buf.Duration()}
	epoch := s.epoch
	v, err := s.out.Play(buf, start, func() { s.finished(u, epoch) })
	if err != nil {
		return nil, fmt.Errorf("playback: enqueue: %w", err)
	}
	u.voice = v
	s.active[u] = struct{}{}
	s.cursor = start + u.Duration
	s.metrics.UnitScheduled()
	return u, nil
}

// EnqueuePCM decodes little-endian PCM16 and schedules it. A decode failure
// is logged and the chunk dropped; the scheduler keeps running.
func (s *Scheduler) EnqueuePCM(data []byte, sampleRate, channels int) {
	buf, err := audio.DecodePCM16(data, sampleRate, channels)
	if err != nil {
		s.metrics.DecodeFailed()
		slog.Warn("playback: dropping undecodable chunk", "bytes", len(data), "err", err)
		return
	}
	if _, err := s.Enqueue(buf); err != nil {
		slog.Warn("playback: dropping chunk", "err", err)
	}
}

// Interrupt stops every active unit, clears the active set and resets the
// cursor to zero. It returns the number of units stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	units := s.active
	s.active = make(map[*Unit]struct{})
	s.cursor = 0
	s.epoch++
	s.mu.Unlock()

	for u := range units {
		u.voice.Stop()
	}
	return len(units)
}

// Active returns the number of units scheduled or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Cursor returns the start time the next back-to-back unit would receive.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// finished runs on the output's completion path. Completions from before the
// last interruption are ignored.
func (s *Scheduler) finished(u *Unit, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	delete(s.active, u)
}
