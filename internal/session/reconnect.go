package session

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultReconnectBackoff is the fixed delay before a session is reopened.
const DefaultReconnectBackoff = 2 * time.Second

// Reconnector arms at most one reconnect timer at a time. When the timer
// fires, the sequence number it was armed with is passed to the fire
// callback so that a timer cancelled too late can be recognised as stale.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	backoff time.Duration
	fire    func(seq uint64)

	mu    sync.Mutex
	timer *time.Timer
	seq   uint64
}

// NewReconnector creates a [Reconnector] calling fire from the timer
// goroutine. A non-positive backoff selects [DefaultReconnectBackoff].
func NewReconnector(backoff time.Duration, fire func(seq uint64)) *Reconnector {
	if backoff <= 0 {
		backoff = DefaultReconnectBackoff
	}
	return &Reconnector{backoff: backoff, fire: fire}
}

// Schedule arms the timer for seq. It returns false and does nothing if a
// timer is already armed.
func (r *Reconnector) Schedule(seq uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		slog.Debug("reconnect already pending", "seq", r.seq)
		return false
	}
	r.seq = seq
	r.timer = time.AfterFunc(r.backoff, func() {
		r.mu.Lock()
		if r.seq != seq || r.timer == nil {
			r.mu.Unlock()
			return
		}
		r.timer = nil
		r.mu.Unlock()
		r.fire(seq)
	})
	slog.Info("reconnect scheduled", "seq", seq, "backoff", r.backoff)
	return true
}

// Cancel disarms a pending timer. It reports whether one was pending.
func (r *Reconnector) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer == nil {
		return false
	}
	r.timer.Stop()
	r.timer = nil
	return true
}

// Pending reports whether a timer is armed.
func (r *Reconnector) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}

// Backoff returns the configured delay.
func (r *Reconnector) Backoff() time.Duration { return r.backoff }
