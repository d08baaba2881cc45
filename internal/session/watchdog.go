package session

import (
	"sync/atomic"
	"time"
)

// Default liveness parameters.
const (
	DefaultWatchdogInterval = 5 * time.Second
	DefaultWatchdogTimeout  = 15 * time.Second
)

// Watchdog tracks when the last inbound event arrived. A zero last-seen
// value means the watchdog is disarmed.
//
// Touch may be called from any goroutine.
type Watchdog struct {
	timeout  time.Duration
	lastSeen atomic.Int64
}

// NewWatchdog returns a disarmed Watchdog. A non-positive timeout selects
// [DefaultWatchdogTimeout].
func NewWatchdog(timeout time.Duration) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultWatchdogTimeout
	}
	return &Watchdog{timeout: timeout}
}

// Touch records an inbound event at t.
func (w *Watchdog) Touch(t time.Time) { w.lastSeen.Store(t.UnixNano()) }

// Reset disarms the watchdog.
func (w *Watchdog) Reset() { w.lastSeen.Store(0) }

// LastSeen returns the time of the last inbound event, or the zero time.
func (w *Watchdog) LastSeen() time.Time {
	ns := w.lastSeen.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Expired reports whether the watchdog is armed and more than the timeout has
// passed since the last inbound event.
func (w *Watchdog) Expired(now time.Time) bool {
	ns := w.lastSeen.Load()
	return ns != 0 && now.UnixNano()-ns > int64(w.timeout)
}

// Timeout returns the configured timeout.
func (w *Watchdog) Timeout() time.Duration { return w.timeout }
