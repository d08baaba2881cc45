package session

import (
	"time"

	"github.com/MrWong99/dolmetscher/pkg/audio/playback"
)

// Metrics receives coordinator telemetry. States and event types are passed
// by name. Implementations must be safe for
// concurrent use; ChunkSent and ChunkDropped are called from the send path
// and the capture thread.
type Metrics interface {
	playback.Metrics

	StateChanged(state string)
	SessionOpened(provider string, latency time.Duration, err error)
	SessionActive(delta int64)
	Reconnect(cause string)
	WatchdogTimeout()
	EventReceived(eventType string)
	ChunkSent()
	ChunkDropped(reason string)
	Interruption()
	MessagesFinalized(n int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) UnitScheduled()                             {}
func (NopMetrics) DecodeFailed()                              {}
func (NopMetrics) StateChanged(string)                        {}
func (NopMetrics) SessionOpened(string, time.Duration, error) {}
func (NopMetrics) SessionActive(int64)                        {}
func (NopMetrics) Reconnect(string)                           {}
func (NopMetrics) WatchdogTimeout()                           {}
func (NopMetrics) EventReceived(string)                       {}
func (NopMetrics) ChunkSent()                                 {}
func (NopMetrics) ChunkDropped(string)                        {}
func (NopMetrics) Interruption()                              {}
func (NopMetrics) MessagesFinalized(int)                      {}

var _ Metrics = NopMetrics{}
