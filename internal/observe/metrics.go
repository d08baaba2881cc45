// Package observe provides the observability primitives for Dolmetscher:
// OpenTelemetry metrics, tracing, structured logging and the HTTP middleware
// that ties them together on the status server.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to
// Prometheus by [InitProvider] so they can be scraped from /metrics. Tests
// should use [NewMetrics] with a private [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Dolmetscher metrics.
const meterName = "github.com/MrWong99/dolmetscher"

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation, so a *Metrics
// may be shared between the session loop, the capture thread and the status
// server.
//
// *Metrics satisfies the coordinator's and the playback scheduler's metrics
// interfaces directly.
type Metrics struct {
	// SessionOpenDuration tracks the latency of opening a provider session.
	SessionOpenDuration metric.Float64Histogram

	// SessionOpens counts open attempts. Attributes: provider, status.
	SessionOpens metric.Int64Counter

	// ActiveSessions is the number of adopted live sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// StateChanges counts connection state transitions. Attribute: state.
	StateChanges metric.Int64Counter

	// Reconnects counts scheduled session reopens. Attribute: cause.
	Reconnects metric.Int64Counter

	// WatchdogTimeouts counts sessions declared dead by the liveness watchdog.
	WatchdogTimeouts metric.Int64Counter

	// EventsReceived counts inbound session events. Attribute: type.
	EventsReceived metric.Int64Counter

	// ChunksSent counts outbound audio chunks handed to the provider.
	ChunksSent metric.Int64Counter

	// ChunksDropped counts outbound chunks that never reached a provider.
	// Attribute: reason.
	ChunksDropped metric.Int64Counter

	// PlaybackUnits counts scheduled output buffers.
	PlaybackUnits metric.Int64Counter

	// DecodeFailures counts inbound audio payloads that could not be decoded.
	DecodeFailures metric.Int64Counter

	// Interruptions counts barge-ins that stopped playback.
	Interruptions metric.Int64Counter

	// TranscriptMessages counts transcript messages pushed to the history.
	TranscriptMessages metric.Int64Counter

	// HTTPRequestDuration tracks status server request time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// session handshakes, which range from tens of milliseconds to several
// seconds on a cold connection.
var latencyBuckets = []float64{
	0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var errs []error

	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	var err error
	met.SessionOpenDuration, err = m.Float64Histogram("dolmetscher.session.open.duration",
		metric.WithDescription("Latency of opening a provider session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	errs = append(errs, err)
	met.ActiveSessions, err = m.Int64UpDownCounter("dolmetscher.active_sessions",
		metric.WithDescription("Number of adopted live sessions."),
	)
	errs = append(errs, err)
	met.HTTPRequestDuration, err = m.Float64Histogram("dolmetscher.http.request.duration",
		metric.WithDescription("Status server request latency by method and path."),
		metric.WithUnit("s"),
	)
	errs = append(errs, err)

	met.SessionOpens = counter("dolmetscher.session.opens", "Session open attempts by provider and status.")
	met.StateChanges = counter("dolmetscher.state.changes", "Connection state transitions by target state.")
	met.Reconnects = counter("dolmetscher.reconnects", "Scheduled session reopens by cause.")
	met.WatchdogTimeouts = counter("dolmetscher.watchdog.timeouts", "Sessions declared dead by the liveness watchdog.")
	met.EventsReceived = counter("dolmetscher.events.received", "Inbound session events by type.")
	met.ChunksSent = counter("dolmetscher.audio.chunks.sent", "Outbound audio chunks handed to the provider.")
	met.ChunksDropped = counter("dolmetscher.audio.chunks.dropped", "Outbound audio chunks dropped by reason.")
	met.PlaybackUnits = counter("dolmetscher.playback.units", "Scheduled playback buffers.")
	met.DecodeFailures = counter("dolmetscher.playback.decode_failures", "Inbound audio payloads that failed to decode.")
	met.Interruptions = counter("dolmetscher.interruptions", "Barge-ins that stopped playback.")
	met.TranscriptMessages = counter("dolmetscher.transcript.messages", "Finalized transcript messages.")

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func one(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if len(attrs) == 0 {
		c.Add(ctx, 1)
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// StateChanged records a transition into state.
func (m *Metrics) StateChanged(state string) {
	one(context.Background(), m.StateChanges, Attr("state", state))
}

// SessionOpened records one open attempt and, on success, its latency.
func (m *Metrics) SessionOpened(provider string, latency time.Duration, err error) {
	ctx := context.Background()
	status := "ok"
	if err != nil {
		status = "error"
	}
	one(ctx, m.SessionOpens, Attr("provider", provider), Attr("status", status))
	if err == nil {
		m.SessionOpenDuration.Record(ctx, latency.Seconds(),
			metric.WithAttributes(Attr("provider", provider)))
	}
}

func (m *Metrics) SessionActive(delta int64) {
	m.ActiveSessions.Add(context.Background(), delta)
}

func (m *Metrics) Reconnect(cause string) {
	one(context.Background(), m.Reconnects, Attr("cause", cause))
}

func (m *Metrics) WatchdogTimeout() { one(context.Background(), m.WatchdogTimeouts) }

func (m *Metrics) EventReceived(eventType string) {
	one(context.Background(), m.EventsReceived, Attr("type", eventType))
}

func (m *Metrics) ChunkSent() { one(context.Background(), m.ChunksSent) }

func (m *Metrics) ChunkDropped(reason string) {
	one(context.Background(), m.ChunksDropped, Attr("reason", reason))
}

func (m *Metrics) UnitScheduled() { one(context.Background(), m.PlaybackUnits) }
func (m *Metrics) DecodeFailed()  { one(context.Background(), m.DecodeFailures) }
func (m *Metrics) Interruption()  { one(context.Background(), m.Interruptions) }

func (m *Metrics) MessagesFinalized(n int) {
	if n <= 0 {
		return
	}
	m.TranscriptMessages.Add(context.Background(), int64(n))
}
