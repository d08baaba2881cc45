package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the int64 sum data point carrying key=value,
// or the total over all points when key is empty.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if key == "" {
			total += dp.Value
			continue
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestSessionOpened(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.SessionOpened("gemini-live", 120*time.Millisecond, nil)
	m.SessionOpened("gemini-live", 340*time.Millisecond, nil)
	m.SessionOpened("gemini-live", 0, errors.New("dial: refused"))

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "dolmetscher.session.opens", "status", "ok"); got != 2 {
		t.Errorf("ok opens = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "dolmetscher.session.opens", "status", "error"); got != 1 {
		t.Errorf("failed opens = %d, want 1", got)
	}

	met := findMetric(rm, "dolmetscher.session.open.duration")
	if met == nil {
		t.Fatal("open duration histogram not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("open duration is not a histogram")
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2 (failed opens carry no latency)", got)
	}
}

func TestLabelledCounters(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.StateChanged("connecting")
	m.StateChanged("connected")
	m.StateChanged("connecting")
	m.Reconnect("watchdog")
	m.Reconnect("remote_close")
	m.Reconnect("remote_close")
	m.EventReceived("audio")
	m.EventReceived("audio")
	m.EventReceived("turn_complete")
	m.ChunkDropped("inactive")
	m.ChunkDropped("queue_full")
	m.ChunkDropped("inactive")

	rm := collect(t, reader)

	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"dolmetscher.state.changes", "state", "connecting", 2},
		{"dolmetscher.state.changes", "state", "connected", 1},
		{"dolmetscher.reconnects", "cause", "remote_close", 2},
		{"dolmetscher.reconnects", "cause", "watchdog", 1},
		{"dolmetscher.events.received", "type", "audio", 2},
		{"dolmetscher.events.received", "type", "turn_complete", 1},
		{"dolmetscher.audio.chunks.dropped", "reason", "inactive", 2},
		{"dolmetscher.audio.chunks.dropped", "reason", "queue_full", 1},
	}
	for _, tc := range tests {
		t.Run(tc.metric+"/"+tc.value, func(t *testing.T) {
			if got := sumWhere(t, rm, tc.metric, tc.key, tc.value); got != tc.want {
				t.Errorf("%s{%s=%q} = %d, want %d", tc.metric, tc.key, tc.value, got, tc.want)
			}
		})
	}
}

func TestPlainCounters(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.WatchdogTimeout()
	m.ChunkSent()
	m.ChunkSent()
	m.ChunkSent()
	m.UnitScheduled()
	m.UnitScheduled()
	m.DecodeFailed()
	m.Interruption()
	m.MessagesFinalized(2)
	m.MessagesFinalized(0)

	rm := collect(t, reader)

	tests := []struct {
		name string
		want int64
	}{
		{"dolmetscher.watchdog.timeouts", 1},
		{"dolmetscher.audio.chunks.sent", 3},
		{"dolmetscher.playback.units", 2},
		{"dolmetscher.playback.decode_failures", 1},
		{"dolmetscher.interruptions", 1},
		{"dolmetscher.transcript.messages", 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sumWhere(t, rm, tc.name, "", ""); got != tc.want {
				t.Errorf("%s = %d, want %d", tc.name, got, tc.want)
			}
		})
	}
}

func TestActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.SessionActive(1)
	m.SessionActive(-1)
	m.SessionActive(1)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "dolmetscher.active_sessions", "", ""); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/status"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "dolmetscher.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
