package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/dolmetscher"

// Attribute keys carried by session spans.
const (
	AttrProvider   = attribute.Key("dolmetscher.provider")
	AttrGeneration = attribute.Key("dolmetscher.generation")
	AttrSampleRate = attribute.Key("dolmetscher.audio.sample_rate")
)

// Tracer returns the Dolmetscher tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartSessionSpan starts a span for one acquisition of generation gen. An
// empty provider is left off, which is the case for pipeline acquisitions.
// The returned logger carries the same fields and the trace IDs.
func StartSessionSpan(ctx context.Context, name, provider string, gen uint64) (context.Context, trace.Span, *slog.Logger) {
	attrs := []attribute.KeyValue{AttrGeneration.Int64(int64(gen))}
	logArgs := []any{"gen", gen}
	if provider != "" {
		attrs = append(attrs, AttrProvider.String(provider))
		logArgs = append(logArgs, "provider", provider)
	}
	ctx, span := StartSpan(ctx, name, trace.WithAttributes(attrs...))
	return ctx, span, Logger(ctx).With(logArgs...)
}

// EndSpan marks span failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "" when there is
// none. The status server echoes it in X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id added when ctx
// carries a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
}
