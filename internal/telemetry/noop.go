package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Noop implements Logger, Metrics, and Tracer by discarding everything it is
// given. Unlike the three independent zero-size types this grew from, a
// single Noop value satisfies all three telemetry contracts at once, since
// every suspending call site in the core (engine, bridge, registry,
// validation, memory, eventbus) takes a Logger and a Metrics together and
// there is never a reason to disable one without the other in tests.
type Noop struct{}

// noopSpan discards span operations; Noop.Start and Noop.Span both hand one
// back so a disabled Tracer never forces a nil check at call sites.
type noopSpan struct{}

// NewNoopLogger constructs a Logger that discards all log messages. Used by
// component constructors (e.g. engine.New) as the zero-value default before
// WithLogger is applied, and by tests that don't care about log output.
func NewNoopLogger() Logger {
	return Noop{}
}

// NewNoopMetrics constructs a Metrics recorder that discards all metrics.
func NewNoopMetrics() Metrics {
	return Noop{}
}

// NewNoopTracer constructs a Tracer that creates no-op spans.
func NewNoopTracer() Tracer {
	return Noop{}
}

// Debug discards the log message.
func (Noop) Debug(context.Context, string, ...any) {}

// Info discards the log message.
func (Noop) Info(context.Context, string, ...any) {}

// Warn discards the log message.
func (Noop) Warn(context.Context, string, ...any) {}

// Error discards the log message.
func (Noop) Error(context.Context, string, ...any) {}

// IncCounter discards the counter metric.
func (Noop) IncCounter(string, float64, ...string) {}

// RecordTimer discards the timer metric.
func (Noop) RecordTimer(string, time.Duration, ...string) {}

// RecordGauge discards the gauge metric.
func (Noop) RecordGauge(string, float64, ...string) {}

// Start returns ctx unchanged alongside a no-op span.
func (Noop) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, Span) {
	return ctx, noopSpan{}
}

// Span returns a no-op span regardless of what's in ctx.
func (Noop) Span(context.Context) Span {
	return noopSpan{}
}

// End is a no-op.
func (noopSpan) End(...trace.SpanEndOption) {}

// AddEvent is a no-op.
func (noopSpan) AddEvent(string, ...any) {}

// SetStatus is a no-op.
func (noopSpan) SetStatus(codes.Code, string) {}

// RecordError is a no-op.
func (noopSpan) RecordError(error, ...trace.EventOption) {}
