package telemetry

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

// instrumentationName identifies this module's meter and tracer to whatever
// OTEL provider clue.ConfigureOpenTelemetry wires up, so exported spans and
// metrics are attributed to the cognitive-cycle core rather than a generic
// package path.
const instrumentationName = "github.com/orpar-labs/orpar-core"

// metricPrefix namespaces every counter/timer/gauge name this package emits
// so they sit alongside the rest of the core's metrics (e.g. the registry's
// circuit-breaker counters, the bridge's queue-depth gauge) under one
// Prometheus/OTEL namespace without each call site repeating it.
const metricPrefix = "orpar_"

type (
	// ClueLogger wraps goa.design/clue/log for runtime logging, tagging every
	// line with the emitting component so a loop's Observe/Reason/Plan/Act/
	// Reflect events can be told apart from bridge or registry log output in
	// a shared stream.
	ClueLogger struct {
		component string
	}

	// ClueMetrics wraps OTEL metrics for runtime instrumentation.
	ClueMetrics struct {
		meter metric.Meter
	}

	// ClueTracer wraps OTEL tracing for runtime tracing.
	ClueTracer struct {
		tracer trace.Tracer
	}

	// clueSpan wraps an OTEL trace span.
	clueSpan struct {
		span trace.Span
	}
)

// NewClueLogger constructs a Logger that delegates to goa.design/clue/log.
// The logger reads formatting and debug settings from the context (set via
// log.Context and log.WithFormat/log.WithDebug).
func NewClueLogger() Logger {
	return ClueLogger{}
}

// NewComponentLogger returns a Logger that tags every line it emits with
// component (e.g. "engine", "bridge", "registry") so orparctl's combined
// log stream can be filtered per subsystem without a separate logger tree
// per package.
func NewComponentLogger(component string) Logger {
	return ClueLogger{component: component}
}

// NewClueMetrics constructs a Metrics recorder that delegates to OTEL metrics.
// Uses the global MeterProvider; configure it via otel.SetMeterProvider before
// invoking runtime methods (typically done via clue.ConfigureOpenTelemetry).
func NewClueMetrics() Metrics {
	meter := otel.Meter(instrumentationName)
	return &ClueMetrics{meter: meter}
}

// NewClueTracer constructs a Tracer that delegates to OTEL tracing.
// Uses the global TracerProvider; configure it via otel.SetTracerProvider before
// invoking runtime methods (typically done via clue.ConfigureOpenTelemetry or
// environment variables like OTEL_EXPORTER_OTLP_ENDPOINT).
func NewClueTracer() Tracer {
	tracer := otel.Tracer(instrumentationName)
	return &ClueTracer{tracer: tracer}
}

// Debug emits a debug-level log message with structured key-value pairs.
func (l ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, l.fields(msg, keyvals)...)
}

// Info emits an info-level log message with structured key-value pairs.
func (l ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, l.fields(msg, keyvals)...)
}

// Warn emits a warning-level log message with structured key-value pairs.
func (l ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	fielders := l.fields(msg, keyvals)
	fielders = append(fielders, log.KV{K: "level", V: "warn"})
	log.Warn(ctx, fielders...)
}

// Error emits an error-level log message with structured key-value pairs.
func (l ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, l.fields(msg, keyvals)...)
}

// fields assembles the fielder slice shared by every level: the message,
// this logger's component tag (omitted when unset, matching the
// zero-value ClueLogger returned by NewClueLogger), then the caller's
// key-value pairs.
func (l ClueLogger) fields(msg string, keyvals []any) []log.Fielder {
	fielders := make([]log.Fielder, 0, len(keyvals)/2+2)
	fielders = append(fielders, log.KV{K: "msg", V: msg})
	if l.component != "" {
		fielders = append(fielders, log.KV{K: "component", V: l.component})
	}
	return append(fielders, kvSliceToClue(keyvals)...)
}

// IncCounter increments a counter metric by the given value.
func (m *ClueMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(prefixed(name))
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordTimer records a duration histogram/timer metric, in seconds.
func (m *ClueMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	histogram, err := m.meter.Float64Histogram(prefixed(name) + "_seconds")
	if err != nil {
		return
	}
	histogram.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordGauge records a gauge metric value. OTEL has no synchronous gauge
// instrument, so this records into a histogram named after the gauge; an
// exporter reports it as a histogram whose _sum/_count accumulate every
// recorded value, not as the latest observation.
func (m *ClueMetrics) RecordGauge(name string, value float64, tags ...string) {
	histogram, err := m.meter.Float64Histogram(prefixed(name) + "_gauge")
	if err != nil {
		return
	}
	histogram.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// prefixed namespaces a metric name under metricPrefix unless the caller
// already included it (RecordGauge/RecordTimer compose on top of names
// IncCounter already prefixed in some call sites).
func prefixed(name string) string {
	if strings.HasPrefix(name, metricPrefix) {
		return name
	}
	return metricPrefix + name
}

// Start creates a new span with the given name and optional attributes, returning
// a new context and the span handle.
func (t *ClueTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, &clueSpan{span: span}
}

// Span retrieves the current span from the context.
func (t *ClueTracer) Span(ctx context.Context) Span {
	span := trace.SpanFromContext(ctx)
	return &clueSpan{span: span}
}

// End finalizes the span, optionally applying additional options.
func (s *clueSpan) End(opts ...trace.SpanEndOption) {
	s.span.End(opts...)
}

// AddEvent records a span event with the given name and attributes.
func (s *clueSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvSliceToAttrs(attrs)...))
}

// SetStatus sets the span status code and description.
func (s *clueSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

// RecordError records an error on the span with optional attributes.
func (s *clueSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

// kvSliceToClue converts variadic key-value pairs (k1, v1, k2, v2, ...) into
// Clue's log.Fielder slice. If the slice has an odd length, the last key is paired
// with nil. Non-string keys are skipped.
func kvSliceToClue(keyvals []any) []log.Fielder {
	var fielders []log.Fielder
	for i := 0; i < len(keyvals); i += 2 {
		keyStr, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		fielders = append(fielders, log.KV{K: keyStr, V: v})
	}
	return fielders
}

// tagsToAttrs converts tag strings (k1, v1, k2, v2, ...) into OTEL attributes
// for metrics dimensions. If the slice has an odd length, the last key is paired
// with an empty string.
func tagsToAttrs(tags []string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(tags); i += 2 {
		k := tags[i]
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// kvSliceToAttrs converts variadic key-value pairs (k1, v1, k2, v2, ...) into
// OTEL attributes for span events, type-switching each value onto the
// narrowest matching attribute constructor and falling back to an empty
// string attribute for any other value type.
func kvSliceToAttrs(keyvals []any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(keyvals); i += 2 {
		keyStr, _ := keyvals[i].(string)
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(keyStr, val))
		case int:
			attrs = append(attrs, attribute.Int(keyStr, val))
		case int64:
			attrs = append(attrs, attribute.Int64(keyStr, val))
		case float64:
			attrs = append(attrs, attribute.Float64(keyStr, val))
		case bool:
			attrs = append(attrs, attribute.Bool(keyStr, val))
		default:
			attrs = append(attrs, attribute.String(keyStr, ""))
		}
	}
	return attrs
}
