package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements Metrics directly against
// github.com/prometheus/client_golang, exposed for deployments that scrape
// Prometheus rather than export via OpenTelemetry (ClueMetrics). Grounded
// on jinterlante1206-AleutianLocal's services/orchestrator/observability/
// metrics.go, which registers CounterVec/HistogramVec/GaugeVec instruments
// under a fixed namespace and exposes them over /metrics; this adapter
// generalizes that to the Metrics interface's dynamic (name, tags) calling
// convention by lazily registering one vector per metric name the first
// time it is observed, keyed by the label names seen on that first call.
type PrometheusMetrics struct {
	registry  *prometheus.Registry
	namespace string

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPrometheusMetrics constructs a Metrics recorder backed by its own
// prometheus.Registry (so callers can mount it at /metrics independently
// of the default global registry).
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	return &PrometheusMetrics{
		registry:   prometheus.NewRegistry(),
		namespace:  namespace,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

// Registry returns the underlying registry for mounting promhttp.HandlerFor.
func (m *PrometheusMetrics) Registry() *prometheus.Registry { return m.registry }

func sanitizeMetricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

func tagLabels(tags []string) ([]string, prometheus.Labels) {
	labels := prometheus.Labels{}
	names := make([]string, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		names = append(names, tags[i])
		labels[tags[i]] = tags[i+1]
	}
	sort.Strings(names)
	return names, labels
}

// IncCounter implements Metrics.
func (m *PrometheusMetrics) IncCounter(name string, value float64, tags ...string) {
	names, labels := tagLabels(tags)
	m.mu.Lock()
	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      sanitizeMetricName(name),
		}, names)
		m.counters[name] = vec
		m.registry.MustRegister(vec)
	}
	m.mu.Unlock()
	vec.With(labels).Add(value)
}

// RecordTimer implements Metrics.
func (m *PrometheusMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	names, labels := tagLabels(tags)
	m.mu.Lock()
	vec, ok := m.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      sanitizeMetricName(name) + "_seconds",
			Buckets:   prometheus.DefBuckets,
		}, names)
		m.histograms[name] = vec
		m.registry.MustRegister(vec)
	}
	m.mu.Unlock()
	vec.With(labels).Observe(duration.Seconds())
}

// RecordGauge implements Metrics.
func (m *PrometheusMetrics) RecordGauge(name string, value float64, tags ...string) {
	names, labels := tagLabels(tags)
	m.mu.Lock()
	vec, ok := m.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      sanitizeMetricName(name),
		}, names)
		m.gauges[name] = vec
		m.registry.MustRegister(vec)
	}
	m.mu.Unlock()
	vec.With(labels).Set(value)
}
