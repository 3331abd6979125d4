package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPrometheusMetricsIncCounter(t *testing.T) {
	m := NewPrometheusMetrics("orpar_test")
	m.IncCounter("tool_circuit_transition", 1, "tool", "write_file", "channel", "c1")
	m.IncCounter("tool_circuit_transition", 2, "tool", "write_file", "channel", "c1")

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	found := false
	for _, f := range families {
		if f.GetName() == "orpar_test_tool_circuit_transition" {
			found = true
			require.Len(t, f.GetMetric(), 1)
			require.InDelta(t, 3.0, f.GetMetric()[0].GetCounter().GetValue(), 1e-9)
		}
	}
	require.True(t, found, "expected counter family to be registered")
}

func TestPrometheusMetricsRecordTimerAndGauge(t *testing.T) {
	m := NewPrometheusMetrics("orpar_test")
	m.RecordTimer("llm_request_latency", 250*time.Millisecond, "provider", "anthropic")
	m.RecordGauge("active_loops", 4, "channel", "c1")

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var sawHistogram, sawGauge bool
	for _, f := range families {
		switch f.GetName() {
		case "orpar_test_llm_request_latency_seconds":
			sawHistogram = true
		case "orpar_test_active_loops":
			sawGauge = true
			require.InDelta(t, 4.0, f.GetMetric()[0].GetGauge().GetValue(), 1e-9)
		}
	}
	require.True(t, sawHistogram)
	require.True(t, sawGauge)
}

func TestPrometheusMetricsSatisfiesInterface(t *testing.T) {
	var _ Metrics = NewPrometheusMetrics("orpar_test")
}
