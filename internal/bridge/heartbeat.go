package bridge

import "time"

// Heartbeat defaults (spec §4.B: "default period 20s, default timeout 90s,
// long enough to tolerate slow LLM turns").
const (
	DefaultHeartbeatPeriod  = 20 * time.Second
	DefaultHeartbeatTimeout = 90 * time.Second
)

// HeartbeatConfig parameterizes a socket's ping/pong liveness check.
type HeartbeatConfig struct {
	Period  time.Duration
	Timeout time.Duration
}

// withDefaults fills zero fields with the package defaults.
func (c HeartbeatConfig) withDefaults() HeartbeatConfig {
	if c.Period <= 0 {
		c.Period = DefaultHeartbeatPeriod
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultHeartbeatTimeout
	}
	return c
}
