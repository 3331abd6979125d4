// Package registry implements the Hybrid Tool Registry (spec §4.C): a
// unified namespace over statically registered internal tools and
// dynamically registered external tool-server descriptors, with per-phase
// listing and circuit-breaker-aware availability.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/orpar-labs/orpar-core/internal/core"
	"github.com/orpar-labs/orpar-core/internal/telemetry"
)

// Registry holds internal and external tool descriptors plus their circuit
// breaker state. Safe for concurrent use: a writer lock guards
// (un)registration, a reader lock guards lookup/listing (spec §5 "Tool
// Registry: writer-lock for (un)register; reader-lock for lookup").
type Registry struct {
	mu        sync.RWMutex
	global    map[string]*core.ToolDescriptor
	byChannel map[string]map[string]*core.ToolDescriptor

	breakers   map[breakerKey]*gobreaker.CircuitBreaker
	breakersMu sync.Mutex

	servers map[string]*ExternalServer

	failureThreshold int
	cooldown         time.Duration
	logger           telemetry.Logger
	metrics          telemetry.Metrics
}

type breakerKey struct {
	tool    string
	channel string
}

// ExternalServer tracks a subprocess-managed external tool server (spec
// §4.C): idle beyond KeepAlive terminates it, crashes restart under
// RestartOnCrash subject to a retry cap.
type ExternalServer struct {
	Name            string
	ChannelID       string
	KeepAlive       time.Duration
	RestartOnCrash  bool
	MaxRestarts     int
	restarts        int
	lastActivity    time.Time
	running         bool
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithFailureThreshold overrides the default consecutive-failure count that
// opens a circuit (spec §4.D, default core.DefaultCircuitFailureThreshold).
func WithFailureThreshold(n int) Option {
	return func(r *Registry) { r.failureThreshold = n }
}

// WithCooldown overrides the open-circuit cooldown before a half-open probe
// is allowed.
func WithCooldown(d time.Duration) Option {
	return func(r *Registry) { r.cooldown = d }
}

// WithLogger sets the structured logger used for registration and circuit
// transition events.
func WithLogger(l telemetry.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics sets the metrics sink used for circuit-open/probe counters.
func WithMetrics(m telemetry.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New builds an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		global:           make(map[string]*core.ToolDescriptor),
		byChannel:        make(map[string]map[string]*core.ToolDescriptor),
		breakers:         make(map[breakerKey]*gobreaker.CircuitBreaker),
		servers:          make(map[string]*ExternalServer),
		failureThreshold: core.DefaultCircuitFailureThreshold,
		cooldown:         30 * time.Second,
		logger:           telemetry.NewNoopLogger(),
		metrics:          telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool descriptor. Idempotent on Name when the schema is
// unchanged; a conflicting re-registration (same name, different schema)
// rejects with core.ErrAlreadyExists (spec §4.C).
func (r *Registry) Register(desc *core.ToolDescriptor) error {
	if desc == nil || desc.Name == "" {
		return fmt.Errorf("registry: descriptor requires a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.global
	if desc.Source == core.ToolExternal && desc.ChannelScope != "" {
		bucket = r.channelBucketLocked(desc.ChannelScope)
	}

	if existing, ok := bucket[desc.Name]; ok {
		if !schemaEqual(existing, desc) {
			return fmt.Errorf("registry: %w: %s", core.ErrAlreadyExists, desc.Name)
		}
		return nil
	}
	bucket[desc.Name] = desc
	r.logger.Info(context.Background(), "tool registered", "tool", desc.Name, "source", string(desc.Source))
	return nil
}

// Unregister removes a tool descriptor from the global or the given
// channel's scope.
func (r *Registry) Unregister(channelID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if channelID == "" {
		delete(r.global, name)
		return
	}
	if bucket, ok := r.byChannel[channelID]; ok {
		delete(bucket, name)
	}
}

func (r *Registry) channelBucketLocked(channelID string) map[string]*core.ToolDescriptor {
	bucket, ok := r.byChannel[channelID]
	if !ok {
		bucket = make(map[string]*core.ToolDescriptor)
		r.byChannel[channelID] = bucket
	}
	return bucket
}

func schemaEqual(a, b *core.ToolDescriptor) bool {
	return string(a.InputSchema) == string(b.InputSchema) && string(a.OutputSchema) == string(b.OutputSchema)
}

// Lookup returns the descriptor for name, searching the channel's scoped
// tools first, then the global namespace.
func (r *Registry) Lookup(channelID, name string) (*core.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if channelID != "" {
		if bucket, ok := r.byChannel[channelID]; ok {
			if d, ok := bucket[name]; ok {
				return d, true
			}
		}
	}
	d, ok := r.global[name]
	return d, ok
}

// ListAvailable returns the union of internal, globally-registered external,
// and channel-scoped external tools filtered by phase admission and by the
// tool's circuit not being open (spec §4.C).
func (r *Registry) ListAvailable(channelID string, phase core.Phase) []*core.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	out := make([]*core.ToolDescriptor, 0, len(r.global))
	consider := func(d *core.ToolDescriptor) {
		if _, dup := seen[d.Name]; dup {
			return
		}
		if !d.Allows(phase) {
			return
		}
		if r.circuitState(d.Name, channelID) == core.CircuitOpen {
			return
		}
		seen[d.Name] = struct{}{}
		out = append(out, d)
	}
	for _, d := range r.global {
		consider(d)
	}
	if bucket, ok := r.byChannel[channelID]; ok {
		for _, d := range bucket {
			consider(d)
		}
	}
	return out
}

// breaker returns (creating if absent) the gobreaker instance for
// (toolName, channelID), configured per spec §4.D: opens after
// failureThreshold consecutive failures, half-opens after cooldown, closes on
// one successful probe.
func (r *Registry) breaker(toolName, channelID string) *gobreaker.CircuitBreaker {
	key := breakerKey{tool: toolName, channel: channelID}
	r.breakersMu.Lock()
	defer r.breakersMu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	threshold := uint32(r.failureThreshold)
	settings := gobreaker.Settings{
		Name:        fmt.Sprintf("%s@%s", toolName, channelID),
		MaxRequests: 1,
		Timeout:     r.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.metrics.IncCounter("tool_circuit_transition", 1, "tool", toolName, "channel", channelID, "to", to.String())
			r.logger.Info(context.Background(), "tool circuit transitioned", "tool", toolName, "channel", channelID, "from", from.String(), "to", to.String())
		},
	}
	b := gobreaker.NewCircuitBreaker(settings)
	r.breakers[key] = b
	return b
}

// circuitState reports the current CircuitStatus for (toolName, channelID)
// without attempting an execution.
func (r *Registry) circuitState(toolName, channelID string) core.CircuitStatus {
	b := r.breaker(toolName, channelID)
	switch b.State() {
	case gobreaker.StateOpen:
		return core.CircuitOpen
	case gobreaker.StateHalfOpen:
		return core.CircuitHalfOpen
	default:
		return core.CircuitClosed
	}
}

// Execute runs fn through the (toolName, channelID) circuit breaker,
// translating gobreaker's open/too-many-requests errors into
// core.ErrCircuitOpen (spec §7).
func (r *Registry) Execute(ctx context.Context, toolName, channelID string, fn func(context.Context) (any, error)) (any, error) {
	b := r.breaker(toolName, channelID)
	result, err := b.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("registry: %w: %s", core.ErrCircuitOpen, toolName)
		}
		return nil, err
	}
	return result, nil
}

// CircuitState returns the CircuitState record for a (tool, channel) pair as
// described by the data model in spec §3.
func (r *Registry) CircuitState(toolName, channelID string) core.CircuitState {
	b := r.breaker(toolName, channelID)
	counts := b.Counts()
	status := r.circuitState(toolName, channelID)
	return core.CircuitState{
		ToolName:     toolName,
		ChannelID:    channelID,
		State:        status,
		FailureCount: int(counts.ConsecutiveFailures),
	}
}

// RegisterExternalServer adds (or replaces) the keep-alive bookkeeping for an
// externally managed tool server (spec §4.C).
func (r *Registry) RegisterExternalServer(s *ExternalServer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.lastActivity = time.Now()
	s.running = true
	r.servers[s.Name] = s
}

// Touch records activity on an external server, resetting its idle timer.
func (r *Registry) Touch(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.servers[name]; ok {
		s.lastActivity = time.Now()
	}
}

// HealthTick performs the periodic maintenance described in spec §4.C:
// terminates external servers idle beyond KeepAlive, and is the hook point
// for restart-on-crash bookkeeping. Circuit half-open/close transitions are
// handled lazily by gobreaker itself on the next Execute call, per the
// library's own timer-based state machine; HealthTick does not need to drive
// them directly.
func (r *Registry) HealthTick(now time.Time) (terminated []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, s := range r.servers {
		if !s.running {
			continue
		}
		if s.KeepAlive > 0 && now.Sub(s.lastActivity) > s.KeepAlive {
			s.running = false
			terminated = append(terminated, name)
			r.logger.Info(context.Background(), "external tool server terminated on idle timeout", "server", name)
		}
	}
	return terminated
}

// NotifyCrash records a crash for an external server and reports whether it
// should be restarted (RestartOnCrash and under MaxRestarts).
func (r *Registry) NotifyCrash(name string) (restart bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[name]
	if !ok {
		return false
	}
	s.running = false
	if !s.RestartOnCrash || (s.MaxRestarts > 0 && s.restarts >= s.MaxRestarts) {
		return false
	}
	s.restarts++
	s.running = true
	s.lastActivity = time.Now()
	return true
}
