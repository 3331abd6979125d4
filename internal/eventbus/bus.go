// Package eventbus implements the in-process typed pub/sub fabric described
// in spec §4.A. It is grounded on the teacher's hooks.Bus fan-out pattern
// (runtime/agent/hooks/bus.go): a synchronous, registration-ordered fan-out
// protected by a single RWMutex, with subscriptions as closeable handles.
//
// This package generalizes that shape in three ways the teacher's hooks bus
// does not need: per-topic payload schema validation, reference-counted
// subscriptions (so a Bridge can share one handler across many sockets in the
// same room), and an async delivery mode with bounded backpressure for
// non-critical topics.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/orpar-labs/orpar-core/internal/core"
	"github.com/orpar-labs/orpar-core/internal/telemetry"
)

// Topic identifies a publish/subscribe channel. In practice this is almost
// always a core.EventName, but the bus is not hard-coded to that type so
// internal-only topics (e.g. "registry.health") can share the same fabric.
type Topic string

// Handler reacts to a single delivered payload. Returning an error from a
// synchronous-topic handler is only diagnostic: unlike the teacher's hooks
// bus, Emit does not abort fan-out on a handler error (spec §4.A does not
// specify fail-fast semantics for the bus; that belongs to callers who want
// it, such as a Strict validation handler wrapping its own bus.Handler).
type Handler func(ctx context.Context, payload any) error

// Async marks a topic for queued, worker-pool delivery instead of synchronous
// in-emitter-goroutine delivery (spec §4.A "Backpressure").
type TopicConfig struct {
	Async     bool
	Critical  bool // never dropped; spills to an unbounded overflow buffer
	QueueSize int  // only meaningful when Async is true
}

type subscription struct {
	bus     *Bus
	topic   Topic
	handler Handler
	refs    int32
}

// Close decrements the subscription's reference count; the handler stops
// receiving events once the count reaches zero. Safe to call multiple times.
func (s *subscription) Close() {
	if atomic.AddInt32(&s.refs, -1) > 0 {
		return
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subs[s.topic]
	for i, sub := range subs {
		if sub == s {
			s.bus.subs[s.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// Retain increments the subscription's reference count, letting multiple
// logical owners (e.g. several bridge sockets in one room) share a single
// registered handler and unsubscribe independently.
func (s *subscription) Retain() { atomic.AddInt32(&s.refs, 1) }

// queueItem is a unit of async-delivered work.
type queueItem struct {
	ctx     context.Context
	topic   Topic
	payload any
}

// Bus is the in-process typed pub/sub fabric (spec §4.A). It validates
// payloads against a SchemaRegistry at Emit, delivers synchronous topics in
// the emitter's goroutine in emission order per topic, and drains async
// topics through a bounded worker pool.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]*subscription
	config map[Topic]TopicConfig

	schemas *SchemaRegistry
	logger  telemetry.Logger
	metrics telemetry.Metrics

	queue    chan queueItem
	overflow chan queueItem // unbounded-ish (large buffer) spill for critical topics
	workers  sync.WaitGroup
	closeCh  chan struct{}
	closed   bool

	droppedCount atomic.Int64
}

// Option configures a Bus at construction.
type Option func(*Bus)

func WithLogger(l telemetry.Logger) Option   { return func(b *Bus) { b.logger = l } }
func WithMetrics(m telemetry.Metrics) Option { return func(b *Bus) { b.metrics = m } }
func WithSchemaRegistry(r *SchemaRegistry) Option {
	return func(b *Bus) { b.schemas = r }
}

// New constructs a Bus ready for immediate use. Call Start to begin draining
// async topics; Stop to drain and release worker goroutines.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:     make(map[Topic][]*subscription),
		config:   make(map[Topic]TopicConfig),
		logger:   telemetry.NewNoopLogger(),
		metrics:  telemetry.NewNoopMetrics(),
		schemas:  NewSchemaRegistry(),
		queue:    make(chan queueItem, 1024),
		overflow: make(chan queueItem, 65536),
		closeCh:  make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Configure registers a topic's delivery mode. Call before Start.
func (b *Bus) Configure(topic Topic, cfg TopicConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config[topic] = cfg
}

// Start launches n worker goroutines draining the async queue and overflow
// buffer. Safe to call once.
func (b *Bus) Start(n int) {
	if n <= 0 {
		n = 4
	}
	for i := 0; i < n; i++ {
		b.workers.Add(1)
		go b.drain()
	}
}

// Stop signals workers to exit once the queue is drained and blocks until
// they do.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.closeCh)
	b.workers.Wait()
}

func (b *Bus) drain() {
	defer b.workers.Done()
	for {
		select {
		case item := <-b.overflow:
			b.deliver(item.ctx, item.topic, item.payload)
		case item, ok := <-b.queue:
			if !ok {
				return
			}
			b.deliver(item.ctx, item.topic, item.payload)
		case <-b.closeCh:
			// Drain whatever remains without blocking further.
			for {
				select {
				case item := <-b.overflow:
					b.deliver(item.ctx, item.topic, item.payload)
				case item := <-b.queue:
					b.deliver(item.ctx, item.topic, item.payload)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(ctx context.Context, topic Topic, payload any) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[topic]...)
	b.mu.RUnlock()
	for _, s := range subs {
		if err := s.handler(ctx, payload); err != nil {
			b.logger.Error(ctx, "eventbus: async handler error", "topic", string(topic), "err", err)
		}
	}
}

// Subscribe registers handler for topic and returns a closeable subscription.
// Subscriptions are delivered events in emission order for a given topic
// (spec §4.A "Ordering").
func (b *Bus) Subscribe(topic Topic, handler Handler) *subscription {
	s := &subscription{bus: b, topic: topic, handler: handler, refs: 1}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()
	return s
}

// Emit validates payload against the schema bound to topic (when name is a
// core.EventName with a registered schema) and delivers it to subscribers,
// synchronously for ordinary topics or through the async worker pool for
// topics configured as Async.
func (b *Bus) Emit(ctx context.Context, name core.EventName, topic Topic, payload any) error {
	if err := b.schemas.Validate(name, payload); err != nil {
		return err
	}
	b.mu.RLock()
	cfg := b.config[topic]
	b.mu.RUnlock()

	if !cfg.Async {
		b.deliver(ctx, topic, payload)
		return nil
	}

	item := queueItem{ctx: ctx, topic: topic, payload: payload}
	if cfg.Critical {
		select {
		case b.overflow <- item:
		default:
			// Overflow buffer itself is full: critical topics never drop, so
			// block on the primary queue as a last resort.
			b.queue <- item
		}
		return nil
	}

	select {
	case b.queue <- item:
		return nil
	default:
		b.droppedCount.Add(1)
		b.metrics.IncCounter("eventbus.dropped", 1, "topic", string(topic))
		return fmt.Errorf("eventbus: queue full for topic %q, event dropped", topic)
	}
}

// Dropped returns the count of non-critical events dropped due to backpressure.
func (b *Bus) Dropped() int64 { return b.droppedCount.Load() }
