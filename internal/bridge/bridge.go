// Package bridge implements the Network Bridge (spec §4.B): a WebSocket
// transport that fans server-side Event Bus traffic out to room-scoped
// sockets and forwards client-originated events back onto the bus.
//
// The teacher has no socket-room layer of its own (it relies on Temporal
// signals and Pulse streams for server-to-workflow communication), so this
// package is grounded on the rest of the retrieval pack instead: the
// upgrade/read-loop shape is modeled on the gorilla/websocket production
// handler in jinterlante1206-AleutianLocal's orchestrator
// (services/orchestrator/handlers/websocket.go — upgrader configuration,
// per-connection read loop, one write at a time), generalized from a single
// chat socket to a room-scoped fan-out registry shaped like eventbus.Bus
// itself (map keyed by room, RWMutex-guarded, closeable subscriptions).
package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/orpar-labs/orpar-core/internal/core"
	"github.com/orpar-labs/orpar-core/internal/engine"
	"github.com/orpar-labs/orpar-core/internal/eventbus"
	"github.com/orpar-labs/orpar-core/internal/telemetry"
)

// canonicalTopics are the event names the Bridge fans out to room sockets.
// Unlike the Mirror, which filters to a single loop, the Bridge fans every
// event belonging to loops owned by the target channel.
var canonicalTopics = []core.EventName{
	core.EventObservation,
	core.EventReasoning,
	core.EventPlan,
	core.EventAction,
	core.EventExecution,
	core.EventReflection,
	core.EventInitialize,
	core.EventStarted,
	core.EventStopped,
	core.EventPhaseViolation,
}

// socket is one authenticated WebSocket connection joined to a room.
type socket struct {
	id        string
	conn      *websocket.Conn
	principal Principal
	roomID    string
	writeMu   sync.Mutex
	queue     *outboundQueue
}

func (s *socket) writeFrames(ctx context.Context, frames [][]byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = ctx
	for _, f := range frames {
		if err := s.conn.WriteMessage(websocket.TextMessage, f); err != nil {
			return err
		}
	}
	return nil
}

// Option configures a Bridge at construction.
type Option func(*Bridge)

func WithLogger(l telemetry.Logger) Option   { return func(b *Bridge) { b.logger = l } }
func WithMetrics(m telemetry.Metrics) Option { return func(b *Bridge) { b.metrics = m } }
func WithHeartbeat(cfg HeartbeatConfig) Option {
	return func(b *Bridge) { b.heartbeat = cfg.withDefaults() }
}
func WithOutboundBatch(maxSize int, coalesce time.Duration, maxRetries uint64) Option {
	return func(b *Bridge) {
		b.batchMaxSize = maxSize
		b.batchCoalesce = coalesce
		b.batchMaxRetries = maxRetries
	}
}
func WithAuthenticator(a Authenticator) Option { return func(b *Bridge) { b.auth = a } }
func WithDurableFanout(d DurableFanout) Option  { return func(b *Bridge) { b.durable = d } }

// Bridge upgrades authenticated HTTP connections to room-scoped WebSocket
// sockets and bridges traffic between those rooms and the Event Bus (spec
// §4.B). A room is identified by channelID.
type Bridge struct {
	mu    sync.RWMutex
	rooms map[string]map[*socket]struct{}

	bus *eventbus.Bus
	eng *engine.Engine

	auth      Authenticator
	heartbeat HeartbeatConfig
	upgrader  websocket.Upgrader

	batchMaxSize    int
	batchCoalesce   time.Duration
	batchMaxRetries uint64

	durable DurableFanout

	logger  telemetry.Logger
	metrics telemetry.Metrics

	subs []interface{ Close() }
}

// New constructs a Bridge wired to bus for server<->room forwarding and eng
// for resolving a loop's owning channel (room). Call Start to begin server->
// room fan-out; Close to tear it down.
func New(bus *eventbus.Bus, eng *engine.Engine, auth Authenticator, opts ...Option) *Bridge {
	b := &Bridge{
		rooms:           make(map[string]map[*socket]struct{}),
		bus:             bus,
		eng:             eng,
		auth:            auth,
		heartbeat:       HeartbeatConfig{}.withDefaults(),
		upgrader:        websocket.Upgrader{ReadBufferSize: 64 * 1024, WriteBufferSize: 64 * 1024},
		batchMaxSize:    DefaultMaxBatchSize,
		batchCoalesce:   DefaultCoalesceDelay,
		batchMaxRetries: 5,
		logger:          telemetry.NewNoopLogger(),
		metrics:         telemetry.NewNoopMetrics(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Start subscribes the Bridge to every canonical topic for server->room
// fan-out. Call once before serving HTTP traffic.
func (b *Bridge) Start() {
	for _, name := range canonicalTopics {
		b.subs = append(b.subs, b.bus.Subscribe(eventbus.Topic(name), b.fanOutHandler(name)))
	}
}

// Close unsubscribes from the bus and closes every joined socket.
func (b *Bridge) Close() {
	for _, s := range b.subs {
		s.Close()
	}
	b.subs = nil

	b.mu.Lock()
	rooms := b.rooms
	b.rooms = make(map[string]map[*socket]struct{})
	b.mu.Unlock()

	for _, sockets := range rooms {
		for s := range sockets {
			s.queue.Close()
			_ = s.conn.Close()
		}
	}
}

// loopScoped extracts the loopId carried by every canonical event payload.
type loopScoped struct {
	LoopID string `json:"loopId"`
}

// fanOutHandler builds the bus Handler that forwards events of the given
// name to every socket joined to the owning loop's channel room.
func (b *Bridge) fanOutHandler(name core.EventName) eventbus.Handler {
	return func(ctx context.Context, payload any) error {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil
		}
		var scope loopScoped
		if err := json.Unmarshal(raw, &scope); err != nil {
			return nil
		}
		loop, ok := b.eng.Loop(scope.LoopID)
		if !ok {
			return nil
		}

		env := core.Event{
			EventName: name,
			AgentID:   loop.OwnerAgentID,
			ChannelID: loop.ChannelID,
			Timestamp: time.Now(),
			Data:      raw,
		}
		frame, err := json.Marshal(env)
		if err != nil {
			return nil
		}

		b.broadcastRoom(loop.ChannelID, frame)
		if b.durable != nil {
			_ = b.durable.Publish(ctx, loop.ChannelID, frame)
		}
		return nil
	}
}

func (b *Bridge) broadcastRoom(roomID string, frame []byte) {
	b.mu.RLock()
	sockets := make([]*socket, 0, len(b.rooms[roomID]))
	for s := range b.rooms[roomID] {
		sockets = append(sockets, s)
	}
	b.mu.RUnlock()

	for _, s := range sockets {
		s.queue.Enqueue(frame)
	}
}

// join adds s to its room registry.
func (b *Bridge) join(s *socket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.rooms[s.roomID]
	if !ok {
		set = make(map[*socket]struct{})
		b.rooms[s.roomID] = set
	}
	set[s] = struct{}{}
}

// leave removes s from its room registry, pruning an empty room.
func (b *Bridge) leave(s *socket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.rooms[s.roomID]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(b.rooms, s.roomID)
	}
}

// ServeHTTP authenticates the handshake, upgrades the connection, and runs
// the per-socket read pump until the client disconnects (spec §4.B).
// Authentication failures are rejected with a JSON body naming the
// RejectReason before any WebSocket upgrade is attempted.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, reason := b.auth.Authenticate(r)
	if reason != RejectNone {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"reason": string(reason)})
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error(r.Context(), "bridge: websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	s := &socket{
		id:        uuid.New().String(),
		conn:      conn,
		principal: principal,
		roomID:    principal.ChannelID,
	}
	s.queue = newOutboundQueue(r.Context(), b.batchMaxSize, b.batchCoalesce, b.batchMaxRetries, s.writeFrames)

	b.join(s)
	defer func() {
		b.leave(s)
		s.queue.Close()
	}()

	b.runHeartbeat(s)
	b.readPump(s)
}

// runHeartbeat installs the ping/pong handlers and read deadline that together
// implement the liveness check (spec §4.B: SetPingHandler plus a periodic
// ticker). Every received ping or pong pushes the read deadline out by the
// timeout; a separate goroutine sends a ping on each ticker period until a
// write fails.
func (b *Bridge) runHeartbeat(s *socket) {
	timeout := b.heartbeat.Timeout
	_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(timeout))
	})
	s.conn.SetPingHandler(func(appData string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	go func() {
		ticker := time.NewTicker(b.heartbeat.Period)
		defer ticker.Stop()
		for range ticker.C {
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}()
}

// readPump blocks reading client frames until the socket errors or closes,
// decoding each into a core.Event, re-validating it through the Bus at
// Emit, and re-publishing it for delivery to every other bus subscriber
// (engine, mirror, other bridges). The loop ends on the first read error.
func (b *Bridge) readPump(s *socket) {
	ctx := context.Background()
	for {
		var env core.Event
		if err := s.conn.ReadJSON(&env); err != nil {
			b.logger.Info(ctx, "bridge: socket disconnected", "socketId", s.id, "err", err)
			return
		}
		if env.ChannelID == "" {
			env.ChannelID = s.roomID
		}
		if err := b.bus.Emit(ctx, env.EventName, eventbus.Topic(env.EventName), env.Data); err != nil {
			b.logger.Error(ctx, "bridge: rejected inbound event", "socketId", s.id, "event", string(env.EventName), "err", err)
			continue
		}
	}
}
