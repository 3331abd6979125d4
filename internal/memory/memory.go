// Package memory implements the Memory Store and Memory Utility Learning
// System (spec §4.E): multi-scope MemoryItem storage, two-phase
// similarity+utility retrieval, the Q-value EMA update rule, and
// cycle-completion consolidation.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/orpar-labs/orpar-core/internal/core"
	"github.com/orpar-labs/orpar-core/internal/telemetry"
)

// Retriever is the opaque similarity-candidate backend (spec §1: "used
// behind an opaque retrieval interface"). The core never computes
// embeddings; it calls TopK and blends the returned similarity with Q-value.
type Retriever interface {
	// TopK returns up to k candidates similar to query within the given
	// strata, each with a similarity score in [0,1].
	TopK(ctx context.Context, channelID string, strata []core.Stratum, query []float32, k int) ([]Candidate, error)
}

// Candidate is one similarity search hit before utility re-ranking.
type Candidate struct {
	Item       *core.MemoryItem
	Similarity float64
}

// Scored is a candidate after MULS re-ranking.
type Scored struct {
	Item  *core.MemoryItem
	Score float64
}

// Store owns every core.MemoryItem (spec §3 Ownership) across the three
// scopes and applies Q-value EMA updates and consolidation. The in-process
// map here is the default backend; production wiring fronts a durable store
// (see Durable below) the same way the teacher pairs an inmem store with
// features/memory/mongo.
type Store struct {
	mu    sync.RWMutex
	items map[string]*core.MemoryItem
	// byKey indexes items for the secondary index described in spec §6:
	// (scope, targetId, key).
	byKey map[indexKey][]string

	retriever Retriever
	durable   Durable
	qCache    *RedisQValueCache

	learningRate float64
	logger       telemetry.Logger
	metrics      telemetry.Metrics
}

type indexKey struct {
	scope    core.MemoryScope
	targetID string
	key      string
}

// Durable is the backend-agnostic persistence collaborator for MemoryItems
// (spec §6 "Persisted state layout"). A Mongo-backed implementation lives at
// the repository's integration boundary; Store works with or without one.
type Durable interface {
	Upsert(ctx context.Context, item *core.MemoryItem) error
	Delete(ctx context.Context, memoryID string) error
}

// Option configures a Store at construction.
type Option func(*Store)

// WithRetriever wires the similarity backend used by Retrieve.
func WithRetriever(r Retriever) Option {
	return func(s *Store) { s.retriever = r }
}

// WithDurable wires a durable persistence collaborator.
func WithDurable(d Durable) Option {
	return func(s *Store) { s.durable = d }
}

// WithQValueCache wires a Redis cache that UpdateQValue writes each new
// Q-value through to. The Store never reads Q-values back from it.
func WithQValueCache(c *RedisQValueCache) Option {
	return func(s *Store) { s.qCache = c }
}

// WithLearningRate overrides QValueLearningRate (spec default 0.1).
func WithLearningRate(alpha float64) Option {
	return func(s *Store) { s.learningRate = alpha }
}

// WithLogger sets the structured logger.
func WithLogger(l telemetry.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m telemetry.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New builds an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		items:        make(map[string]*core.MemoryItem),
		byKey:        make(map[indexKey][]string),
		learningRate: core.QValueLearningRate,
		logger:       telemetry.NewNoopLogger(),
		metrics:      telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put inserts or replaces a MemoryItem. A new item's QValue defaults to
// core.QValueDefault if unset (spec §3 invariant).
func (s *Store) Put(ctx context.Context, item *core.MemoryItem) error {
	if item.MemoryID == "" {
		item.MemoryID = uuid.NewString()
	}
	if item.QValue == 0 && item.CreatedAt.IsZero() {
		item.QValue = core.QValueDefault
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}

	s.mu.Lock()
	s.items[item.MemoryID] = item
	key := indexKey{scope: item.Scope, targetID: targetID(item), key: item.Key}
	s.byKey[key] = appendUnique(s.byKey[key], item.MemoryID)
	s.mu.Unlock()

	if s.durable != nil {
		if err := s.durable.Upsert(ctx, item); err != nil {
			return fmt.Errorf("memory: durable upsert: %w", err)
		}
	}
	return nil
}

func targetID(item *core.MemoryItem) string {
	if item.Scope == core.ScopeChannel {
		return item.ChannelID
	}
	return item.AgentID
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// Get returns the item for memoryID, or core.ErrNotFound.
func (s *Store) Get(memoryID string) (*core.MemoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[memoryID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return item, nil
}

// ByKey looks up items at the (scope, targetID, key) secondary index (spec
// §6).
func (s *Store) ByKey(scope core.MemoryScope, targetID, key string) []*core.MemoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byKey[indexKey{scope: scope, targetID: targetID, key: key}]
	out := make([]*core.MemoryItem, 0, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out = append(out, item)
		}
	}
	return out
}

// Retrieve runs the two-phase retrieval described in spec §4.E: candidate
// retrieval via the opaque Retriever, then re-ranking by
// score = (1-λ)*similarity + λ*Q_normalized(qValue), returning the top-N.
//
// Reads are restricted to the caller's channel unless scope is explicitly
// core.ScopeChannel on a shared stratum (spec §9 Open Question: cross-channel
// sharing is bounded to that one case).
func (s *Store) Retrieve(ctx context.Context, channelID string, strata []core.Stratum, query []float32, lambda float64, topN int) ([]Scored, error) {
	if s.retriever == nil {
		return nil, fmt.Errorf("memory: %w: no retriever configured", core.ErrBackendUnavailable)
	}
	candidates, err := s.retriever.TopK(ctx, channelID, strata, query, topN*3+10)
	if err != nil {
		return nil, fmt.Errorf("memory: %w: %v", core.ErrBackendUnavailable, err)
	}
	candidates = filterChannel(candidates, channelID)
	return rank(candidates, lambda, topN), nil
}

func filterChannel(candidates []Candidate, channelID string) []Candidate {
	out := candidates[:0]
	for _, c := range candidates {
		if c.Item.Scope == core.ScopeChannel || c.Item.ChannelID == channelID || c.Item.ChannelID == "" {
			out = append(out, c)
		}
	}
	return out
}

// rank blends similarity and Q_normalized(qValue) and returns the top-N
// (spec §8 property 8: "as λ increases from 0 to 1, ranking converges from
// similarity-only to utility-only"). Q_normalized is the identity function
// per spec §4.E's default ("Q_normalized maps [0,1] to [0,1] (identity by
// default; may be min-max normalized across the candidate set for
// robustness)") — qValue is already defined to live in [0,1] (spec §3
// MemoryItem invariant), so no further rescaling is needed to land the
// score in [0,1]. With m1={sim:0.9,q:0.2}, m2={sim:0.6,q:0.9} and λ=0.5
// this mapping gives Score(m1)=0.55 and Score(m2)=0.75, the values
// memory_test.go asserts.
func rank(candidates []Candidate, lambda float64, topN int) []Scored {
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}

	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		scored[i] = Scored{
			Item:  c.Item,
			Score: (1-lambda)*c.Similarity + lambda*c.Item.QValue,
		}
	}
	sortByScoreDesc(scored)
	if len(scored) > topN {
		scored = scored[:topN]
	}
	return scored
}

func sortByScoreDesc(s []Scored) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].Score > s[j-1].Score; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// UpdateQValue applies the EMA rule from spec §4.E:
// qValue <- clamp(qValue + alpha*(r - qValue), 0, 1). Reads and writes for a
// given memoryID are serialized by the store's single lock, satisfying the
// multi-reader/single-writer requirement of spec §5 at per-item granularity.
func (s *Store) UpdateQValue(ctx context.Context, memoryID string, reward float64) (float64, error) {
	s.mu.Lock()
	item, ok := s.items[memoryID]
	if !ok {
		s.mu.Unlock()
		return 0, core.ErrNotFound
	}
	item.QValue = EMA(item.QValue, reward, s.learningRate)
	item.AccessCount++
	item.LastAccessedAt = time.Now()
	if reward > 0 {
		item.SuccessCount++
	} else if reward < 0 {
		item.FailureCount++
	}
	qValue := item.QValue
	s.mu.Unlock()

	if s.qCache != nil {
		if err := s.qCache.Set(ctx, memoryID, qValue); err != nil {
			s.logger.Warn(ctx, "q-value cache write-through failed", "memoryId", memoryID, "error", err)
		}
	}
	return qValue, nil
}

// EMA computes the exponential-moving-average Q-value update (spec §4.E,
// §8 property 7). Exposed as a pure function so property tests can verify
// q1 = q0 + alpha*(r-q0) directly.
func EMA(q0, reward, alpha float64) float64 {
	q1 := q0 + alpha*(reward-q0)
	return clamp(q1, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ApplyReflection attributes a Reflection's reward across the memory items
// touched during the cycle, weighted by the phase each was touched in (spec
// §4.E). touched maps phase -> memory IDs touched in that phase.
// ApplyReflection fans the phase-weighted Q-value update for every touched
// memory item out across a bounded worker pool (spec §5: "Memory write
// fanout to the search backend is async and may be batched"). Each item's
// own update still serializes against the store's single lock
// (UpdateQValue); the concurrency here overlaps the qCache/durable I/O of
// independent items, the same fan-out-with-errgroup shape
// jinterlante1206-AleutianLocal's enhanced_analyzer.go uses to run a
// priority group's independent enrichers concurrently.
func (s *Store) ApplyReflection(ctx context.Context, signals core.LearningSignals, touched map[core.Phase][]string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for phase, ids := range touched {
		weight := core.PhaseWeights[phase]
		for _, id := range ids {
			phase, id := phase, id
			g.Go(func() error {
				confidence := 1.0
				if signals.PerItemConfidence != nil {
					if c, ok := signals.PerItemConfidence[id]; ok {
						confidence = c
					}
				}
				reward := clamp(signals.Reward*weight*confidence, -1, 1)
				if _, err := s.UpdateQValue(gctx, id, reward); err != nil {
					s.logger.Warn(gctx, "q-value update skipped: item not found", "memoryId", id)
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	s.Consolidate(ctx)
}

// Consolidate runs the cycle-completion promotion/demotion pass (spec §4.E):
// promote to a longer-lived stratum when qValue>=0.7 and successCount>=3;
// archive/demote when qValue<=0.3 and failureCount>=5; otherwise no change.
func (s *Store) Consolidate(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		switch {
		case item.QValue >= 0.7 && item.SuccessCount >= 3:
			if next, ok := promote(item.Stratum); ok {
				item.Stratum = next
				s.metrics.IncCounter("memory_consolidation_promote", 1, "stratum", string(next))
			}
		case item.QValue <= 0.3 && item.FailureCount >= 5:
			if next, ok := demote(item.Stratum); ok {
				item.Stratum = next
				s.metrics.IncCounter("memory_consolidation_demote", 1, "stratum", string(next))
			}
		}
	}
}

var promotionOrder = []core.Stratum{
	core.StratumWorking, core.StratumShortTerm, core.StratumEpisodic, core.StratumSemantic, core.StratumLongTerm,
}

func promote(s core.Stratum) (core.Stratum, bool) {
	for i, st := range promotionOrder {
		if st == s && i+1 < len(promotionOrder) {
			return promotionOrder[i+1], true
		}
	}
	return s, false
}

func demote(s core.Stratum) (core.Stratum, bool) {
	for i, st := range promotionOrder {
		if st == s && i > 0 {
			return promotionOrder[i-1], true
		}
	}
	return s, false
}
