package session

import (
	"sync"
	"time"

	"github.com/orpar-labs/orpar-core/internal/core"
)

// Entry is a single durable transcript record. It mirrors a core.Observation
// closely enough to round-trip one, but is independent of the engine's
// in-memory Loop type so a Store can persist it without importing internal/engine.
type Entry struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	Source    string    `json:"source"`
	Content   any       `json:"content"`
	Timestamp int64     `json:"timestamp"`
}

// Transcript is a bounded FIFO sequence of Entry records with the same
// eviction policy as a Loop's observation buffer (spec §3 Loop.observations,
// "at most maxObservations, oldest evicted first"). The engine keeps its own
// observation slice and does not use Transcript; a durable Store can use it
// to persist/replay a loop's observation history independently of the engine.
type Transcript struct {
	mu      sync.Mutex
	max     int
	entries []Entry
}

// NewTranscript constructs a Transcript bounded to max entries. A max of zero
// or less falls back to core.DefaultMaxObservations.
func NewTranscript(max int) *Transcript {
	if max <= 0 {
		max = core.DefaultMaxObservations
	}
	return &Transcript{max: max}
}

// Append adds an entry, evicting the oldest entry first if the transcript is
// at capacity.
func (t *Transcript) Append(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) >= t.max {
		overflow := len(t.entries) - t.max + 1
		t.entries = t.entries[overflow:]
	}
	t.entries = append(t.entries, e)
}

// Entries returns a snapshot copy of the current entries, oldest first.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len reports the current entry count.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// FromObservations rebuilds a Transcript from an existing observation slice,
// for example when restoring a Loop from a durable snapshot.
func FromObservations(max int, obs []core.Observation) *Transcript {
	t := NewTranscript(max)
	for _, o := range obs {
		t.Append(EntryFromObservation(o))
	}
	return t
}

// EntryFromObservation converts a core.Observation to its durable Entry form.
func EntryFromObservation(o core.Observation) Entry {
	return Entry{
		ID:        o.ID,
		AgentID:   o.AgentID,
		Source:    o.Source,
		Content:   o.Content,
		Timestamp: o.Timestamp.UnixNano(),
	}
}

// ToObservation converts a durable Entry back to a core.Observation.
func (e Entry) ToObservation() core.Observation {
	return core.Observation{
		ID:        e.ID,
		AgentID:   e.AgentID,
		Source:    e.Source,
		Content:   e.Content,
		Timestamp: time.Unix(0, e.Timestamp),
	}
}
