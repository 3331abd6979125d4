// Package session backs the durable run-record side of a Loop (SPEC_FULL.md
// §[SUPPLEMENT]): spec.md's Loop entity has no notion of a session, but §6's
// persisted state layout implies a durable record keyed by loopId, and the
// teacher already models exactly that split between a long-lived Session and
// per-execution RunMeta (runtime/agent/session/session.go). This package
// renames RunID to LoopID and RunMeta to LoopMeta, so LoopMeta attaches 1:1
// to a core.Loop rather than
// a generic workflow execution, and reuses core.LoopStatus instead of a
// second parallel status enum.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/orpar-labs/orpar-core/internal/core"
)

type (
	// Session captures durable session lifecycle state. A session is the
	// container an agent's loops run under; it outlives any single loop.
	Session struct {
		// ID is the durable identifier of the session.
		ID string
		// Status is the current session lifecycle state.
		Status Status
		// CreatedAt records when the session was created.
		CreatedAt time.Time
		// EndedAt is set when the session is ended.
		EndedAt *time.Time
	}

	// LoopMeta captures persistent metadata associated with a single Loop
	// execution (spec §3 Loop, §6 "Persisted state layout: Loops: keyed by
	// loopId").
	LoopMeta struct {
		// AgentID identifies the loop's owning agent.
		AgentID string
		// LoopID is the durable loop identifier.
		LoopID string
		// SessionID associates related loops under one session.
		SessionID string
		// ChannelID is the loop's scope boundary (spec §3 Channel).
		ChannelID string
		// Status mirrors core.LoopStatus.
		Status core.LoopStatus
		// StartedAt records when the loop began.
		StartedAt time.Time
		// UpdatedAt records when the loop metadata was last updated.
		UpdatedAt time.Time
		// Labels stores caller- or policy-provided labels.
		Labels map[string]string
		// Metadata stores implementation-specific metadata (e.g. stop reason).
		Metadata map[string]any
	}

	// Store persists session lifecycle state and loop metadata. Implementations
	// must be durable: failures are surfaced to callers rather than silently
	// swallowed, matching the teacher's session.Store contract.
	Store interface {
		// CreateSession creates (or returns) an active session. Idempotent for
		// active sessions. Returns ErrSessionEnded when the session exists but
		// is terminal.
		CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (Session, error)
		// LoadSession loads an existing session. Returns ErrSessionNotFound
		// when the session does not exist.
		LoadSession(ctx context.Context, sessionID string) (Session, error)
		// EndSession ends a session and returns its terminal state. Idempotent:
		// ending an already-ended session returns the stored session.
		EndSession(ctx context.Context, sessionID string, endedAt time.Time) (Session, error)

		// UpsertLoop inserts or updates loop metadata.
		UpsertLoop(ctx context.Context, loop LoopMeta) error
		// LoadLoop loads loop metadata. Returns ErrLoopNotFound when missing.
		LoadLoop(ctx context.Context, loopID string) (LoopMeta, error)
		// ListLoopsBySession lists loops for the given session. When statuses
		// is non-empty, only loops whose status matches one of the provided
		// values are returned.
		ListLoopsBySession(ctx context.Context, sessionID string, statuses []core.LoopStatus) ([]LoopMeta, error)
	}

	// Status represents the lifecycle state of a session.
	Status string
)

const (
	// StatusActive indicates the session is open for new loops.
	StatusActive Status = "active"
	// StatusEnded indicates the session is terminal and must not accept new loops.
	StatusEnded Status = "ended"
)

var (
	// ErrSessionNotFound indicates a session does not exist in the store.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionEnded indicates a session exists but is ended.
	ErrSessionEnded = errors.New("session: ended")
	// ErrLoopNotFound indicates loop metadata does not exist in the store.
	ErrLoopNotFound = errors.New("session: loop not found")
)

// CloseOnStop builds the LoopMeta update that closes out a session's run
// record when its owning Loop reaches core.LoopStopped (spec §[SUPPLEMENT]
// "Session lifecycle"). The engine does not call it; a caller passes the
// result to Store.UpsertLoop.
func CloseOnStop(loop *core.Loop, reason string) LoopMeta {
	meta := LoopMeta{
		AgentID:   loop.OwnerAgentID,
		LoopID:    loop.LoopID,
		SessionID: loop.OwnerAgentID, // one session per agent unless overridden by the caller
		ChannelID: loop.ChannelID,
		Status:    core.LoopStopped,
		StartedAt: loop.StartedAt,
		UpdatedAt: time.Now(),
	}
	if reason != "" {
		meta.Metadata = map[string]any{core.MetaReason: reason}
	}
	return meta
}
