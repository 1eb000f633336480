// Package storage defines the persistence interfaces for the Sundial core.
//
// The storage layer is the only shared mutable resource in the system: the
// cross-cutting invariants (entity uniqueness, at-most-once task firing) are
// enforced here with atomic conditional writes, not with in-process locks,
// because multiple process instances may run against the same database.
package storage

import (
	"context"
	"time"

	"github.com/sundialhq/sundial/pkg/types"
)

// EpisodicStore persists memory entries and serves retrieval candidates.
type EpisodicStore interface {
	// StoreEntry persists a memory entry. The entry's embedding dimension
	// has already been validated by the episodic service.
	StoreEntry(ctx context.Context, entry *types.MemoryEntry) error

	// GetEntry retrieves an entry by ID. Returns ErrNotFound if absent.
	GetEntry(ctx context.Context, id string) (*types.MemoryEntry, error)

	// SearchCandidates returns unexpired entries for hybrid re-ranking.
	// Backends with vector indexes return the nearest candidates to the
	// query embedding; others return the most recent ones. The caller
	// oversamples (limit > k) and re-ranks with the hybrid score.
	SearchCandidates(ctx context.Context, threadID string, query []float32, limit int, now time.Time) ([]types.MemoryEntry, error)

	// UpdateEntryMeta updates importance and/or expiry; nil leaves a field
	// unchanged. These are the only mutable fields of an entry.
	UpdateEntryMeta(ctx context.Context, id string, importance *float64, expiresAt *time.Time) error

	// DeleteEntry removes an entry. Returns ErrNotFound if absent.
	DeleteEntry(ctx context.Context, id string) error

	// PurgeExpired physically deletes entries whose expiry has passed.
	// Returns the number of rows removed.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)

	// ListOlderThan returns unexpired entries created before the cutoff,
	// used by decay cleanup to find stale low-importance entries.
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]types.MemoryEntry, error)

	// DeleteEntries removes a batch of entries by ID, ignoring missing rows.
	// Returns the number of rows removed.
	DeleteEntries(ctx context.Context, ids []string) (int, error)
}

// EntityStore persists the deduplicated entity graph.
type EntityStore interface {
	// InsertEntity creates a new entity. Returns ErrConflict when another
	// entity with the same kind and (case-insensitive) name already exists;
	// the caller treats its own view as stale and re-reads.
	InsertEntity(ctx context.Context, entity *types.Entity) error

	// GetEntity retrieves an entity by ID. Returns ErrNotFound if absent.
	GetEntity(ctx context.Context, id string) (*types.Entity, error)

	// FindEntityByName finds an entity by exact, case-insensitive name match
	// within a kind. Returns ErrNotFound if no such entity exists.
	FindEntityByName(ctx context.Context, kind types.EntityKind, name string) (*types.Entity, error)

	// ListEntitiesByKind returns all entities of a kind, embeddings included,
	// for similarity-based resolution.
	ListEntitiesByKind(ctx context.Context, kind types.EntityKind) ([]types.Entity, error)

	// MergeAttributes merges the given keys into the entity's attribute map
	// inside a single transaction, overwriting on key collision, and bumps
	// UpdatedAt. Returns ErrNotFound if the entity is absent.
	MergeAttributes(ctx context.Context, id string, attrs map[string]string) error

	// UpsertRelationship inserts the relationship or, when the
	// (from, to|literal, label) triple already exists, refreshes its
	// sentiment and created_at on the existing row.
	UpsertRelationship(ctx context.Context, rel *types.Relationship) error

	// ListRelationships returns relationships touching the given entity,
	// as source or target.
	ListRelationships(ctx context.Context, entityID string) ([]types.Relationship, error)

	// CountRelationships returns the number of rows for an exact triple.
	CountRelationships(ctx context.Context, fromID, toID, literal, label string) (int, error)
}

// ReminderStore persists scheduler tasks. MarkFired is the concurrency
// primitive behind the at-most-once firing guarantee.
type ReminderStore interface {
	// InsertTask persists a new pending task.
	InsertTask(ctx context.Context, task *types.ReminderTask) error

	// GetTask retrieves a task by ID. Returns ErrNotFound if absent.
	GetTask(ctx context.Context, id string) (*types.ReminderTask, error)

	// ListPending returns pending tasks matching the filter, ordered by due
	// time ascending.
	ListPending(ctx context.Context, filter TaskFilter) ([]types.ReminderTask, error)

	// MarkFired atomically transitions pending→fired with a conditional
	// update on the current status. It reports whether this caller won the
	// transition; a false return with nil error means another worker fired
	// the task first, or it was cancelled.
	MarkFired(ctx context.Context, id string) (bool, error)

	// MarkCancelled atomically transitions pending→cancelled. It reports
	// whether the transition happened; cancelling a terminal task is a
	// no-op, not an error.
	MarkCancelled(ctx context.Context, id string) (bool, error)
}

// Store is the full persistence surface used by the engine and scheduler.
type Store interface {
	EpisodicStore
	EntityStore
	ReminderStore

	// Close releases any resources held by the store.
	Close() error
}

// TaskFilter narrows ListPending results. Zero values match everything.
type TaskFilter struct {
	ThreadID  string         // Only tasks for this thread
	Kind      types.TaskKind // Only tasks of this kind
	DueBefore time.Time      // Only tasks due at or before this instant
	Limit     int            // Maximum rows (0 = backend default)
}
