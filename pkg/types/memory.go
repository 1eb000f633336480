// Package types defines the shared data model for the Sundial memory core:
// episodic memory entries, the entity graph, reminder tasks, and the context
// bundle handed to the reasoning step.
package types

import "time"

// MemoryEntry is a single episodic memory: a timestamped piece of knowledge
// about the user's life, embedded for semantic retrieval.
//
// Entries are created by the extraction pipeline or by an explicit "remember"
// action. After creation only Importance and ExpiresAt may change; entries are
// removed by decay cleanup or an explicit forget.
type MemoryEntry struct {
	ID       string `json:"id"`        // Unique identifier (uuid)
	ThreadID string `json:"thread_id"` // Owning conversation thread
	Content  string `json:"content"`   // Free-text memory content

	// Embedding is the content embedding. Its length must match the
	// deployment's configured dimension.
	Embedding []float32 `json:"embedding,omitempty"`

	// Importance is the retrieval weight in [0.0, 1.0].
	Importance float64 `json:"importance"`

	Tags      []string   `json:"tags,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"` // nil means the entry never expires
}

// Expired reports whether the entry's expiry has passed at the given time.
// Entries with no expiry never expire.
func (m *MemoryEntry) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// ScoredMemory is a memory entry together with its hybrid retrieval score.
type ScoredMemory struct {
	Entry MemoryEntry `json:"entry"`

	// Score is the hybrid score: alpha*similarity + beta*recency + gamma*importance.
	Score float64 `json:"score"`

	// Similarity and Recency expose the score components for debugging.
	Similarity float64 `json:"similarity"`
	Recency    float64 `json:"recency"`
}
