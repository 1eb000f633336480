package engine

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sundialhq/sundial/internal/config"
	"github.com/sundialhq/sundial/internal/llm"
	"github.com/sundialhq/sundial/internal/storage"
	"github.com/sundialhq/sundial/pkg/types"
)

// EpisodicService owns the episodic memory store: remembering entries,
// hybrid retrieval, and decay cleanup.
//
// Hybrid score: alpha*similarity + beta*recency + gamma*importance, where
// recency halves every configured half-life. Candidates are oversampled from
// the store and re-ranked in process so both backends rank identically.
type EpisodicService struct {
	store      storage.EpisodicStore
	embedder   llm.EmbeddingGenerator
	similarity SimilarityFunc

	retrieval config.RetrievalConfig
	decay     config.DecayConfig
	dimension int

	// now is swappable for tests.
	now func() time.Time
}

// NewEpisodicService creates the episodic service. A nil similarity function
// defaults to NormalizedCosine.
func NewEpisodicService(store storage.EpisodicStore, embedder llm.EmbeddingGenerator, similarity SimilarityFunc, retrieval config.RetrievalConfig, decay config.DecayConfig, dimension int) *EpisodicService {
	if similarity == nil {
		similarity = NormalizedCosine
	}
	return &EpisodicService{
		store:      store,
		embedder:   embedder,
		similarity: similarity,
		retrieval:  retrieval,
		decay:      decay,
		dimension:  dimension,
		now:        time.Now,
	}
}

// RememberInput describes a new memory entry. ExpiresAt nil means permanent.
type RememberInput struct {
	ThreadID   string
	Content    string
	Importance float64
	Tags       []string
	ExpiresAt  *time.Time

	// Embedding, when set, skips the embedding call. Its length must match
	// the deployment dimension.
	Embedding []float32
}

// Remember validates and persists a new episodic entry, embedding the content
// when no embedding was supplied.
func (s *EpisodicService) Remember(ctx context.Context, in RememberInput) (*types.MemoryEntry, error) {
	if in.ThreadID == "" {
		return nil, types.NewValidationError("thread_id", "must not be empty")
	}
	if in.Content == "" {
		return nil, types.NewValidationError("content", "must not be empty")
	}
	if in.Importance < 0 || in.Importance > 1 {
		return nil, types.NewValidationError("importance", "must be in [0,1], got %v", in.Importance)
	}

	embedding := in.Embedding
	if embedding == nil {
		var err error
		embedding, err = s.embedder.Embed(ctx, in.Content)
		if err != nil {
			return nil, fmt.Errorf("engine: failed to embed memory content: %w", err)
		}
	}
	if len(embedding) != s.dimension {
		return nil, types.NewValidationError("embedding", "dimension %d does not match configured %d", len(embedding), s.dimension)
	}

	entry := &types.MemoryEntry{
		ID:         uuid.NewString(),
		ThreadID:   in.ThreadID,
		Content:    in.Content,
		Embedding:  embedding,
		Importance: in.Importance,
		Tags:       in.Tags,
		CreatedAt:  s.now().UTC(),
		ExpiresAt:  in.ExpiresAt,
	}
	if err := s.store.StoreEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("engine: failed to store memory entry: %w", err)
	}
	return entry, nil
}

// Search embeds the query and returns the top-k entries for the thread by
// hybrid score. k <= 0 falls back to the configured default. Expired entries
// never appear. Score ties break towards the newer entry.
func (s *EpisodicService) Search(ctx context.Context, threadID, query string, k int) ([]types.ScoredMemory, error) {
	if threadID == "" {
		return nil, types.NewValidationError("thread_id", "must not be empty")
	}
	if k <= 0 {
		k = s.retrieval.SearchK
	}

	queryEmbedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to embed query: %w", err)
	}

	now := s.now().UTC()
	candidates, err := s.store.SearchCandidates(ctx, threadID, queryEmbedding, s.retrieval.CandidateLimit, now)
	if err != nil {
		return nil, fmt.Errorf("engine: candidate search failed: %w", err)
	}

	scored := make([]types.ScoredMemory, 0, len(candidates))
	for _, entry := range candidates {
		if entry.Expired(now) {
			continue
		}
		sim := s.similarity(queryEmbedding, entry.Embedding)
		rec := s.recencyScore(entry.CreatedAt, now)
		scored = append(scored, types.ScoredMemory{
			Entry:      entry,
			Score:      s.retrieval.Alpha*sim + s.retrieval.Beta*rec + s.retrieval.Gamma*entry.Importance,
			Similarity: sim,
			Recency:    rec,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Entry.CreatedAt.After(scored[j].Entry.CreatedAt)
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Get returns a single entry by ID.
func (s *EpisodicService) Get(ctx context.Context, id string) (*types.MemoryEntry, error) {
	return s.store.GetEntry(ctx, id)
}

// UpdateMeta changes an entry's importance and/or expiry. Nil leaves the
// field unchanged.
func (s *EpisodicService) UpdateMeta(ctx context.Context, id string, importance *float64, expiresAt *time.Time) error {
	if importance != nil && (*importance < 0 || *importance > 1) {
		return types.NewValidationError("importance", "must be in [0,1], got %v", *importance)
	}
	return s.store.UpdateEntryMeta(ctx, id, importance, expiresAt)
}

// Forget removes an entry permanently.
func (s *EpisodicService) Forget(ctx context.Context, id string) error {
	return s.store.DeleteEntry(ctx, id)
}

// recencyScore is 2^(-age/halfLife): 1.0 at creation, 0.5 after one
// half-life, monotonically decreasing. Future timestamps clamp to 1.0.
func (s *EpisodicService) recencyScore(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt)
	if age <= 0 {
		return 1.0
	}
	return math.Exp2(-age.Hours() / s.retrieval.HalfLife.Hours())
}

// DecayCleanup removes expired entries and stale low-importance entries: any
// entry older than the inactivity window whose effective importance
// (importance * recency) has dropped below the floor. An entry with an
// explicit expiry still in the future is exempt from the floor sweep; it was
// given a lifetime and only PurgeExpired may reclaim it. Returns the total
// number of entries removed.
func (s *EpisodicService) DecayCleanup(ctx context.Context) (int, error) {
	now := s.now().UTC()

	purged, err := s.store.PurgeExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("engine: failed to purge expired entries: %w", err)
	}

	cutoff := now.Add(-s.decay.Inactivity)
	stale, err := s.store.ListOlderThan(ctx, cutoff)
	if err != nil {
		return purged, fmt.Errorf("engine: failed to list stale entries: %w", err)
	}

	var doomed []string
	for _, entry := range stale {
		if entry.ExpiresAt != nil && entry.ExpiresAt.After(now) {
			continue
		}
		effective := entry.Importance * s.recencyScore(entry.CreatedAt, now)
		if effective < s.decay.ImportanceFloor {
			doomed = append(doomed, entry.ID)
		}
	}
	if len(doomed) == 0 {
		return purged, nil
	}

	removed, err := s.store.DeleteEntries(ctx, doomed)
	if err != nil {
		return purged, fmt.Errorf("engine: failed to delete decayed entries: %w", err)
	}
	return purged + removed, nil
}

// RunCleanupLoop runs DecayCleanup on the configured interval until the
// context is cancelled.
func (s *EpisodicService) RunCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.decay.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.DecayCleanup(ctx)
			if err != nil {
				log.Printf("decay cleanup failed: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("decay cleanup removed %d entries", removed)
			}
		}
	}
}
