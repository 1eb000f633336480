package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sundialhq/sundial/internal/storage"
	"github.com/sundialhq/sundial/pkg/types"
)

// fakeEmbedder returns canned vectors by exact text, falling back to a
// default vector, so tests control similarity outcomes deterministically.
type fakeEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	fallback []float32
	calls    int
}

func newFakeEmbedder(dim int) *fakeEmbedder {
	fallback := make([]float32, dim)
	fallback[0] = 1
	return &fakeEmbedder{
		vectors:  make(map[string][]float32),
		fallback: fallback,
	}
}

func (f *fakeEmbedder) set(text string, vec []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[text] = vec
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if vec, ok := f.vectors[text]; ok {
		return vec, nil
	}
	return f.fallback, nil
}

func (f *fakeEmbedder) GetModel() string { return "fake-embedder" }

// memEpisodicStore is an in-memory EpisodicStore.
type memEpisodicStore struct {
	mu      sync.Mutex
	entries map[string]types.MemoryEntry
}

func newMemEpisodicStore() *memEpisodicStore {
	return &memEpisodicStore{entries: make(map[string]types.MemoryEntry)}
}

func (s *memEpisodicStore) StoreEntry(_ context.Context, entry *types.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = *entry
	return nil
}

func (s *memEpisodicStore) GetEntry(_ context.Context, id string) (*types.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &entry, nil
}

func (s *memEpisodicStore) SearchCandidates(_ context.Context, threadID string, _ []float32, limit int, now time.Time) ([]types.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.MemoryEntry
	for _, entry := range s.entries {
		if entry.ThreadID != threadID || entry.Expired(now) {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memEpisodicStore) UpdateEntryMeta(_ context.Context, id string, importance *float64, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return storage.ErrNotFound
	}
	if importance != nil {
		entry.Importance = *importance
	}
	if expiresAt != nil {
		entry.ExpiresAt = expiresAt
	}
	s.entries[id] = entry
	return nil
}

func (s *memEpisodicStore) DeleteEntry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

func (s *memEpisodicStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

func (s *memEpisodicStore) ListOlderThan(_ context.Context, cutoff time.Time) ([]types.MemoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.MemoryEntry
	for _, entry := range s.entries {
		if entry.CreatedAt.Before(cutoff) {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *memEpisodicStore) DeleteEntries(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := s.entries[id]; ok {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

// memEntityStore is an in-memory EntityStore with the same case-insensitive
// uniqueness the real backends enforce.
type memEntityStore struct {
	mu            sync.Mutex
	entities      map[string]types.Entity
	relationships map[string]types.Relationship

	// insertHook runs inside InsertEntity before the uniqueness check,
	// letting tests interleave a concurrent writer.
	insertHook func()
}

func newMemEntityStore() *memEntityStore {
	return &memEntityStore{
		entities:      make(map[string]types.Entity),
		relationships: make(map[string]types.Relationship),
	}
}

func (s *memEntityStore) InsertEntity(_ context.Context, entity *types.Entity) error {
	if s.insertHook != nil {
		s.insertHook()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.entities {
		if existing.Kind == entity.Kind && strings.EqualFold(existing.Name, entity.Name) {
			return storage.ErrConflict
		}
	}
	s.entities[entity.ID] = *entity
	return nil
}

func (s *memEntityStore) GetEntity(_ context.Context, id string) (*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.entities[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &entity, nil
}

func (s *memEntityStore) FindEntityByName(_ context.Context, kind types.EntityKind, name string) (*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entity := range s.entities {
		if entity.Kind == kind && strings.EqualFold(entity.Name, name) {
			e := entity
			return &e, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *memEntityStore) ListEntitiesByKind(_ context.Context, kind types.EntityKind) ([]types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Entity
	for _, entity := range s.entities {
		if entity.Kind == kind {
			out = append(out, entity)
		}
	}
	return out, nil
}

func (s *memEntityStore) MergeAttributes(_ context.Context, id string, attrs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entity, ok := s.entities[id]
	if !ok {
		return storage.ErrNotFound
	}
	if entity.Attributes == nil {
		entity.Attributes = make(map[string]string)
	}
	for k, v := range attrs {
		entity.Attributes[k] = v
	}
	entity.UpdatedAt = time.Now().UTC()
	s.entities[id] = entity
	return nil
}

func (s *memEntityStore) UpsertRelationship(_ context.Context, rel *types.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rel.FromID + "|" + rel.ToID + "|" + rel.LiteralValue + "|" + rel.Label
	if existing, ok := s.relationships[key]; ok {
		existing.Sentiment = rel.Sentiment
		existing.CreatedAt = rel.CreatedAt
		s.relationships[key] = existing
		return nil
	}
	s.relationships[key] = *rel
	return nil
}

func (s *memEntityStore) ListRelationships(_ context.Context, entityID string) ([]types.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Relationship
	for _, rel := range s.relationships {
		if rel.FromID == entityID || rel.ToID == entityID {
			out = append(out, rel)
		}
	}
	return out, nil
}

func (s *memEntityStore) CountRelationships(_ context.Context, fromID, toID, literal, label string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rel := range s.relationships {
		if rel.FromID == fromID && rel.ToID == toID && rel.LiteralValue == literal && rel.Label == label {
			n++
		}
	}
	return n, nil
}
