package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sundialhq/sundial/internal/config"
	"github.com/sundialhq/sundial/pkg/types"
)

func testRetrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		Alpha:          0.5,
		Beta:           0.2,
		Gamma:          0.3,
		HalfLife:       168 * time.Hour,
		SearchK:        5,
		CandidateLimit: 256,
	}
}

func testDecayConfig() config.DecayConfig {
	return config.DecayConfig{
		CleanupInterval: time.Hour,
		ImportanceFloor: 0.01,
		Inactivity:      720 * time.Hour,
	}
}

func newTestEpisodic(store *memEpisodicStore, embedder *fakeEmbedder, now time.Time) *EpisodicService {
	svc := NewEpisodicService(store, embedder, nil, testRetrievalConfig(), testDecayConfig(), 3)
	svc.now = func() time.Time { return now }
	return svc
}

func TestRememberValidation(t *testing.T) {
	svc := newTestEpisodic(newMemEpisodicStore(), newFakeEmbedder(3), time.Now().UTC())
	ctx := context.Background()

	tests := []struct {
		name  string
		input RememberInput
	}{
		{"empty thread", RememberInput{Content: "x", Importance: 0.5}},
		{"empty content", RememberInput{ThreadID: "t1", Importance: 0.5}},
		{"importance above one", RememberInput{ThreadID: "t1", Content: "x", Importance: 1.5}},
		{"negative importance", RememberInput{ThreadID: "t1", Content: "x", Importance: -0.1}},
		{"wrong dimension", RememberInput{ThreadID: "t1", Content: "x", Importance: 0.5, Embedding: []float32{1, 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Remember(ctx, tt.input)
			var verr *types.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestRememberStoresEntry(t *testing.T) {
	store := newMemEpisodicStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestEpisodic(store, newFakeEmbedder(3), now)

	entry, err := svc.Remember(context.Background(), RememberInput{
		ThreadID:   "t1",
		Content:    "moved to Amsterdam",
		Importance: 0.8,
		Tags:       []string{"life"},
	})
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}
	if entry.ID == "" {
		t.Error("expected generated ID")
	}
	if !entry.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", entry.CreatedAt, now)
	}

	stored, err := store.GetEntry(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if stored.Content != "moved to Amsterdam" {
		t.Errorf("stored content = %q", stored.Content)
	}
	if len(stored.Embedding) != 3 {
		t.Errorf("stored embedding dimension = %d, want 3", len(stored.Embedding))
	}
}

// Three entries with identical content and importance, created 0h, 1h and 2h
// ago. Similarity and importance tie, so the recency component must rank the
// newest first.
func TestSearchRecencyBreaksEqualContent(t *testing.T) {
	store := newMemEpisodicStore()
	embedder := newFakeEmbedder(3)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestEpisodic(store, embedder, now)

	ids := []string{"a", "b", "c"}
	ages := []time.Duration{2 * time.Hour, time.Hour, 0}
	for i, id := range ids {
		store.entries[id] = types.MemoryEntry{
			ID:         id,
			ThreadID:   "t1",
			Content:    "same content",
			Embedding:  []float32{1, 0, 0},
			Importance: 0.5,
			CreatedAt:  now.Add(-ages[i]),
		}
	}
	embedder.set("same content", []float32{1, 0, 0})

	results, err := svc.Search(context.Background(), "t1", "same content", 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Entry.ID != "c" {
		t.Errorf("expected newest entry c, got %s", results[0].Entry.ID)
	}
}

func TestSearchExcludesExpired(t *testing.T) {
	store := newMemEpisodicStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestEpisodic(store, newFakeEmbedder(3), now)

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	store.entries["expired"] = types.MemoryEntry{
		ID: "expired", ThreadID: "t1", Content: "old", Embedding: []float32{1, 0, 0},
		Importance: 0.9, CreatedAt: now.Add(-time.Hour), ExpiresAt: &past,
	}
	store.entries["live"] = types.MemoryEntry{
		ID: "live", ThreadID: "t1", Content: "new", Embedding: []float32{1, 0, 0},
		Importance: 0.1, CreatedAt: now.Add(-time.Hour), ExpiresAt: &future,
	}

	results, err := svc.Search(context.Background(), "t1", "anything", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Entry.ID != "live" {
		t.Errorf("expected only the live entry, got %+v", results)
	}
}

func TestSearchScopedToThread(t *testing.T) {
	store := newMemEpisodicStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestEpisodic(store, newFakeEmbedder(3), now)

	store.entries["mine"] = types.MemoryEntry{
		ID: "mine", ThreadID: "t1", Content: "x", Embedding: []float32{1, 0, 0},
		Importance: 0.5, CreatedAt: now,
	}
	store.entries["other"] = types.MemoryEntry{
		ID: "other", ThreadID: "t2", Content: "x", Embedding: []float32{1, 0, 0},
		Importance: 0.5, CreatedAt: now,
	}

	results, err := svc.Search(context.Background(), "t1", "x", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Entry.ID != "mine" {
		t.Errorf("expected only thread t1 entries, got %+v", results)
	}
}

func TestRecencyScoreMonotonic(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestEpisodic(newMemEpisodicStore(), newFakeEmbedder(3), now)

	prev := svc.recencyScore(now, now)
	if prev != 1.0 {
		t.Errorf("recency at creation = %v, want 1.0", prev)
	}
	for _, age := range []time.Duration{time.Hour, 24 * time.Hour, 168 * time.Hour, 1000 * time.Hour} {
		score := svc.recencyScore(now.Add(-age), now)
		if score >= prev {
			t.Errorf("recency not decreasing: age %v scored %v, previous %v", age, score, prev)
		}
		prev = score
	}

	// One half-life old scores exactly half.
	half := svc.recencyScore(now.Add(-168*time.Hour), now)
	if diff := half - 0.5; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("recency at one half-life = %v, want 0.5", half)
	}
}

func TestDecayCleanup(t *testing.T) {
	store := newMemEpisodicStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestEpisodic(store, newFakeEmbedder(3), now)

	past := now.Add(-time.Hour)
	future := now.Add(24 * time.Hour)
	store.entries["expired"] = types.MemoryEntry{
		ID: "expired", ThreadID: "t1", Content: "x", Importance: 0.9,
		CreatedAt: now.Add(-time.Hour), ExpiresAt: &past,
	}
	// Old and weak: 0.1 * 2^(-2000/168) is far below the 0.01 floor.
	store.entries["stale"] = types.MemoryEntry{
		ID: "stale", ThreadID: "t1", Content: "x", Importance: 0.1,
		CreatedAt: now.Add(-2000 * time.Hour),
	}
	// Old but important enough to survive.
	store.entries["strong"] = types.MemoryEntry{
		ID: "strong", ThreadID: "t1", Content: "x", Importance: 1.0,
		CreatedAt: now.Add(-800 * time.Hour),
	}
	// Recent and weak: inside the inactivity window, never considered.
	store.entries["recent"] = types.MemoryEntry{
		ID: "recent", ThreadID: "t1", Content: "x", Importance: 0.01,
		CreatedAt: now.Add(-time.Hour),
	}
	// Unexpired future expiry must not be purged.
	store.entries["future"] = types.MemoryEntry{
		ID: "future", ThreadID: "t1", Content: "x", Importance: 0.9,
		CreatedAt: now.Add(-time.Hour), ExpiresAt: &future,
	}

	removed, err := svc.DecayCleanup(context.Background())
	if err != nil {
		t.Fatalf("DecayCleanup failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	for _, id := range []string{"strong", "recent", "future"} {
		if _, ok := store.entries[id]; !ok {
			t.Errorf("entry %s should have survived cleanup", id)
		}
	}
	for _, id := range []string{"expired", "stale"} {
		if _, ok := store.entries[id]; ok {
			t.Errorf("entry %s should have been removed", id)
		}
	}
}

func TestDecayCleanupKeepsFutureExpiry(t *testing.T) {
	store := newMemEpisodicStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestEpisodic(store, newFakeEmbedder(3), now)

	// Old and far below the floor, but explicitly kept alive until tomorrow.
	// Only expiry may reclaim it, never the importance sweep.
	future := now.Add(24 * time.Hour)
	store.entries["kept"] = types.MemoryEntry{
		ID: "kept", ThreadID: "t1", Content: "x", Importance: 0.1,
		CreatedAt: now.Add(-2000 * time.Hour), ExpiresAt: &future,
	}
	// Same age and importance without an expiry: swept.
	store.entries["swept"] = types.MemoryEntry{
		ID: "swept", ThreadID: "t1", Content: "x", Importance: 0.1,
		CreatedAt: now.Add(-2000 * time.Hour),
	}

	removed, err := svc.DecayCleanup(context.Background())
	if err != nil {
		t.Fatalf("DecayCleanup failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, ok := store.entries["kept"]; !ok {
		t.Error("entry with future expiry was removed by the importance sweep")
	}
	if _, ok := store.entries["swept"]; ok {
		t.Error("entry without expiry should have been swept")
	}
}

func TestUpdateMetaAndForget(t *testing.T) {
	store := newMemEpisodicStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestEpisodic(store, newFakeEmbedder(3), now)
	ctx := context.Background()

	entry, err := svc.Remember(ctx, RememberInput{ThreadID: "t1", Content: "x", Importance: 0.5})
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	imp := 0.9
	if err := svc.UpdateMeta(ctx, entry.ID, &imp, nil); err != nil {
		t.Fatalf("UpdateMeta failed: %v", err)
	}
	got, _ := store.GetEntry(ctx, entry.ID)
	if got.Importance != 0.9 {
		t.Errorf("importance = %v, want 0.9", got.Importance)
	}

	bad := 1.5
	var verr *types.ValidationError
	if err := svc.UpdateMeta(ctx, entry.ID, &bad, nil); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for importance 1.5, got %v", err)
	}

	if err := svc.Forget(ctx, entry.ID); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if _, err := store.GetEntry(ctx, entry.ID); err == nil {
		t.Error("entry still present after Forget")
	}
}
