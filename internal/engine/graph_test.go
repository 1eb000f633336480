package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sundialhq/sundial/internal/storage"
	"github.com/sundialhq/sundial/pkg/types"
)

func newTestGraph(store *memEntityStore, embedder *fakeEmbedder) *EntityGraph {
	return NewEntityGraph(store, embedder, nil, 0.9)
}

func TestResolveExactNameCaseInsensitive(t *testing.T) {
	store := newMemEntityStore()
	embedder := newFakeEmbedder(3)
	graph := newTestGraph(store, embedder)
	ctx := context.Background()

	first, err := graph.ResolveOrCreate(ctx, types.Mention{Name: "Sunita", Kind: types.KindPerson})
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}
	second, err := graph.ResolveOrCreate(ctx, types.Mention{Name: "sunita", Kind: types.KindPerson})
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("case variants created two entities: %s and %s", first.ID, second.ID)
	}
	if second.Name != "Sunita" {
		t.Errorf("canonical name = %q, want Sunita", second.Name)
	}
	if len(store.entities) != 1 {
		t.Errorf("entity count = %d, want 1", len(store.entities))
	}
}

func TestResolveSimilarityMerge(t *testing.T) {
	store := newMemEntityStore()
	embedder := newFakeEmbedder(3)
	graph := newTestGraph(store, embedder)
	ctx := context.Background()

	embedder.set("Jon", []float32{1, 0, 0})
	jon, err := graph.ResolveOrCreate(ctx, types.Mention{Name: "Jon", Kind: types.KindPerson})
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}

	// Near-identical embedding: similarity well above 0.9, same referent.
	embedder.set("Jonn", []float32{0.99, 0.01, 0})
	merged, err := graph.ResolveOrCreate(ctx, types.Mention{Name: "Jonn", Kind: types.KindPerson})
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}
	if merged.ID != jon.ID {
		t.Error("typo variant above threshold should merge into existing entity")
	}

	// Orthogonal embedding: similarity 0.5, distinct referent.
	embedder.set("Mara", []float32{0, 1, 0})
	mara, err := graph.ResolveOrCreate(ctx, types.Mention{Name: "Mara", Kind: types.KindPerson})
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}
	if mara.ID == jon.ID {
		t.Error("dissimilar mention must create a new entity")
	}
	if len(store.entities) != 2 {
		t.Errorf("entity count = %d, want 2", len(store.entities))
	}
}

func TestResolveKindsDoNotMerge(t *testing.T) {
	store := newMemEntityStore()
	embedder := newFakeEmbedder(3)
	graph := newTestGraph(store, embedder)
	ctx := context.Background()

	person, err := graph.ResolveOrCreate(ctx, types.Mention{Name: "Jazz", Kind: types.KindPerson})
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}
	pref, err := graph.ResolveOrCreate(ctx, types.Mention{Name: "Jazz", Kind: types.KindPreference})
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}
	if person.ID == pref.ID {
		t.Error("same name in different kinds must stay separate entities")
	}
}

func TestResolveConflictReReads(t *testing.T) {
	store := newMemEntityStore()
	embedder := newFakeEmbedder(3)
	graph := newTestGraph(store, embedder)
	ctx := context.Background()

	// A concurrent writer lands the same name between our lookup and insert.
	var winner *types.Entity
	store.insertHook = func() {
		if winner != nil {
			return
		}
		now := time.Now().UTC()
		winner = &types.Entity{
			ID: uuid.NewString(), Kind: types.KindPerson, Name: "Ravi",
			NameEmbedding: []float32{1, 0, 0}, CreatedAt: now, UpdatedAt: now,
		}
		store.mu.Lock()
		store.entities[winner.ID] = *winner
		store.mu.Unlock()
	}

	got, err := graph.ResolveOrCreate(ctx, types.Mention{Name: "Ravi", Kind: types.KindPerson})
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}
	if got.ID != winner.ID {
		t.Errorf("loser should adopt winner's entity %s, got %s", winner.ID, got.ID)
	}
	if len(store.entities) != 1 {
		t.Errorf("entity count = %d, want 1", len(store.entities))
	}
}

func TestAddRelationshipIdempotent(t *testing.T) {
	store := newMemEntityStore()
	embedder := newFakeEmbedder(3)
	graph := newTestGraph(store, embedder)
	ctx := context.Background()

	embedder.set("Sunita", []float32{1, 0, 0})
	embedder.set("User", []float32{0, 1, 0})
	sunita, err := graph.ResolveOrCreate(ctx, types.Mention{Name: "Sunita", Kind: types.KindPerson})
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}

	userMention := types.Mention{Name: "User", Kind: types.KindPerson}
	for i := 0; i < 5; i++ {
		err := graph.AddRelationship(ctx, sunita.ID, TargetRef{Mention: &userMention}, "mother", types.SentimentPositive)
		if err != nil {
			t.Fatalf("AddRelationship failed: %v", err)
		}
	}

	user, err := store.FindEntityByName(ctx, types.KindPerson, "User")
	if err != nil {
		t.Fatalf("user entity missing: %v", err)
	}
	n, err := store.CountRelationships(ctx, sunita.ID, user.ID, "", "mother")
	if err != nil {
		t.Fatalf("CountRelationships failed: %v", err)
	}
	if n != 1 {
		t.Errorf("relationship count after 5 asserts = %d, want 1", n)
	}
}

func TestAddRelationshipLiteralTarget(t *testing.T) {
	store := newMemEntityStore()
	embedder := newFakeEmbedder(3)
	graph := newTestGraph(store, embedder)
	ctx := context.Background()

	user, err := graph.ResolveOrCreate(ctx, types.Mention{Name: "User", Kind: types.KindPerson})
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}
	if err := graph.AddRelationship(ctx, user.ID, TargetRef{Literal: "jazz"}, "prefers", types.SentimentPositive); err != nil {
		t.Fatalf("AddRelationship failed: %v", err)
	}

	n, err := store.CountRelationships(ctx, user.ID, "", "jazz", "prefers")
	if err != nil {
		t.Fatalf("CountRelationships failed: %v", err)
	}
	if n != 1 {
		t.Errorf("literal relationship count = %d, want 1", n)
	}
	// Only the user entity exists; "jazz" never became a node.
	if len(store.entities) != 1 {
		t.Errorf("entity count = %d, want 1", len(store.entities))
	}
}

func TestAddRelationshipValidation(t *testing.T) {
	graph := newTestGraph(newMemEntityStore(), newFakeEmbedder(3))
	ctx := context.Background()
	mention := types.Mention{Name: "X", Kind: types.KindPerson}

	tests := []struct {
		name      string
		fromID    string
		target    TargetRef
		label     string
		sentiment types.Sentiment
	}{
		{"empty from", "", TargetRef{Literal: "x"}, "l", types.SentimentNone},
		{"empty label", "id", TargetRef{Literal: "x"}, "", types.SentimentNone},
		{"bad sentiment", "id", TargetRef{Literal: "x"}, "l", types.Sentiment("angry")},
		{"no target", "id", TargetRef{}, "l", types.SentimentNone},
		{"both targets", "id", TargetRef{Mention: &mention, Literal: "x"}, "l", types.SentimentNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := graph.AddRelationship(ctx, tt.fromID, tt.target, tt.label, tt.sentiment)
			var verr *types.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestUpsertAttributes(t *testing.T) {
	store := newMemEntityStore()
	graph := newTestGraph(store, newFakeEmbedder(3))
	ctx := context.Background()

	entity, err := graph.ResolveOrCreate(ctx, types.Mention{Name: "Amsterdam", Kind: types.KindFactSubject})
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}

	if err := graph.UpsertAttributes(ctx, entity.ID, map[string]string{"country": "NL", "kind": "city"}); err != nil {
		t.Fatalf("UpsertAttributes failed: %v", err)
	}
	if err := graph.UpsertAttributes(ctx, entity.ID, map[string]string{"country": "Netherlands"}); err != nil {
		t.Fatalf("UpsertAttributes failed: %v", err)
	}

	got, err := store.GetEntity(ctx, entity.ID)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.Attributes["country"] != "Netherlands" {
		t.Errorf("country = %q, want overwrite to Netherlands", got.Attributes["country"])
	}
	if got.Attributes["kind"] != "city" {
		t.Errorf("kind = %q, existing key must survive the merge", got.Attributes["kind"])
	}
}

func TestLookupDoesNotCreate(t *testing.T) {
	store := newMemEntityStore()
	graph := newTestGraph(store, newFakeEmbedder(3))
	ctx := context.Background()

	_, err := graph.Lookup(ctx, types.KindPerson, "Nobody")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if len(store.entities) != 0 {
		t.Errorf("Lookup must not create entities, found %d", len(store.entities))
	}
}

func TestNeighborhood(t *testing.T) {
	store := newMemEntityStore()
	embedder := newFakeEmbedder(3)
	graph := newTestGraph(store, embedder)
	ctx := context.Background()

	embedder.set("Sunita", []float32{1, 0, 0})
	embedder.set("User", []float32{0, 1, 0})
	sunita, err := graph.ResolveOrCreate(ctx, types.Mention{Name: "Sunita", Kind: types.KindPerson})
	if err != nil {
		t.Fatalf("ResolveOrCreate failed: %v", err)
	}
	userMention := types.Mention{Name: "User", Kind: types.KindPerson}
	if err := graph.AddRelationship(ctx, sunita.ID, TargetRef{Mention: &userMention}, "mother", types.SentimentPositive); err != nil {
		t.Fatalf("AddRelationship failed: %v", err)
	}
	if err := graph.AddRelationship(ctx, sunita.ID, TargetRef{Literal: "gardening"}, "enjoys", types.SentimentPositive); err != nil {
		t.Fatalf("AddRelationship failed: %v", err)
	}

	facts, err := graph.Neighborhood(ctx, sunita.ID)
	if err != nil {
		t.Fatalf("Neighborhood failed: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("fact count = %d, want 2", len(facts))
	}
	seen := map[string]string{}
	for _, f := range facts {
		seen[f.Label] = f.To
	}
	if seen["mother"] != "User" {
		t.Errorf("mother edge renders to %q, want User", seen["mother"])
	}
	if seen["enjoys"] != "gardening" {
		t.Errorf("enjoys edge renders to %q, want gardening", seen["enjoys"])
	}
}
