package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sundialhq/sundial/internal/llm"
	"github.com/sundialhq/sundial/internal/storage"
	"github.com/sundialhq/sundial/pkg/types"
)

// EntityGraph maintains the deduplicated knowledge graph.
//
// Resolution order for a mention: exact case-insensitive name match within
// the kind, then name-embedding similarity above the merge threshold against
// all entities of the kind, then create. The storage layer's unique
// constraint is the backstop for concurrent creators: the loser gets
// ErrConflict and re-reads the winner's row.
type EntityGraph struct {
	store      storage.EntityStore
	embedder   llm.EmbeddingGenerator
	similarity SimilarityFunc
	threshold  float64

	now func() time.Time
}

// NewEntityGraph creates the graph service. A nil similarity function
// defaults to NormalizedCosine.
func NewEntityGraph(store storage.EntityStore, embedder llm.EmbeddingGenerator, similarity SimilarityFunc, mergeThreshold float64) *EntityGraph {
	if similarity == nil {
		similarity = NormalizedCosine
	}
	return &EntityGraph{
		store:      store,
		embedder:   embedder,
		similarity: similarity,
		threshold:  mergeThreshold,
		now:        time.Now,
	}
}

// ResolveOrCreate maps a mention to its canonical entity, creating one when
// no existing entity matches by name or embedding similarity.
func (g *EntityGraph) ResolveOrCreate(ctx context.Context, mention types.Mention) (*types.Entity, error) {
	if mention.Name == "" {
		return nil, types.NewValidationError("name", "must not be empty")
	}
	if !mention.Kind.Valid() {
		return nil, types.NewValidationError("kind", "unknown entity kind %q", mention.Kind)
	}

	entity, err := g.store.FindEntityByName(ctx, mention.Kind, mention.Name)
	if err == nil {
		return entity, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("engine: entity lookup failed: %w", err)
	}

	embedding, err := g.embedder.Embed(ctx, mention.Name)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to embed entity name: %w", err)
	}

	candidates, err := g.store.ListEntitiesByKind(ctx, mention.Kind)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to list entities: %w", err)
	}

	var best *types.Entity
	bestScore := g.threshold
	for i := range candidates {
		score := g.similarity(embedding, candidates[i].NameEmbedding)
		if score > bestScore {
			best = &candidates[i]
			bestScore = score
		}
	}
	if best != nil {
		return best, nil
	}

	now := g.now().UTC()
	entity = &types.Entity{
		ID:            uuid.NewString(),
		Kind:          mention.Kind,
		Name:          mention.Name,
		NameEmbedding: embedding,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = g.store.InsertEntity(ctx, entity)
	if err == nil {
		return entity, nil
	}
	if !errors.Is(err, storage.ErrConflict) {
		return nil, fmt.Errorf("engine: failed to create entity: %w", err)
	}

	// Another worker created the same name first; our view was stale.
	entity, err = g.store.FindEntityByName(ctx, mention.Kind, mention.Name)
	if err != nil {
		return nil, fmt.Errorf("engine: conflict re-read failed: %w", err)
	}
	return entity, nil
}

// TargetRef names a relationship target: either another mention (which gets
// resolved) or a literal value. Exactly one side must be set.
type TargetRef struct {
	Mention *types.Mention
	Literal string
}

// AddRelationship asserts a labelled edge from an entity to a target.
// Re-asserting an existing (from, to|literal, label) triple refreshes its
// sentiment and timestamp instead of duplicating the edge.
func (g *EntityGraph) AddRelationship(ctx context.Context, fromID string, target TargetRef, label string, sentiment types.Sentiment) error {
	if fromID == "" {
		return types.NewValidationError("from_id", "must not be empty")
	}
	if label == "" {
		return types.NewValidationError("label", "must not be empty")
	}
	if !sentiment.Valid() {
		return types.NewValidationError("sentiment", "unknown sentiment %q", sentiment)
	}
	if (target.Mention == nil) == (target.Literal == "") {
		return types.NewValidationError("target", "exactly one of mention and literal must be set")
	}

	rel := &types.Relationship{
		ID:        uuid.NewString(),
		FromID:    fromID,
		Label:     label,
		Sentiment: sentiment,
		CreatedAt: g.now().UTC(),
	}
	if target.Mention != nil {
		to, err := g.ResolveOrCreate(ctx, *target.Mention)
		if err != nil {
			return err
		}
		rel.ToID = to.ID
	} else {
		rel.LiteralValue = target.Literal
	}

	if err := g.store.UpsertRelationship(ctx, rel); err != nil {
		return fmt.Errorf("engine: failed to upsert relationship: %w", err)
	}
	return nil
}

// UpsertAttributes merges key/value facts into an entity, overwriting
// existing keys.
func (g *EntityGraph) UpsertAttributes(ctx context.Context, id string, attrs map[string]string) error {
	if len(attrs) == 0 {
		return nil
	}
	return g.store.MergeAttributes(ctx, id, attrs)
}

// Lookup resolves a name within a kind without creating anything. Returns
// storage.ErrNotFound when no entity matches by name or similarity.
func (g *EntityGraph) Lookup(ctx context.Context, kind types.EntityKind, name string) (*types.Entity, error) {
	entity, err := g.store.FindEntityByName(ctx, kind, name)
	if err == nil {
		return entity, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("engine: entity lookup failed: %w", err)
	}

	embedding, err := g.embedder.Embed(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to embed lookup name: %w", err)
	}
	candidates, err := g.store.ListEntitiesByKind(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to list entities: %w", err)
	}

	var best *types.Entity
	bestScore := g.threshold
	for i := range candidates {
		score := g.similarity(embedding, candidates[i].NameEmbedding)
		if score > bestScore {
			best = &candidates[i]
			bestScore = score
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	return best, nil
}

// Neighborhood renders every edge touching the entity as a readable fact,
// with entity IDs resolved back to names.
func (g *EntityGraph) Neighborhood(ctx context.Context, entityID string) ([]types.GraphFact, error) {
	center, err := g.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to load entity: %w", err)
	}

	rels, err := g.store.ListRelationships(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to list relationships: %w", err)
	}

	names := map[string]string{center.ID: center.Name}
	resolve := func(id string) (string, error) {
		if name, ok := names[id]; ok {
			return name, nil
		}
		e, err := g.store.GetEntity(ctx, id)
		if err != nil {
			return "", err
		}
		names[id] = e.Name
		return e.Name, nil
	}

	facts := make([]types.GraphFact, 0, len(rels))
	for _, rel := range rels {
		from, err := resolve(rel.FromID)
		if err != nil {
			return nil, fmt.Errorf("engine: failed to resolve edge source: %w", err)
		}
		to := rel.LiteralValue
		if rel.ToID != "" {
			to, err = resolve(rel.ToID)
			if err != nil {
				return nil, fmt.Errorf("engine: failed to resolve edge target: %w", err)
			}
		}
		facts = append(facts, types.GraphFact{
			From:      from,
			Label:     rel.Label,
			To:        to,
			Sentiment: rel.Sentiment,
		})
	}
	return facts, nil
}
