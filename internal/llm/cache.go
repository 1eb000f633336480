package llm

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder wraps an EmbeddingGenerator with an in-process cache.
// Entity resolution embeds the same short names over and over; caching them
// avoids a provider round-trip per mention.
type CachedEmbedder struct {
	inner EmbeddingGenerator
	cache *ristretto.Cache
}

var _ EmbeddingGenerator = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with a cache holding up to maxEntries vectors.
func NewCachedEmbedder(inner EmbeddingGenerator, maxEntries int64) (*CachedEmbedder, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: failed to create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for text, or computes and caches it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := c.cache.Get(text); ok {
		if vec, ok := cached.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vec, 1)
	return vec, nil
}

// GetModel returns the underlying embedding model name.
func (c *CachedEmbedder) GetModel() string {
	return c.inner.GetModel()
}
