// Package llm wraps the opaque language-model capabilities the core depends
// on: text completion with structured output, and text embedding. Both are
// pluggable; all calls are circuit-breaker protected.
package llm

import "context"

// TextGenerator is the interface for single-prompt text completion.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator turns text into a fixed-length vector.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
