// Package engine implements the Sundial memory core: hybrid episodic
// retrieval with decay, the deduplicated entity graph, the background
// extraction pipeline, and the context aggregator.
package engine

import "math"

// SimilarityFunc scores two embeddings in [0, 1], where 1 means identical
// direction. Both retrieval and entity resolution take the function as a
// dependency so it can be swapped per deployment or faked in tests.
type SimilarityFunc func(a, b []float32) float64

// NormalizedCosine maps cosine similarity from [-1, 1] onto [0, 1] with
// (cos+1)/2. Mismatched or zero-length vectors score 0.
func NormalizedCosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return (cos + 1) / 2
}
