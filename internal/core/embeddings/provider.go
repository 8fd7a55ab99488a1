// Package embeddings provides the embedding service client used for
// clustering and category anchors.
package embeddings

import (
	"context"
	"math"
	"time"
)

// DefaultDimensions matches the articles.embedding column width.
const DefaultDimensions = 1536

// Provider generates embedding vectors for text.
type Provider interface {
	// GetEmbedding generates an embedding for the given text.
	GetEmbedding(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the output dimensions of this provider.
	Dimensions() int
}

// CircuitBreakerConfig defines circuit breaker settings.
type CircuitBreakerConfig struct {
	Threshold  int           // Number of failures before opening circuit
	ResetAfter time.Duration // Time before attempting recovery
}

const defaultCircuitThreshold = 5

// DefaultCircuitBreakerConfig returns sensible defaults for circuit breaker.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:  defaultCircuitThreshold,
		ResetAfter: time.Minute,
	}
}

// CosineSimilarity computes the cosine similarity of two vectors. Mismatched
// or zero-length inputs score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float32

	for i := 0; i < len(a); i++ {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
