package embeddings

import (
	"context"
	"hash/fnv"
)

// Mock provider constants.
const (
	// LCG (Linear Congruential Generator) constants for deterministic
	// pseudo-random generation.
	lcgMultiplier = 6364136223846793005
	lcgIncrement  = 1442695040888963407

	seedShift      = 33
	floatScale     = 0x40000000
	sqrtDivisor    = 2
	sqrtIterations = 10
)

// MockProvider generates deterministic embeddings from the input text hash,
// so tests get consistent vectors for the same input.
type MockProvider struct {
	dimensions int
}

// NewMockProvider creates a new mock embedding provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{dimensions: DefaultDimensions}
}

// NewMockProviderWithDimensions creates a mock provider with custom dimensions.
func NewMockProviderWithDimensions(dims int) *MockProvider {
	return &MockProvider{dimensions: dims}
}

// Dimensions returns the output dimensions.
func (p *MockProvider) Dimensions() int {
	return p.dimensions
}

// GetEmbedding generates a deterministic mock embedding based on text hash.
func (p *MockProvider) GetEmbedding(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text)) // fnv.Write never returns an error
	seed := h.Sum64()

	vec := make([]float32, p.dimensions)
	for i := range vec {
		seed = seed*lcgMultiplier + lcgIncrement
		//nolint:gosec // intentional uint64->int64 conversion for pseudo-random generation
		vec[i] = float32(int64(seed>>seedShift)-floatScale) / float32(floatScale)
	}

	return normalizeVector(vec), nil
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(vec []float32) []float32 {
	var sum float32
	for _, v := range vec {
		sum += v * v
	}

	if sum == 0 {
		return vec
	}

	norm := sqrt32(sum)
	for i := range vec {
		vec[i] /= norm
	}

	return vec
}

// sqrt32 computes square root for float32 via Newton's method.
func sqrt32(x float32) float32 {
	if x <= 0 {
		return 0
	}

	z := x
	for i := 0; i < sqrtIterations; i++ {
		z = (z + x/z) / sqrtDivisor
	}

	return z
}
