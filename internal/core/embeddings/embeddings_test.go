package embeddings

import (
	"context"
	"io"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{name: "identical", a: []float32{1, 0, 0}, b: []float32{1, 0, 0}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "length mismatch", a: []float32{1, 0}, b: []float32{1}, want: 0},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 1}, want: 0},
		{name: "empty", a: nil, b: nil, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-6)
		})
	}
}

func TestMockProviderDeterministic(t *testing.T) {
	p := NewMockProvider()

	a, err := p.GetEmbedding(context.Background(), "solar farm approved")
	require.NoError(t, err)
	require.Len(t, a, DefaultDimensions)

	b, err := p.GetEmbedding(context.Background(), "solar farm approved")
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := p.GetEmbedding(context.Background(), "different text")
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestMockProviderNormalized(t *testing.T) {
	p := NewMockProviderWithDimensions(64)

	vec, err := p.GetEmbedding(context.Background(), "any text")
	require.NoError(t, err)
	require.Len(t, vec, 64)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}

	require.InDelta(t, 1.0, math.Sqrt(sum), 1e-3)
	require.InDelta(t, 1.0, CosineSimilarity(vec, vec), 1e-5)
}

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	logger := zerolog.New(io.Discard)
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 3, ResetAfter: time.Minute}, &logger)

	require.NoError(t, cb.CheckCircuit())

	cb.RecordFailure()
	cb.RecordFailure()
	require.NoError(t, cb.CheckCircuit(), "below threshold the circuit stays closed")

	cb.RecordFailure()
	require.ErrorIs(t, cb.CheckCircuit(), ErrCircuitBreakerOpen)
}

func TestCircuitBreakerSuccessResetsCount(t *testing.T) {
	logger := zerolog.New(io.Discard)
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 2, ResetAfter: time.Minute}, &logger)

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()

	require.NoError(t, cb.CheckCircuit())
}

func TestCircuitBreakerResetsAfterTimeout(t *testing.T) {
	logger := zerolog.New(io.Discard)
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 1, ResetAfter: 10 * time.Millisecond}, &logger)

	cb.RecordFailure()
	require.ErrorIs(t, cb.CheckCircuit(), ErrCircuitBreakerOpen)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.CheckCircuit())
}
