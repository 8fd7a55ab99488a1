package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	// Default rate limiter burst.
	rateLimiterBurst = 5

	// Maximum dimensions for text-embedding-3-large.
	maxLargeDimensions = 3072

	// ModelTextEmbedding3Large supports dimension reduction via API parameter.
	ModelTextEmbedding3Large = "text-embedding-3-large"
)

// ErrEmptyResponse indicates the embedding service returned no vectors.
var ErrEmptyResponse = errors.New("empty embedding response")

// OpenAIProvider implements Provider against an OpenAI-compatible embedding
// endpoint.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	dimensions  int
	rateLimiter *rate.Limiter
	circuit     *CircuitBreaker
}

// OpenAIConfig holds configuration for the OpenAI provider.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // optional, for OpenAI-compatible services
	Model      string
	Dimensions int // output dimensions; the DB schema expects 1536
	RateLimit  int // requests per second
}

// NewOpenAIProvider creates a new embedding provider.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zerolog.Logger) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}

	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimensions
	}

	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		dimensions:  cfg.Dimensions,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), rateLimiterBurst),
		circuit:     NewCircuitBreaker(DefaultCircuitBreakerConfig(), logger),
	}
}

// Dimensions returns the configured output dimensions.
func (p *OpenAIProvider) Dimensions() int {
	return p.dimensions
}

// GetEmbedding generates an embedding for the given text.
func (p *OpenAIProvider) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := p.circuit.CheckCircuit(); err != nil {
		return nil, err
	}

	if err := p.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.model),
	}

	// text-embedding-3-large supports dimension reduction via API parameter
	if p.model == ModelTextEmbedding3Large && p.dimensions > 0 && p.dimensions < maxLargeDimensions {
		req.Dimensions = p.dimensions
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		p.circuit.RecordFailure()

		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	if len(resp.Data) == 0 {
		p.circuit.RecordFailure()

		return nil, ErrEmptyResponse
	}

	p.circuit.RecordSuccess()

	return resp.Data[0].Embedding, nil
}
