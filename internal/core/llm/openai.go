package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// ErrCircuitBreakerOpen indicates the circuit breaker is open.
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// ErrEmptyCompletion indicates the service returned no choices.
var ErrEmptyCompletion = errors.New("empty completion response")

const (
	circuitBreakerThreshold = 5
	circuitBreakerTimeout   = 1 * time.Minute
	rateLimiterBurst        = 5

	errRateLimiter    = "rate limiter: %w"
	errChatCompletion = "chat completion: %w"
)

// OpenAIConfig holds configuration for the chat client.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string // optional, for OpenAI-compatible services
	Model     string
	RateLimit int // requests per second
}

type openaiClient struct {
	client      *openai.Client
	model       string
	logger      *zerolog.Logger
	rateLimiter *rate.Limiter

	// Circuit breaker state
	consecutiveFailures int
	circuitOpenUntil    time.Time
	mu                  sync.Mutex
}

// NewOpenAI creates a chat-completion client.
func NewOpenAI(cfg OpenAIConfig, logger *zerolog.Logger) Client {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}

	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &openaiClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		logger:      logger,
		rateLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimit)), rateLimiterBurst),
	}
}

func (c *openaiClient) checkCircuit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Now().Before(c.circuitOpenUntil) {
		return fmt.Errorf("%w until %v", ErrCircuitBreakerOpen, c.circuitOpenUntil)
	}

	return nil
}

func (c *openaiClient) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures = 0
}

func (c *openaiClient) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures++
	if c.consecutiveFailures >= circuitBreakerThreshold {
		c.circuitOpenUntil = time.Now().Add(circuitBreakerTimeout)
		c.logger.Warn().
			Int("consecutive_failures", c.consecutiveFailures).
			Time("open_until", c.circuitOpenUntil).
			Msg("chat circuit breaker opened")
	}
}

func (c *openaiClient) RewriteHeadline(ctx context.Context, title, dek string) (string, error) {
	if err := c.checkCircuit(); err != nil {
		return "", err
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf(errRateLimiter, err)
	}

	user := "Headline: " + title
	if dek != "" {
		user += "\nSummary: " + dek
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: rewriteSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		c.recordFailure()

		return "", fmt.Errorf(errChatCompletion, err)
	}

	c.recordSuccess()

	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	out = strings.Trim(out, `"`)

	return out, nil
}

func (c *openaiClient) DiscoverArticles(ctx context.Context, query string, perQuery int) ([]DiscoveredArticle, error) {
	if err := c.checkCircuit(); err != nil {
		return nil, err
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf(errRateLimiter, err)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(discoverSystemPrompt, perQuery)},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		c.recordFailure()

		return nil, fmt.Errorf(errChatCompletion, err)
	}

	c.recordSuccess()

	if len(resp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	content := resp.Choices[0].Message.Content
	c.logger.Debug().Str("content", content).Msg("discovery response")

	articles, err := parseDiscoveryJSON(content)
	if err != nil {
		return nil, err
	}

	if len(articles) > perQuery {
		articles = articles[:perQuery]
	}

	return articles, nil
}

// parseDiscoveryJSON tolerates the wrapper object, a bare array, or an array
// under any key.
func parseDiscoveryJSON(content string) ([]DiscoveredArticle, error) {
	var wrapper struct {
		Articles []DiscoveredArticle `json:"articles"`
	}

	if err := json.Unmarshal([]byte(content), &wrapper); err == nil && len(wrapper.Articles) > 0 {
		return wrapper.Articles, nil
	}

	var arr []DiscoveredArticle
	if err := json.Unmarshal([]byte(content), &arr); err == nil && len(arr) > 0 {
		return arr, nil
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("parse discovery response: %w", err)
	}

	for _, v := range raw {
		arrBytes, _ := json.Marshal(v) //nolint:errchkjson // re-marshaling parsed JSON, cannot fail

		var out []DiscoveredArticle
		if err := json.Unmarshal(arrBytes, &out); err == nil && len(out) > 0 {
			return out, nil
		}
	}

	return nil, nil
}
