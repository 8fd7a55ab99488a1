package embeddings

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrCircuitBreakerOpen indicates the circuit breaker is open.
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreaker trips after consecutive embedding failures so a degraded
// upstream does not stall whole pipeline stages.
type CircuitBreaker struct {
	threshold           int
	resetAfter          time.Duration
	consecutiveFailures int
	openUntil           time.Time
	mu                  sync.Mutex
	logger              *zerolog.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(cfg CircuitBreakerConfig, logger *zerolog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:  cfg.Threshold,
		resetAfter: cfg.ResetAfter,
		logger:     logger,
	}
}

// CheckCircuit returns an error if the circuit is open.
func (cb *CircuitBreaker) CheckCircuit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if time.Now().Before(cb.openUntil) {
		return fmt.Errorf("%w until %v", ErrCircuitBreakerOpen, cb.openUntil)
	}

	return nil
}

// RecordSuccess records a successful call and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
}

// RecordFailure records a failed call and opens the circuit if threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++

	if cb.consecutiveFailures >= cb.threshold {
		cb.openUntil = time.Now().Add(cb.resetAfter)

		if cb.logger != nil {
			cb.logger.Warn().
				Int("consecutive_failures", cb.consecutiveFailures).
				Time("open_until", cb.openUntil).
				Msg("embedding circuit breaker opened")
		}
	}
}
