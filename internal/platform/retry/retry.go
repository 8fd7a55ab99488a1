// Package retry implements bounded retries with jittered exponential backoff
// for transient I/O failures.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 100 * time.Millisecond
	jitterFraction     = 0.25
)

// backoffSteps multiplies BaseDelay per retry: 100ms, 400ms, 1200ms.
var backoffSteps = []int{1, 4, 12}

// Config configures retry behavior.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultConfig returns the default retry configuration: up to 3 retries at
// roughly 100/400/1200 ms.
func DefaultConfig() Config {
	return Config{MaxAttempts: defaultMaxAttempts, BaseDelay: defaultBaseDelay}
}

// Do runs fn, retrying while retryable(err) holds, up to cfg.MaxAttempts
// retries. The final error is returned unwrapped so callers can classify it.
func Do(ctx context.Context, cfg Config, fn func() error, retryable func(error) bool) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}

	var lastErr error

	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry interrupted: %w", ctx.Err())
			case <-time.After(jitter(delayFor(cfg.BaseDelay, attempt))):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

// delayFor returns the backoff delay before the given retry attempt (1-based).
func delayFor(base time.Duration, attempt int) time.Duration {
	step := attempt - 1
	if step >= len(backoffSteps) {
		step = len(backoffSteps) - 1
	}

	return base * time.Duration(backoffSteps[step])
}

// jitter spreads a delay by +/- jitterFraction to avoid thundering herds.
func jitter(d time.Duration) time.Duration {
	spread := float64(d) * jitterFraction
	//nolint:gosec // non-cryptographic jitter
	offset := (rand.Float64()*2 - 1) * spread

	return d + time.Duration(offset)
}
