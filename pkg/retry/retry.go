// Package retry runs an operation again when it fails with an error the caller
// marks as transient (serialization failures, deadlocks), backing off
// exponentially with jitter between attempts.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts  = 5
	defaultBaseDelay    = 10 * time.Millisecond
	defaultJitterFactor = 0.3
)

var (
	// ErrInvalidMaxAttempts is returned when max attempts are not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrNegativeBaseDelay is returned when the base delay is negative.
	ErrNegativeBaseDelay = errors.New("base delay must not be negative")

	// ErrInvalidJitterFactor is returned when the jitter factor is not between 0.0 and 1.0.
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")
)

type Func func(ctx context.Context) error

type config struct {
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
	retryable    func(error) bool
}

type Option func(*config) error

// Do executes fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. Delays: 0, base, base*2, base*4, ... plus jitter.
// Without WithRetryable nothing is retried.
func Do(ctx context.Context, fn Func, opts ...Option) error {
	cfg := &config{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
		retryable:    func(error) bool { return false },
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 0; attempt < cfg.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := cfg.baseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * cfg.jitterFactor //nolint:gosec
			t := time.NewTimer(delay + time.Duration(jitter))
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !cfg.retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func WithMaxAttempts(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return ErrInvalidMaxAttempts
		}
		c.maxAttempts = n
		return nil
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(c *config) error {
		if d < 0 {
			return ErrNegativeBaseDelay
		}
		c.baseDelay = d
		return nil
	}
}

func WithJitterFactor(f float64) Option {
	return func(c *config) error {
		if f < 0 || f > 1 {
			return ErrInvalidJitterFactor
		}
		c.jitterFactor = f
		return nil
	}
}

func WithRetryable(pred func(error) bool) Option {
	return func(c *config) error {
		if pred != nil {
			c.retryable = pred
		}
		return nil
	}
}
