package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"dualdex-bot/internal/config"
	"dualdex-bot/internal/venue"
)

// Policy is a bounded-attempt exponential backoff wrapper for remote
// venue calls. Backoff for attempt n is
// min(BaseDelay * Multiplier^n, MaxDelay), optionally jittered by up to
// ±Jitter of itself. A zero Policy retries nothing useful; build one
// with FromConfig or set the fields explicitly.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64

	// Classify decides whether an error is worth retrying. Defaults to
	// venue.IsRetryable.
	Classify func(error) bool
}

// ExhaustedError reports that every attempt of a retried operation
// failed with a retryable error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// IsExhausted reports whether err is a retry exhaustion.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

func FromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Multiplier:  cfg.Multiplier,
		Jitter:      cfg.Jitter,
	}
}

// Do runs fn up to MaxAttempts times. Terminal errors surface
// immediately; retryable errors sleep the computed backoff between
// attempts. The backoff sleep observes ctx so an aborting cycle can
// interrupt it.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	_, err := DoValue(ctx, p, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoValue is Do for operations returning a value.
func DoValue[T any](ctx context.Context, p Policy, op string, fn func() (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	classify := p.Classify
	if classify == nil {
		classify = venue.IsRetryable
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !classify(err) {
			return zero, err
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-time.After(p.backoff(attempt)):
		case <-ctx.Done():
			return zero, lastErr
		}
	}
	return zero, &ExhaustedError{Op: op, Attempts: attempts, Last: lastErr}
}

func (p Policy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	delay := float64(base) * math.Pow(mult, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	if p.Jitter > 0 {
		delay += delay * p.Jitter * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
