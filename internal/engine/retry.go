package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Aleksandr071218/wb-parser/internal/config"
	"github.com/Aleksandr071218/wb-parser/internal/types"
)

// Policy describes how one call site is retried: a bounded number of
// attempts, exponential backoff between them and an optional timeout per
// attempt.
type Policy struct {
	Name        string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration

	// Retryable decides whether an error earns another attempt. Nil means
	// types.IsRetryable.
	Retryable func(error) bool

	// OnRetry is called before each backoff sleep.
	OnRetry func(name string, attempt int, delay time.Duration, err error)
}

// PolicyFromConfig builds a named policy from its configuration.
func PolicyFromConfig(name string, c config.RetryPolicy) Policy {
	return Policy{
		Name:        name,
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		MaxDelay:    c.MaxDelay,
		Timeout:     c.Timeout,
	}
}

// Backoff returns the delay before attempt+1, doubling from BaseDelay and
// capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if p.BaseDelay <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	var delay time.Duration
	if p.BaseDelay > time.Duration(math.MaxInt64)>>shift {
		delay = time.Duration(math.MaxInt64)
	} else {
		delay = p.BaseDelay << shift
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return types.IsRetryable(err)
}

// Retry runs fn under policy p. Non-retryable errors are returned as is;
// exhausting the attempts wraps the last error with types.ErrMaxRetries.
// The backoff sleep honors ctx.
func Retry[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := runAttempt(ctx, p.Timeout, fn)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !p.retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(p.Name, attempt, delay, err)
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s: %w (last error: %w)", p.Name, err, lastErr)
		}
	}

	return zero, fmt.Errorf("%s: %w after %d attempts: %w", p.Name, types.ErrMaxRetries, attempts, lastErr)
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

// Do is Retry for calls without a result.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
