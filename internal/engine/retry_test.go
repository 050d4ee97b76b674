package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/Aleksandr071218/wb-parser/internal/config"
	"github.com/Aleksandr071218/wb-parser/internal/types"
)

func TestBackoff(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := p.Backoff(i + 1); got != w {
			t.Errorf("attempt %d: backoff %s, want %s", i+1, got, w)
		}
	}
	if got := (Policy{}).Backoff(3); got != 0 {
		t.Errorf("zero base delay should not sleep, got %s", got)
	}
	if got := (Policy{BaseDelay: time.Hour}).Backoff(100); got != time.Duration(math.MaxInt64) {
		t.Errorf("uncapped backoff should saturate, got %s", got)
	}
	for attempt := 1; attempt <= 64; attempt++ {
		prev := (Policy{BaseDelay: time.Hour}).Backoff(attempt)
		next := (Policy{BaseDelay: time.Hour}).Backoff(attempt + 1)
		if prev <= 0 || next < prev {
			t.Fatalf("attempt %d: backoff %s then %s", attempt, prev, next)
		}
	}
}

func TestRetrySucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	var retried []int
	p := testPolicy("probe", 4)
	p.OnRetry = func(_ string, attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) }

	v, err := Retry(context.Background(), p, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, types.ErrTimeout
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("got %d, %v", v, err)
	}
	if calls != 3 || len(retried) != 2 {
		t.Errorf("calls = %d, retries = %v", calls, retried)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), testPolicy("storage", 5), func(context.Context) error {
		calls++
		return fmt.Errorf("row: %w", types.ErrDuplicate)
	})
	if !errors.Is(err, types.ErrDuplicate) {
		t.Errorf("err = %v", err)
	}
	if errors.Is(err, types.ErrMaxRetries) {
		t.Error("permanent error must not be reported as exhausted")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	cause := &types.RenderError{Op: "navigate", Err: fmt.Errorf("502"), Retryable: true}
	err := Do(context.Background(), testPolicy("render", 3), func(context.Context) error {
		calls++
		return cause
	})
	if !errors.Is(err, types.ErrMaxRetries) {
		t.Errorf("err = %v, want ErrMaxRetries", err)
	}
	var re *types.RenderError
	if !errors.As(err, &re) {
		t.Error("last error should stay in the chain")
	}
	if calls != 3 {
		t.Errorf("calls = %d", calls)
	}
}

func TestRetryAttemptTimeout(t *testing.T) {
	p := Policy{Name: "probe", MaxAttempts: 2, Timeout: 10 * time.Millisecond}
	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
	if calls != 2 {
		t.Errorf("timed out attempts should be retried, got %d calls", calls)
	}
}

func TestRetryHonorsCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Name: "window", MaxAttempts: 5, BaseDelay: time.Hour, Retryable: func(error) bool { return true }}
	p.OnRetry = func(string, int, time.Duration, error) { cancel() }

	start := time.Now()
	err := Do(ctx, p, func(context.Context) error { return errors.New("boom") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("backoff sleep ignored cancellation")
	}
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig("render", config.DefaultConfig().Retry.Render)
	if p.Name != "render" || p.MaxAttempts != 3 || p.BaseDelay != 2*time.Second || p.Timeout != time.Minute {
		t.Errorf("policy = %+v", p)
	}
}
