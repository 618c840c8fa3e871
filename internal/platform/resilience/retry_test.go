package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Jitter:      0,
	}
}

// TestRetry_SucceedsAfterTransientFailures verifies eventual success
func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected success on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}

	t.Log("✓ Retry recovers from transient failures")
}

// TestRetry_ExhaustsAttempts verifies the terminal error wraps the last failure
func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	lastErr := errors.New("persistent failure")
	err := Retry(context.Background(), fastRetryConfig(3), func(ctx context.Context) error {
		calls++
		return lastErr
	})

	if calls != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d", calls)
	}
	if !errors.Is(err, lastErr) {
		t.Errorf("Expected wrapped last error, got %v", err)
	}

	t.Log("✓ Retry stops at MaxAttempts and surfaces the last error")
}

// TestRetry_CancellationStopsAttempts verifies context cancellation wins
func TestRetry_CancellationStopsAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Retry(ctx, RetryConfig{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: time.Second}, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("failure")
	})

	if calls != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled in chain, got %v", err)
	}

	t.Log("✓ Cancellation stops retrying immediately")
}

// TestRetryWithResult_ReturnsValue verifies the generic variant
func TestRetryWithResult_ReturnsValue(t *testing.T) {
	calls := 0
	value, err := RetryWithResult(context.Background(), fastRetryConfig(3), func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})

	if err != nil || value != 42 {
		t.Errorf("Expected 42, got %d / %v", value, err)
	}

	failErr := errors.New("always")
	value, err = RetryWithResult(context.Background(), fastRetryConfig(2), func(ctx context.Context) (int, error) {
		return 7, failErr
	})
	if !errors.Is(err, failErr) {
		t.Errorf("Expected wrapped error, got %v", err)
	}
	if value != 0 {
		t.Errorf("Expected zero value on exhaustion, got %d", value)
	}

	t.Log("✓ RetryWithResult returns values and zero-values symmetrically")
}

// TestCalculateBackoff verifies exponential growth, capping and jitter bounds
func TestCalculateBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	if d := calculateBackoff(0, base, max, 0); d != 100*time.Millisecond {
		t.Errorf("Attempt 0: got %v, want 100ms", d)
	}
	if d := calculateBackoff(1, base, max, 0); d != 200*time.Millisecond {
		t.Errorf("Attempt 1: got %v, want 200ms", d)
	}
	if d := calculateBackoff(2, base, max, 0); d != 400*time.Millisecond {
		t.Errorf("Attempt 2: got %v, want 400ms", d)
	}
	if d := calculateBackoff(10, base, max, 0); d != max {
		t.Errorf("Large attempt must cap at MaxDelay: got %v", d)
	}

	// With jitter 0.5 the delay lands within ±50% of the nominal value.
	for i := 0; i < 50; i++ {
		d := calculateBackoff(1, base, max, 0.5)
		if d < 100*time.Millisecond || d > 300*time.Millisecond {
			t.Fatalf("Jittered delay out of bounds: %v", d)
		}
	}

	t.Log("✓ Backoff doubles per attempt, caps at MaxDelay, jitters within bounds")
}
