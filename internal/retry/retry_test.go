package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var errPermanent = errors.New("permanent")

type transientError struct{ attempt int }

func (e transientError) Error() string { return fmt.Sprintf("transient attempt=%d", e.attempt) }

func recordingSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestDoExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	var (
		calls  int
		delays []time.Duration
	)
	policy := Policy{
		MaxAttempts: 3,
		Sleep:       recordingSleep(&delays),
		Rand:        func() float64 { return 0.5 },
	}

	_, err := Do(context.Background(), policy, func(context.Context) (int, error) {
		calls++
		return 0, transientError{attempt: calls}
	})

	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	var te transientError
	if !errors.As(err, &te) || te.attempt != 3 {
		t.Fatalf("expected last attempt error, got %v", err)
	}
	if len(delays) != 2 {
		t.Fatalf("expected 2 waits, got %d", len(delays))
	}
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	policy := Policy{
		MaxAttempts: 5,
		ShouldRetry: func(err error) bool { return !errors.Is(err, errPermanent) },
		Sleep: func(context.Context, time.Duration) error {
			t.Fatal("non-retryable error must not wait")
			return nil
		},
	}

	_, err := Do(context.Background(), policy, func(context.Context) (string, error) {
		calls++
		return "", errPermanent
	})

	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestDoReturnsValueAfterTransientFailures(t *testing.T) {
	var (
		calls    int
		retried  []int
		delays   []time.Duration
		expected = 42
	)
	policy := Policy{
		MaxAttempts:   4,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      300 * time.Millisecond,
		BackoffFactor: 2,
		Jitter:        100 * time.Millisecond,
		OnRetry:       func(_ error, attempt int) { retried = append(retried, attempt) },
		Sleep:         recordingSleep(&delays),
		Rand:          func() float64 { return 0.5 },
	}

	got, err := Do(context.Background(), policy, func(context.Context) (int, error) {
		calls++
		if calls < 4 {
			return 0, transientError{attempt: calls}
		}
		return expected, nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != expected {
		t.Fatalf("expected %d, got %d", expected, got)
	}
	if len(retried) != 3 || retried[0] != 1 || retried[2] != 3 {
		t.Fatalf("unexpected retry callbacks %v", retried)
	}

	want := []time.Duration{200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, d := range want {
		if delays[i] != d {
			t.Fatalf("delay[%d]: expected %s, got %s", i, d, delays[i])
		}
	}
}

func TestDoHonoursContextWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Do(ctx, Policy{MaxAttempts: 3, InitialDelay: time.Hour}, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, transientError{attempt: calls}
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call before cancellation, got %d", calls)
	}
}

func TestWithJitterStaysInWindow(t *testing.T) {
	base := time.Second
	window := 100 * time.Millisecond

	if got := withJitter(base, window, 0); got != 900*time.Millisecond {
		t.Fatalf("expected lower bound 900ms, got %s", got)
	}
	if got := withJitter(base, window, 0.999999); got > 1100*time.Millisecond {
		t.Fatalf("expected at most 1.1s, got %s", got)
	}
	if got := withJitter(10*time.Millisecond, window, 0); got != 0 {
		t.Fatalf("expected jitter to clamp at zero, got %s", got)
	}
}

func TestNextDelayCapsAtMax(t *testing.T) {
	if got := NextDelay(6*time.Second, 2, 10*time.Second); got != 10*time.Second {
		t.Fatalf("expected cap at 10s, got %s", got)
	}
	if got := NextDelay(time.Second, 2, 10*time.Second); got != 2*time.Second {
		t.Fatalf("expected 2s, got %s", got)
	}
}

func TestRunPropagatesError(t *testing.T) {
	err := Run(context.Background(), Policy{MaxAttempts: 1}, func(context.Context) error {
		return errPermanent
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestZeroPolicyFieldDefaults(t *testing.T) {
	var (
		calls  int
		delays []time.Duration
	)
	policy := Policy{
		Sleep: recordingSleep(&delays),
		Rand:  func() float64 { return 1 },
	}

	_ = Run(context.Background(), policy, func(context.Context) error {
		calls++
		return errPermanent
	})

	if calls != DefaultMaxAttempts {
		t.Fatalf("zero MaxAttempts should default to %d, got %d calls", DefaultMaxAttempts, calls)
	}
	// zero InitialDelay and Jitter are kept, so every wait is zero
	for _, d := range delays {
		if d != 0 {
			t.Fatalf("expected zero waits, got %v", delays)
		}
	}

	delays = nil
	policy = DefaultPolicy()
	policy.Sleep = recordingSleep(&delays)
	policy.Rand = func() float64 { return 0.5 }
	_ = Run(context.Background(), policy, func(context.Context) error { return errPermanent })
	if len(delays) != 2 || delays[0] != 2*time.Second || delays[1] != 4*time.Second {
		t.Fatalf("expected default schedule [2s 4s], got %v", delays)
	}
}
