package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const (
	DefaultMaxAttempts   = 3
	DefaultInitialDelay  = 1 * time.Second
	DefaultMaxDelay      = 10 * time.Second
	DefaultBackoffFactor = 2.0
	DefaultJitter        = 100 * time.Millisecond
)

var ErrNoAttempts = errors.New("retry: operation was never attempted")

// Policy controls how Do re-runs a failing operation. A zero MaxAttempts,
// MaxDelay or BackoffFactor falls back to the package default. A zero
// InitialDelay or Jitter is kept: no wait, or no jitter. Start from
// DefaultPolicy for the standard schedule. A nil ShouldRetry retries every
// error.
type Policy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        time.Duration

	ShouldRetry func(err error) bool
	OnRetry     func(err error, attempt int)

	// Sleep and Rand are swapped out by tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  func() float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   DefaultMaxAttempts,
		InitialDelay:  DefaultInitialDelay,
		MaxDelay:      DefaultMaxDelay,
		BackoffFactor: DefaultBackoffFactor,
		Jitter:        DefaultJitter,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = DefaultBackoffFactor
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = func(error) bool { return true }
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.Rand == nil {
		p.Rand = rand.Float64
	}
	return p
}

// Do runs op until it succeeds, the policy gives up, or ctx is done while
// waiting between attempts. The returned error is the last attempt's error.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p := policy.normalized()

	var (
		zero    T
		lastErr error
		delay   = p.InitialDelay
	)
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if attempt == p.MaxAttempts || !p.ShouldRetry(err) {
			return zero, err
		}

		if p.OnRetry != nil {
			p.OnRetry(err, attempt)
		}

		delay = NextDelay(delay, p.BackoffFactor, p.MaxDelay)
		if err := p.Sleep(ctx, withJitter(delay, p.Jitter, p.Rand())); err != nil {
			return zero, err
		}
	}

	if lastErr == nil {
		lastErr = ErrNoAttempts
	}
	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// NextDelay grows the previous delay by factor, capped at max.
func NextDelay(prev time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(prev) * factor)
	if next > max {
		return max
	}
	return next
}

// withJitter shifts d by a uniform offset in [-window, +window]; r is in [0,1).
func withJitter(d, window time.Duration, r float64) time.Duration {
	if window <= 0 {
		return d
	}
	offset := time.Duration((r*2 - 1) * float64(window))
	if d+offset < 0 {
		return 0
	}
	return d + offset
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
