// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy bounds a retry loop. Retries is the number of attempts after the
// first, so Retries=3 means up to four calls. RetryIf decides from the
// returned error whether another attempt is worthwhile; nil means retry
// every error.
type Policy struct {
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	RetryIf   func(error) bool
}

const (
	defaultBaseDelay = 500 * time.Millisecond
	defaultMaxDelay  = 30 * time.Second
	jitterLow        = 0.7
	jitterSpread     = 0.6
)

// Do runs op until it succeeds, the policy is exhausted, the error is
// declared unretryable, or the context ends. The last error is returned
// unwrapped so callers can still classify it.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}

	var lastErr error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if p.RetryIf != nil && !p.RetryIf(err) {
			return zero, err
		}
		if attempt == p.Retries {
			break
		}
		if err := sleep(ctx, delayFor(p, attempt)); err != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

// delayFor computes the capped exponential delay for the given attempt with
// uniform jitter in [0.7, 1.3].
func delayFor(p Policy, attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	d *= jitterLow + rand.Float64()*jitterSpread
	return time.Duration(d)
}

// sleep waits for d unless the context ends first. It also refuses to start
// a sleep the deadline cannot accommodate, so the remaining budget goes to
// the caller instead of a nap.
func sleep(ctx context.Context, d time.Duration) error {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < d {
		return context.DeadlineExceeded
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
