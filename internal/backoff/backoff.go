// Package backoff provides exponential backoff with jitter and a generic
// retry loop.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrMaxAttemptsExhausted is returned when all retry attempts have been exhausted.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	// Jitter is the randomization factor (0.0 to 1.0) added on top of the base delay.
	Jitter float64
}

// DefaultPolicy returns 200ms doubling up to 5s with 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 200 * time.Millisecond,
		Max:     5 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay returns the wait before retrying after attempt (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// delay computes min(max, base + base*jitter*r) with base = initial*factor^(attempt-1).
func (p Policy) delay(attempt int, r float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*p.Jitter*r
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	return time.Duration(total)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Retry returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn up to maxAttempts times, sleeping per policy between failed
// attempts. It returns the attempt count alongside the result. When every
// attempt fails the error wraps both ErrMaxAttemptsExhausted and the last error.
func Retry[T any](ctx context.Context, policy Policy, maxAttempts int, fn func(attempt int) (T, error)) (T, int, error) {
	var zero T
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, err
		}
		value, err := fn(attempt)
		if err == nil {
			return value, attempt, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, attempt, perm.err
		}
		lastErr = err
		if attempt < maxAttempts {
			if err := Sleep(ctx, policy.Delay(attempt)); err != nil {
				return zero, attempt, err
			}
		}
	}
	return zero, maxAttempts, fmt.Errorf("%w: %w", ErrMaxAttemptsExhausted, lastErr)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
