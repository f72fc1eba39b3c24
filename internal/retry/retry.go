// Package retry runs operations with bounded exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy configures retries. MaxRetries counts retries after the first
// attempt, so an operation runs at most MaxRetries+1 times.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	// OnRetry is invoked before sleeping for the given attempt (1-based retry number).
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy suits model provider calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	return p
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, returns a Permanent error, the context ends,
// or the retries are exhausted. It returns the number of attempts made and
// the last error (unwrapped from Permanent).
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) (int, error) {
	p = p.normalized()

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := Delay(p, attempt)
			if p.OnRetry != nil {
				p.OnRetry(attempt, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, fmt.Errorf("retry canceled: %w", errors.Join(ctx.Err(), lastErr))
			case <-timer.C:
			}
		}

		lastErr = fn(ctx, attempt+1)
		if lastErr == nil {
			return attempt + 1, nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return attempt + 1, perm.err
		}
		if ctx.Err() != nil {
			return attempt + 1, fmt.Errorf("retry canceled: %w", errors.Join(ctx.Err(), lastErr))
		}
	}

	return p.MaxRetries + 1, lastErr
}

// Delay computes the backoff before retry number attempt (1-based):
// initial * multiplier^(attempt-1), capped at MaxDelay, with ±25% jitter.
func Delay(p Policy, attempt int) time.Duration {
	p = p.normalized()

	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}

	if delay < float64(p.InitialDelay) {
		delay = float64(p.InitialDelay)
	}

	return time.Duration(delay)
}
