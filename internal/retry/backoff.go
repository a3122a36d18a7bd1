// Package retry implements bounded exponential backoff for the send
// path and other collaborator calls that may fail transiently.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy configures exponential backoff.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         bool
}

// DefaultPolicy returns the documented default send retry policy.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:       5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}
}

// Do runs op up to p.Attempts times, sleeping between attempts.
// It stops early when op succeeds, when retryable reports the error as
// permanent, or when ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, op func() error, retryable func(error) bool) error {
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == p.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
	return lastErr
}

// Delay returns the backoff delay after the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	if d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	if p.Jitter {
		// +/-25% of the computed delay.
		d += (rand.Float64() - 0.5) * 0.5 * d
		if d < float64(p.InitialBackoff)/2 {
			d = float64(p.InitialBackoff)/2
		}
		if d > float64(p.MaxBackoff) {
			d = float64(p.MaxBackoff)
		}
	}
	return time.Duration(d)
}
