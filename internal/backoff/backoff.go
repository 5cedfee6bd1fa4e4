// Package backoff computes step retry delays and waits them out.
package backoff

import (
	"context"
	"math"
	"time"
)

// Exponential doubles the delay after every failed attempt.
// Delay(attempt) = min(Base * 2^attempt, Max), with attempt counted from zero.
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base, maxDelay time.Duration) Exponential {
	return Exponential{Base: base, Max: maxDelay}
}

// Delay returns the wait that follows failed attempt number attempt.
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := e.Base
	for i := 0; i < attempt; i++ {
		if e.Max > 0 && d >= e.Max {
			return e.Max
		}
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
	}
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// Sleeper suspends the caller for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep waits for d, returning ctx.Err() if the context ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
