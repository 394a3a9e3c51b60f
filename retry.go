package brix

import (
	"context"
	"time"
)

// RetryPolicy controls how many profile reads the resolver performs and how
// long it waits between them. It is a plain value so tests can swap it for an
// instant schedule.
type RetryPolicy struct {
	// MaxAttempts is the total number of reads, including the first one.
	MaxAttempts int
	// Delay returns the wait before attempt n+1, given the 1-based attempt
	// that just failed.
	Delay func(attempt int) time.Duration
}

// DefaultRetryPolicy matches the trigger-materialization lag seen in
// production: 3 attempts, 500ms x attempt between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       LinearBackoff(500 * time.Millisecond),
	}
}

// LinearBackoff returns base x attempt.
func LinearBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return base * time.Duration(attempt)
	}
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Delay == nil {
		p.Delay = LinearBackoff(500 * time.Millisecond)
	}
	return p
}

// SleepFunc waits for d or until ctx is done, whichever comes first. Injected
// into the resolver so tests run on a fake clock.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
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
