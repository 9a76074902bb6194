package backoff

import (
	"context"
	"errors"
	"time"
)

var ErrRetriesExhausted = errors.New("retry budget exhausted")

const (
	defaultMaxAttempts  = 4
	defaultInitialDelay = 500 * time.Millisecond
	defaultMaxDelay     = 30 * time.Second
)

// Policy is a bounded exponential backoff schedule.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultPolicy returns the retry budget used for external calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  defaultMaxAttempts,
		InitialDelay: defaultInitialDelay,
		MaxDelay:     defaultMaxDelay,
	}
}

// Delay returns the wait before the given attempt (0-based). Attempt 0 has
// no delay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := p.InitialDelay << (attempt - 1)
	if delay > p.MaxDelay || delay <= 0 {
		return p.MaxDelay
	}
	return delay
}

// Retry runs fn up to MaxAttempts times, sleeping per the schedule between
// attempts. It returns nil on the first success, the context error if the
// context ends while waiting, and ErrRetriesExhausted wrapped around the
// last failure otherwise.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if delay := p.Delay(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
	}

	return errors.Join(ErrRetriesExhausted, lastErr)
}
