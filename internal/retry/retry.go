// Package retry runs an operation with a bounded attempt budget and
// exponential backoff between attempts.
package retry

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Policy bounds how often and how fast an operation is retried.
type Policy struct {
	Attempts  int           // total attempts, including the first; <= 1 means no retry
	Initial   time.Duration // delay before the second attempt
	Max       time.Duration // cap for the doubled delay
	Retryable func(error) bool
	Clock     clockwork.Clock
	OnRetry   func(attempt int, err error)
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempt
// budget is spent, or ctx is done. The last error from fn is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	delay := p.Initial

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if p.OnRetry != nil {
				p.OnRetry(i+1, err)
			}
			if !sleepWithContext(ctx, clock, delay) {
				return err
			}
			delay = nextBackoff(delay, p.Max)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
	}
	return err
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if maxBackoff > 0 && next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
