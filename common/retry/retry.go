// Package retry runs an operation again after transient failures, waiting
// a doubling delay between attempts.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy says how often and how patiently to retry.
type Policy struct {
	// Attempts counts the first call. Values below 1 mean a single call.
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
	// Retryable classifies errors; nil retries everything.
	Retryable func(error) bool
	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Default suits short network calls.
var Default = Policy{Attempts: 3, Delay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out or ctx ends. The last error from fn is returned, joined with the
// context error when cancellation cut the wait short.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	delay := p.Delay
	if delay <= 0 {
		delay = Default.Delay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = Default.MaxDelay
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= attempts || (p.Retryable != nil && !p.Retryable(err)) {
			return err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
		delay = min(delay*2, maxDelay)
	}
}
