// Package retry runs an operation with a bounded number of retries.
package retry

import (
	"context"
	"time"
)

// Decision is what the classifier wants done with a failed attempt.
type Decision int

const (
	// Retry schedules another attempt if the policy allows it.
	Retry Decision = iota
	// Abort returns the error immediately.
	Abort
)

// Policy bounds the retry loop. MaxRetries counts retries after the first
// attempt, so MaxRetries=5 allows six calls in total.
type Policy struct {
	MaxRetries int
	Delay      time.Duration
}

// Classifier decides whether err is worth retrying.
type Classifier func(err error) Decision

// Observer is told about each scheduled retry. attempt is 1-based.
type Observer func(attempt int, err error, wait time.Duration)

// Always retries every error.
func Always(error) Decision { return Retry }

// Do calls op until it succeeds, the classifier aborts, retries run out, or
// ctx is done. The last op error is returned on exhaustion; ctx.Err() on
// cancellation. Waiting between attempts never blocks past ctx.
func Do(ctx context.Context, p Policy, classify Classifier, op func(ctx context.Context) error, onRetry Observer) error {
	if classify == nil {
		classify = Always
	}
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry(attempt, lastErr, p.Delay)
			}
			if err := sleep(ctx, p.Delay); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if classify(lastErr) == Abort {
			return lastErr
		}
	}
	return lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
