package runner

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Retry defaults.
const (
	DefaultMaxAttempts = 5
	DefaultBaseBackoff = 50 * time.Millisecond
)

// SendError is a failed attempt to deliver one work item. Status is the
// outcome code recorded when the attempt is the last one.
type SendError struct {
	Op     string
	Status int
	// Permanent errors are not retried.
	Permanent bool
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s (status %d): %v", e.Op, e.Status, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Sleeper waits between attempts. Tests inject a fake to avoid real delays.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// TimerSleeper sleeps on a timer and wakes early when ctx is done.
var TimerSleeper Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
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
})

// Backoff is the linear delay before the retry that follows attempt
// (1-based): base * attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return base * time.Duration(attempt)
}

// RetryPolicy configures retry behavior.
type RetryPolicy struct {
	MaxAttempts int                                        // total attempts including initial try
	BaseBackoff time.Duration                              // linear backoff base (used if DelayFunc nil)
	ShouldRetry func(error) bool                           // predicate; if nil, non-permanent errors are retried
	DelayFunc   func(attempt int, err error) time.Duration // dynamic backoff; attempt is 1-based
	Sleeper     Sleeper
}

// DefaultRetryPolicy retries up to 5 times with a 50ms linear backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, BaseBackoff: DefaultBaseBackoff}
}

// Do runs op until it succeeds, fails permanently, or the attempts run out.
// It returns the number of attempts made and the last error. No delay
// follows the final attempt. A cancelled context during a backoff ends the
// loop with the last attempt's error.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleeper := p.Sleeper
	if sleeper == nil {
		sleeper = TimerSleeper
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if !p.retryable(lastErr) {
			return attempt, lastErr
		}
		if attempt == maxAttempts {
			break
		}
		if err := sleeper.Sleep(ctx, p.delay(attempt, lastErr)); err != nil {
			return attempt, lastErr
		}
	}
	return maxAttempts, lastErr
}

func (p RetryPolicy) retryable(err error) bool {
	if p.ShouldRetry != nil {
		return p.ShouldRetry(err)
	}
	var se *SendError
	if errors.As(err, &se) {
		return !se.Permanent
	}
	return true
}

func (p RetryPolicy) delay(attempt int, err error) time.Duration {
	if p.DelayFunc != nil {
		return p.DelayFunc(attempt, err)
	}
	return Backoff(p.BaseBackoff, attempt)
}
