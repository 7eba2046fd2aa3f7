// Package retry provides the strategies a task consults between failed
// attempts: whether another attempt is allowed, and how long to wait first.
package retry

import (
	"context"
	"time"
)

// Subject is the task being retried, as seen by a policy and its callback.
type Subject interface {
	Format() string
}

// Callback is invoked on every PrepareRetry with the post-increment failure count.
type Callback func(subject Subject, failures int)

// Policy decides whether and how a failed task is retried.
//
// Policies are stateful: the failure counter is never reset, so reusing one
// policy across several task runs accumulates failures across those runs.
type Policy interface {
	// ShouldRetry reports whether a further retry is permitted.
	ShouldRetry() bool

	// PrepareRetry records a failure, fires the callback and sleeps.
	// It returns ctx.Err() if the context ends during the sleep.
	PrepareRetry(ctx context.Context, subject Subject) error

	// NumRetries is the configured attempt ceiling.
	NumRetries() int

	// NumFailures is the number of failures recorded so far.
	NumFailures() int

	String() string
}

// SuccessObserver is implemented by policies that want to hear about
// successful attempts, e.g. to close a circuit breaker.
type SuccessObserver interface {
	RecordSuccess()
}

type sleepFunc func(ctx context.Context, d time.Duration) error

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
