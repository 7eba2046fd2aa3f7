package retry

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ConstantSleep waits the same duration before every retry.
type ConstantSleep struct {
	mu       sync.Mutex
	interval time.Duration
	delays   *backoff.ConstantBackOff
	retries  int
	failures int
	callback Callback
	sleep    sleepFunc
}

// NewConstantSleep creates a policy allowing up to retries attempts with a
// fixed sleep between them. cb may be nil.
func NewConstantSleep(sleep time.Duration, retries int, cb Callback) *ConstantSleep {
	return &ConstantSleep{
		interval: sleep,
		delays:   backoff.NewConstantBackOff(sleep),
		retries:  retries,
		callback: cb,
		sleep:    sleepContext,
	}
}

// ShouldRetry always permits a retry; the ceiling is enforced by the task.
func (p *ConstantSleep) ShouldRetry() bool { return true }

// PrepareRetry increments the failure count, fires the callback and sleeps.
func (p *ConstantSleep) PrepareRetry(ctx context.Context, subject Subject) error {
	p.mu.Lock()
	p.failures++
	failures := p.failures
	delay := p.delays.NextBackOff()
	p.mu.Unlock()

	if p.callback != nil {
		p.callback(subject, failures)
	}
	return p.sleep(ctx, delay)
}

// NumRetries returns the configured ceiling.
func (p *ConstantSleep) NumRetries() int { return p.retries }

// NumFailures returns the failures recorded so far.
func (p *ConstantSleep) NumFailures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

func (p *ConstantSleep) String() string {
	return fmt.Sprintf("ConstantSleep(sleep=%s, retries=%d)", p.interval, p.retries)
}

// ExponentialBackoff sleeps base × exponent^k before the retry that follows
// the k-th failure (k counted from zero), so the first retry waits base.
type ExponentialBackoff struct {
	mu       sync.Mutex
	base     time.Duration
	exponent float64
	delays   *backoff.ExponentialBackOff
	retries  int
	failures int
	callback Callback
	sleep    sleepFunc
}

// NewExponentialBackoff creates a jitter-free exponential policy.
// exponent is usually greater than 1 (1.5, 2.0, ...). cb may be nil.
func NewExponentialBackoff(base time.Duration, exponent float64, maxRetries int, cb Callback) *ExponentialBackoff {
	delays := backoff.NewExponentialBackOff()
	delays.InitialInterval = base
	delays.Multiplier = exponent
	delays.RandomizationFactor = 0
	delays.MaxInterval = time.Duration(math.MaxInt64)
	delays.MaxElapsedTime = 0 // never give up; the task owns the ceiling
	delays.Reset()

	return &ExponentialBackoff{
		base:     base,
		exponent: exponent,
		delays:   delays,
		retries:  maxRetries,
		callback: cb,
		sleep:    sleepContext,
	}
}

// ShouldRetry always permits a retry; the ceiling is enforced by the task.
func (p *ExponentialBackoff) ShouldRetry() bool { return true }

// PrepareRetry computes the delay from the pre-increment failure count, then
// increments it, fires the callback with the new count and sleeps.
func (p *ExponentialBackoff) PrepareRetry(ctx context.Context, subject Subject) error {
	p.mu.Lock()
	delay := p.delays.NextBackOff()
	p.failures++
	failures := p.failures
	p.mu.Unlock()

	if p.callback != nil {
		p.callback(subject, failures)
	}
	return p.sleep(ctx, delay)
}

// NumRetries returns the configured ceiling.
func (p *ExponentialBackoff) NumRetries() int { return p.retries }

// NumFailures returns the failures recorded so far.
func (p *ExponentialBackoff) NumFailures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

func (p *ExponentialBackoff) String() string {
	return fmt.Sprintf("ExponentialBackoff(base=%s, exponent=%g, retries=%d)", p.base, p.exponent, p.retries)
}
