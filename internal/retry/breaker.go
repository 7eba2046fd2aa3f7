package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

var errAttemptFailed = errors.New("attempt failed")

// CircuitBreaker decorates a Policy with a gobreaker circuit breaker.
// Every PrepareRetry counts as a breaker failure; once the breaker opens,
// ShouldRetry refuses and the owning task stops early.
type CircuitBreaker struct {
	inner   Policy
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreaker wraps inner. The breaker may be shared between policies
// (see BreakerRegistry) when cross-task failure accounting is wanted.
func NewCircuitBreaker(inner Policy, breaker *gobreaker.CircuitBreaker) *CircuitBreaker {
	return &CircuitBreaker{inner: inner, breaker: breaker}
}

// ShouldRetry refuses while the breaker is open.
func (p *CircuitBreaker) ShouldRetry() bool {
	if p.breaker.State() == gobreaker.StateOpen {
		return false
	}
	return p.inner.ShouldRetry()
}

// PrepareRetry records the failure in the breaker, then defers to the inner policy.
func (p *CircuitBreaker) PrepareRetry(ctx context.Context, subject Subject) error {
	_, _ = p.breaker.Execute(func() (interface{}, error) {
		return nil, errAttemptFailed
	})
	return p.inner.PrepareRetry(ctx, subject)
}

// RecordSuccess reports a successful attempt to the breaker.
func (p *CircuitBreaker) RecordSuccess() {
	_, _ = p.breaker.Execute(func() (interface{}, error) {
		return nil, nil
	})
	if obs, ok := p.inner.(SuccessObserver); ok {
		obs.RecordSuccess()
	}
}

// State exposes the breaker state.
func (p *CircuitBreaker) State() gobreaker.State { return p.breaker.State() }

func (p *CircuitBreaker) NumRetries() int  { return p.inner.NumRetries() }
func (p *CircuitBreaker) NumFailures() int { return p.inner.NumFailures() }

func (p *CircuitBreaker) String() string {
	return fmt.Sprintf("CircuitBreaker(name=%s, state=%s, inner=%s)", p.breaker.Name(), p.breaker.State(), p.inner)
}

// BreakerSettings configures breakers created by a BreakerRegistry.
type BreakerSettings struct {
	MaxFailures uint32        // Consecutive failures that open the breaker (default 5)
	OpenFor     time.Duration // How long the breaker stays open before probing (default 30s)
	MaxProbes   uint32        // Requests allowed while half-open (default 1)
}

// BreakerRegistry hands out one circuit breaker per name.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry() *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it with s on first use.
// Later calls with the same name ignore s.
func (r *BreakerRegistry) Get(name string, s BreakerSettings) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.OpenFor <= 0 {
		s.OpenFor = 30 * time.Second
	}
	if s.MaxProbes == 0 {
		s.MaxProbes = 1
	}

	maxFailures := s.MaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxProbes,
		Interval:    0, // Don't clear counts automatically
		Timeout:     s.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
	})

	r.breakers[name] = cb
	return cb
}
