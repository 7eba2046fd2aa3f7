// Package task runs units of work (external processes, or registered
// workloads in a separate worker process) under a timeout and a retry
// policy, and reports the outcome as a result.Result whose failures are
// classified by cause.
package task

import (
	"context"
	"time"

	"github.com/aristath/taskcore/internal/events"
	"github.com/aristath/taskcore/internal/result"
	"github.com/aristath/taskcore/internal/retry"
)

// Task is the common execution contract. Run never panics and never
// returns a bare error: every failure is carried by the Result.
type Task[T any] interface {
	Run(ctx context.Context) result.Result[T]
	Format() string
}

// Erase adapts a Task[T] to Task[any] so tasks with different output types
// can share a RunAll batch.
func Erase[T any](t Task[T]) Task[any] {
	return erased[T]{inner: t}
}

type erased[T any] struct {
	inner Task[T]
}

func (e erased[T]) Run(ctx context.Context) result.Result[any] {
	r := e.inner.Run(ctx)
	if r.IsErr() {
		return result.Err[any](r.Err())
	}
	return result.Ok[any](r.Value())
}

func (e erased[T]) Format() string { return e.inner.Format() }

// settings are the options shared by every task kind.
type settings struct {
	dir           string
	env           map[string]string
	timeout       time.Duration
	policy        retry.Policy
	collectOutput bool
	pm            *ProcessManager
	bus           *events.EventBus
}

func newSettings(opts []Option) settings {
	s := settings{collectOutput: true}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option configures a task at construction time.
type Option func(*settings)

// WithDir sets the working directory of an ExtTask.
func WithDir(dir string) Option {
	return func(s *settings) { s.dir = dir }
}

// WithEnv sets the environment table. For an ExtTask a non-nil table
// replaces the inherited environment entirely (see InheritEnv); for a
// FutureProcessTask it is handed to the workload.
func WithEnv(env map[string]string) Option {
	return func(s *settings) {
		if env == nil {
			s.env = nil
			return
		}
		s.env = make(map[string]string, len(env))
		for k, v := range env {
			s.env[k] = v
		}
	}
}

// WithTimeout bounds every attempt. Zero means unbounded.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithRetry sets the retry policy. Without one a task makes one attempt.
func WithRetry(p retry.Policy) Option {
	return func(s *settings) { s.policy = p }
}

// WithoutOutput discards stdout and stderr of an ExtTask.
func WithoutOutput() Option {
	return func(s *settings) { s.collectOutput = false }
}

// WithProcessManager tracks every spawned process in pm.
func WithProcessManager(pm *ProcessManager) Option {
	return func(s *settings) { s.pm = pm }
}

// WithEvents publishes attempt lifecycle events on bus.
func WithEvents(bus *events.EventBus) Option {
	return func(s *settings) { s.bus = bus }
}

// attemptFunc runs one attempt. final marks a failure that must not be
// retried.
type attemptFunc[T any] func(ctx context.Context) (res result.Result[T], final bool)

// runAttempts is the retry loop shared by every task kind. It makes up to
// policy.NumRetries() attempts (one without a policy), returns the first
// success, and between failures asks the policy for permission and lets it
// sleep. The policy is consulted after the last failure too, so its counter
// ends equal to the number of failed attempts.
func runAttempts[T any](ctx context.Context, name string, subject retry.Subject, s settings, attempt attemptFunc[T]) result.Result[T] {
	attempts := 1
	if s.policy != nil && s.policy.NumRetries() > 1 {
		attempts = s.policy.NumRetries()
	}

	start := time.Now()
	var last result.Result[T]
	made := 0

	for made < attempts {
		made++
		s.bus.Emit(events.AttemptStartedEvent{ID: name, Attempt: made, Timestamp: time.Now()})

		attemptStart := time.Now()
		res, final := attempt(ctx)
		elapsed := time.Since(attemptStart)
		if res.IsOk() {
			if obs, ok := s.policy.(retry.SuccessObserver); ok {
				obs.RecordSuccess()
			}
			s.bus.Emit(events.TaskSucceededEvent{
				ID:        name,
				Attempts:  made,
				Duration:  time.Since(start),
				Timestamp: time.Now(),
			})
			return res
		}
		last = res

		retrying := !final && s.policy != nil && s.policy.ShouldRetry()

		kind := ""
		if k, ok := KindOf(res.Err()); ok {
			kind = k.String()
		}
		s.bus.Emit(events.AttemptFailedEvent{
			ID:        name,
			Attempt:   made,
			Kind:      kind,
			Err:       res.Err(),
			Final:     !retrying || made == attempts,
			Duration:  elapsed,
			Timestamp: time.Now(),
		})

		if !retrying {
			break
		}
		if err := s.policy.PrepareRetry(ctx, subject); err != nil {
			break
		}
	}

	s.bus.Emit(events.TaskFailedEvent{
		ID:        name,
		Attempts:  made,
		Err:       last.Err(),
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	})
	return last
}
