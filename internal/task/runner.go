package task

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskcore/internal/result"
)

// Forever makes Repeat iterate until the first failure.
const Forever = -1

// RunAll runs every task concurrently and waits for all of them. The i-th
// result belongs to tasks[i]. A failing task never cancels its siblings.
func RunAll[T any](ctx context.Context, tasks []Task[T]) []result.Result[T] {
	return RunAllLimit(ctx, 0, tasks)
}

// RunAllLimit is RunAll with at most limit tasks running at once. A limit
// of zero or less means no bound.
func RunAllLimit[T any](ctx context.Context, limit int, tasks []Task[T]) []result.Result[T] {
	results := make([]result.Result[T], len(tasks))

	// Plain Group, not WithContext: one failure must not cancel the rest.
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			results[i] = runGuarded(ctx, t)
			return nil // Outcome is in results, not the return value
		})
	}
	_ = g.Wait()

	return results
}

// Repeat runs t sequentially count times, or until failure with Forever.
// It stops at the first failure and returns it; otherwise it returns the
// last success. A zero count returns Ok of the zero value without running t.
func Repeat[T any](ctx context.Context, t Task[T], count int) result.Result[T] {
	var last result.Result[T]
	for i := 0; count == Forever || i < count; i++ {
		if err := ctx.Err(); err != nil {
			return result.Err[T](FromTaskAndError(t, fmt.Errorf("repeat stopped after %d iterations: %w", i, err)))
		}

		last = runGuarded(ctx, t)
		if last.IsErr() {
			return last
		}
	}
	return last
}

// runGuarded calls t.Run and turns an escaping panic into a failure.
func runGuarded[T any](ctx context.Context, t Task[T]) (res result.Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			res = result.Err[T](FromTaskAndError(t, fmt.Errorf("task panicked: %v", r)))
		}
	}()
	return t.Run(ctx)
}
