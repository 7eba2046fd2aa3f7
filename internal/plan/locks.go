package plan

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aristath/taskcore/internal/result"
	"github.com/aristath/taskcore/internal/task"
)

// ResourceLockManager provides per-resource mutual exclusion for concurrent
// task execution. Each resource name gets its own mutex, so tasks holding
// different resources overlap while tasks sharing one take turns.
type ResourceLockManager struct {
	mu    sync.Mutex             // Guards the locks map itself
	locks map[string]*sync.Mutex // Per-resource mutexes
}

// NewResourceLockManager creates a new ResourceLockManager.
func NewResourceLockManager() *ResourceLockManager {
	return &ResourceLockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the mutex for resource, creating it on first use.
func (r *ResourceLockManager) Lock(resource string) {
	r.mu.Lock()
	lock, exists := r.locks[resource]
	if !exists {
		lock = &sync.Mutex{}
		r.locks[resource] = lock
	}
	r.mu.Unlock()

	// Acquire outside the manager lock to avoid contention
	lock.Lock()
}

// Unlock releases the mutex for resource.
func (r *ResourceLockManager) Unlock(resource string) {
	r.mu.Lock()
	lock, exists := r.locks[resource]
	r.mu.Unlock()

	if exists {
		lock.Unlock()
	}
}

// LockAll acquires every resource in lexicographic order, which keeps two
// tasks with overlapping resource sets from deadlocking.
func (r *ResourceLockManager) LockAll(resources []string) {
	for _, res := range sortedUnique(resources) {
		r.Lock(res)
	}
}

// UnlockAll releases resources in reverse order of LockAll.
func (r *ResourceLockManager) UnlockAll(resources []string) {
	sorted := sortedUnique(resources)
	for i := len(sorted) - 1; i >= 0; i-- {
		r.Unlock(sorted[i])
	}
}

// sortedUnique returns a sorted copy without duplicates; locking the same
// mutex twice would deadlock.
func sortedUnique(resources []string) []string {
	if len(resources) == 0 {
		return nil
	}
	sorted := append([]string(nil), resources...)
	sort.Strings(sorted)

	out := sorted[:1]
	for _, res := range sorted[1:] {
		if res != out[len(out)-1] {
			out = append(out, res)
		}
	}
	return out
}

// lockedTask holds a node's resources for the whole of the inner task's run,
// retries included. onStart fires once the resources are held; elapsed
// excludes the time spent waiting for them.
type lockedTask struct {
	inner     task.Task[*task.ExtTaskOutput]
	resources []string
	locks     *ResourceLockManager
	onStart   func()
	elapsed   time.Duration
}

func (t *lockedTask) Run(ctx context.Context) result.Result[*task.ExtTaskOutput] {
	t.locks.LockAll(t.resources)
	defer t.locks.UnlockAll(t.resources)

	if t.onStart != nil {
		t.onStart()
	}
	start := time.Now()
	defer func() { t.elapsed = time.Since(start) }()
	return t.inner.Run(ctx)
}

func (t *lockedTask) Format() string { return t.inner.Format() }
