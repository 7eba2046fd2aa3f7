package plan

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aristath/taskcore/internal/events"
	"github.com/aristath/taskcore/internal/result"
	"github.com/aristath/taskcore/internal/task"
)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Concurrency int              // Max concurrent tasks per wave (default 4)
	Events      *events.EventBus // Optional; receives wave and skip events
}

// Runner executes a DAG wave by wave. Tasks in a wave run concurrently
// through task.RunAllLimit; a wave starts only when the previous one is
// complete.
type Runner struct {
	config  RunnerConfig
	dag     *DAG
	lockMgr *ResourceLockManager
}

// NewRunner creates a new runner.
func NewRunner(cfg RunnerConfig, dag *DAG) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	return &Runner{
		config:  cfg,
		dag:     dag,
		lockMgr: NewResourceLockManager(),
	}
}

// Outcome is the final state of one node.
type Outcome struct {
	ID       string
	Status   Status
	Result   result.Result[*task.ExtTaskOutput]
	Duration time.Duration
	Reason   string // Set for skipped nodes
}

// Report is the result of a whole run, one outcome per node sorted by ID.
type Report struct {
	Outcomes []Outcome
	Duration time.Duration
}

// Succeeded reports whether every node succeeded.
func (r *Report) Succeeded() bool {
	for _, o := range r.Outcomes {
		if o.Status != StatusSucceeded {
			return false
		}
	}
	return true
}

// Count returns how many nodes ended in status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Run executes every node. Task failures are recorded in the report, not
// returned; the error is reserved for an invalid DAG. A cancelled context
// lets the current wave finish its bookkeeping and skips the rest.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	waves, err := r.dag.Waves()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	for i, wave := range waves {
		if ctx.Err() != nil {
			r.skipAll(wave, "run cancelled")
			continue
		}

		runnable := r.filterBlocked(wave)
		if len(runnable) == 0 {
			continue
		}

		r.config.Events.Emit(events.WaveStartedEvent{Index: i, Tasks: runnable, Timestamp: time.Now()})
		r.runWave(ctx, runnable)
	}

	report := &Report{Duration: time.Since(start)}
	for _, n := range r.dag.Nodes() {
		report.Outcomes = append(report.Outcomes, Outcome{
			ID:       n.ID,
			Status:   n.Status,
			Result:   n.Result,
			Duration: n.Duration,
			Reason:   n.Reason,
		})
	}
	return report, nil
}

// filterBlocked marks nodes with a blocking dependency as skipped and
// returns the rest.
func (r *Runner) filterBlocked(wave []string) []string {
	var runnable []string
	for _, id := range wave {
		if dep, blocked := r.dag.Blocked(id); blocked {
			r.skip(id, fmt.Sprintf("dependency %s did not succeed", dep))
			continue
		}
		runnable = append(runnable, id)
	}
	return runnable
}

func (r *Runner) runWave(ctx context.Context, ids []string) {
	locked := make([]*lockedTask, len(ids))
	tasks := make([]task.Task[*task.ExtTaskOutput], len(ids))

	for i, id := range ids {
		id := id
		node, _ := r.dag.Get(id)
		locked[i] = &lockedTask{
			inner:     node.Task,
			resources: node.Resources,
			locks:     r.lockMgr,
			onStart: func() {
				if err := r.dag.MarkRunning(id); err != nil {
					log.Printf("WARNING: %v", err)
				}
			},
		}
		tasks[i] = locked[i]
	}

	results := task.RunAllLimit(ctx, r.config.Concurrency, tasks)

	for i, id := range ids {
		if err := r.dag.MarkFinished(id, results[i], locked[i].elapsed); err != nil {
			log.Printf("ERROR: recording result of %s: %v", id, err)
		}
	}
}

func (r *Runner) skipAll(ids []string, reason string) {
	for _, id := range ids {
		r.skip(id, reason)
	}
}

func (r *Runner) skip(id, reason string) {
	if err := r.dag.MarkSkipped(id, reason); err != nil {
		log.Printf("WARNING: %v", err)
		return
	}
	r.config.Events.Emit(events.TaskSkippedEvent{ID: id, Reason: reason, Timestamp: time.Now()})
}
