package task

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aristath/taskcore/internal/result"
	"github.com/aristath/taskcore/internal/retry"
)

// FutureProcessTask runs a registered workload in a separate worker
// process. Every attempt starts a fresh single-worker pool and tears it
// down afterwards; pools are never shared between attempts or tasks.
type FutureProcessTask[T any] struct {
	name       string
	workload   Workload[T]
	executable string
	settings
}

// NewFutureProcessTask creates a task running workload in a worker. The
// environment table (WithEnv) is delivered to the workload, not applied to
// the worker process. WithDir and WithoutOutput have no effect.
func NewFutureProcessTask[T any](name string, workload Workload[T], opts ...Option) *FutureProcessTask[T] {
	return &FutureProcessTask[T]{
		name:     name,
		workload: workload,
		settings: newSettings(opts),
	}
}

// Name returns the task name.
func (t *FutureProcessTask[T]) Name() string { return t.name }

// RetryPolicy returns the policy the task was built with, or nil.
func (t *FutureProcessTask[T]) RetryPolicy() retry.Policy { return t.policy }

// Format renders the task for logs and failure messages.
func (t *FutureProcessTask[T]) Format() string {
	return fmt.Sprintf("Task [%s] (\n    workload=%s,\n    env=%s,\n    timeout=%s,\n    retry=%s\n)",
		t.name, t.workload.name, formatEnv(t.env), formatTimeout(t.timeout), formatPolicy(t.policy))
}

// Run executes the workload until it succeeds, the retry policy gives up,
// or the attempts run out.
func (t *FutureProcessTask[T]) Run(ctx context.Context) result.Result[T] {
	return runAttempts(ctx, t.name, t, t.settings, func(ctx context.Context) (result.Result[T], bool) {
		return t.attempt(ctx), false
	})
}

func (t *FutureProcessTask[T]) attempt(ctx context.Context) result.Result[T] {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	exe := t.executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return result.Err[T](FromTaskAndError(t, fmt.Errorf("locating worker executable: %w", err)))
		}
	}

	pool := newWorkerPool(exe, t.pm)
	defer pool.close()

	reply, err := pool.submit(ctx, workerRequest{Workload: t.workload.name, Env: t.env})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return result.Err[T](FromTask(t, true))
		}
		return result.Err[T](FromTaskAndError(t, err))
	}
	return resultFromReply[T](t, t.workload.name, reply)
}

// workerPool is a single-use pool holding one worker process.
type workerPool struct {
	exe  string
	pm   *ProcessManager
	proc *process
}

func newWorkerPool(exe string, pm *ProcessManager) *workerPool {
	return &workerPool{exe: exe, pm: pm}
}

// submit starts the worker, hands it req and waits for the reply.
// On ctx expiry the worker is killed and drained before returning ctx.Err().
func (p *workerPool) submit(ctx context.Context, req workerRequest) (workerReply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return workerReply{}, fmt.Errorf("marshalling request: %w", err)
	}

	cmd := newCommand(p.exe)
	cmd.Env = append(os.Environ(), WorkerEnvVar+"="+req.Workload)
	cmd.Stdin = bytes.NewReader(payload)

	proc, err := startProcess(cmd, true, p.pm)
	if err != nil {
		return workerReply{}, err
	}
	p.proc = proc

	select {
	case <-ctx.Done():
		proc.kill()
		return workerReply{}, ctx.Err()
	case <-proc.done():
	}

	if err := proc.wait(); err != nil {
		stderr := strings.TrimSpace(decode(proc.stderr.Bytes()))
		if stderr != "" {
			return workerReply{}, fmt.Errorf("worker failed: %w (stderr: %s)", err, stderr)
		}
		return workerReply{}, fmt.Errorf("worker failed: %w", err)
	}

	var reply workerReply
	if err := json.Unmarshal(proc.stdout.Bytes(), &reply); err != nil {
		return workerReply{}, fmt.Errorf("decoding worker reply: %w", err)
	}
	return reply, nil
}

// close tears the pool down, killing a worker that is still running.
func (p *workerPool) close() {
	if p.proc != nil {
		p.proc.kill()
	}
}
