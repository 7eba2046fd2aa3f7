package task

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// newCommand creates an exec.Cmd in its own process group so that a kill
// reaches every child it spawned. The command is deliberately not bound to
// a context: cancellation goes through process.kill, which kills the group
// and then waits for the pipes to drain.
func newCommand(name string, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // Create new process group for signal propagation
	}
	return cmd
}

// process is one started command together with its output readers.
//
// Pipes are drained concurrently and fully before cmd.Wait is called,
// so output larger than the pipe buffer cannot deadlock the child.
type process struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer

	exited  chan struct{} // closed once the process is reaped and its pipes drained
	waitErr error
}

// startProcess starts cmd. With capture, stdout and stderr are collected;
// without it they must already be set (nil means the null device).
func startProcess(cmd *exec.Cmd, capture bool, pm *ProcessManager) (*process, error) {
	p := &process{cmd: cmd, exited: make(chan struct{})}

	var stdoutPipe, stderrPipe io.ReadCloser
	if capture {
		var err error
		stdoutPipe, err = cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
		}
		stderrPipe, err = cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}
	pm.Track(cmd)

	var wg sync.WaitGroup
	if capture {
		wg.Add(2)
		go func() {
			defer wg.Done()
			io.Copy(&p.stdout, stdoutPipe)
		}()
		go func() {
			defer wg.Done()
			io.Copy(&p.stderr, stderrPipe)
		}()
	}

	go func() {
		// Wait for both pipe readers before cmd.Wait closes the pipes.
		wg.Wait()
		p.waitErr = cmd.Wait()
		pm.Untrack(cmd)
		close(p.exited)
	}()

	return p, nil
}

// done is closed when the process has exited and its pipes are drained.
func (p *process) done() <-chan struct{} { return p.exited }

// wait blocks until done and returns the cmd.Wait error.
func (p *process) wait() error {
	<-p.exited
	return p.waitErr
}

// kill terminates the process group, then waits for exit and pipe drain.
// A process that has already been reaped is left alone.
func (p *process) kill() error {
	select {
	case <-p.exited:
	default:
		_ = killProcessGroup(p.cmd)
	}
	return p.wait()
}

// returnCode is the best-known exit code: the real code after a normal
// exit, minus the signal number after a signal, -1 if unknown.
func (p *process) returnCode() int {
	return exitCode(p.cmd.ProcessState)
}

func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}

// killProcessGroup kills the entire process group associated with the command.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}

	// Negative PID addresses the whole group.
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process group: %w", err)
	}

	return nil
}

// ProcessManager tracks every live task process so they can all be
// terminated on shutdown. A nil *ProcessManager tracks nothing.
//
// Usage pattern (typically in main):
//
//	pm := task.NewProcessManager()
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//	go func() {
//		<-ctx.Done()
//		pm.KillAll()
//	}()
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewProcessManager creates a new ProcessManager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{
		procs: make(map[int]*exec.Cmd),
	}
}

// Track registers a started subprocess.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if pm == nil || cmd.Process == nil {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.procs[cmd.Process.Pid] = cmd
}

// Untrack removes a subprocess after it has been waited for.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if pm == nil || cmd.Process == nil {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.procs, cmd.Process.Pid)
}

// KillAll terminates all tracked process groups.
func (pm *ProcessManager) KillAll() error {
	if pm == nil {
		return nil
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for pid, cmd := range pm.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill process %d: %w", pid, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors killing processes: %v", errs)
	}
	return nil
}

// Count returns the number of live tracked processes.
func (pm *ProcessManager) Count() int {
	if pm == nil {
		return 0
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
