package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"

	"github.com/aristath/taskcore/internal/result"
	"github.com/aristath/taskcore/internal/retry"
)

// ErrEmptyCommand is the cause of the failure reported for an ExtTask
// constructed without a command.
var ErrEmptyCommand = errors.New("empty command")

// ExtTaskOutput is what a successful external process produced.
type ExtTaskOutput struct {
	Stdout     string
	Stderr     string
	ReturnCode int
}

// OutputFunc transforms the output of a successful ExtTask run.
type OutputFunc func(out ExtTaskOutput) (ExtTaskOutput, error)

// ExtTask describes how to run an external program. It is immutable and
// may be run any number of times; only its retry policy carries state.
type ExtTask struct {
	name    string
	command []string
	settings
}

var _ Task[*ExtTaskOutput] = (*ExtTask)(nil)

// NewExtTask creates a task running command (program followed by its
// arguments). Output is collected unless WithoutOutput is given.
func NewExtTask(name string, command []string, opts ...Option) *ExtTask {
	return &ExtTask{
		name:     name,
		command:  append([]string(nil), command...),
		settings: newSettings(opts),
	}
}

// Name returns the task name.
func (t *ExtTask) Name() string { return t.name }

// Command returns a copy of the argv.
func (t *ExtTask) Command() []string { return append([]string(nil), t.command...) }

// RetryPolicy returns the policy the task was built with, or nil.
func (t *ExtTask) RetryPolicy() retry.Policy { return t.policy }

// CommandString renders the argv joined by spaces, wrapped in triple
// backticks so it can be embedded in free-form text.
func (t *ExtTask) CommandString() string {
	return "```" + strings.Join(t.command, " ") + "```"
}

// Format renders the task for logs and failure messages.
func (t *ExtTask) Format() string {
	return fmt.Sprintf("Task [%s] (\n    cwd=%s,\n    env=%s,\n    timeout=%s,\n    retry=%s\n\n    %s\n)",
		t.name, orNone(t.dir), formatEnv(t.env), formatTimeout(t.timeout), formatPolicy(t.policy), t.CommandString())
}

// Run executes the program until it succeeds, the retry policy gives up,
// or the attempts run out. With output collection the success value is
// the captured output; without it the value is nil.
func (t *ExtTask) Run(ctx context.Context) result.Result[*ExtTaskOutput] {
	return runAttempts(ctx, t.name, t, t.settings, func(ctx context.Context) (result.Result[*ExtTaskOutput], bool) {
		return t.attempt(ctx, t.collectOutput), false
	})
}

// RunWith is Run with f applied to the output of the successful attempt.
// Output is collected only when f is non-nil; a nil f behaves like Run
// without output collection. If f fails the result is a
// FailureCannotProcessOutput failure, returned at once and never retried:
// the program itself succeeded.
func (t *ExtTask) RunWith(ctx context.Context, f OutputFunc) result.Result[*ExtTaskOutput] {
	capture := f != nil
	return runAttempts(ctx, t.name, t, t.settings, func(ctx context.Context) (result.Result[*ExtTaskOutput], bool) {
		res := t.attempt(ctx, capture)
		if res.IsErr() || f == nil {
			return res, false
		}

		out := res.Value()
		transformed, err := applyOutput(f, *out)
		if err != nil {
			return result.Err[*ExtTaskOutput](CannotProcessOutput(t, err).WithReturnCode(out.ReturnCode)), true
		}
		return result.Ok(&transformed), false
	})
}

func applyOutput(f OutputFunc, out ExtTaskOutput) (res ExtTaskOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("output function panicked: %v", r)
		}
	}()
	return f(out)
}

// attempt spawns the program once and waits for it within the timeout.
func (t *ExtTask) attempt(ctx context.Context, capture bool) result.Result[*ExtTaskOutput] {
	if len(t.command) == 0 {
		return result.Err[*ExtTaskOutput](FromTaskAndError(t, ErrEmptyCommand).WithReturnCode(-1))
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	cmd := newCommand(t.command[0], t.command[1:]...)
	cmd.Dir = t.dir
	if t.env != nil {
		cmd.Env = envList(t.env)
	}

	proc, err := startProcess(cmd, capture, t.pm)
	if err != nil {
		return result.Err[*ExtTaskOutput](FromTaskAndError(t, err).WithReturnCode(-1))
	}

	select {
	case <-ctx.Done():
		// Kill first, then block until the process is reaped and both
		// pipes are closed; only then report.
		proc.kill()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return result.Err[*ExtTaskOutput](FromTask(t, true).WithReturnCode(proc.returnCode()))
		}
		return result.Err[*ExtTaskOutput](FromTaskAndError(t, ctx.Err()).WithReturnCode(proc.returnCode()))
	case <-proc.done():
	}

	code := proc.returnCode()
	if waitErr := proc.wait(); waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return result.Err[*ExtTaskOutput](FromTaskAndError(t, waitErr).WithReturnCode(code))
		}
	}

	if code != 0 {
		return result.Err[*ExtTaskOutput](FromTaskAndStderr(t, decode(proc.stderr.Bytes())).WithReturnCode(code))
	}

	if !capture {
		return result.Ok[*ExtTaskOutput](nil)
	}
	return result.Ok(&ExtTaskOutput{
		Stdout:     decode(proc.stdout.Bytes()),
		Stderr:     decode(proc.stderr.Bytes()),
		ReturnCode: code,
	})
}

// decode turns captured bytes into text. Ill-formed UTF-8 is replaced with
// U+FFFD; decoding never fails.
func decode(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "�")
	}
	return string(out)
}

// InheritEnv returns the current process environment with overrides
// applied, for use with WithEnv.
func InheritEnv(overrides map[string]string) map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	for k, v := range overrides {
		env[k] = v
	}
	return env
}

func envList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func formatEnv(env map[string]string) string {
	if env == nil {
		return "none"
	}
	return fmt.Sprint(env)
}

func formatTimeout(d time.Duration) string {
	if d <= 0 {
		return "none"
	}
	return d.String()
}

func formatPolicy(p retry.Policy) string {
	if p == nil {
		return "none"
	}
	return p.String()
}
