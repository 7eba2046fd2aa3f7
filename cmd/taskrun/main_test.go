package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/aristath/taskcore/internal/config"
	"github.com/aristath/taskcore/internal/events"
	"github.com/aristath/taskcore/internal/persistence"
	"github.com/aristath/taskcore/internal/plan"
	"github.com/aristath/taskcore/internal/result"
	"github.com/aristath/taskcore/internal/task"
)

// writeTaskFile writes a task file into a temp dir and returns its path.
func writeTaskFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write task file: %v", err)
	}
	return path
}

// invoke runs the CLI with an isolated project path and returns its outputs.
func invoke(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	base := []string{"-project", filepath.Join(t.TempDir(), "missing.json")}
	code := run(context.Background(), append(base, args...), task.NewProcessManager(), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

const mixedTasks = `{
  "defaults": {"timeout": "10s"},
  "tasks": {
    "hello": {"command": ["echo", "hello"]},
    "broken": {"command": ["sh", "-c", "echo nope >&2; exit 3"]},
    "after": {"command": ["echo", "after"], "depends_on": ["broken"]}
  }
}`

func TestRunSucceeds(t *testing.T) {
	cfg := writeTaskFile(t, `{"tasks": {"hello": {"command": ["echo", "hello"]}}}`)

	code, stdout, stderr := invoke(t, "-config", cfg, "-no-history")
	if code != exitOK {
		t.Fatalf("Expected exit %d, got %d (stderr: %s)", exitOK, code, stderr)
	}
	if !strings.Contains(stdout, "hello") || !strings.Contains(stdout, "succeeded") {
		t.Errorf("Expected summary to list hello as succeeded, got:\n%s", stdout)
	}
	if !strings.Contains(stderr, "hello: succeeded") {
		t.Errorf("Expected event log line for hello, got:\n%s", stderr)
	}
}

func TestRunFailureSkipsDependents(t *testing.T) {
	cfg := writeTaskFile(t, mixedTasks)

	code, stdout, stderr := invoke(t, "-config", cfg, "-no-history")
	if code != exitFailed {
		t.Fatalf("Expected exit %d, got %d (stderr: %s)", exitFailed, code, stderr)
	}
	if !strings.Contains(stdout, "FailedWithStderr") {
		t.Errorf("Expected failure kind in summary, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "dependency broken did not succeed") {
		t.Errorf("Expected skip reason in summary, got:\n%s", stdout)
	}
	if !strings.Contains(stderr, "ERROR: broken") {
		t.Errorf("Expected ERROR log for broken, got:\n%s", stderr)
	}
}

func TestRunOnlySelectedTasks(t *testing.T) {
	cfg := writeTaskFile(t, mixedTasks)

	code, stdout, stderr := invoke(t, "-config", cfg, "-no-history", "-task", "hello")
	if code != exitOK {
		t.Fatalf("Expected exit %d, got %d (stderr: %s)", exitOK, code, stderr)
	}
	if strings.Contains(stdout, "broken") {
		t.Errorf("Expected unselected task to be absent, got:\n%s", stdout)
	}
}

func TestRunConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		args    []string
	}{
		{"malformed json", `{"tasks": `, nil},
		{"no tasks", `{}`, nil},
		{"unknown dependency", `{"tasks": {"a": {"command": ["true"], "depends_on": ["ghost"]}}}`, nil},
		{"cycle", `{"tasks": {"a": {"command": ["true"], "depends_on": ["b"]}, "b": {"command": ["true"], "depends_on": ["a"]}}}`, nil},
		{"unknown task flag", `{"tasks": {"a": {"command": ["true"]}}}`, []string{"-task", "ghost"}},
		{"stray argument", `{"tasks": {"a": {"command": ["true"]}}}`, []string{"extra"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := writeTaskFile(t, tt.content)
			args := append([]string{"-config", cfg, "-no-history"}, tt.args...)

			code, _, stderr := invoke(t, args...)
			if code != exitConfig {
				t.Errorf("Expected exit %d, got %d (stderr: %s)", exitConfig, code, stderr)
			}
		})
	}
}

func TestRunRecordsHistory(t *testing.T) {
	cfg := writeTaskFile(t, mixedTasks)
	dbPath := filepath.Join(t.TempDir(), "history.db")

	code, stdout, _ := invoke(t, "-config", cfg, "-history", dbPath)
	if code != exitFailed {
		t.Fatalf("Expected exit %d, got %d", exitFailed, code)
	}

	ctx := context.Background()
	store, err := persistence.NewSQLiteStore(ctx, dbPath)
	if err != nil {
		t.Fatalf("Failed to open history: %v", err)
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(runs))
	}
	if runs[0].Status != persistence.RunFailed {
		t.Errorf("Expected run status %s, got %s", persistence.RunFailed, runs[0].Status)
	}
	if !strings.Contains(stdout, runs[0].ID) {
		t.Errorf("Expected summary to show run ID %s", runs[0].ID)
	}

	records, err := store.ListResults(ctx, runs[0].ID)
	if err != nil {
		t.Fatalf("ListResults failed: %v", err)
	}
	want := map[string]string{"after": "skipped", "broken": "failed", "hello": "succeeded"}
	if len(records) != len(want) {
		t.Fatalf("Expected %d records, got %d", len(want), len(records))
	}
	for _, rec := range records {
		if rec.Status != want[rec.Task] {
			t.Errorf("%s: expected status %s, got %s", rec.Task, want[rec.Task], rec.Status)
		}
	}
	store.Close()

	// -runs reads the same database back
	code, stdout, _ = invoke(t, "-config", cfg, "-history", dbPath, "-runs", "5")
	if code != exitOK {
		t.Fatalf("Expected exit %d listing runs, got %d", exitOK, code)
	}
	if !strings.Contains(stdout, runs[0].ID) {
		t.Errorf("Expected run listing to contain %s, got:\n%s", runs[0].ID, stdout)
	}

	code, stdout, _ = invoke(t, "-config", cfg, "-history", dbPath, "-runs", "5", "-task", "broken")
	if code != exitOK {
		t.Fatalf("Expected exit %d listing task history, got %d", exitOK, code)
	}
	if !strings.Contains(stdout, "FailedWithStderr") {
		t.Errorf("Expected task history to show failure kind, got:\n%s", stdout)
	}
}

func TestRunsWithoutHistory(t *testing.T) {
	cfg := writeTaskFile(t, `{"tasks": {"a": {"command": ["true"]}}}`)

	code, _, stderr := invoke(t, "-config", cfg, "-no-history", "-runs", "3")
	if code != exitConfig {
		t.Errorf("Expected exit %d, got %d", exitConfig, code)
	}
	if !strings.Contains(stderr, "history is disabled") {
		t.Errorf("Expected history disabled error, got: %s", stderr)
	}
}

func TestRunCancelledSkipsTasks(t *testing.T) {
	cfg := writeTaskFile(t, `{"tasks": {"a": {"command": ["true"]}}}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	args := []string{"-config", cfg, "-project", filepath.Join(t.TempDir(), "missing.json"), "-no-history"}
	code := run(ctx, args, task.NewProcessManager(), &stdout, &stderr)
	if code != exitFailed {
		t.Errorf("Expected exit %d, got %d", exitFailed, code)
	}
	if !strings.Contains(stdout.String(), "run cancelled") {
		t.Errorf("Expected cancelled skip reason, got:\n%s", stdout.String())
	}
}

func TestDescribeEvent(t *testing.T) {
	tests := []struct {
		name  string
		event events.Event
		want  string
	}{
		{"wave", events.WaveStartedEvent{Index: 1, Tasks: []string{"a", "b"}}, "wave 1: a, b"},
		{"attempt", events.AttemptStartedEvent{ID: "a", Attempt: 2}, "a: attempt 2 started"},
		{"retrying", events.AttemptFailedEvent{ID: "a", Attempt: 1, Kind: "TimedOut", Duration: time.Second}, "WARNING: a: attempt 1 failed after 1s (TimedOut): "},
		{"final", events.AttemptFailedEvent{ID: "a", Attempt: 3, Kind: "TimedOut", Final: true}, "ERROR: a: attempt 3 failed after 0s (TimedOut): "},
		{"failed", events.TaskFailedEvent{ID: "a", Attempts: 3}, "ERROR: a: failed after 3 attempt(s)"},
		{"skipped", events.TaskSkippedEvent{ID: "b", Reason: "dependency a did not succeed"}, "WARNING: b: skipped, dependency a did not succeed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeEvent(tt.event); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRenderSummary(t *testing.T) {
	ext := task.NewExtTask("build", []string{"make"})
	report := &plan.Report{
		Outcomes: []plan.Outcome{
			{ID: "build", Status: plan.StatusFailed, Result: result.Err[*task.ExtTaskOutput](task.FromTask(ext, true))},
			{ID: "lint", Status: plan.StatusSucceeded},
			{ID: "test", Status: plan.StatusSkipped, Reason: "dependency build did not succeed"},
		},
	}

	out := renderSummary(report, "run-42")
	for _, want := range []string{"run-42", "build", "TimedOut: External task times out.", "dependency build did not succeed", "1/3"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected summary to contain %q, got:\n%s", want, out)
		}
	}
}

// TestProcessManagerKillAllOnShutdown verifies that ProcessManager.KillAll()
// correctly terminates tracked processes during simulated shutdown.
func TestProcessManagerKillAllOnShutdown(t *testing.T) {
	pm := task.NewProcessManager()

	// Start a long-running subprocess
	cmd := exec.Command("sleep", "60")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // Process group isolation
	}

	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start subprocess: %v", err)
	}

	pm.Track(cmd)

	if count := pm.Count(); count != 1 {
		t.Errorf("Expected 1 tracked process, got %d", count)
	}

	// Simulate shutdown: kill all processes
	if err := pm.KillAll(); err != nil {
		t.Errorf("KillAll() failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected process to be killed (non-zero exit), got nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Process did not terminate after KillAll()")
	}

	// KillAll doesn't untrack; the owner of the process does
	pm.Untrack(cmd)

	if count := pm.Count(); count != 0 {
		t.Errorf("Expected 0 tracked processes after Untrack, got %d", count)
	}
}

// TestSignalContextCancellation verifies that signal.NotifyContext produces
// a context that cancels correctly when a signal is received.
func TestSignalContextCancellation(t *testing.T) {
	// Use SIGUSR1 as a safe test signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGUSR1)
	defer stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("Failed to send SIGUSR1: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(1 * time.Second):
		t.Fatal("Context did not cancel after SIGUSR1")
	}

	if err := ctx.Err(); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestInitWritesExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".taskcore", "config.json")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-project", path, "-init"}, task.NewProcessManager(), &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("Expected exit %d, got %d (stderr: %s)", exitOK, code, stderr.String())
	}

	cfg, err := config.Load("", path)
	if err != nil {
		t.Fatalf("Failed to load written task file: %v", err)
	}
	if _, ok := cfg.Tasks["build"]; !ok {
		t.Errorf("Expected example build task, got %v", cfg.TaskNames())
	}

	// A second init must not overwrite
	stderr.Reset()
	code = run(context.Background(), []string{"-project", path, "-init"}, task.NewProcessManager(), &stdout, &stderr)
	if code != exitConfig {
		t.Errorf("Expected exit %d on existing file, got %d", exitConfig, code)
	}
	if !strings.Contains(stderr.String(), "already exists") {
		t.Errorf("Expected already exists error, got: %s", stderr.String())
	}
}
