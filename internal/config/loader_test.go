package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name              string
		globalConfig      string
		projectConfig     string
		expectTasks       int
		expectConcurrency int
		expectHistory     string
		checkTask         string
		expectCommand     string
	}{
		{
			name:              "No config files - returns defaults",
			expectTasks:       0,
			expectConcurrency: DefaultConcurrency,
			expectHistory:     DefaultHistoryPath,
		},
		{
			name:              "Global only - adds task",
			globalConfig:      `{"tasks": {"lint": {"command": ["golangci-lint", "run"]}}}`,
			expectTasks:       1,
			expectConcurrency: DefaultConcurrency,
			expectHistory:     DefaultHistoryPath,
			checkTask:         "lint",
			expectCommand:     "golangci-lint run",
		},
		{
			name:              "Project only - overrides scalars",
			projectConfig:     `{"concurrency": 2, "history": "runs.db"}`,
			expectTasks:       0,
			expectConcurrency: 2,
			expectHistory:     "runs.db",
		},
		{
			name:              "Both with merge - global adds, project adds",
			globalConfig:      `{"tasks": {"lint": {"command": ["lint"]}}}`,
			projectConfig:     `{"tasks": {"test": {"command": ["go", "test"]}}}`,
			expectTasks:       2,
			expectConcurrency: DefaultConcurrency,
			expectHistory:     DefaultHistoryPath,
			checkTask:         "test",
			expectCommand:     "go test",
		},
		{
			name:              "Project overrides global - project wins",
			globalConfig:      `{"concurrency": 8, "tasks": {"build": {"command": ["make"]}}}`,
			projectConfig:     `{"tasks": {"build": {"command": ["ninja"]}}}`,
			expectTasks:       1,
			expectConcurrency: 8,
			expectHistory:     DefaultHistoryPath,
			checkTask:         "build",
			expectCommand:     "ninja",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()

			globalPath := ""
			if tt.globalConfig != "" {
				globalPath = filepath.Join(tmpDir, "global.json")
				writeFile(t, globalPath, tt.globalConfig)
			}

			projectPath := ""
			if tt.projectConfig != "" {
				projectPath = filepath.Join(tmpDir, "project.json")
				writeFile(t, projectPath, tt.projectConfig)
			}

			cfg, err := Load(globalPath, projectPath)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got := len(cfg.Tasks); got != tt.expectTasks {
				t.Errorf("tasks count = %d, want %d", got, tt.expectTasks)
			}
			if cfg.Concurrency != tt.expectConcurrency {
				t.Errorf("concurrency = %d, want %d", cfg.Concurrency, tt.expectConcurrency)
			}
			if cfg.History != tt.expectHistory {
				t.Errorf("history = %q, want %q", cfg.History, tt.expectHistory)
			}

			if tt.checkTask != "" {
				task, exists := cfg.Tasks[tt.checkTask]
				if !exists {
					t.Fatalf("expected task %q not found", tt.checkTask)
				}
				if got := strings.Join(task.Command, " "); got != tt.expectCommand {
					t.Errorf("task %q command = %q, want %q", tt.checkTask, got, tt.expectCommand)
				}
			}
		})
	}
}

func TestLoad_FullTaskFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{
		"defaults": {"timeout": "30s", "retry": {"strategy": "constant", "sleep": "1s", "retries": 3}},
		"tasks": {
			"build": {
				"command": ["make"], "dir": "src", "env": {"K": "V"}, "inherit_env": true,
				"timeout": "5m", "collect_output": false, "depends_on": ["gen"], "resources": ["db"],
				"retry": {"strategy": "exponential", "sleep": "100ms", "exponent": 1.5, "retries": 4,
				          "breaker": {"name": "net", "max_failures": 5, "open_for": "30s"}}
			},
			"gen": {"command": ["go", "generate"]}
		}
	}`)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	build, ok := cfg.Resolve("build")
	if !ok {
		t.Fatal("build task not found")
	}
	if build.Timeout.Std() != 5*time.Minute {
		t.Errorf("timeout = %v, want 5m", build.Timeout.Std())
	}
	if build.Collects() {
		t.Error("expected output collection disabled")
	}
	if !build.InheritEnv || build.Env["K"] != "V" || build.Dir != "src" {
		t.Errorf("unexpected task fields: %+v", build)
	}
	if build.Retry.Strategy != StrategyExponential || build.Retry.Exponent != 1.5 || build.Retry.Sleep.Std() != 100*time.Millisecond {
		t.Errorf("unexpected retry: %+v", build.Retry)
	}
	if build.Retry.Breaker == nil || build.Retry.Breaker.Name != "net" || build.Retry.Breaker.OpenFor.Std() != 30*time.Second {
		t.Errorf("unexpected breaker: %+v", build.Retry.Breaker)
	}

	// gen inherits defaults
	gen, _ := cfg.Resolve("gen")
	if gen.Timeout.Std() != 30*time.Second {
		t.Errorf("gen timeout = %v, want default 30s", gen.Timeout.Std())
	}
	if gen.Retry == nil || gen.Retry.Retries != 3 {
		t.Errorf("gen retry = %+v, want default", gen.Retry)
	}
	if !gen.Collects() {
		t.Error("expected output collection by default")
	}
}

func TestResolve_ExplicitZeroTimeout(t *testing.T) {
	zero := Duration(0)
	minute := Duration(time.Minute)
	cfg := DefaultConfig()
	cfg.Defaults.Timeout = &minute
	cfg.Tasks["t"] = TaskConfig{Command: []string{"x"}, Timeout: &zero}

	task, _ := cfg.Resolve("t")
	if task.Timeout.Std() != 0 {
		t.Errorf("timeout = %v, want explicit 0", task.Timeout.Std())
	}

	if _, ok := cfg.Resolve("missing"); ok {
		t.Error("expected missing task to be reported")
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	tmpDir := t.TempDir()

	globalPath := filepath.Join(tmpDir, "global.json")
	writeFile(t, globalPath, "{invalid json")

	_, err := Load(globalPath, "")
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
	if !strings.Contains(err.Error(), globalPath) {
		t.Errorf("expected error to mention the file, got: %v", err)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"defaults": {"timeout": "soon"}}`)

	if _, err := Load(path, ""); err == nil {
		t.Fatal("expected error for unparseable duration, got nil")
	}
}

func TestLoad_MissingFilesNotError(t *testing.T) {
	cfg, err := Load("/nonexistent/global.json", "/nonexistent/project.json")
	if err != nil {
		t.Fatalf("expected no error for missing files, got: %v", err)
	}

	if cfg.Concurrency != DefaultConcurrency {
		t.Errorf("concurrency = %d, want %d", cfg.Concurrency, DefaultConcurrency)
	}
	if len(cfg.Tasks) != 0 {
		t.Errorf("tasks count = %d, want 0", len(cfg.Tasks))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "valid",
			cfg: Config{Tasks: map[string]TaskConfig{
				"a": {Command: []string{"true"}},
				"b": {Command: []string{"true"}, DependsOn: []string{"a"}},
			}},
		},
		{
			name:    "empty command",
			cfg:     Config{Tasks: map[string]TaskConfig{"a": {}}},
			wantErr: `task "a": command is empty`,
		},
		{
			name:    "unknown dependency",
			cfg:     Config{Tasks: map[string]TaskConfig{"a": {Command: []string{"x"}, DependsOn: []string{"ghost"}}}},
			wantErr: `depends on unknown task "ghost"`,
		},
		{
			name: "unknown strategy",
			cfg: Config{Tasks: map[string]TaskConfig{
				"a": {Command: []string{"x"}, Retry: &RetryConfig{Strategy: "fibonacci"}},
			}},
			wantErr: `unknown retry strategy "fibonacci"`,
		},
		{
			name:    "bad defaults",
			cfg:     Config{Defaults: DefaultsConfig{Retry: &RetryConfig{Strategy: StrategyConstant, Retries: -1}}},
			wantErr: "defaults: retries must not be negative",
		},
		{
			name:    "negative default timeout",
			cfg:     Config{Defaults: DefaultsConfig{Timeout: func() *Duration { d := Duration(-time.Second); return &d }()}},
			wantErr: "defaults: timeout must not be negative",
		},
		{
			name: "unnamed breaker",
			cfg: Config{Tasks: map[string]TaskConfig{
				"a": {Command: []string{"x"}, Retry: &RetryConfig{Strategy: StrategyConstant, Breaker: &BreakerConfig{}}},
			}},
			wantErr: "breaker needs a name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestTaskNames_Sorted(t *testing.T) {
	cfg := Config{Tasks: map[string]TaskConfig{"c": {}, "a": {}, "b": {}}}
	if got := strings.Join(cfg.TaskNames(), ","); got != "a,b,c" {
		t.Errorf("TaskNames = %s, want a,b,c", got)
	}
}

// TestLoad_ProjectClearsDefaultTimeout verifies "0s" in the project file
// overrides a global default timeout instead of being ignored.
func TestLoad_ProjectClearsDefaultTimeout(t *testing.T) {
	tmpDir := t.TempDir()
	globalPath := filepath.Join(tmpDir, "global.json")
	projectPath := filepath.Join(tmpDir, "project.json")
	writeFile(t, globalPath, `{"defaults": {"timeout": "30s"}, "tasks": {"a": {"command": ["true"]}}}`)
	writeFile(t, projectPath, `{"defaults": {"timeout": "0s"}}`)

	cfg, err := Load(globalPath, projectPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Defaults.Timeout == nil || cfg.Defaults.Timeout.Std() != 0 {
		t.Fatalf("default timeout = %v, want explicit 0", cfg.Defaults.Timeout)
	}

	a, _ := cfg.Resolve("a")
	if a.Timeout == nil || a.Timeout.Std() != 0 {
		t.Errorf("task timeout = %v, want explicit 0", a.Timeout)
	}
}

func TestLoad_ProjectKeepsDefaultTimeoutWhenUnset(t *testing.T) {
	tmpDir := t.TempDir()
	globalPath := filepath.Join(tmpDir, "global.json")
	projectPath := filepath.Join(tmpDir, "project.json")
	writeFile(t, globalPath, `{"defaults": {"timeout": "30s"}}`)
	writeFile(t, projectPath, `{"tasks": {"a": {"command": ["true"]}}}`)

	cfg, err := Load(globalPath, projectPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, _ := cfg.Resolve("a")
	if a.Timeout == nil || a.Timeout.Std() != 30*time.Second {
		t.Errorf("task timeout = %v, want 30s from global defaults", a.Timeout)
	}
}

func TestResolve_NoDefaultTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tasks["t"] = TaskConfig{Command: []string{"x"}}

	task, _ := cfg.Resolve("t")
	if task.Timeout != nil {
		t.Errorf("timeout = %v, want nil (unbounded)", *task.Timeout)
	}
}
