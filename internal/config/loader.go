package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Merge global config if exists
	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Merge project config if exists (highest precedence)
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// GlobalPath is ~/.taskcore/config.json.
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".taskcore", "config.json"), nil
}

// ProjectPath is .taskcore/config.json relative to the working directory.
func ProjectPath() string {
	return filepath.Join(".taskcore", "config.json")
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.taskcore/config.json
// Project: .taskcore/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	globalPath, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return Load(globalPath, ProjectPath())
}

// mergeConfigFile reads a JSON config file and merges it into the base config.
// Missing files are silently skipped. Malformed JSON returns an error.
func mergeConfigFile(base *Config, path string) error {
	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Missing file is not an error
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	merge(base, &loaded)
	return nil
}

// merge overlays the fields set in loaded onto base. Tasks merge by name;
// a task present in both is replaced whole.
func merge(base, loaded *Config) {
	if loaded.Concurrency > 0 {
		base.Concurrency = loaded.Concurrency
	}
	if loaded.History != "" {
		base.History = loaded.History
	}
	if loaded.Defaults.Timeout != nil {
		base.Defaults.Timeout = loaded.Defaults.Timeout
	}
	if loaded.Defaults.Retry != nil {
		base.Defaults.Retry = loaded.Defaults.Retry
	}

	if base.Tasks == nil {
		base.Tasks = make(map[string]TaskConfig)
	}
	for name, task := range loaded.Tasks {
		base.Tasks[name] = task
	}
}

// Resolve returns the named task with defaults applied.
func (c *Config) Resolve(name string) (TaskConfig, bool) {
	task, ok := c.Tasks[name]
	if !ok {
		return TaskConfig{}, false
	}

	if task.Timeout == nil && c.Defaults.Timeout != nil {
		timeout := *c.Defaults.Timeout
		task.Timeout = &timeout
	}
	if task.Retry == nil && c.Defaults.Retry != nil {
		retry := *c.Defaults.Retry
		task.Retry = &retry
	}
	return task, true
}

// TaskNames returns the task names in sorted order.
func (c *Config) TaskNames() []string {
	names := make([]string, 0, len(c.Tasks))
	for name := range c.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency))
	}
	if c.Defaults.Timeout != nil && *c.Defaults.Timeout < 0 {
		errs = append(errs, fmt.Errorf("defaults: timeout must not be negative"))
	}
	if c.Defaults.Retry != nil {
		if err := c.Defaults.Retry.validate(); err != nil {
			errs = append(errs, fmt.Errorf("defaults: %w", err))
		}
	}

	for _, name := range c.TaskNames() {
		task := c.Tasks[name]
		if len(task.Command) == 0 || task.Command[0] == "" {
			errs = append(errs, fmt.Errorf("task %q: command is empty", name))
		}
		if task.Timeout != nil && *task.Timeout < 0 {
			errs = append(errs, fmt.Errorf("task %q: timeout must not be negative", name))
		}
		if task.Retry != nil {
			if err := task.Retry.validate(); err != nil {
				errs = append(errs, fmt.Errorf("task %q: %w", name, err))
			}
		}
		switch task.OnFailure {
		case "", OnFailureStop, OnFailureContinue:
		default:
			errs = append(errs, fmt.Errorf("task %q: unknown on_failure %q", name, task.OnFailure))
		}
		for _, dep := range task.DependsOn {
			if _, ok := c.Tasks[dep]; !ok {
				errs = append(errs, fmt.Errorf("task %q: depends on unknown task %q", name, dep))
			}
		}
	}

	return errors.Join(errs...)
}

func (r *RetryConfig) validate() error {
	switch r.Strategy {
	case StrategyConstant, StrategyExponential:
	default:
		return fmt.Errorf("unknown retry strategy %q", r.Strategy)
	}
	if r.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", r.Retries)
	}
	if r.Sleep < 0 {
		return fmt.Errorf("sleep must not be negative")
	}
	if r.Strategy == StrategyExponential && r.Exponent < 0 {
		return fmt.Errorf("exponent must not be negative, got %g", r.Exponent)
	}
	if r.Breaker != nil && r.Breaker.Name == "" {
		return fmt.Errorf("breaker needs a name")
	}
	return nil
}
