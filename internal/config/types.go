package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Retry strategy names.
const (
	StrategyConstant    = "constant"
	StrategyExponential = "exponential"
)

// What a task's failure means for its dependents.
const (
	OnFailureStop     = "stop"     // Dependents are skipped (default)
	OnFailureContinue = "continue" // Dependents run anyway
)

// Duration is a time.Duration that reads and writes Go duration strings
// ("250ms", "1m30s") in JSON.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// BreakerConfig puts a retry policy behind a named circuit breaker.
// Tasks naming the same breaker share its failure count.
type BreakerConfig struct {
	Name        string   `json:"name"`                   // Registry key
	MaxFailures uint32   `json:"max_failures,omitempty"` // Consecutive failures before opening
	OpenFor     Duration `json:"open_for,omitempty"`     // Time spent open before probing
}

// RetryConfig selects and parameterises a retry policy.
type RetryConfig struct {
	Strategy string         `json:"strategy"`           // "constant" or "exponential"
	Sleep    Duration       `json:"sleep,omitempty"`    // Constant sleep, or exponential base
	Exponent float64        `json:"exponent,omitempty"` // Exponential growth factor (default 2)
	Retries  int            `json:"retries"`            // Attempt ceiling
	Breaker  *BreakerConfig `json:"breaker,omitempty"`
}

// TaskConfig describes one external command.
type TaskConfig struct {
	Command       []string          `json:"command"`
	Dir           string            `json:"dir,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	InheritEnv    bool              `json:"inherit_env,omitempty"`    // Merge Env over the parent environment instead of replacing it
	Timeout       *Duration         `json:"timeout,omitempty"`        // nil means the default; "0s" means unbounded
	CollectOutput *bool             `json:"collect_output,omitempty"` // nil means true
	DependsOn     []string          `json:"depends_on,omitempty"`
	Resources     []string          `json:"resources,omitempty"`  // Tasks sharing a resource never run at the same time
	OnFailure     string            `json:"on_failure,omitempty"` // "stop" or "continue"
	Retry         *RetryConfig      `json:"retry,omitempty"`      // nil means the default
}

// Collects reports whether output should be captured.
func (t TaskConfig) Collects() bool {
	return t.CollectOutput == nil || *t.CollectOutput
}

// DefaultsConfig is applied to every task that leaves a field unset.
type DefaultsConfig struct {
	Timeout *Duration    `json:"timeout,omitempty"` // nil leaves tasks unbounded; "0s" overrides a lower-precedence default
	Retry   *RetryConfig `json:"retry,omitempty"`
}

// Config is the top-level task file.
type Config struct {
	Concurrency int                   `json:"concurrency,omitempty"` // Max tasks running at once
	History     string                `json:"history,omitempty"`     // SQLite history path; empty disables history
	Defaults    DefaultsConfig        `json:"defaults"`
	Tasks       map[string]TaskConfig `json:"tasks"`
}
