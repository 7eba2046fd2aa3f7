package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Save validates cfg and writes it as indented JSON. The file is replaced
// atomically through a temp file in the same directory, so a reader never
// sees a partial task file. Parent directories are created as needed.
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid config: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config to %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// Example returns a small task file showing dependencies, a shared
// resource, and a retry policy.
func Example() *Config {
	timeout := Duration(10 * time.Minute)
	return &Config{
		Concurrency: DefaultConcurrency,
		History:     DefaultHistoryPath,
		Defaults: DefaultsConfig{
			Timeout: &timeout,
		},
		Tasks: map[string]TaskConfig{
			"build": {
				Command: []string{"go", "build", "./..."},
			},
			"test": {
				Command:   []string{"go", "test", "./..."},
				DependsOn: []string{"build"},
				Resources: []string{"testdb"},
				Retry: &RetryConfig{
					Strategy: StrategyExponential,
					Sleep:    Duration(500 * time.Millisecond),
					Exponent: DefaultExponent,
					Retries:  3,
				},
			},
			"vet": {
				Command:   []string{"go", "vet", "./..."},
				DependsOn: []string{"build"},
				OnFailure: OnFailureContinue,
			},
		},
	}
}
