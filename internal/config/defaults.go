package config

// Built-in defaults.
const (
	DefaultConcurrency = 4
	DefaultHistoryPath = ".taskcore/history.db"
	DefaultExponent    = 2.0
)

// DefaultConfig returns the configuration used when no file overrides it:
// bounded concurrency, history enabled, no timeout, no retries, no tasks.
func DefaultConfig() *Config {
	return &Config{
		Concurrency: DefaultConcurrency,
		History:     DefaultHistoryPath,
		Tasks:       map[string]TaskConfig{},
	}
}
