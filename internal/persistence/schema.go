package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
// Timestamps are Unix milliseconds; durations are milliseconds.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		config TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS task_results (
		run_id TEXT NOT NULL,
		task TEXT NOT NULL,
		status TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		return_code INTEGER,
		error TEXT NOT NULL DEFAULT '',
		stdout TEXT NOT NULL DEFAULT '',
		stderr TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		recorded_at INTEGER NOT NULL,
		PRIMARY KEY (run_id, task),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_results_task ON task_results(task, recorded_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
