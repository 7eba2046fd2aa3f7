package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/aristath/taskcore/internal/plan"
	"github.com/aristath/taskcore/internal/task"
)

// maxOutput caps the stdout and stderr kept per task.
const maxOutput = 64 * 1024

// RecordResult saves or replaces the outcome of one task in a run.
func (s *SQLiteStore) RecordResult(ctx context.Context, rec TaskRecord) error {
	return s.insertResult(ctx, s.db, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) insertResult(ctx context.Context, db execer, rec TaskRecord) error {
	var code sql.NullInt64
	if rec.HasCode {
		code = sql.NullInt64{Int64: int64(rec.ReturnCode), Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO task_results (run_id, task, status, kind, return_code, error, stdout, stderr, duration_ms, reason, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, task) DO UPDATE SET
			status = excluded.status,
			kind = excluded.kind,
			return_code = excluded.return_code,
			error = excluded.error,
			stdout = excluded.stdout,
			stderr = excluded.stderr,
			duration_ms = excluded.duration_ms,
			reason = excluded.reason,
			recorded_at = excluded.recorded_at
	`, rec.RunID, rec.Task, rec.Status, rec.Kind, code, rec.Error,
		truncate(rec.Stdout), truncate(rec.Stderr), rec.Duration.Milliseconds(), rec.Reason, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("failed to record result of %s: %w", rec.Task, err)
	}
	return nil
}

// RecordReport saves every outcome of report under runID in one transaction.
func (s *SQLiteStore) RecordReport(ctx context.Context, runID string, report *plan.Report) error {
	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, o := range report.Outcomes {
		if err := s.insertResult(ctx, tx, RecordFromOutcome(runID, o)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecordFromOutcome flattens a plan outcome into a storable record.
func RecordFromOutcome(runID string, o plan.Outcome) TaskRecord {
	rec := TaskRecord{
		RunID:    runID,
		Task:     o.ID,
		Status:   o.Status.String(),
		Duration: o.Duration,
		Reason:   o.Reason,
	}

	if o.Status == plan.StatusSkipped || o.Status == plan.StatusPending {
		return rec
	}

	if o.Result.IsOk() {
		if out := o.Result.Value(); out != nil {
			rec.Stdout = out.Stdout
			rec.Stderr = out.Stderr
			rec.ReturnCode = out.ReturnCode
			rec.HasCode = true
		}
		return rec
	}

	err := o.Result.Err()
	rec.Error = err.Error()
	var f *task.Failure
	if errors.As(err, &f) {
		rec.Kind = f.Kind().String()
		rec.ReturnCode, rec.HasCode = f.ReturnCode()
	}
	return rec
}

// ListResults returns the outcomes of a run ordered by task name.
func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, task, status, kind, return_code, error, stdout, stderr, duration_ms, reason
		FROM task_results
		WHERE run_id = ?
		ORDER BY task
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	return collectResults(rows)
}

// TaskHistory returns the most recent outcomes of one task across runs.
// A limit of zero or less returns all of them.
func (s *SQLiteStore) TaskHistory(ctx context.Context, taskName string, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, task, status, kind, return_code, error, stdout, stderr, duration_ms, reason
		FROM task_results
		WHERE task = ?
		ORDER BY recorded_at DESC, rowid DESC
		LIMIT ?
	`, taskName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query task history: %w", err)
	}
	return collectResults(rows)
}

func collectResults(rows *sql.Rows) ([]TaskRecord, error) {
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var code sql.NullInt64
		var durationMs int64
		if err := rows.Scan(&rec.RunID, &rec.Task, &rec.Status, &rec.Kind, &code, &rec.Error,
			&rec.Stdout, &rec.Stderr, &durationMs, &rec.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if code.Valid {
			rec.ReturnCode = int(code.Int64)
			rec.HasCode = true
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return records, nil
}

// truncate cuts s to at most maxOutput bytes without splitting a rune.
func truncate(s string) string {
	if len(s) <= maxOutput {
		return s
	}
	cut := maxOutput
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
