package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agentforge/internal/steps"
)

// StepLog persists step records so a run can resume in a new process.
type StepLog struct {
	s *SQLiteStore
}

// StepLog returns the steps.Log view of the store.
func (s *SQLiteStore) StepLog() *StepLog {
	return &StepLog{s: s}
}

func (l *StepLog) Load(ctx context.Context, runID, name string) (steps.Record, bool, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	var rec steps.Record
	var kind, created string
	var result sql.NullString
	err := l.s.db.QueryRowContext(ctx,
		"SELECT run_id, name, kind, result, created_at FROM steps WHERE run_id = ? AND name = ?",
		runID, name,
	).Scan(&rec.RunID, &rec.Name, &kind, &result, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return steps.Record{}, false, nil
	}
	if err != nil {
		return steps.Record{}, false, fmt.Errorf("load step: %w", err)
	}
	rec.Kind = steps.Kind(kind)
	if result.Valid {
		rec.Result = []byte(result.String)
	}
	rec.CreatedAt = parseTime(created)
	return rec, true, nil
}

// Append inserts rec. An existing (run, name) record is kept as is.
func (l *StepLog) Append(ctx context.Context, rec steps.Record) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	var result any
	if len(rec.Result) > 0 {
		result = string(rec.Result)
	}
	_, err := l.s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO steps (run_id, name, kind, result, created_at) VALUES (?, ?, ?, ?, ?)",
		rec.RunID, rec.Name, string(rec.Kind), result, formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("append step: %w", err)
	}
	return nil
}

// Records returns one run's steps in creation order.
func (l *StepLog) Records(ctx context.Context, runID string) ([]steps.Record, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	rows, err := l.s.db.QueryContext(ctx,
		"SELECT run_id, name, kind, result, created_at FROM steps WHERE run_id = ? ORDER BY created_at, rowid", runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var out []steps.Record
	for rows.Next() {
		var rec steps.Record
		var kind, created string
		var result sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.Name, &kind, &result, &created); err != nil {
			return nil, err
		}
		rec.Kind = steps.Kind(kind)
		if result.Valid {
			rec.Result = []byte(result.String)
		}
		rec.CreatedAt = parseTime(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}
