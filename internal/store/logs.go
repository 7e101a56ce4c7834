package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/areascope/areascope/internal/types"
)

// AppendLog inserts one log row. Append-only: no UPDATE or DELETE on logs
// is ever issued by the store (spec.md §4.3's "no log mutation or
// re-ordering" guarantee).
func (s *TaskStore) AppendLog(ctx context.Context, entry types.LogEntry) error {
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal log details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO logs (task_id, kind, timestamp, message, details)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.TaskID, entry.Kind, entry.Timestamp, entry.Message, detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// LogDiff groups entries by kind, the shape ReadLogsSince returns (spec.md
// §4.3 "Diff read").
type LogDiff struct {
	PropertyUpdates []types.LogEntry
	Errors          []types.LogEntry
	Warnings        []types.LogEntry
}

// ReadLogsSince returns every entry with timestamp > since, grouped by kind.
// Testable property 7 (log-diff monotonicity) follows directly from the
// strict `>` comparison and from AppendLog never mutating a prior row.
func (s *TaskStore) ReadLogsSince(ctx context.Context, taskID string, since sql.NullTime) (LogDiff, error) {
	query := `SELECT kind, timestamp, message, details FROM logs WHERE task_id = $1`
	args := []any{taskID}
	if since.Valid {
		query += ` AND timestamp > $2`
		args = append(args, since.Time)
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return LogDiff{}, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var diff LogDiff
	for rows.Next() {
		var e types.LogEntry
		var detailsJSON []byte
		if err := rows.Scan(&e.Kind, &e.Timestamp, &e.Message, &detailsJSON); err != nil {
			return LogDiff{}, fmt.Errorf("scan log: %w", err)
		}
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &e.Details); err != nil {
				return LogDiff{}, fmt.Errorf("unmarshal log details: %w", err)
			}
		}
		e.TaskID = taskID
		switch e.Kind {
		case types.LogPropertyUpdate:
			diff.PropertyUpdates = append(diff.PropertyUpdates, e)
		case types.LogError:
			diff.Errors = append(diff.Errors, e)
		case types.LogWarning:
			diff.Warnings = append(diff.Warnings, e)
		}
	}
	return diff, rows.Err()
}
