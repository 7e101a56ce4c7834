package store

import (
	"context"
	"time"
)

// StalledTaskIDs returns task_ids with status=running whose
// max(last_progress_at, started_at) is older than threshold (spec.md
// §4.7's stall policy). This is a plain read with no row lock: candidates
// are re-checked under WithTaskRowLock by the caller before being
// promoted, so a stale read here only costs one extra no-op iteration.
func (s *TaskStore) StalledTaskIDs(ctx context.Context, threshold time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-threshold)
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id FROM tasks
		WHERE status = 'running' AND COALESCE(last_progress_at, started_at) < $1`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
