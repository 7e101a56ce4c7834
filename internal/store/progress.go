package store

import (
	"context"
	"time"

	"github.com/areascope/areascope/internal/progress"
	"github.com/areascope/areascope/internal/types"
)

// MergeProgress applies patch to progress_detail[pairKey] under the task's
// row lock, using internal/progress.ApplyPatch for the merge rules
// themselves (spec.md §4.2). After a successful merge it also advances the
// parent task's last_progress_at, per rule 6.
func (s *TaskStore) MergeProgress(ctx context.Context, taskID, pairKey string, patch types.ProgressPatch) (*types.ProgressRecord, error) {
	var result *types.ProgressRecord
	now := time.Now()

	err := s.WithTaskRowLock(ctx, taskID, func(t *types.Task) error {
		existing := t.ProgressDetail[pairKey]
		alreadyFinal := existing != nil && existing.IsFinal
		result = progress.ApplyPatch(existing, patch)
		t.ProgressDetail[pairKey] = result
		if alreadyFinal {
			return nil
		}
		t.LastProgressAt = &now
		t.RecomputeAggregates()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateTaskStatus sets status and stamps at onto the matching timestamp
// field (started_at for running, completed_at for any terminal status),
// under row lock.
func (s *TaskStore) UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskStatus, at time.Time) error {
	return s.WithTaskRowLock(ctx, taskID, func(t *types.Task) error {
		t.Status = status
		switch {
		case status == types.StatusRunning && t.StartedAt == nil:
			t.StartedAt = &at
		case status.IsTerminal():
			t.CompletedAt = &at
		}
		return nil
	})
}

// ControlFlag names a Task boolean flag mutable via SetControlFlag.
type ControlFlag string

const (
	FlagPaused    ControlFlag = "is_paused"
	FlagCancelled ControlFlag = "is_cancelled"
)

// SetControlFlag sets one of is_paused/is_cancelled under row lock,
// stamping the matching *_requested_at timestamp, and keeps status
// consistent with the booleans per spec.md §3.3.
func (s *TaskStore) SetControlFlag(ctx context.Context, taskID string, flag ControlFlag, value bool, at time.Time) error {
	return s.WithTaskRowLock(ctx, taskID, func(t *types.Task) error {
		switch flag {
		case FlagPaused:
			t.IsPaused = value
			if value {
				t.PauseRequestedAt = &at
				t.Status = types.StatusPaused
			} else {
				t.Status = types.StatusRunning
			}
		case FlagCancelled:
			t.IsCancelled = value
			if value {
				t.CancelRequestedAt = &at
				t.Status = types.StatusCancelled
				t.CompletedAt = &at
			}
		}
		return nil
	})
}

// ListFilter narrows ListTasks.
type ListFilter struct {
	ActiveOnly bool
}

// ListTasks returns up to limit tasks ordered by created_at descending,
// optionally filtered to status ∈ {running, paused, pending} (spec.md
// §4.8's ListTasks/active_only).
func (s *TaskStore) ListTasks(ctx context.Context, filter ListFilter, limit int) ([]*types.Task, error) {
	query := taskSelectColumns + ` FROM tasks`
	args := []any{}
	if filter.ActiveOnly {
		query += ` WHERE status IN ('running', 'paused', 'pending')`
	}
	query += ` ORDER BY created_at DESC LIMIT $1`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
