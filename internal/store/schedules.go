package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/areascope/areascope/internal/types"
)

const scheduleSelectColumns = `
	SELECT id, name, description, scrapers, areas, max_properties, is_active,
	       schedule_type, interval_minutes, daily_hour, daily_minute,
	       last_run_at, next_run_at, last_task_id, created_at, updated_at, created_by
	  FROM schedules`

func scanSchedule(row scanner) (*types.Schedule, error) {
	var sc types.Schedule
	var scrapers, areas pq.StringArray
	err := row.Scan(
		&sc.ID, &sc.Name, &sc.Description, &scrapers, &areas, &sc.MaxProperties, &sc.IsActive,
		&sc.ScheduleType, &sc.IntervalMinutes, &sc.DailyHour, &sc.DailyMinute,
		&sc.LastRunAt, &sc.NextRunAt, &sc.LastTaskID, &sc.CreatedAt, &sc.UpdatedAt, &sc.CreatedBy,
	)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	sc.Scrapers = []string(scrapers)
	sc.Areas = []string(areas)
	return &sc, nil
}

// CreateSchedule inserts a new schedule. NextRunAt must already be computed
// by the caller (internal/scheduler owns the interval/daily trigger math).
func (s *TaskStore) CreateSchedule(ctx context.Context, sc *types.Schedule) (*types.Schedule, error) {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	now := time.Now()
	sc.CreatedAt, sc.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, name, description, scrapers, areas, max_properties, is_active,
		                        schedule_type, interval_minutes, daily_hour, daily_minute,
		                        next_run_at, created_at, updated_at, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		sc.ID, sc.Name, sc.Description, pq.Array(sc.Scrapers), pq.Array(sc.Areas), sc.MaxProperties, sc.IsActive,
		sc.ScheduleType, sc.IntervalMinutes, sc.DailyHour, sc.DailyMinute,
		sc.NextRunAt, sc.CreatedAt, sc.UpdatedAt, sc.CreatedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("insert schedule: %w", err)
	}
	return sc, nil
}

// GetSchedule loads one schedule without a row lock.
func (s *TaskStore) GetSchedule(ctx context.Context, id string) (*types.Schedule, error) {
	row := s.db.QueryRowContext(ctx, scheduleSelectColumns+` WHERE id = $1`, id)
	return scanSchedule(row)
}

// ListSchedules returns every schedule, active or not.
func (s *TaskStore) ListSchedules(ctx context.Context) ([]*types.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, scheduleSelectColumns+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// DueSchedules returns active schedules whose next_run_at has passed
// (spec.md §3.3: "eligible for triggering iff is_active ∧ next_run_at ≤
// now()"). No row lock: the control plane runs a single scheduler goroutine
// per process (spec.md's Non-goals exclude distributed coordination), so
// in-process serialization alone guarantees at-most-one-concurrent-fire.
func (s *TaskStore) DueSchedules(ctx context.Context, now time.Time) ([]*types.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, scheduleSelectColumns+`
		WHERE is_active = true AND next_run_at <= $1 ORDER BY next_run_at ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// WithScheduleRowLock mirrors WithTaskRowLock for the schedules table,
// required by spec.md §9's row-lock discipline whenever next_run_at/
// last_run_at/last_task_id are advanced.
func (s *TaskStore) WithScheduleRowLock(ctx context.Context, id string, fn func(*types.Schedule) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, scheduleSelectColumns+` WHERE id = $1 FOR UPDATE`, id)
	sc, err := scanSchedule(row)
	if err != nil {
		return err
	}

	if err := fn(sc); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE schedules SET name=$2, description=$3, scrapers=$4, areas=$5, max_properties=$6,
		       is_active=$7, schedule_type=$8, interval_minutes=$9, daily_hour=$10, daily_minute=$11,
		       last_run_at=$12, next_run_at=$13, last_task_id=$14, updated_at=$15
		WHERE id=$1`,
		sc.ID, sc.Name, sc.Description, pq.Array(sc.Scrapers), pq.Array(sc.Areas), sc.MaxProperties,
		sc.IsActive, sc.ScheduleType, sc.IntervalMinutes, sc.DailyHour, sc.DailyMinute,
		sc.LastRunAt, sc.NextRunAt, sc.LastTaskID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return tx.Commit()
}

// DeleteSchedule removes a schedule and its history (cascade is declared at
// the table level).
func (s *TaskStore) DeleteSchedule(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	return err
}

const historySelectColumns = `
	SELECT id, schedule_id, task_id, started_at, completed_at, status, error_message
	  FROM schedule_history`

func scanHistory(row scanner) (*types.ScheduleHistory, error) {
	var h types.ScheduleHistory
	err := row.Scan(&h.ID, &h.ScheduleID, &h.TaskID, &h.StartedAt, &h.CompletedAt, &h.Status, &h.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan schedule history: %w", err)
	}
	return &h, nil
}

// CreateScheduleHistory opens a new materialisation attempt record with
// status=running (spec.md §4.6 step 2).
func (s *TaskStore) CreateScheduleHistory(ctx context.Context, scheduleID string) (*types.ScheduleHistory, error) {
	h := &types.ScheduleHistory{
		ID:         uuid.NewString(),
		ScheduleID: scheduleID,
		StartedAt:  time.Now(),
		Status:     types.HistoryRunning,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_history (id, schedule_id, started_at, status)
		VALUES ($1,$2,$3,$4)`,
		h.ID, h.ScheduleID, h.StartedAt, h.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("insert schedule history: %w", err)
	}
	return h, nil
}

// WithScheduleHistoryRowLock mirrors WithTaskRowLock for schedule_history,
// required by spec.md §9 for every status transition on a history row.
func (s *TaskStore) WithScheduleHistoryRowLock(ctx context.Context, id string, fn func(*types.ScheduleHistory) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, historySelectColumns+` WHERE id = $1 FOR UPDATE`, id)
	h, err := scanHistory(row)
	if err != nil {
		return err
	}

	if err := fn(h); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE schedule_history SET task_id=$2, completed_at=$3, status=$4, error_message=$5
		WHERE id=$1`,
		h.ID, h.TaskID, h.CompletedAt, h.Status, h.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("update schedule history: %w", err)
	}
	return tx.Commit()
}

// RunningScheduleHistories returns every history row still status=running,
// the input to reconciliation (spec.md §4.6).
func (s *TaskStore) RunningScheduleHistories(ctx context.Context) ([]*types.ScheduleHistory, error) {
	rows, err := s.db.QueryContext(ctx, historySelectColumns+` WHERE status = $1`, types.HistoryRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.ScheduleHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// RunningOrPendingScrapers returns the union of scrapers used by every task
// with status ∈ {pending, running}, the input to the scheduler's conflict
// check (spec.md §4.6 step 3, Testable property 5).
func (s *TaskStore) RunningOrPendingScrapers(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, scrapers FROM tasks WHERE status IN ('pending', 'running')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var taskID string
		var scrapers pq.StringArray
		if err := rows.Scan(&taskID, &scrapers); err != nil {
			return nil, err
		}
		out[taskID] = []string(scrapers)
	}
	return out, rows.Err()
}

// TaskByCreationProximity finds a terminal task created within ±window of
// approx, used by history reconciliation when a history's task_id is empty
// (spec.md §4.6 "History reconciliation").
func (s *TaskStore) TaskByCreationProximity(ctx context.Context, approx time.Time, window time.Duration) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelectColumns+`
		FROM tasks WHERE created_at BETWEEN $1 AND $2 AND status NOT IN ('pending','running')
		ORDER BY ABS(EXTRACT(EPOCH FROM (created_at - $3))) ASC LIMIT 1`,
		approx.Add(-window), approx.Add(window), approx)
	return scanTask(row)
}
