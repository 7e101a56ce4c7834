// Package store implements the Postgres-backed TaskStore named in spec.md
// §4.1: durable storage of Tasks, ProgressRecords, LogEntries, Schedules,
// and ScheduleHistories, with the row-level locking primitives every other
// component builds on. Grounded on
// _examples/bramrahmadi-learnbot/database/repository/user_repository.go's
// transaction style (BeginTx → defer tx.Rollback() → QueryRowContext/
// ExecContext → tx.Commit()) and
// _examples/other_examples/.../schedule_repo.go's `FOR UPDATE`/
// `FOR UPDATE SKIP LOCKED` row-claim pattern, adapted from pgx to
// database/sql + lib/pq.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/areascope/areascope/internal/areacode"
	"github.com/areascope/areascope/internal/config"
	"github.com/areascope/areascope/internal/types"
)

// TaskStore is the concrete Postgres-backed store. All read-modify-writes on
// a task row (including its progress_detail map) go through WithTaskRowLock.
type TaskStore struct {
	db *sql.DB
}

// Open connects to cfg.DSN and configures the pool per cfg.
func Open(cfg config.DatabaseConfig) (*TaskStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, &types.CategorizedError{Category: types.CategoryDatabaseInit, Detail: "データベース接続の初期化エラー: モジュールのインポートまたは初期化に失敗しました", Err: err}
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, &types.CategorizedError{Category: types.CategoryDatabaseInit, Detail: "データベース接続の初期化エラー: モジュールのインポートまたは初期化に失敗しました", Err: err}
	}
	return &TaskStore{db: db}, nil
}

// NewWithDB wraps an already-open *sql.DB, used by tests against go-sqlmock.
func NewWithDB(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

// Close releases the underlying connection pool.
func (s *TaskStore) Close() error {
	return s.db.Close()
}

// WithTaskRowLock acquires an exclusive row lock on task_id for the
// duration of fn: it loads the task under `SELECT ... FOR UPDATE`, lets fn
// mutate the in-memory value, then writes every mutable column back in the
// same transaction. Every read-modify-write on progress_detail or the
// control flags must go through this (spec.md §4.1, §9 "Shared row-lock
// discipline").
func (s *TaskStore) WithTaskRowLock(ctx context.Context, taskID string, fn func(*types.Task) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	task, err := loadTaskForUpdate(ctx, tx, taskID)
	if err != nil {
		return err
	}

	if err := fn(task); err != nil {
		return err
	}

	if err := saveTask(ctx, tx, task); err != nil {
		return err
	}

	return tx.Commit()
}

// LoadTask reads one task without taking a row lock; used by hot read paths
// (checkpoints, status polling) where a torn read of progress_detail is
// acceptable because callers never mutate through it.
func (s *TaskStore) LoadTask(ctx context.Context, taskID string) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelectColumns+` FROM tasks WHERE task_id = $1`, taskID)
	return scanTask(row)
}

const taskSelectColumns = `
	SELECT task_id, kind, scrapers, areas, options, status, is_paused, is_cancelled,
	       pause_requested_at, cancel_requested_at, started_at, completed_at,
	       last_progress_at, created_at, progress_detail,
	       total_processed, total_new, total_updated, total_errors,
	       properties_found, detail_fetched, detail_skipped,
	       price_missing, building_info_missing, elapsed_seconds`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*types.Task, error) {
	var t types.Task
	var optionsJSON, progressJSON []byte
	var scrapers, areas pq.StringArray

	err := row.Scan(
		&t.TaskID, &t.Kind, &scrapers, &areas, &optionsJSON, &t.Status, &t.IsPaused, &t.IsCancelled,
		&t.PauseRequestedAt, &t.CancelRequestedAt, &t.StartedAt, &t.CompletedAt,
		&t.LastProgressAt, &t.CreatedAt, &progressJSON,
		&t.TotalProcessed, &t.TotalNew, &t.TotalUpdated, &t.TotalErrors,
		&t.PropertiesFound, &t.DetailFetched, &t.DetailSkipped,
		&t.PriceMissing, &t.BuildingInfoMissing, &t.ElapsedSeconds,
	)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	t.Scrapers = []string(scrapers)
	t.Areas = []string(areas)
	if err := json.Unmarshal(optionsJSON, &t.Options); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	t.ProgressDetail = make(map[string]*types.ProgressRecord)
	if len(progressJSON) > 0 {
		if err := json.Unmarshal(progressJSON, &t.ProgressDetail); err != nil {
			return nil, fmt.Errorf("unmarshal progress_detail: %w", err)
		}
	}
	return &t, nil
}

func loadTaskForUpdate(ctx context.Context, tx *sql.Tx, taskID string) (*types.Task, error) {
	row := tx.QueryRowContext(ctx, taskSelectColumns+` FROM tasks WHERE task_id = $1 FOR UPDATE`, taskID)
	return scanTask(row)
}

func saveTask(ctx context.Context, tx *sql.Tx, t *types.Task) error {
	optionsJSON, err := json.Marshal(t.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	progressJSON, err := json.Marshal(t.ProgressDetail)
	if err != nil {
		return fmt.Errorf("marshal progress_detail: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET
			status = $2, is_paused = $3, is_cancelled = $4,
			pause_requested_at = $5, cancel_requested_at = $6,
			started_at = $7, completed_at = $8, last_progress_at = $9,
			progress_detail = $10,
			total_processed = $11, total_new = $12, total_updated = $13, total_errors = $14,
			properties_found = $15, detail_fetched = $16, detail_skipped = $17,
			price_missing = $18, building_info_missing = $19, elapsed_seconds = $20
		WHERE task_id = $1`,
		t.TaskID, t.Status, t.IsPaused, t.IsCancelled,
		t.PauseRequestedAt, t.CancelRequestedAt,
		t.StartedAt, t.CompletedAt, t.LastProgressAt,
		progressJSON,
		t.TotalProcessed, t.TotalNew, t.TotalUpdated, t.TotalErrors,
		t.PropertiesFound, t.DetailFetched, t.DetailSkipped,
		t.PriceMissing, t.BuildingInfoMissing, t.ElapsedSeconds,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// CreateTask validates draft and inserts a new task row with status=pending
// (spec.md §4.1). Idempotency is not guaranteed by the store; callers
// supply task_id.
func (s *TaskStore) CreateTask(ctx context.Context, draft *types.Task) (*types.Task, error) {
	if len(draft.Scrapers) == 0 {
		return nil, &types.InvalidArgumentError{Field: "scrapers", Offenders: []string{"(empty)"}}
	}
	codes, err := areacode.ValidateAreas(draft.Areas)
	if err != nil {
		return nil, err
	}
	if draft.Options.MaxPropertiesPerPair <= 0 {
		return nil, &types.InvalidArgumentError{Field: "max_properties_per_pair", Offenders: []string{fmt.Sprint(draft.Options.MaxPropertiesPerPair)}}
	}
	draft.Areas = codes
	draft.Status = types.StatusPending
	draft.CreatedAt = time.Now()
	if draft.ProgressDetail == nil {
		draft.ProgressDetail = make(map[string]*types.ProgressRecord)
	}

	optionsJSON, err := json.Marshal(draft.Options)
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}
	progressJSON, err := json.Marshal(draft.ProgressDetail)
	if err != nil {
		return nil, fmt.Errorf("marshal progress_detail: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, kind, scrapers, areas, options, status, created_at, progress_detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		draft.TaskID, draft.Kind, pq.Array(draft.Scrapers), pq.Array(draft.Areas),
		optionsJSON, draft.Status, draft.CreatedAt, progressJSON,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, types.ErrConflict
		}
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return draft, nil
}

// DeleteTask cascades ProgressRecords (inline in the row) and LogEntries;
// allowed only from a terminal status or a pending task that never started.
func (s *TaskStore) DeleteTask(ctx context.Context, taskID string) error {
	task, err := s.LoadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !task.Status.IsTerminal() && task.Status != types.StatusPending {
		return types.ErrInvalidState
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}
