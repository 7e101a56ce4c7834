package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/areascope/areascope/internal/types"
)

func taskRow(mock sqlmock.Sqlmock, t *types.Task) *sqlmock.Rows {
	optionsJSON, _ := json.Marshal(t.Options)
	progressJSON, _ := json.Marshal(t.ProgressDetail)
	return sqlmock.NewRows([]string{
		"task_id", "kind", "scrapers", "areas", "options", "status", "is_paused", "is_cancelled",
		"pause_requested_at", "cancel_requested_at", "started_at", "completed_at",
		"last_progress_at", "created_at", "progress_detail",
		"total_processed", "total_new", "total_updated", "total_errors",
		"properties_found", "detail_fetched", "detail_skipped",
		"price_missing", "building_info_missing", "elapsed_seconds",
	}).AddRow(
		t.TaskID, t.Kind, pq_(t.Scrapers), pq_(t.Areas), optionsJSON, t.Status, t.IsPaused, t.IsCancelled,
		t.PauseRequestedAt, t.CancelRequestedAt, t.StartedAt, t.CompletedAt,
		t.LastProgressAt, t.CreatedAt, progressJSON,
		t.TotalProcessed, t.TotalNew, t.TotalUpdated, t.TotalErrors,
		t.PropertiesFound, t.DetailFetched, t.DetailSkipped,
		t.PriceMissing, t.BuildingInfoMissing, t.ElapsedSeconds,
	)
}

// pq_ renders a string slice the way lib/pq's driver.Valuer would encode it
// for a sqlmock row (sqlmock doesn't run the real driver, so a Go string in
// Postgres array literal form round-trips through pq.StringArray.Scan).
func pq_(ss []string) driver.Value {
	if len(ss) == 0 {
		return "{}"
	}
	out := "{"
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out + "}"
}

func newMockStore(t *testing.T) (*TaskStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestLoadTaskFound(t *testing.T) {
	store, mock := newMockStore(t)
	want := &types.Task{
		TaskID: "t1", Kind: types.KindSerial, Scrapers: []string{"suumo"}, Areas: []string{"13103"},
		Status: types.StatusRunning, CreatedAt: time.Now(),
		ProgressDetail: map[string]*types.ProgressRecord{},
	}
	mock.ExpectQuery(`SELECT .* FROM tasks WHERE task_id = \$1`).
		WithArgs("t1").
		WillReturnRows(taskRow(mock, want))

	got, err := store.LoadTask(context.Background(), "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TaskID != "t1" || got.Status != types.StatusRunning {
		t.Errorf("got = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestLoadTaskNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .* FROM tasks WHERE task_id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := store.LoadTask(context.Background(), "missing")
	if err != types.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWithTaskRowLockCommitsMutation(t *testing.T) {
	store, mock := newMockStore(t)
	task := &types.Task{
		TaskID: "t1", Kind: types.KindSerial, Status: types.StatusRunning, CreatedAt: time.Now(),
		ProgressDetail: map[string]*types.ProgressRecord{},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM tasks WHERE task_id = \$1 FOR UPDATE`).
		WithArgs("t1").
		WillReturnRows(taskRow(mock, task))
	mock.ExpectExec(`UPDATE tasks SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithTaskRowLock(context.Background(), "t1", func(tk *types.Task) error {
		tk.Status = types.StatusPaused
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWithTaskRowLockRollsBackOnFnError(t *testing.T) {
	store, mock := newMockStore(t)
	task := &types.Task{TaskID: "t1", Status: types.StatusRunning, CreatedAt: time.Now(), ProgressDetail: map[string]*types.ProgressRecord{}}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM tasks WHERE task_id = \$1 FOR UPDATE`).
		WithArgs("t1").
		WillReturnRows(taskRow(mock, task))
	mock.ExpectRollback()

	wantErr := types.ErrInvalidState
	err := store.WithTaskRowLock(context.Background(), "t1", func(tk *types.Task) error {
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateTaskRejectsEmptyScrapers(t *testing.T) {
	store, _ := newMockStore(t)
	_, err := store.CreateTask(context.Background(), &types.Task{Areas: []string{"13103"}, Options: types.TaskOptions{MaxPropertiesPerPair: 10}})
	if err == nil {
		t.Fatal("expected error for empty scrapers")
	}
	if ia, ok := err.(*types.InvalidArgumentError); !ok || ia.Field != "scrapers" {
		t.Errorf("got %T %v, want InvalidArgumentError on scrapers", err, err)
	}
}

func TestCreateTaskRejectsInvalidArea(t *testing.T) {
	store, _ := newMockStore(t)
	_, err := store.CreateTask(context.Background(), &types.Task{
		Scrapers: []string{"suumo"}, Areas: []string{"nowhere"}, Options: types.TaskOptions{MaxPropertiesPerPair: 10},
	})
	if err == nil {
		t.Fatal("expected error for invalid area")
	}
}

func TestCreateTaskInsertsAndNormalisesAreas(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO tasks`).WillReturnResult(sqlmock.NewResult(1, 1))

	draft := &types.Task{
		TaskID: "t1", Scrapers: []string{"suumo"}, Areas: []string{"港区"},
		Options: types.TaskOptions{MaxPropertiesPerPair: 10},
	}
	got, err := store.CreateTask(context.Background(), draft)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Areas) != 1 || got.Areas[0] != "13103" {
		t.Errorf("Areas = %v, want [13103] (name resolved to code)", got.Areas)
	}
	if got.Status != types.StatusPending {
		t.Errorf("Status = %s, want pending", got.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSetControlFlagPausedSetsStatusAndTimestamp(t *testing.T) {
	store, mock := newMockStore(t)
	task := &types.Task{TaskID: "t1", Status: types.StatusRunning, CreatedAt: time.Now(), ProgressDetail: map[string]*types.ProgressRecord{}}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM tasks WHERE task_id = \$1 FOR UPDATE`).
		WithArgs("t1").
		WillReturnRows(taskRow(mock, task))
	mock.ExpectExec(`UPDATE tasks SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.SetControlFlag(context.Background(), "t1", FlagPaused, true, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestListTasksActiveOnlyFiltersQuery(t *testing.T) {
	store, mock := newMockStore(t)
	task := &types.Task{TaskID: "t1", Status: types.StatusRunning, CreatedAt: time.Now(), ProgressDetail: map[string]*types.ProgressRecord{}}

	mock.ExpectQuery(`SELECT .* FROM tasks WHERE status IN \('running', 'paused', 'pending'\) ORDER BY created_at DESC LIMIT \$1`).
		WithArgs(10).
		WillReturnRows(taskRow(mock, task))

	got, err := store.ListTasks(context.Background(), ListFilter{ActiveOnly: true}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].TaskID != "t1" {
		t.Errorf("got = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
