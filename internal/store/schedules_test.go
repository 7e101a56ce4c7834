package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/areascope/areascope/internal/types"
)

func scheduleRows(mock sqlmock.Sqlmock, sc *types.Schedule) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "description", "scrapers", "areas", "max_properties", "is_active",
		"schedule_type", "interval_minutes", "daily_hour", "daily_minute",
		"last_run_at", "next_run_at", "last_task_id", "created_at", "updated_at", "created_by",
	}).AddRow(
		sc.ID, sc.Name, sc.Description, pq_(sc.Scrapers), pq_(sc.Areas), sc.MaxProperties, sc.IsActive,
		sc.ScheduleType, sc.IntervalMinutes, sc.DailyHour, sc.DailyMinute,
		sc.LastRunAt, sc.NextRunAt, sc.LastTaskID, sc.CreatedAt, sc.UpdatedAt, sc.CreatedBy,
	)
}

func TestCreateScheduleAssignsID(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO schedules`).WillReturnResult(sqlmock.NewResult(1, 1))

	sc := &types.Schedule{Name: "daily minato", Scrapers: []string{"suumo"}, Areas: []string{"13103"}, ScheduleType: types.ScheduleDaily}
	got, err := store.CreateSchedule(context.Background(), sc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID == "" {
		t.Error("expected ID to be assigned")
	}
}

func TestDueSchedulesFiltersActiveAndDue(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	sc := &types.Schedule{ID: "s1", Name: "n", ScheduleType: types.ScheduleInterval, IsActive: true, NextRunAt: &now, CreatedAt: now, UpdatedAt: now}

	mock.ExpectQuery(`SELECT .* FROM schedules WHERE is_active = true AND next_run_at <= \$1 ORDER BY next_run_at ASC`).
		WithArgs(now).
		WillReturnRows(scheduleRows(mock, sc))

	got, err := store.DueSchedules(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "s1" {
		t.Errorf("got = %+v", got)
	}
}

func TestWithScheduleRowLockCommits(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	sc := &types.Schedule{ID: "s1", Name: "n", ScheduleType: types.ScheduleInterval, CreatedAt: now, UpdatedAt: now}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM schedules WHERE id = \$1 FOR UPDATE`).
		WithArgs("s1").
		WillReturnRows(scheduleRows(mock, sc))
	mock.ExpectExec(`UPDATE schedules SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithScheduleRowLock(context.Background(), "s1", func(s *types.Schedule) error {
		next := now.Add(time.Hour)
		s.NextRunAt = &next
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRunningOrPendingScrapersAggregatesByTask(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"task_id", "scrapers"}).
		AddRow("t1", pq_([]string{"suumo", "homes"})).
		AddRow("t2", pq_([]string{"suumo"}))

	mock.ExpectQuery(`SELECT task_id, scrapers FROM tasks WHERE status IN \('pending', 'running'\)`).
		WillReturnRows(rows)

	got, err := store.RunningOrPendingScrapers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got["t1"]) != 2 || len(got["t2"]) != 1 {
		t.Errorf("got = %+v", got)
	}
}

func TestCreateScheduleHistoryStartsRunning(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO schedule_history`).WillReturnResult(sqlmock.NewResult(1, 1))

	h, err := store.CreateScheduleHistory(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Status != types.HistoryRunning || h.ScheduleID != "s1" {
		t.Errorf("got = %+v", h)
	}
}
