package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestStalledTaskIDsReturnsMatches(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"task_id"}).AddRow("t1").AddRow("t2")

	mock.ExpectQuery(`SELECT task_id FROM tasks`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	got, err := store.StalledTaskIDs(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "t1" || got[1] != "t2" {
		t.Errorf("got = %v, want [t1 t2]", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStalledTaskIDsEmpty(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT task_id FROM tasks`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"task_id"}))

	got, err := store.StalledTaskIDs(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}
