package stalldetector

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/areascope/areascope/internal/config"
	"github.com/areascope/areascope/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeStore struct {
	stalled []string
	tasks   map[string]*types.Task
	logs    []types.LogEntry
}

func (f *fakeStore) StalledTaskIDs(ctx context.Context, threshold time.Duration) ([]string, error) {
	return f.stalled, nil
}

func (f *fakeStore) WithTaskRowLock(ctx context.Context, taskID string, fn func(*types.Task) error) error {
	t, ok := f.tasks[taskID]
	if !ok {
		return types.ErrNotFound
	}
	return fn(t)
}

func (f *fakeStore) AppendLog(ctx context.Context, entry types.LogEntry) error {
	f.logs = append(f.logs, entry)
	return nil
}

func testConfig() config.ControlPlaneConfig {
	return config.ControlPlaneConfig{StallThresholdMinutes: 30}
}

func TestSweepPromotesStalledTask(t *testing.T) {
	longAgo := time.Now().Add(-time.Hour)
	store := &fakeStore{
		stalled: []string{"t1"},
		tasks:   map[string]*types.Task{"t1": {TaskID: "t1", Status: types.StatusRunning, LastProgressAt: &longAgo}},
	}
	d := New(store, testConfig(), nil, testLogger)

	promoted := d.Sweep(context.Background())
	if promoted != 1 {
		t.Errorf("promoted = %d, want 1", promoted)
	}
	if store.tasks["t1"].Status != types.StatusFailed {
		t.Errorf("Status = %s, want failed", store.tasks["t1"].Status)
	}
	if len(store.logs) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(store.logs))
	}
}

func TestSweepFinalizesOpenProgressRecords(t *testing.T) {
	longAgo := time.Now().Add(-time.Hour)
	store := &fakeStore{
		stalled: []string{"t1"},
		tasks: map[string]*types.Task{"t1": {
			TaskID: "t1", Status: types.StatusRunning, LastProgressAt: &longAgo,
			ProgressDetail: map[string]*types.ProgressRecord{
				"suumo_13103": {Status: types.ProgressRunning},
				"homes_13103": {Status: types.ProgressCompleted, IsFinal: true},
			},
		}},
	}
	d := New(store, testConfig(), nil, testLogger)

	if promoted := d.Sweep(context.Background()); promoted != 1 {
		t.Fatalf("promoted = %d, want 1", promoted)
	}
	running := store.tasks["t1"].ProgressDetail["suumo_13103"]
	if !running.IsFinal || running.Status != types.ProgressFailed {
		t.Errorf("running record not finalized: %+v", running)
	}
	alreadyDone := store.tasks["t1"].ProgressDetail["homes_13103"]
	if alreadyDone.Status != types.ProgressCompleted {
		t.Errorf("already-final record should be left alone: %+v", alreadyDone)
	}
}

func TestSweepLeavesRecentlyActiveTaskAlone(t *testing.T) {
	recent := time.Now().Add(-time.Minute)
	store := &fakeStore{
		stalled: []string{"t1"},
		tasks:   map[string]*types.Task{"t1": {TaskID: "t1", Status: types.StatusRunning, LastProgressAt: &recent}},
	}
	d := New(store, testConfig(), nil, testLogger)

	promoted := d.Sweep(context.Background())
	if promoted != 0 {
		t.Errorf("promoted = %d, want 0 (re-checked under row lock, still within threshold)", promoted)
	}
	if store.tasks["t1"].Status != types.StatusRunning {
		t.Errorf("Status = %s, want unchanged running", store.tasks["t1"].Status)
	}
}

func TestSweepSkipsNonRunningTask(t *testing.T) {
	longAgo := time.Now().Add(-time.Hour)
	store := &fakeStore{
		stalled: []string{"t1"},
		tasks:   map[string]*types.Task{"t1": {TaskID: "t1", Status: types.StatusCompleted, LastProgressAt: &longAgo}},
	}
	d := New(store, testConfig(), nil, testLogger)

	if promoted := d.Sweep(context.Background()); promoted != 0 {
		t.Errorf("promoted = %d, want 0 for an already-terminal task", promoted)
	}
}

func TestSweepUsesStartedAtWhenNoProgressYet(t *testing.T) {
	longAgo := time.Now().Add(-time.Hour)
	store := &fakeStore{
		stalled: []string{"t1"},
		tasks:   map[string]*types.Task{"t1": {TaskID: "t1", Status: types.StatusRunning, StartedAt: &longAgo}},
	}
	d := New(store, testConfig(), nil, testLogger)

	if promoted := d.Sweep(context.Background()); promoted != 1 {
		t.Errorf("promoted = %d, want 1 (fallback to started_at)", promoted)
	}
}

func TestForceCleanupDelegatesToSweep(t *testing.T) {
	longAgo := time.Now().Add(-time.Hour)
	store := &fakeStore{
		stalled: []string{"t1"},
		tasks:   map[string]*types.Task{"t1": {TaskID: "t1", Status: types.StatusRunning, LastProgressAt: &longAgo}},
	}
	d := New(store, testConfig(), nil, testLogger)

	if got := d.ForceCleanup(context.Background()); got != 1 {
		t.Errorf("ForceCleanup = %d, want 1", got)
	}
}
