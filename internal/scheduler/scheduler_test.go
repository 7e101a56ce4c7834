package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/areascope/areascope/internal/adapter"
	"github.com/areascope/areascope/internal/config"
	"github.com/areascope/areascope/internal/engine"
	"github.com/areascope/areascope/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeEngineStore backs the engine.TaskEngine the scheduler submits tasks
// to; it only needs to exist so Submit/Wait don't panic, the scheduler
// tests below don't assert on task-level progress.
type fakeEngineStore struct {
	mu    sync.Mutex
	tasks map[string]*types.Task
}

func newFakeEngineStore() *fakeEngineStore {
	return &fakeEngineStore{tasks: make(map[string]*types.Task)}
}

func (f *fakeEngineStore) LoadTask(ctx context.Context, taskID string) (*types.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeEngineStore) WithTaskRowLock(ctx context.Context, taskID string, fn func(*types.Task) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		t = &types.Task{TaskID: taskID}
		f.tasks[taskID] = t
	}
	return fn(t)
}

func (f *fakeEngineStore) MergeProgress(ctx context.Context, taskID, pairKey string, patch types.ProgressPatch) (*types.ProgressRecord, error) {
	return &types.ProgressRecord{IsFinal: true, Status: types.ProgressCompleted}, nil
}

func (f *fakeEngineStore) AppendLog(ctx context.Context, entry types.LogEntry) error { return nil }

func newTestEngine(t *testing.T) (*engine.TaskEngine, *fakeEngineStore) {
	t.Helper()
	store := newFakeEngineStore()
	reg := adapter.NewRegistry()
	cfg := &config.Config{ControlPlane: config.ControlPlaneConfig{StatsSampleIntervalSeconds: 1, SamplerJoinTimeout: time.Second}}
	return engine.New(store, cfg, testLogger, reg, engine.NewHooks(testLogger)), store
}

// fakeSchedulerStore implements scheduler.Store in memory.
type fakeSchedulerStore struct {
	mu         sync.Mutex
	schedules  map[string]*types.Schedule
	histories  map[string]*types.ScheduleHistory
	runningSc  map[string][]string
	tasks      map[string]*types.Task
	createErr  error
}

func newFakeSchedulerStore() *fakeSchedulerStore {
	return &fakeSchedulerStore{
		schedules: make(map[string]*types.Schedule),
		histories: make(map[string]*types.ScheduleHistory),
		runningSc: make(map[string][]string),
		tasks:     make(map[string]*types.Task),
	}
}

func (f *fakeSchedulerStore) GetSchedule(ctx context.Context, id string) (*types.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sc, ok := f.schedules[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *sc
	return &cp, nil
}

func (f *fakeSchedulerStore) DueSchedules(ctx context.Context, now time.Time) ([]*types.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Schedule
	for _, sc := range f.schedules {
		if sc.IsActive && sc.NextRunAt != nil && !sc.NextRunAt.After(now) {
			cp := *sc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSchedulerStore) WithScheduleRowLock(ctx context.Context, id string, fn func(*types.Schedule) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sc, ok := f.schedules[id]
	if !ok {
		return types.ErrNotFound
	}
	return fn(sc)
}

func (f *fakeSchedulerStore) CreateScheduleHistory(ctx context.Context, scheduleID string) (*types.ScheduleHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &types.ScheduleHistory{ID: uuid.NewString(), ScheduleID: scheduleID, StartedAt: time.Now(), Status: types.HistoryRunning}
	f.histories[h.ID] = h
	return h, nil
}

func (f *fakeSchedulerStore) WithScheduleHistoryRowLock(ctx context.Context, id string, fn func(*types.ScheduleHistory) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.histories[id]
	if !ok {
		return types.ErrNotFound
	}
	return fn(h)
}

func (f *fakeSchedulerStore) RunningScheduleHistories(ctx context.Context) ([]*types.ScheduleHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.ScheduleHistory
	for _, h := range f.histories {
		if h.Status == types.HistoryRunning {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSchedulerStore) RunningOrPendingScrapers(ctx context.Context) (map[string][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runningSc, nil
}

func (f *fakeSchedulerStore) TaskByCreationProximity(ctx context.Context, approx time.Time, window time.Duration) (*types.Task, error) {
	return nil, types.ErrNotFound
}

func (f *fakeSchedulerStore) LoadTask(ctx context.Context, taskID string) (*types.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeSchedulerStore) CreateTask(ctx context.Context, draft *types.Task) (*types.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	draft.Status = types.StatusPending
	f.tasks[draft.TaskID] = draft
	return draft, nil
}

func TestNextRunAtInterval(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	minutes := 30
	sc := &types.Schedule{ScheduleType: types.ScheduleInterval, IntervalMinutes: &minutes}

	got := nextRunAt(sc, now)
	want := now.Add(30 * time.Minute)
	if !got.Equal(want) {
		t.Errorf("nextRunAt = %v, want %v", got, want)
	}
}

func TestNextRunAtDailyRollsToTomorrowWhenPast(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	hour, minute := 9, 0
	sc := &types.Schedule{ScheduleType: types.ScheduleDaily, DailyHour: &hour, DailyMinute: &minute}

	got := nextRunAt(sc, now)
	want := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("nextRunAt = %v, want %v (should roll to tomorrow since 09:00 already passed)", got, want)
	}
}

func TestNextRunAtDailyStaysTodayWhenFuture(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	hour, minute := 18, 0
	sc := &types.Schedule{ScheduleType: types.ScheduleDaily, DailyHour: &hour, DailyMinute: &minute}

	got := nextRunAt(sc, now)
	want := time.Date(2026, 1, 1, 18, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("nextRunAt = %v, want %v", got, want)
	}
}

func TestMissedGraceWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	overdue := now.Add(-10 * time.Minute)
	if !missedGraceWindow(&types.Schedule{NextRunAt: &overdue}, now, 60) {
		t.Error("expected a 10-minute-overdue schedule to miss a 60s grace window")
	}

	slightlyLate := now.Add(-10 * time.Second)
	if missedGraceWindow(&types.Schedule{NextRunAt: &slightlyLate}, now, 60) {
		t.Error("expected a 10s-late schedule to stay within a 60s grace window")
	}

	if missedGraceWindow(&types.Schedule{NextRunAt: &overdue}, now, 0) {
		t.Error("a non-positive grace window should never misfire")
	}

	if missedGraceWindow(&types.Schedule{NextRunAt: nil}, now, 60) {
		t.Error("a nil NextRunAt should never misfire")
	}
}

func TestIntersect(t *testing.T) {
	running := map[string][]string{"t1": {"suumo", "homes"}, "t2": {"suumo"}}
	got := intersect(running, []string{"suumo", "nonexistent"})
	if len(got) != 1 || got[0] != "suumo" {
		t.Errorf("intersect = %v, want [suumo]", got)
	}
}

func TestFireSkipsOnConflictingScraper(t *testing.T) {
	store := newFakeSchedulerStore()
	now := time.Now()
	sc := &types.Schedule{ID: "s1", IsActive: true, Scrapers: []string{"suumo"}, Areas: []string{"13103"}, ScheduleType: types.ScheduleInterval, NextRunAt: &now}
	store.schedules["s1"] = sc
	store.runningSc["other-task"] = []string{"suumo"}

	eng, _ := newTestEngine(t)
	s := New(store, eng, engine.NewHooks(testLogger), config.SchedulerConfig{}, nil, testLogger)

	s.fire(context.Background(), "s1")

	if len(store.tasks) != 0 {
		t.Errorf("expected no task created on conflict, got %d", len(store.tasks))
	}
	found := false
	for _, h := range store.histories {
		if h.Status == types.HistorySkipped {
			found = true
		}
	}
	if !found {
		t.Error("expected one schedule_history row marked skipped")
	}
}

func TestFireCreatesTaskWhenNoConflict(t *testing.T) {
	store := newFakeSchedulerStore()
	now := time.Now()
	sc := &types.Schedule{ID: "s1", IsActive: true, Scrapers: []string{"suumo"}, Areas: []string{"13103"}, ScheduleType: types.ScheduleInterval, NextRunAt: &now}
	store.schedules["s1"] = sc

	eng, _ := newTestEngine(t)
	s := New(store, eng, engine.NewHooks(testLogger), config.SchedulerConfig{}, nil, testLogger)

	s.fire(context.Background(), "s1")
	eng.Wait()

	if len(store.tasks) != 1 {
		t.Fatalf("expected 1 task created, got %d", len(store.tasks))
	}
	if store.schedules["s1"].LastTaskID == "" {
		t.Error("expected schedule.LastTaskID to be set")
	}
	if store.schedules["s1"].NextRunAt == nil || !store.schedules["s1"].NextRunAt.After(now) {
		t.Error("expected NextRunAt to advance past now")
	}
}

func TestFireSkipsMisfiredScheduleBeyondGraceWindow(t *testing.T) {
	store := newFakeSchedulerStore()
	longOverdue := time.Now().Add(-10 * time.Minute)
	sc := &types.Schedule{ID: "s1", IsActive: true, Scrapers: []string{"suumo"}, Areas: []string{"13103"}, ScheduleType: types.ScheduleInterval, NextRunAt: &longOverdue}
	store.schedules["s1"] = sc

	eng, _ := newTestEngine(t)
	s := New(store, eng, engine.NewHooks(testLogger), config.SchedulerConfig{MisfireGraceSeconds: 60}, nil, testLogger)
	s.fire(context.Background(), "s1")

	if len(store.tasks) != 0 {
		t.Errorf("expected no task created for a schedule missed beyond its grace window, got %d", len(store.tasks))
	}
	if len(store.histories) != 0 {
		t.Error("expected no schedule_history row for a misfire, it never started")
	}
	if store.schedules["s1"].NextRunAt == nil || !store.schedules["s1"].NextRunAt.After(longOverdue) {
		t.Error("expected NextRunAt to still advance past the missed slot")
	}
}

func TestFireRunsWithinGraceWindowDespiteBeingLate(t *testing.T) {
	store := newFakeSchedulerStore()
	slightlyLate := time.Now().Add(-10 * time.Second)
	sc := &types.Schedule{ID: "s1", IsActive: true, Scrapers: []string{"suumo"}, Areas: []string{"13103"}, ScheduleType: types.ScheduleInterval, NextRunAt: &slightlyLate}
	store.schedules["s1"] = sc

	eng, _ := newTestEngine(t)
	s := New(store, eng, engine.NewHooks(testLogger), config.SchedulerConfig{MisfireGraceSeconds: 60}, nil, testLogger)
	s.fire(context.Background(), "s1")
	eng.Wait()

	if len(store.tasks) != 1 {
		t.Errorf("expected a schedule missed by less than its grace window to still fire, got %d tasks", len(store.tasks))
	}
}

func TestFireSkipsInactiveSchedule(t *testing.T) {
	store := newFakeSchedulerStore()
	sc := &types.Schedule{ID: "s1", IsActive: false}
	store.schedules["s1"] = sc

	eng, _ := newTestEngine(t)
	s := New(store, eng, engine.NewHooks(testLogger), config.SchedulerConfig{}, nil, testLogger)
	s.fire(context.Background(), "s1")

	if len(store.histories) != 0 {
		t.Error("expected no history row for an inactive schedule")
	}
}

func TestFireRejectsInvalidArea(t *testing.T) {
	store := newFakeSchedulerStore()
	now := time.Now()
	sc := &types.Schedule{ID: "s1", IsActive: true, Scrapers: []string{"suumo"}, Areas: []string{"nonexistent"}, ScheduleType: types.ScheduleInterval, NextRunAt: &now}
	store.schedules["s1"] = sc

	eng, _ := newTestEngine(t)
	s := New(store, eng, engine.NewHooks(testLogger), config.SchedulerConfig{}, nil, testLogger)
	s.fire(context.Background(), "s1")

	if len(store.tasks) != 0 {
		t.Error("expected no task created for an invalid area")
	}
	found := false
	for _, h := range store.histories {
		if h.Status == types.HistoryError {
			found = true
		}
	}
	if !found {
		t.Error("expected one schedule_history row marked error")
	}
}

func TestOnTaskTerminalResolvesHistory(t *testing.T) {
	store := newFakeSchedulerStore()
	h := &types.ScheduleHistory{ID: "h1", ScheduleID: "s1", Status: types.HistoryRunning, StartedAt: time.Now()}
	store.histories["h1"] = h

	eng, _ := newTestEngine(t)
	s := New(store, eng, engine.NewHooks(testLogger), config.SchedulerConfig{}, nil, testLogger)
	s.historyByTask["t1"] = "h1"

	s.onTaskTerminal(context.Background(), "t1", types.StatusCompleted)

	if store.histories["h1"].Status != types.HistoryCompleted {
		t.Errorf("Status = %s, want completed", store.histories["h1"].Status)
	}
	if _, stillTracked := s.historyByTask["t1"]; stillTracked {
		t.Error("expected task to be removed from historyByTask after resolution")
	}
}

func TestOnTaskTerminalIgnoresUntrackedTask(t *testing.T) {
	store := newFakeSchedulerStore()
	eng, _ := newTestEngine(t)
	s := New(store, eng, engine.NewHooks(testLogger), config.SchedulerConfig{}, nil, testLogger)

	s.onTaskTerminal(context.Background(), "unrelated-task", types.StatusCompleted)
	// no panic, no history touched
}

func TestReconcileHistoriesPromotesTerminalTask(t *testing.T) {
	store := newFakeSchedulerStore()
	h := &types.ScheduleHistory{ID: "h1", ScheduleID: "s1", Status: types.HistoryRunning, StartedAt: time.Now(), TaskID: "t1"}
	store.histories["h1"] = h
	store.tasks["t1"] = &types.Task{TaskID: "t1", Status: types.StatusFailed}

	eng, _ := newTestEngine(t)
	s := New(store, eng, engine.NewHooks(testLogger), config.SchedulerConfig{}, nil, testLogger)
	s.ReconcileHistories(context.Background())

	if store.histories["h1"].Status != types.HistoryError {
		t.Errorf("Status = %s, want error (mapped from failed task)", store.histories["h1"].Status)
	}
}

func TestReconcileHistoriesLeavesUnmatchedRunning(t *testing.T) {
	store := newFakeSchedulerStore()
	h := &types.ScheduleHistory{ID: "h1", ScheduleID: "s1", Status: types.HistoryRunning, StartedAt: time.Now()}
	store.histories["h1"] = h

	eng, _ := newTestEngine(t)
	s := New(store, eng, engine.NewHooks(testLogger), config.SchedulerConfig{}, nil, testLogger)
	s.ReconcileHistories(context.Background())

	if store.histories["h1"].Status != types.HistoryRunning {
		t.Errorf("Status = %s, want still running", store.histories["h1"].Status)
	}
}
