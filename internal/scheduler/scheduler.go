// Package scheduler materialises Schedules into Tasks on a timer (spec.md
// §4.6). Grounded on
// _examples/bramrahmadi-learnbot/job-aggregator/internal/scheduler/scheduler.go's
// StartDailySchedule (next-run-at computation rolling to tomorrow, a
// select{ctx.Done(); time.After} poll loop) generalized to support both
// interval and daily triggers, and on
// original_source/backend/app/scheduler.py's SchedulerService
// (_load_existing_schedules startup reconciliation and job_defaults'
// single-flight intent, here expressed as an in-process goroutine rather
// than APScheduler's thread pool).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/areascope/areascope/internal/areacode"
	"github.com/areascope/areascope/internal/config"
	"github.com/areascope/areascope/internal/engine"
	"github.com/areascope/areascope/internal/observability"
	"github.com/areascope/areascope/internal/types"
)

// Store is the subset of internal/store.TaskStore the scheduler depends on.
type Store interface {
	GetSchedule(ctx context.Context, id string) (*types.Schedule, error)
	DueSchedules(ctx context.Context, now time.Time) ([]*types.Schedule, error)
	WithScheduleRowLock(ctx context.Context, id string, fn func(*types.Schedule) error) error
	CreateScheduleHistory(ctx context.Context, scheduleID string) (*types.ScheduleHistory, error)
	WithScheduleHistoryRowLock(ctx context.Context, id string, fn func(*types.ScheduleHistory) error) error
	RunningScheduleHistories(ctx context.Context) ([]*types.ScheduleHistory, error)
	RunningOrPendingScrapers(ctx context.Context) (map[string][]string, error)
	TaskByCreationProximity(ctx context.Context, approx time.Time, window time.Duration) (*types.Task, error)
	LoadTask(ctx context.Context, taskID string) (*types.Task, error)
	CreateTask(ctx context.Context, draft *types.Task) (*types.Task, error)
}

// Scheduler drives Store's DueSchedules/reconciliation against an
// engine.TaskEngine on a poll timer. One Scheduler serves the whole
// process, matching TaskEngine's single-instance-per-process shape.
type Scheduler struct {
	store   Store
	eng     *engine.TaskEngine
	cfg     config.SchedulerConfig
	metrics *observability.Metrics
	logger  *slog.Logger

	mu            sync.Mutex
	historyByTask map[string]string // task_id -> schedule_history_id, pending resolution
}

// New wires a Scheduler and registers its completion hook on hooks, the
// same dispatcher passed to engine.New — both must share one instance so
// the scheduler observes every task's terminal transition. metrics may be
// nil. Call Run to start the poll loop.
func New(store Store, eng *engine.TaskEngine, hooks *engine.Hooks, cfg config.SchedulerConfig, metrics *observability.Metrics, logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		store:         store,
		eng:           eng,
		cfg:           cfg,
		metrics:       metrics,
		logger:        logger.With("component", "scheduler"),
		historyByTask: make(map[string]string),
	}
	hooks.OnCompletion(s.onTaskTerminal)
	return s
}

// Run blocks, polling for due schedules every cfg.PollInterval until ctx is
// cancelled. It reconciles running histories once at startup, per spec.md
// §4.6's "invoked on scheduler start".
func (s *Scheduler) Run(ctx context.Context) {
	s.ReconcileHistories(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.TriggerDue(ctx)
		}
	}
}

// TriggerDue processes every schedule whose next_run_at has passed, per
// spec.md §4.6's "on each trigger" sequence.
func (s *Scheduler) TriggerDue(ctx context.Context) {
	due, err := s.store.DueSchedules(ctx, time.Now())
	if err != nil {
		s.logger.Error("failed to list due schedules", "error", err)
		return
	}
	for _, sc := range due {
		s.fire(ctx, sc.ID)
	}
}

// fire implements spec.md §4.6 steps 1-7 for a single schedule.
func (s *Scheduler) fire(ctx context.Context, scheduleID string) {
	sc, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		s.logger.Error("failed to reload schedule", "schedule_id", scheduleID, "error", err)
		return
	}
	if !sc.IsActive {
		return
	}

	if missedGraceWindow(sc, time.Now(), s.cfg.MisfireGraceSeconds) {
		s.logger.Warn("schedule missed its misfire grace window, rolling to next period without firing",
			"schedule_id", sc.ID, "next_run_at", sc.NextRunAt)
		s.advance(ctx, sc)
		if s.metrics != nil {
			s.metrics.ScheduleMisfiredTotal.Add(1)
		}
		return
	}

	hist, err := s.store.CreateScheduleHistory(ctx, sc.ID)
	if err != nil {
		s.logger.Error("failed to open schedule history", "schedule_id", sc.ID, "error", err)
		return
	}

	running, err := s.store.RunningOrPendingScrapers(ctx)
	if err != nil {
		s.logger.Error("failed to check running scrapers", "schedule_id", sc.ID, "error", err)
		return
	}
	if conflicting := intersect(running, sc.Scrapers); len(conflicting) > 0 {
		msg := fmt.Sprintf("競合するスクレイパーが実行中です: %v", conflicting)
		_ = s.store.WithScheduleHistoryRowLock(ctx, hist.ID, func(h *types.ScheduleHistory) error {
			h.Status = types.HistorySkipped
			h.ErrorMessage = msg
			now := time.Now()
			h.CompletedAt = &now
			return nil
		})
		s.advance(ctx, sc)
		if s.metrics != nil {
			s.metrics.ScheduleSkippedTotal.Add(1)
		}
		return
	}

	codes, err := areacode.ValidateAreas(sc.Areas)
	if err != nil {
		_ = s.store.WithScheduleHistoryRowLock(ctx, hist.ID, func(h *types.ScheduleHistory) error {
			h.Status = types.HistoryError
			h.ErrorMessage = err.Error()
			now := time.Now()
			h.CompletedAt = &now
			return nil
		})
		s.advance(ctx, sc)
		if s.metrics != nil {
			s.metrics.ScheduleErrorsTotal.Add(1)
		}
		return
	}

	draft := &types.Task{
		TaskID:   uuid.NewString(),
		Kind:     types.KindParallel,
		Scrapers: sc.Scrapers,
		Areas:    codes,
		Options:  types.TaskOptions{MaxPropertiesPerPair: sc.MaxProperties},
	}
	task, err := s.store.CreateTask(ctx, draft)
	if err != nil {
		_ = s.store.WithScheduleHistoryRowLock(ctx, hist.ID, func(h *types.ScheduleHistory) error {
			h.Status = types.HistoryError
			h.ErrorMessage = err.Error()
			now := time.Now()
			h.CompletedAt = &now
			return nil
		})
		s.advance(ctx, sc)
		if s.metrics != nil {
			s.metrics.ScheduleErrorsTotal.Add(1)
		}
		return
	}

	s.mu.Lock()
	s.historyByTask[task.TaskID] = hist.ID
	s.mu.Unlock()

	s.eng.Submit(ctx, task)
	if s.metrics != nil {
		s.metrics.ScheduleTriggersTotal.Add(1)
	}

	_ = s.store.WithScheduleRowLock(ctx, sc.ID, func(row *types.Schedule) error {
		now := time.Now()
		row.LastRunAt = &now
		row.LastTaskID = task.TaskID
		row.NextRunAt = nextRunAt(row, now)
		return nil
	})
}

// advance recomputes next_run_at without launching a task, used for the
// skipped/error-before-submit paths.
func (s *Scheduler) advance(ctx context.Context, sc *types.Schedule) {
	_ = s.store.WithScheduleRowLock(ctx, sc.ID, func(row *types.Schedule) error {
		now := time.Now()
		row.NextRunAt = nextRunAt(row, now)
		return nil
	})
}

// onTaskTerminal is the engine completion hook registered in New: it maps a
// terminated task_id back to its pending ScheduleHistory (if the task was
// schedule-originated) and writes the matching history status, per spec.md
// §4.6 step 6.
func (s *Scheduler) onTaskTerminal(ctx context.Context, taskID string, status types.TaskStatus) {
	s.mu.Lock()
	historyID, ok := s.historyByTask[taskID]
	if ok {
		delete(s.historyByTask, taskID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.resolveHistory(ctx, historyID, taskID, status)
}

func (s *Scheduler) resolveHistory(ctx context.Context, historyID, taskID string, status types.TaskStatus) {
	err := s.store.WithScheduleHistoryRowLock(ctx, historyID, func(h *types.ScheduleHistory) error {
		h.TaskID = taskID
		h.Status = types.StatusForTaskOutcome(status)
		if h.Status == types.HistoryError && h.ErrorMessage == "" {
			h.ErrorMessage = "スクレイピングタスクが失敗しました"
		}
		now := time.Now()
		h.CompletedAt = &now
		return nil
	})
	if err != nil {
		s.logger.Error("failed to resolve schedule history", "history_id", historyID, "task_id", taskID, "error", err)
	}
}

// ReconcileHistories implements spec.md §4.6's "History reconciliation":
// for every ScheduleHistory still status=running, try to match its Task by
// task_id or by creation-time proximity, and promote the status if the
// task has already terminated. Histories that cannot be matched are logged
// as warnings and left running, never guessed at.
func (s *Scheduler) ReconcileHistories(ctx context.Context) {
	running, err := s.store.RunningScheduleHistories(ctx)
	if err != nil {
		s.logger.Error("failed to list running schedule histories", "error", err)
		return
	}
	for _, h := range running {
		task, err := s.matchTask(ctx, h)
		if err != nil || task == nil {
			s.logger.Warn("schedule history could not be matched to a task", "history_id", h.ID, "schedule_id", h.ScheduleID)
			continue
		}
		if !task.Status.IsTerminal() {
			continue
		}
		s.resolveHistory(ctx, h.ID, task.TaskID, task.Status)
	}
}

func (s *Scheduler) matchTask(ctx context.Context, h *types.ScheduleHistory) (*types.Task, error) {
	if h.TaskID != "" {
		return s.store.LoadTask(ctx, h.TaskID)
	}
	return s.store.TaskByCreationProximity(ctx, h.StartedAt, s.cfg.ReconciliationWindow)
}

// missedGraceWindow reports whether sc's next_run_at fell far enough behind
// now that it should be treated as a misfire (SPEC_FULL.md §D.3: the
// original's APScheduler job_defaults' misfire_grace_time) and rolled to the
// next period instead of fired late. A zero/unset next_run_at or a
// non-positive grace window never misfires.
func missedGraceWindow(sc *types.Schedule, now time.Time, graceSeconds int) bool {
	if sc.NextRunAt == nil || graceSeconds <= 0 {
		return false
	}
	return now.Sub(*sc.NextRunAt) > time.Duration(graceSeconds)*time.Second
}

// nextRunAt implements spec.md §4.6's next_run_at computation: interval ->
// now + interval_minutes; daily -> today's HH:MM rolled to tomorrow if
// already past.
func nextRunAt(sc *types.Schedule, now time.Time) *time.Time {
	switch sc.ScheduleType {
	case types.ScheduleDaily:
		hour, minute := 0, 0
		if sc.DailyHour != nil {
			hour = *sc.DailyHour
		}
		if sc.DailyMinute != nil {
			minute = *sc.DailyMinute
		}
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return &next
	default: // types.ScheduleInterval
		minutes := 60
		if sc.IntervalMinutes != nil {
			minutes = *sc.IntervalMinutes
		}
		next := now.Add(time.Duration(minutes) * time.Minute)
		return &next
	}
}

func intersect(running map[string][]string, scrapers []string) []string {
	want := make(map[string]bool, len(scrapers))
	for _, sc := range scrapers {
		want[sc] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, list := range running {
		for _, sc := range list {
			if want[sc] && !seen[sc] {
				seen[sc] = true
				out = append(out, sc)
			}
		}
	}
	return out
}
