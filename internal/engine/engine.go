// Package engine implements the TaskEngine (spec.md §4.5): the serial and
// parallel worker topologies that drive one Task across its (scraper ×
// area) pairs, the per-pair checkpoint/progress/log sequence, and terminal
// hook dispatch. This is the deepest rework of the teacher's crawl engine:
// engine.go's atomic State lifecycle and scheduler.go's worker-pool +
// idle-monitor shape are kept, re-pointed at pairs instead of a URL
// frontier.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/areascope/areascope/internal/adapter"
	"github.com/areascope/areascope/internal/areacode"
	"github.com/areascope/areascope/internal/categorize"
	"github.com/areascope/areascope/internal/config"
	"github.com/areascope/areascope/internal/controlflags"
	"github.com/areascope/areascope/internal/logbuffer"
	"github.com/areascope/areascope/internal/progress"
	"github.com/areascope/areascope/internal/types"
)

// TaskStore is the subset of internal/store.TaskStore the engine depends
// on. Defined here, consumer-side, per Go convention.
type TaskStore interface {
	progressStore
	LoadTask(ctx context.Context, taskID string) (*types.Task, error)
	WithTaskRowLock(ctx context.Context, taskID string, fn func(*types.Task) error) error
	AppendLog(ctx context.Context, entry types.LogEntry) error
}

// TaskEngine orchestrates execution of Tasks submitted to it. One TaskEngine
// serves the whole process; it tracks one TaskRuntime per in-flight task.
type TaskEngine struct {
	store    TaskStore
	cfg      *config.Config
	logger   *slog.Logger
	adapters *adapter.Registry
	flags    *controlflags.Flags
	hooks    *Hooks

	mu       sync.Mutex
	runtimes map[string]*TaskRuntime
	wg       sync.WaitGroup
}

// New constructs a TaskEngine. adapters must already have every scraper
// identifier a submitted task may reference registered.
func New(store TaskStore, cfg *config.Config, logger *slog.Logger, adapters *adapter.Registry, hooks *Hooks) *TaskEngine {
	return &TaskEngine{
		store:    store,
		cfg:      cfg,
		logger:   logger,
		adapters: adapters,
		flags:    controlflags.New(store, cfg.ControlPlane),
		hooks:    hooks,
		runtimes: make(map[string]*TaskRuntime),
	}
}

// Submit begins execution of task in a new goroutine and returns
// immediately; the task's terminal status and hook dispatch happen
// asynchronously. ctx bounds the task's entire run — cancelling it aborts
// every in-flight pair at their next checkpoint.
func (e *TaskEngine) Submit(ctx context.Context, task *types.Task) {
	rt := newTaskRuntime(task.TaskID)
	e.mu.Lock()
	e.runtimes[task.TaskID] = rt
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.runtimes, task.TaskID)
			e.mu.Unlock()
		}()
		e.run(ctx, rt, task)
	}()
}

// Wait blocks until every submitted task has reached a terminal state.
// Intended for graceful shutdown and tests, not the request path.
func (e *TaskEngine) Wait() {
	e.wg.Wait()
}

func (e *TaskEngine) run(ctx context.Context, rt *TaskRuntime, task *types.Task) {
	startedAt := time.Now()
	if err := e.store.WithTaskRowLock(ctx, task.TaskID, func(t *types.Task) error {
		t.Status = types.StatusRunning
		t.StartedAt = &startedAt
		return nil
	}); err != nil {
		e.logger.Error("failed to mark task running", "task_id", task.TaskID, "error", err)
		return
	}

	var results []types.ProgressStatus
	if task.Kind == types.KindParallel {
		results = e.runParallel(ctx, rt, task)
	} else {
		results = e.runSerial(ctx, rt, task)
	}

	finalStatus := deriveTaskStatus(results)
	completedAt := time.Now()
	if err := e.store.WithTaskRowLock(ctx, task.TaskID, func(t *types.Task) error {
		t.Status = finalStatus
		t.CompletedAt = &completedAt
		t.RecomputeAggregates()
		return nil
	}); err != nil {
		e.logger.Error("failed to write terminal task status", "task_id", task.TaskID, "error", err)
	}

	e.hooks.fire(ctx, task.TaskID, finalStatus, nil)
}

// runSerial implements spec.md §4.5's Serial topology: a single worker
// iterates scrapers in order, each scraper's areas in order.
func (e *TaskEngine) runSerial(ctx context.Context, rt *TaskRuntime, task *types.Task) []types.ProgressStatus {
	var results []types.ProgressStatus
	for _, scraper := range task.Scrapers {
		cancelled := false
		for _, areaCode := range task.Areas {
			status := e.runPair(ctx, rt, task, scraper, areaCode)
			results = append(results, status)
			if status == types.ProgressCancelled {
				cancelled = true
				break
			}
		}
		rt.drop(scraper)
		if cancelled {
			break
		}
	}
	return results
}

// runParallel implements spec.md §4.5's Parallel topology: one worker per
// scraper, workers run concurrently, each iterates its areas serially,
// fan-in on worker completion.
func (e *TaskEngine) runParallel(ctx context.Context, rt *TaskRuntime, task *types.Task) []types.ProgressStatus {
	var mu sync.Mutex
	var results []types.ProgressStatus
	var wg sync.WaitGroup

	for _, scraper := range task.Scrapers {
		scraper := scraper
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer rt.drop(scraper)
			for _, areaCode := range task.Areas {
				status := e.runPair(ctx, rt, task, scraper, areaCode)
				mu.Lock()
				results = append(results, status)
				mu.Unlock()
				if status == types.ProgressCancelled {
					return
				}
			}
		}()
	}
	wg.Wait()
	return results
}

// runPair implements the per-pair sequence of spec.md §4.5 steps 1-8.
func (e *TaskEngine) runPair(ctx context.Context, rt *TaskRuntime, task *types.Task, scraper, areaCode string) types.ProgressStatus {
	pairKey := types.PairKey(scraper, areaCode)
	controller := &pairController{flags: e.flags, taskID: task.TaskID, scraper: scraper, rt: rt}

	if err := controller.CheckpointOrAbort(ctx); err != nil {
		e.finalizePair(ctx, task.TaskID, pairKey, types.ProgressCancelled, progress.FinalPatch(types.ProgressCancelled, time.Now()))
		return types.ProgressCancelled
	}

	startedAt := time.Now()
	areaName, _ := areacode.CodeToRomaji(areaCode)
	if _, err := e.store.MergeProgress(ctx, task.TaskID, pairKey, types.ProgressPatch{
		Status:    statusPtr(types.ProgressRunning),
		StartedAt: &startedAt,
		AreaName:  &areaName,
	}); err != nil {
		e.logger.Error("initial progress write failed", "task_id", task.TaskID, "pair", pairKey, "error", err)
	}

	siteAdapter, err := rt.obtain(e.adapters, scraper)
	if err != nil {
		e.appendErrorLog(ctx, task.TaskID, scraper, areaCode, err)
		e.finalizePair(ctx, task.TaskID, pairKey, types.ProgressFailed, progress.FinalPatch(types.ProgressFailed, time.Now()))
		return types.ProgressFailed
	}

	logs := logbuffer.New(e.store, task.TaskID)
	reporter := newPairReporter(e.store, logs, task.TaskID, scraper, areaCode)
	sampler := newStatsSampler(e.store, task.TaskID, pairKey, &reporter.counters, e.cfg.ControlPlane.StatsSampleInterval())
	sampler.start(ctx)

	opts := adapter.ScrapeOptions{
		MaxProperties:      task.Options.MaxPropertiesPerPair,
		ForceDetailFetch:   task.Options.ForceDetailFetch,
		DetailRefetchHours: task.Options.DetailRefetchHours,
		IgnoreErrorHistory: task.Options.IgnoreErrorHistory,
	}

	stats, scrapeErr := siteAdapter.ScrapeArea(ctx, areaCode, opts, reporter, controller)

	joinCtx, cancel := context.WithTimeout(context.Background(), e.cfg.ControlPlane.SamplerJoinTimeout)
	if !sampler.halt(joinCtx) {
		e.logger.Warn("stats sampler join timed out", "task_id", task.TaskID, "pair", pairKey)
	}
	cancel()

	status := types.ProgressCompleted
	switch {
	case errors.Is(scrapeErr, types.ErrCancelled):
		status = types.ProgressCancelled
	case scrapeErr != nil:
		status = types.ProgressFailed
		e.appendErrorLog(ctx, task.TaskID, scraper, areaCode, scrapeErr)
	}

	final := mergeStatsIntoPatch(progress.FinalPatch(status, time.Now()), stats)
	e.finalizePair(ctx, task.TaskID, pairKey, status, final)
	return status
}

// finalizePair writes the terminal barrier (spec.md §4.5 step 8); if it
// doesn't land with the intended status, it is re-issued once under row
// lock (MergeProgress itself always takes the row lock) before the caller
// releases the pair.
func (e *TaskEngine) finalizePair(ctx context.Context, taskID, pairKey string, status types.ProgressStatus, patch types.ProgressPatch) {
	result, err := e.store.MergeProgress(ctx, taskID, pairKey, patch)
	if err != nil {
		e.logger.Error("final progress write failed", "task_id", taskID, "pair", pairKey, "error", err)
		return
	}
	if !result.IsFinal || result.Status != status {
		result, err = e.store.MergeProgress(ctx, taskID, pairKey, patch)
		if err != nil || result.Status != status {
			e.logger.Warn("final progress write did not land after retry", "task_id", taskID, "pair", pairKey)
		}
	}
}

func (e *TaskEngine) appendErrorLog(ctx context.Context, taskID, scraper, areaCode string, cause error) {
	cat := categorize.Classify(cause)
	_ = e.store.AppendLog(ctx, types.LogEntry{
		TaskID:    taskID,
		Kind:      types.LogError,
		Timestamp: time.Now(),
		Message:   cat.Detail,
		Details: map[string]any{
			"scraper":      scraper,
			"area_code":    areaCode,
			"reason":       string(cat.Category),
			"error_detail": cause.Error(),
		},
	})
}

// deriveTaskStatus implements spec.md §4.5's parallel-mode aggregation
// rule: completed iff every pair completed; cancelled iff any pair
// cancelled and none failed; otherwise failed. Serial mode's results list
// reduces through the same rule.
func deriveTaskStatus(results []types.ProgressStatus) types.TaskStatus {
	if len(results) == 0 {
		return types.StatusCompleted
	}
	completed, failed, cancelled := 0, 0, 0
	for _, r := range results {
		switch r {
		case types.ProgressCompleted:
			completed++
		case types.ProgressFailed:
			failed++
		case types.ProgressCancelled:
			cancelled++
		}
	}
	switch {
	case completed == len(results):
		return types.StatusCompleted
	case cancelled > 0 && failed == 0:
		return types.StatusCancelled
	default:
		return types.StatusFailed
	}
}

func statusPtr(s types.ProgressStatus) *types.ProgressStatus { return &s }

func mergeStatsIntoPatch(final types.ProgressPatch, stats adapter.Stats) types.ProgressPatch {
	final.PropertiesFound = intPtr(int64(stats.PropertiesFound))
	final.PropertiesProcessed = intPtr(int64(stats.PropertiesProcessed))
	final.PropertiesAttempted = intPtr(int64(stats.PropertiesAttempted))
	final.DetailFetched = intPtr(int64(stats.DetailFetched))
	final.DetailSkipped = intPtr(int64(stats.DetailSkipped))
	final.DetailFetchFailed = intPtr(int64(stats.DetailFetchFailed))
	final.NewListings = intPtr(int64(stats.NewListings))
	final.PriceUpdated = intPtr(int64(stats.PriceUpdated))
	final.OtherUpdates = intPtr(int64(stats.OtherUpdates))
	final.RefetchedUnchanged = intPtr(int64(stats.RefetchedUnchanged))
	final.SaveFailed = intPtr(int64(stats.SaveFailed))
	final.PriceMissing = intPtr(int64(stats.PriceMissing))
	final.BuildingInfoMissing = intPtr(int64(stats.BuildingInfoMissing))
	final.OtherErrors = intPtr(int64(stats.OtherErrors))
	final.ValidationFailed = intPtr(int64(stats.ValidationFailed))
	final.Errors = intPtr(int64(stats.Errors))
	if stats.ErrorsList != nil {
		final.ErrorsList = stats.ErrorsList
	}
	return final
}
