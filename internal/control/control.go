// Package control implements the pure control operations named in spec.md
// §4.8 as transport-agnostic functions over a TaskStore and a
// TaskEngine, one layer below HTTP framing (internal/api is a thin
// wrapper over this package). Grounded on
// internal/api/server.go's handler-per-operation shape (handleStart/
// handlePause/handleResume/...), pulled below the http.ServeMux so the
// same operations are reachable from a CLI (cmd/areascope) without
// duplicating validation.
package control

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/areascope/areascope/internal/engine"
	"github.com/areascope/areascope/internal/observability"
	"github.com/areascope/areascope/internal/stalldetector"
	"github.com/areascope/areascope/internal/store"
	"github.com/areascope/areascope/internal/types"
)

// Store is the subset of internal/store.TaskStore Control depends on.
type Store interface {
	CreateTask(ctx context.Context, draft *types.Task) (*types.Task, error)
	LoadTask(ctx context.Context, taskID string) (*types.Task, error)
	ListTasks(ctx context.Context, filter store.ListFilter, limit int) ([]*types.Task, error)
	SetControlFlag(ctx context.Context, taskID string, flag store.ControlFlag, value bool, at time.Time) error
	WithTaskRowLock(ctx context.Context, taskID string, fn func(*types.Task) error) error
	DeleteTask(ctx context.Context, taskID string) error
	ReadLogsSince(ctx context.Context, taskID string, since sql.NullTime) (store.LogDiff, error)
}

// Control wires Store + TaskEngine + StallDetector into the ten
// operations spec.md §4.8 names.
type Control struct {
	store   Store
	eng     *engine.TaskEngine
	stalls  *stalldetector.Detector
	metrics *observability.Metrics
	maxList int
}

// New returns a Control bound to store/eng/stalls. maxList bounds
// ListTasks per spec.md §4.8 ("up to 100 most recently created"). metrics
// may be nil, in which case submission counters are simply not recorded.
func New(store Store, eng *engine.TaskEngine, stalls *stalldetector.Detector, metrics *observability.Metrics, maxList int) *Control {
	return &Control{store: store, eng: eng, stalls: stalls, metrics: metrics, maxList: maxList}
}

// StartRequest is the input shared by StartSerial and StartParallel.
type StartRequest struct {
	Scrapers           []string
	Areas              []string
	MaxProperties      int
	ForceDetailFetch   bool
	DetailRefetchHours *int
	IgnoreErrorHistory bool
}

// StartSerial creates and submits a task with the Serial worker topology.
func (c *Control) StartSerial(ctx context.Context, req StartRequest) (*types.Task, error) {
	return c.start(ctx, req, types.KindSerial)
}

// StartParallel creates and submits a task with the Parallel worker
// topology.
func (c *Control) StartParallel(ctx context.Context, req StartRequest) (*types.Task, error) {
	return c.start(ctx, req, types.KindParallel)
}

func (c *Control) start(ctx context.Context, req StartRequest, kind types.TaskKind) (*types.Task, error) {
	draft := &types.Task{
		TaskID:   uuid.NewString(),
		Kind:     kind,
		Scrapers: req.Scrapers,
		Areas:    req.Areas,
		Options: types.TaskOptions{
			MaxPropertiesPerPair: req.MaxProperties,
			ForceDetailFetch:     req.ForceDetailFetch,
			DetailRefetchHours:   req.DetailRefetchHours,
			IgnoreErrorHistory:   req.IgnoreErrorHistory,
		},
	}
	task, err := c.store.CreateTask(ctx, draft)
	if err != nil {
		return nil, err
	}
	c.eng.Submit(ctx, task)
	if c.metrics != nil {
		c.metrics.TasksSubmittedTotal.Add(1)
		c.metrics.ActiveTasks.Add(1)
	}
	return task, nil
}

// GetStatus returns a task snapshot.
func (c *Control) GetStatus(ctx context.Context, taskID string) (*types.Task, error) {
	return c.store.LoadTask(ctx, taskID)
}

// ListTasks returns up to Control's configured limit, most-recently-created
// first, optionally filtered to active statuses. It runs the stall sweep
// first (spec.md §4.7: "runs on every invocation of ListTasks"), so a
// freshly-promoted failed task is reflected in the same call.
func (c *Control) ListTasks(ctx context.Context, activeOnly bool) ([]*types.Task, error) {
	c.stalls.Sweep(ctx)
	return c.store.ListTasks(ctx, store.ListFilter{ActiveOnly: activeOnly}, c.maxList)
}

// Pause requires status=running; sets is_paused and status=paused.
func (c *Control) Pause(ctx context.Context, taskID string) error {
	task, err := c.store.LoadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != types.StatusRunning {
		return types.ErrInvalidState
	}
	return c.store.SetControlFlag(ctx, taskID, store.FlagPaused, true, time.Now())
}

// Resume requires status=paused; clears is_paused and sets status=running.
func (c *Control) Resume(ctx context.Context, taskID string) error {
	task, err := c.store.LoadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != types.StatusPaused {
		return types.ErrInvalidState
	}
	return c.store.SetControlFlag(ctx, taskID, store.FlagPaused, false, time.Now())
}

// Cancel requires status ∈ {running, paused, pending}; sets is_cancelled,
// stamps cancel_requested_at/completed_at, and flips every non-terminal
// ProgressRecord to cancelled with is_final=true under the same row lock,
// per spec.md §4.8.
func (c *Control) Cancel(ctx context.Context, taskID string) error {
	now := time.Now()
	return c.store.WithTaskRowLock(ctx, taskID, func(t *types.Task) error {
		switch t.Status {
		case types.StatusRunning, types.StatusPaused, types.StatusPending:
		default:
			return types.ErrInvalidState
		}
		t.IsCancelled = true
		t.CancelRequestedAt = &now
		t.Status = types.StatusCancelled
		t.CompletedAt = &now
		for _, rec := range t.ProgressDetail {
			if !rec.IsFinal {
				rec.Status = types.ProgressCancelled
				rec.IsFinal = true
				rec.CompletedAt = &now
			}
		}
		t.RecomputeAggregates()
		return nil
	})
}

// Delete requires a terminal status; cascades progress/logs at the store
// layer.
func (c *Control) Delete(ctx context.Context, taskID string) error {
	return c.store.DeleteTask(ctx, taskID)
}

// ReadLogDiff returns log entries newer than since, grouped by kind.
func (c *Control) ReadLogDiff(ctx context.Context, taskID string, since sql.NullTime) (store.LogDiff, error) {
	return c.store.ReadLogsSince(ctx, taskID, since)
}

// ForceCleanup runs the StallDetector policy immediately.
func (c *Control) ForceCleanup(ctx context.Context) int {
	return c.stalls.ForceCleanup(ctx)
}
