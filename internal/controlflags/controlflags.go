// Package controlflags implements the CheckpointProtocol described in
// spec.md §4.4: every worker reloads a task's pause/cancel flags before
// expensive work and reacts per the fixed loop. Grounded on
// internal/engine/scheduler.go's worker() pause handling (the
// select-on-resumeCh broadcast-unblock idiom), generalized from "pause the
// whole crawl" to "pause one task, read from the store on every iteration".
package controlflags

import (
	"context"
	"time"

	"github.com/areascope/areascope/internal/config"
	"github.com/areascope/areascope/internal/types"
)

// Store is the subset of internal/store.TaskStore the checkpoint loop needs.
type Store interface {
	LoadTask(ctx context.Context, taskID string) (*types.Task, error)
	WithTaskRowLock(ctx context.Context, taskID string, fn func(*types.Task) error) error
}

// Flags evaluates the checkpoint loop against a Store.
type Flags struct {
	store Store
	cfg   config.ControlPlaneConfig
}

// New returns a Flags bound to store, using cfg for PAUSE_TIMEOUT.
func New(store Store, cfg config.ControlPlaneConfig) *Flags {
	return &Flags{store: store, cfg: cfg}
}

// CheckpointOrAbort implements spec.md §4.4's loop exactly:
//
//	loop:
//	  reload flags for task_id
//	  if is_cancelled: raise Cancelled
//	  if is_paused:
//	    if (now - pause_requested_at) > PAUSE_TIMEOUT: promote task to
//	      cancelled; raise Cancelled
//	    sleep(1s); continue
//	  break
//
// wasPaused reports whether the task was observed paused at any point during
// this call, letting the caller drop a cached adapter instance per the
// decision recorded in DESIGN.md (adapters never resume mid-area).
func (f *Flags) CheckpointOrAbort(ctx context.Context, taskID string) (wasPaused bool, err error) {
	for {
		task, loadErr := f.store.LoadTask(ctx, taskID)
		if loadErr != nil {
			return wasPaused, loadErr
		}
		if task.IsCancelled {
			return wasPaused, types.ErrCancelled
		}
		if !task.IsPaused {
			return wasPaused, nil
		}

		wasPaused = true
		if task.PauseRequestedAt != nil && time.Since(*task.PauseRequestedAt) > f.cfg.PauseTimeout() {
			now := time.Now()
			_ = f.store.WithTaskRowLock(ctx, taskID, func(t *types.Task) error {
				t.IsCancelled = true
				t.IsPaused = false
				t.CancelRequestedAt = &now
				t.Status = types.StatusCancelled
				return nil
			})
			return wasPaused, types.ErrCancelled
		}

		select {
		case <-ctx.Done():
			return wasPaused, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
