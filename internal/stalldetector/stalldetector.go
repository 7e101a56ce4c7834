// Package stalldetector promotes silently-stuck running tasks to failed
// (spec.md §4.7). Grounded on
// _examples/bramrahmadi-learnbot/job-aggregator/internal/storage/job_repository.go's
// MarkExpiredJobs (single `UPDATE ... WHERE last_seen_at < cutoff AND
// status = 'active'`, RowsAffected() return), generalized from a single
// bulk UPDATE to a select-candidates-then-promote-under-row-lock sequence
// because each promotion must also append a log entry naming the elapsed
// idle minutes, which a bulk UPDATE cannot produce per row.
package stalldetector

import (
	"context"
	"log/slog"
	"time"

	"github.com/areascope/areascope/internal/config"
	"github.com/areascope/areascope/internal/observability"
	"github.com/areascope/areascope/internal/types"
)

// Store is the subset of internal/store.TaskStore the detector depends on.
type Store interface {
	StalledTaskIDs(ctx context.Context, threshold time.Duration) ([]string, error)
	WithTaskRowLock(ctx context.Context, taskID string, fn func(*types.Task) error) error
	AppendLog(ctx context.Context, entry types.LogEntry) error
}

// Detector runs the stall-promotion sweep, both lazily (via Sweep, called
// from ListTasks) and on a periodic ticker (via Run).
type Detector struct {
	store   Store
	cfg     config.ControlPlaneConfig
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New returns a Detector bound to store, using cfg.StallThreshold().
// metrics may be nil.
func New(store Store, cfg config.ControlPlaneConfig, metrics *observability.Metrics, logger *slog.Logger) *Detector {
	return &Detector{store: store, cfg: cfg, metrics: metrics, logger: logger.With("component", "stall_detector")}
}

// Run polls Sweep every interval until ctx is cancelled, for the periodic
// ticker named in spec.md §4.7.
func (d *Detector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep(ctx)
		}
	}
}

// Sweep promotes every currently-stalled task to failed and returns how
// many were promoted. Safe to call concurrently and repeatedly: each
// candidate is re-checked under its own row lock before being written, so
// a task that already progressed or terminated between the candidate scan
// and the promotion attempt is left untouched.
func (d *Detector) Sweep(ctx context.Context) int {
	threshold := d.cfg.StallThreshold()
	ids, err := d.store.StalledTaskIDs(ctx, threshold)
	if err != nil {
		d.logger.Error("failed to list stalled task candidates", "error", err)
		return 0
	}

	promoted := 0
	for _, taskID := range ids {
		if d.promote(ctx, taskID, threshold) {
			promoted++
		}
	}
	return promoted
}

// ForceCleanup applies the same stall policy immediately with no change in
// threshold, per spec.md §4.8's ForceCleanup operation.
func (d *Detector) ForceCleanup(ctx context.Context) int {
	return d.Sweep(ctx)
}

func (d *Detector) promote(ctx context.Context, taskID string, threshold time.Duration) bool {
	var idleMinutes float64
	var promoted bool
	now := time.Now()

	err := d.store.WithTaskRowLock(ctx, taskID, func(t *types.Task) error {
		if t.Status != types.StatusRunning {
			return nil
		}
		lastActivity := t.StartedAt
		if t.LastProgressAt != nil {
			lastActivity = t.LastProgressAt
		}
		if lastActivity == nil || now.Sub(*lastActivity) < threshold {
			return nil
		}
		idleMinutes = now.Sub(*lastActivity).Minutes()
		t.Status = types.StatusFailed
		t.CompletedAt = &now
		for _, rec := range t.ProgressDetail {
			if !rec.IsFinal {
				rec.Status = types.ProgressFailed
				rec.IsFinal = true
				rec.CompletedAt = &now
			}
		}
		promoted = true
		return nil
	})
	if err != nil {
		d.logger.Error("failed to promote stalled task", "task_id", taskID, "error", err)
		return false
	}
	if !promoted {
		return false
	}

	_ = d.store.AppendLog(ctx, types.LogEntry{
		TaskID:    taskID,
		Kind:      types.LogError,
		Timestamp: now,
		Message:   "タスクが異常終了しました",
		Details: map[string]any{
			"reason":            string(types.CategoryStalled),
			"idle_minutes":      idleMinutes,
		},
	})
	if d.metrics != nil {
		d.metrics.StallPromotionsTotal.Add(1)
	}
	d.logger.Warn("promoted stalled task to failed", "task_id", taskID, "idle_minutes", idleMinutes)
	return true
}
