package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/areascope/areascope/internal/adapter"
)

// TaskRuntime replaces the "mutable global dictionaries keyed by task_id"
// pattern flagged in spec.md §9: one instance per in-flight task, owned by
// the engine's supervising goroutine for that task, holding the cached
// SiteAdapter instances reused across areas for the same scraper.
type TaskRuntime struct {
	taskID string

	mu       sync.Mutex
	adapters map[string]adapter.SiteAdapter
}

func newTaskRuntime(taskID string) *TaskRuntime {
	return &TaskRuntime{taskID: taskID, adapters: make(map[string]adapter.SiteAdapter)}
}

// obtain returns the cached adapter instance for scraper, constructing one
// via reg on first use within this task.
func (rt *TaskRuntime) obtain(reg *adapter.Registry, scraper string) (adapter.SiteAdapter, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if a, ok := rt.adapters[scraper]; ok {
		return a, nil
	}
	a, ok := reg.New(scraper)
	if !ok {
		return nil, fmt.Errorf("no adapter registered: %s", scraper)
	}
	rt.adapters[scraper] = a
	return a, nil
}

// drop discards the cached instance for scraper, if any. Called whenever a
// pause is observed at a checkpoint (Open Question 1: adapters never resume
// mid-area, a fresh instance is built on the next obtain) and at the end of
// a scraper's normal area iteration.
func (rt *TaskRuntime) drop(scraper string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.adapters, scraper)
}

// pairController binds controlflags.Flags to one (task, scraper) pair so an
// adapter sees the single-method Controller capability named in spec.md
// §6.1, while the engine additionally drops the cached adapter instance the
// moment a pause is observed.
type pairController struct {
	flags   flagChecker
	taskID  string
	scraper string
	rt      *TaskRuntime
}

// flagChecker is the subset of controlflags.Flags the engine depends on.
type flagChecker interface {
	CheckpointOrAbort(ctx context.Context, taskID string) (bool, error)
}

// CheckpointOrAbort implements adapter.Controller, delegating to flags and
// dropping the cached adapter instance whenever a pause was observed.
func (c *pairController) CheckpointOrAbort(ctx context.Context) error {
	wasPaused, err := c.flags.CheckpointOrAbort(ctx, c.taskID)
	if wasPaused {
		c.rt.drop(c.scraper)
	}
	return err
}
