package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/areascope/areascope/internal/types"
)

// CompletionHook fires once per terminal task transition.
type CompletionHook func(ctx context.Context, taskID string, status types.TaskStatus)

// ErrorHook fires once per task that terminates failed.
type ErrorHook func(ctx context.Context, taskID string, status types.TaskStatus, err error)

// Hooks dispatches the named callbacks spec.md §4.5/§9 describes:
// at-least-once, handler-idempotent, never affecting engine state. Grounded
// on internal/plugin/registry.go's RunHooks (iterate-and-log-but-don't-abort
// pattern), generalized from plugin lifecycle hooks to task-terminal hooks.
type Hooks struct {
	logger *slog.Logger

	mu           sync.RWMutex
	onCompletion []CompletionHook
	onError      []ErrorHook
}

// NewHooks returns an empty hook dispatcher.
func NewHooks(logger *slog.Logger) *Hooks {
	return &Hooks{logger: logger}
}

// OnCompletion registers a callback fired after every terminal transition.
func (h *Hooks) OnCompletion(fn CompletionHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCompletion = append(h.onCompletion, fn)
}

// OnError registers a callback fired only when the terminal status is
// failed.
func (h *Hooks) OnError(fn ErrorHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = append(h.onError, fn)
}

// fire dispatches on_completion to every registered hook, then on_error (if
// status is failed). Hook panics/errors are logged, never propagated; the
// engine's own state transition has already committed by the time fire is
// called (spec.md §5: "Hook dispatch is strictly after the terminal task
// write is committed").
func (h *Hooks) fire(ctx context.Context, taskID string, status types.TaskStatus, cause error) {
	h.mu.RLock()
	completion := append([]CompletionHook(nil), h.onCompletion...)
	errorHooks := append([]ErrorHook(nil), h.onError...)
	h.mu.RUnlock()

	for _, fn := range completion {
		h.safeRun(func() { fn(ctx, taskID, status) })
	}
	if status == types.StatusFailed {
		for _, fn := range errorHooks {
			h.safeRun(func() { fn(ctx, taskID, status, cause) })
		}
	}
}

func (h *Hooks) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("hook panicked", "recovered", r)
		}
	}()
	fn()
}
