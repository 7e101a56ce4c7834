// Package observability exposes operational counters for the control
// plane in Prometheus text exposition format. Grounded on
// internal/observability/metrics.go's hand-rolled exposition (kept
// hand-rolled rather than swapped for client_golang, which is not in any
// example repo's dependency set reachable from this teacher's lineage —
// see DESIGN.md), re-fielded with task/pair/schedule counters instead of
// crawl counters.
package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Metrics tracks operational counters for tasks, pairs, schedules, and the
// listing sink.
type Metrics struct {
	TasksSubmittedTotal atomic.Int64
	TasksCompletedTotal atomic.Int64
	TasksFailedTotal    atomic.Int64
	TasksCancelledTotal atomic.Int64
	ActiveTasks         atomic.Int32

	PairsCompletedTotal atomic.Int64
	PairsFailedTotal    atomic.Int64
	PairsCancelledTotal atomic.Int64

	StallPromotionsTotal atomic.Int64

	ScheduleTriggersTotal atomic.Int64
	ScheduleSkippedTotal  atomic.Int64
	ScheduleErrorsTotal   atomic.Int64
	ScheduleMisfiredTotal atomic.Int64

	ListingsNewTotal     atomic.Int64
	ListingsUpdatedTotal atomic.Int64
	ListingsErrorsTotal  atomic.Int64

	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	counters := []struct {
		name  string
		help  string
		value int64
	}{
		{"areascope_tasks_submitted_total", "Total tasks submitted to the engine", m.TasksSubmittedTotal.Load()},
		{"areascope_tasks_completed_total", "Total tasks that terminated completed", m.TasksCompletedTotal.Load()},
		{"areascope_tasks_failed_total", "Total tasks that terminated failed", m.TasksFailedTotal.Load()},
		{"areascope_tasks_cancelled_total", "Total tasks that terminated cancelled", m.TasksCancelledTotal.Load()},
		{"areascope_active_tasks", "Tasks currently running or paused", int64(m.ActiveTasks.Load())},
		{"areascope_pairs_completed_total", "Total (scraper, area) pairs that finished completed", m.PairsCompletedTotal.Load()},
		{"areascope_pairs_failed_total", "Total (scraper, area) pairs that finished failed", m.PairsFailedTotal.Load()},
		{"areascope_pairs_cancelled_total", "Total (scraper, area) pairs that finished cancelled", m.PairsCancelledTotal.Load()},
		{"areascope_stall_promotions_total", "Total tasks promoted from running to failed by the stall detector", m.StallPromotionsTotal.Load()},
		{"areascope_schedule_triggers_total", "Total schedule trigger attempts", m.ScheduleTriggersTotal.Load()},
		{"areascope_schedule_skipped_total", "Total schedule triggers skipped due to a scraper conflict", m.ScheduleSkippedTotal.Load()},
		{"areascope_schedule_errors_total", "Total schedule triggers that errored before task submission", m.ScheduleErrorsTotal.Load()},
		{"areascope_schedule_misfired_total", "Total schedule triggers skipped because next_run_at fell outside the misfire grace window", m.ScheduleMisfiredTotal.Load()},
		{"areascope_listings_new_total", "Total new listings written by the ListingSink", m.ListingsNewTotal.Load()},
		{"areascope_listings_updated_total", "Total existing listings updated by the ListingSink", m.ListingsUpdatedTotal.Load()},
		{"areascope_listings_errors_total", "Total ListingSink write failures", m.ListingsErrorsTotal.Load()},
	}

	for _, c := range counters {
		fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(w, "%s %d\n", c.name, c.value)
	}
}

// StartServer starts the metrics HTTP server in the background.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := fmt.Sprintf(":%d", port)
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Snapshot returns all counters as a map keyed by short counter name.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"tasks_submitted":   m.TasksSubmittedTotal.Load(),
		"tasks_completed":   m.TasksCompletedTotal.Load(),
		"tasks_failed":      m.TasksFailedTotal.Load(),
		"tasks_cancelled":   m.TasksCancelledTotal.Load(),
		"active_tasks":      int64(m.ActiveTasks.Load()),
		"pairs_completed":   m.PairsCompletedTotal.Load(),
		"pairs_failed":      m.PairsFailedTotal.Load(),
		"pairs_cancelled":   m.PairsCancelledTotal.Load(),
		"stall_promotions":  m.StallPromotionsTotal.Load(),
		"schedule_triggers": m.ScheduleTriggersTotal.Load(),
		"schedule_skipped":  m.ScheduleSkippedTotal.Load(),
		"schedule_errors":   m.ScheduleErrorsTotal.Load(),
		"schedule_misfired": m.ScheduleMisfiredTotal.Load(),
		"listings_new":      m.ListingsNewTotal.Load(),
		"listings_updated":  m.ListingsUpdatedTotal.Load(),
		"listings_errors":   m.ListingsErrorsTotal.Load(),
	}
}

// OnTaskTerminal updates task-level counters from an engine completion
// hook. OnCompletion callbacks receive a types.TaskStatus, so this is wired
// through a closure that passes string(status).
func (m *Metrics) OnTaskTerminal(status string) {
	m.ActiveTasks.Add(-1)
	switch status {
	case "completed":
		m.TasksCompletedTotal.Add(1)
	case "failed":
		m.TasksFailedTotal.Add(1)
	case "cancelled":
		m.TasksCancelledTotal.Add(1)
	}
}
