package observability

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestServeHTTPExposesAllCounters(t *testing.T) {
	m := NewMetrics(testLogger)
	m.TasksSubmittedTotal.Store(3)
	m.ActiveTasks.Store(2)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "areascope_tasks_submitted_total 3") {
		t.Errorf("body missing submitted counter: %s", body)
	}
	if !strings.Contains(body, "areascope_active_tasks 2") {
		t.Errorf("body missing active tasks gauge: %s", body)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Errorf("Content-Type = %s, want text/plain", ct)
	}
}

func TestSnapshotReflectsAllFields(t *testing.T) {
	m := NewMetrics(testLogger)
	m.TasksFailedTotal.Store(5)
	m.PairsCompletedTotal.Store(7)
	m.ListingsNewTotal.Store(9)

	snap := m.Snapshot()
	if snap["tasks_failed"] != 5 {
		t.Errorf("tasks_failed = %d, want 5", snap["tasks_failed"])
	}
	if snap["pairs_completed"] != 7 {
		t.Errorf("pairs_completed = %d, want 7", snap["pairs_completed"])
	}
	if snap["listings_new"] != 9 {
		t.Errorf("listings_new = %d, want 9", snap["listings_new"])
	}
}

func TestOnTaskTerminalUpdatesCountersByStatus(t *testing.T) {
	cases := []struct {
		status string
		check  func(*Metrics) int64
	}{
		{"completed", func(m *Metrics) int64 { return m.TasksCompletedTotal.Load() }},
		{"failed", func(m *Metrics) int64 { return m.TasksFailedTotal.Load() }},
		{"cancelled", func(m *Metrics) int64 { return m.TasksCancelledTotal.Load() }},
	}
	for _, c := range cases {
		m := NewMetrics(testLogger)
		m.ActiveTasks.Store(1)
		m.OnTaskTerminal(c.status)
		if got := c.check(m); got != 1 {
			t.Errorf("status=%s: counter = %d, want 1", c.status, got)
		}
		if m.ActiveTasks.Load() != 0 {
			t.Errorf("status=%s: ActiveTasks = %d, want 0", c.status, m.ActiveTasks.Load())
		}
	}
}

func TestOnTaskTerminalIgnoresUnknownStatus(t *testing.T) {
	m := NewMetrics(testLogger)
	m.ActiveTasks.Store(1)
	m.OnTaskTerminal("pending")

	if m.TasksCompletedTotal.Load() != 0 || m.TasksFailedTotal.Load() != 0 || m.TasksCancelledTotal.Load() != 0 {
		t.Error("expected no terminal counter to increment for a non-terminal status")
	}
	if m.ActiveTasks.Load() != 0 {
		t.Errorf("ActiveTasks = %d, want 0 (always decremented)", m.ActiveTasks.Load())
	}
}
