package types

import "time"

// TaskKind selects the worker topology used to run a task (spec.md §4.5).
type TaskKind string

const (
	KindSerial   TaskKind = "serial"
	KindParallel TaskKind = "parallel"
)

// TaskStatus is the observable summary of a task's lifecycle (spec.md §3.4).
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusPaused    TaskStatus = "paused"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether status is one from which a task cannot
// transition further except via Delete.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// TaskOptions holds the per-task tunables named in spec.md §3.1.
type TaskOptions struct {
	MaxPropertiesPerPair int  `json:"max_properties_per_pair"`
	ForceDetailFetch     bool `json:"force_detail_fetch"`
	DetailRefetchHours   *int `json:"detail_refetch_hours,omitempty"`
	IgnoreErrorHistory   bool `json:"ignore_error_history"`
}

// Task is one scraping run, spanning one or more (scraper × area) pairs.
type Task struct {
	TaskID  string   `json:"task_id"`
	Kind    TaskKind `json:"kind"`
	Scrapers []string `json:"scrapers"`
	Areas    []string `json:"areas"`
	Options  TaskOptions `json:"options"`
	Status   TaskStatus  `json:"status"`

	IsPaused    bool `json:"is_paused"`
	IsCancelled bool `json:"is_cancelled"`

	PauseRequestedAt  *time.Time `json:"pause_requested_at,omitempty"`
	CancelRequestedAt *time.Time `json:"cancel_requested_at,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	LastProgressAt    *time.Time `json:"last_progress_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`

	// ProgressDetail maps pair-key ("{scraper}_{area}") to its ProgressRecord.
	ProgressDetail map[string]*ProgressRecord `json:"progress_detail"`

	TotalProcessed      int `json:"total_processed"`
	TotalNew            int `json:"total_new"`
	TotalUpdated        int `json:"total_updated"`
	TotalErrors         int `json:"total_errors"`
	PropertiesFound     int `json:"properties_found"`
	DetailFetched       int `json:"detail_fetched"`
	DetailSkipped       int `json:"detail_skipped"`
	PriceMissing        int `json:"price_missing"`
	BuildingInfoMissing int `json:"building_info_missing"`
	ElapsedSeconds      float64 `json:"elapsed_seconds"`
}

// PairKey returns the canonical pair-key for (scraper, area), per the
// GLOSSARY: "{scraper}_{area_code}".
func PairKey(scraper, areaCode string) string {
	return scraper + "_" + areaCode
}

// RecomputeAggregates sums the per-pair counters into the task-level
// aggregated counters (spec.md §3.1). Called by the engine after a merge
// that touches the parent task.
func (t *Task) RecomputeAggregates() {
	t.TotalProcessed, t.TotalNew, t.TotalUpdated, t.TotalErrors = 0, 0, 0, 0
	t.PropertiesFound, t.DetailFetched, t.DetailSkipped = 0, 0, 0
	t.PriceMissing, t.BuildingInfoMissing = 0, 0

	for _, pr := range t.ProgressDetail {
		t.TotalProcessed += pr.PropertiesProcessed
		t.TotalNew += pr.NewListings
		t.TotalUpdated += pr.PriceUpdated + pr.OtherUpdates
		t.TotalErrors += pr.Errors
		t.PropertiesFound += pr.PropertiesFound
		t.DetailFetched += pr.DetailFetched
		t.DetailSkipped += pr.DetailSkipped
		t.PriceMissing += pr.PriceMissing
		t.BuildingInfoMissing += pr.BuildingInfoMissing
	}
}
