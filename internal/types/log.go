package types

import "time"

// LogKind classifies an entry in a task's log stream (spec.md §4.3).
type LogKind string

const (
	LogPropertyUpdate LogKind = "property_update"
	LogError          LogKind = "error"
	LogWarning        LogKind = "warning"
)

// LogEntry is one line in the per-task log stream. Details is a bounded,
// free-form structured payload (category-specific; see internal/categorize
// for the error/warning shape).
type LogEntry struct {
	TaskID    string         `json:"task_id"`
	Kind      LogKind        `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// ListingChange describes a property_update log source event, emitted by
// Reporter.LogListingChange (spec.md §4.3, §6.1).
type ListingChange struct {
	Scraper      string
	AreaCode     string
	ChangeKind   string // new | price_updated | other_updates | refetched_unchanged | skipped
	BuildingName string
	Floor        string
	Layout       string
	Direction    string
	PriceManYen  int
}

// ErrorInfo is the shape passed to Reporter.LogError / Reporter.LogWarning.
type ErrorInfo struct {
	Scraper      string
	AreaCode     string
	URL          string
	BuildingName string
	PriceManYen  *int
	Reason       Category
	ErrorDetail  string
}
