package types

import "time"

// ScheduleType selects the trigger kind used to compute a Schedule's
// next_run_at (spec.md §4.6).
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleDaily    ScheduleType = "daily"
)

// Schedule is a recurring-run template that materialises into Tasks on a
// timer (spec.md §3.1).
type Schedule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Scrapers    []string `json:"scrapers"`
	Areas       []string `json:"areas"`
	MaxProperties int    `json:"max_properties"`
	IsActive    bool     `json:"is_active"`

	ScheduleType    ScheduleType `json:"schedule_type"`
	IntervalMinutes *int         `json:"interval_minutes,omitempty"`
	DailyHour       *int         `json:"daily_hour,omitempty"`
	DailyMinute     *int         `json:"daily_minute,omitempty"`

	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastTaskID string     `json:"last_task_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

// ScheduleHistoryStatus is the outcome of one materialisation attempt.
type ScheduleHistoryStatus string

const (
	HistoryRunning   ScheduleHistoryStatus = "running"
	HistoryCompleted ScheduleHistoryStatus = "completed"
	HistoryCancelled ScheduleHistoryStatus = "cancelled"
	HistoryError     ScheduleHistoryStatus = "error"
	HistorySkipped   ScheduleHistoryStatus = "skipped"
)

// ScheduleHistory is one materialisation attempt of a Schedule (spec.md §3.1).
type ScheduleHistory struct {
	ID           string                `json:"id"`
	ScheduleID   string                `json:"schedule_id"`
	TaskID       string                `json:"task_id,omitempty"`
	StartedAt    time.Time             `json:"started_at"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty"`
	Status       ScheduleHistoryStatus `json:"status"`
	ErrorMessage string                `json:"error_message,omitempty"`
}

// StatusForTaskOutcome maps a terminal task status to its ScheduleHistory
// status, per spec.md §4.6 step 6.
func StatusForTaskOutcome(taskStatus TaskStatus) ScheduleHistoryStatus {
	switch taskStatus {
	case StatusCompleted:
		return HistoryCompleted
	case StatusFailed:
		return HistoryError
	case StatusCancelled:
		return HistoryCancelled
	default:
		return HistoryRunning
	}
}
