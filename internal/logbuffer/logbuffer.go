// Package logbuffer formats and appends the three kinds of per-task log
// entries named in spec.md §4.3. The append-only, cascade-on-task-delete
// guarantee itself lives in internal/store; this package owns only the
// message-template formatting and the refetched_unchanged/skipped
// suppression rule.
package logbuffer

import (
	"context"
	"fmt"
	"time"

	"github.com/areascope/areascope/internal/types"
)

// Store is the subset of internal/store.TaskStore the log buffer needs.
type Store interface {
	AppendLog(ctx context.Context, entry types.LogEntry) error
}

// Buffer appends formatted LogEntries for one task.
type Buffer struct {
	store  Store
	taskID string
}

// New returns a Buffer bound to taskID.
func New(store Store, taskID string) *Buffer {
	return &Buffer{store: store, taskID: taskID}
}

// ListingChange appends a property_update entry, unless change.ChangeKind is
// refetched_unchanged or skipped, which never produce log entries.
func (b *Buffer) ListingChange(ctx context.Context, change types.ListingChange) error {
	switch change.ChangeKind {
	case "refetched_unchanged", "skipped":
		return nil
	}
	return b.store.AppendLog(ctx, types.LogEntry{
		TaskID:    b.taskID,
		Kind:      types.LogPropertyUpdate,
		Timestamp: time.Now(),
		Message:   formatListingMessage(change),
		Details: map[string]any{
			"scraper":       change.Scraper,
			"area_code":     change.AreaCode,
			"change_kind":   change.ChangeKind,
			"building_name": change.BuildingName,
			"floor":         change.Floor,
			"layout":        change.Layout,
			"direction":     change.Direction,
			"price_man_yen": change.PriceManYen,
		},
	})
}

// Error appends an error entry.
func (b *Buffer) Error(ctx context.Context, info types.ErrorInfo) error {
	return b.append(ctx, types.LogError, info)
}

// Warning appends a warning entry (same shape as Error, lower severity).
func (b *Buffer) Warning(ctx context.Context, info types.ErrorInfo) error {
	return b.append(ctx, types.LogWarning, info)
}

func (b *Buffer) append(ctx context.Context, kind types.LogKind, info types.ErrorInfo) error {
	details := map[string]any{
		"scraper":       info.Scraper,
		"area_code":     info.AreaCode,
		"url":           info.URL,
		"building_name": info.BuildingName,
		"reason":        string(info.Reason),
		"error_detail":  info.ErrorDetail,
	}
	if info.PriceManYen != nil {
		details["price_man_yen"] = *info.PriceManYen
	}
	return b.store.AppendLog(ctx, types.LogEntry{
		TaskID:    b.taskID,
		Kind:      kind,
		Timestamp: time.Now(),
		Message:   info.ErrorDetail,
		Details:   details,
	})
}

func formatListingMessage(c types.ListingChange) string {
	switch c.ChangeKind {
	case "new":
		return fmt.Sprintf("新規物件登録: %s %s/%s/%s/%s (%d万円)",
			c.BuildingName, c.Floor, c.AreaCode, c.Layout, c.Direction, c.PriceManYen)
	case "price_updated":
		return fmt.Sprintf("価格更新: %s %s/%s/%s/%s (%d万円)",
			c.BuildingName, c.Floor, c.AreaCode, c.Layout, c.Direction, c.PriceManYen)
	default:
		return fmt.Sprintf("物件情報更新: %s %s/%s/%s/%s",
			c.BuildingName, c.Floor, c.AreaCode, c.Layout, c.Direction)
	}
}
