// Package categorize maps adapter- and engine-originated failures onto the
// friendly error categories named in spec.md §7.
package categorize

import (
	"fmt"
	"strings"

	"github.com/areascope/areascope/internal/types"
)

// Classify inspects the raw error text and returns the matching category
// plus a formatted detail string. Substring checks run in the fixed order
// below so the most specific match wins, mirroring the original system's
// sequential if/elif classification.
func Classify(err error) *types.CategorizedError {
	if err == nil {
		return nil
	}
	detail := err.Error()
	lower := strings.ToLower(detail)

	switch {
	case strings.Contains(detail, "database connection not initialized"):
		return &types.CategorizedError{
			Category: types.CategoryDatabaseInit,
			Detail:   "データベース接続の初期化エラー: モジュールのインポートまたは初期化に失敗しました",
			Err:      err,
		}
	case strings.Contains(lower, "no adapter registered"), strings.Contains(lower, "module not found"):
		return &types.CategorizedError{
			Category: types.CategoryModuleImport,
			Detail:   "モジュールインポートエラー: " + detail,
			Err:      err,
		}
	case strings.Contains(lower, "connection refused"):
		return &types.CategorizedError{
			Category: types.CategoryConnectionRefused,
			Detail:   "接続エラー: サイトへの接続が拒否されました",
			Err:      err,
		}
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"):
		return &types.CategorizedError{
			Category: types.CategoryTimeout,
			Detail:   "タイムアウトエラー: 処理が時間内に完了しませんでした",
			Err:      err,
		}
	case strings.Contains(lower, "permission denied"):
		return &types.CategorizedError{
			Category: types.CategoryPermissionDenied,
			Detail:   "権限エラー: 必要な権限がありません",
			Err:      err,
		}
	default:
		return &types.CategorizedError{
			Category: types.CategoryExecutionError,
			Detail:   detail,
			Err:      err,
		}
	}
}

// Stalled builds the category for a StallDetector promotion (spec.md §4.7,
// Open Question 2: always `failed` status with this category in the log).
func Stalled(idleMinutes float64) *types.CategorizedError {
	return &types.CategorizedError{
		Category: types.CategoryStalled,
		Detail:   fmt.Sprintf("タスクが異常終了しました (idle %.1f min)", idleMinutes),
	}
}
