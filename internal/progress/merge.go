// Package progress implements the ProgressAggregator merge rules described
// in spec.md §4.2, plus IsAbsorbed, the stop check used by the stats sampler
// in internal/engine.
package progress

import (
	"time"

	"github.com/areascope/areascope/internal/types"
)

// ApplyPatch merges patch into existing under the rules of spec.md §4.2.
// existing may be nil (record does not yet exist). The returned record is
// always a new value; existing/patch are never mutated in place so callers
// holding a reference elsewhere never see a torn read.
//
// Merge rules (applied in order):
//  1. If existing.IsFinal: drop the patch, return existing unchanged.
//  2. If existing.Status ∈ {completed, failed} and patch.Status is
//     running or absent: preserve existing Status/CompletedAt; other
//     counters still merge.
//  3. If patch has no Status and existing has one: keep existing Status.
//  4. If existing is nil and patch has no Status: default to running.
//  5. Otherwise: shallow-merge patch's present fields over existing.
func ApplyPatch(existing *types.ProgressRecord, patch types.ProgressPatch) *types.ProgressRecord {
	if existing != nil && existing.IsFinal {
		return existing.Clone()
	}

	var result types.ProgressRecord
	if existing != nil {
		result = *existing.Clone()
	} else {
		result = types.ProgressRecord{Status: types.ProgressRunning}
	}

	preserveTerminalStatus := existing != nil &&
		(existing.Status == types.ProgressCompleted || existing.Status == types.ProgressFailed) &&
		(patch.Status == nil || *patch.Status == types.ProgressRunning)

	switch {
	case preserveTerminalStatus:
		// keep result.Status / result.CompletedAt as copied from existing
	case patch.Status != nil:
		result.Status = *patch.Status
	case existing != nil:
		// rule 3: patch carries no status, keep existing as-is (already copied)
	default:
		// rule 4: brand new record with no status in the patch
		result.Status = types.ProgressRunning
	}

	if patch.IsFinal != nil {
		result.IsFinal = *patch.IsFinal
	}
	if patch.AreaName != nil {
		result.AreaName = *patch.AreaName
	}
	if patch.StartedAt != nil {
		result.StartedAt = patch.StartedAt
	}
	if !preserveTerminalStatus && patch.CompletedAt != nil {
		result.CompletedAt = patch.CompletedAt
	}

	mergeIntField(&result.PropertiesFound, patch.PropertiesFound)
	mergeIntField(&result.PropertiesProcessed, patch.PropertiesProcessed)
	mergeIntField(&result.PropertiesAttempted, patch.PropertiesAttempted)
	mergeIntField(&result.DetailFetched, patch.DetailFetched)
	mergeIntField(&result.DetailSkipped, patch.DetailSkipped)
	mergeIntField(&result.DetailFetchFailed, patch.DetailFetchFailed)
	mergeIntField(&result.NewListings, patch.NewListings)
	mergeIntField(&result.PriceUpdated, patch.PriceUpdated)
	mergeIntField(&result.OtherUpdates, patch.OtherUpdates)
	mergeIntField(&result.RefetchedUnchanged, patch.RefetchedUnchanged)
	mergeIntField(&result.SaveFailed, patch.SaveFailed)
	mergeIntField(&result.PriceMissing, patch.PriceMissing)
	mergeIntField(&result.BuildingInfoMissing, patch.BuildingInfoMissing)
	mergeIntField(&result.OtherErrors, patch.OtherErrors)
	mergeIntField(&result.ValidationFailed, patch.ValidationFailed)
	mergeIntField(&result.Errors, patch.Errors)

	if patch.ErrorsList != nil {
		result.ErrorsList = append([]string(nil), patch.ErrorsList...)
	}

	return &result
}

func mergeIntField(dst *int, patch *int) {
	if patch != nil {
		*dst = *patch
	}
}

// FinalPatch builds the terminal barrier write named in spec.md §4.5 step 8
// and §4.2 "Finalisation": status ∈ {completed, failed, cancelled},
// is_final=true, completed_at=t.
func FinalPatch(status types.ProgressStatus, at time.Time) types.ProgressPatch {
	final := true
	t := at
	return types.ProgressPatch{
		Status:      &status,
		IsFinal:     &final,
		CompletedAt: &t,
	}
}

// IsAbsorbed reports whether a record has already passed the finalisation
// barrier and will reject any further patch (spec.md Testable property 1).
func IsAbsorbed(r *types.ProgressRecord) bool {
	return r != nil && r.IsFinal
}
