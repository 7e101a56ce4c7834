package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/areascope/areascope/internal/logbuffer"
	"github.com/areascope/areascope/internal/progress"
	"github.com/areascope/areascope/internal/types"
)

// progressStore is the subset of internal/store.TaskStore the reporter and
// stats sampler need to merge partial progress under row lock.
type progressStore interface {
	MergeProgress(ctx context.Context, taskID, pairKey string, patch types.ProgressPatch) (*types.ProgressRecord, error)
}

// pairCounters mirrors the counter fields of types.ProgressRecord as atomics
// so the stats sampler can read the adapter's latest reported values without
// taking the store's row lock on every tick, grounded on the teacher's Stats
// struct (atomic.Int64 fields read via Snapshot()).
type pairCounters struct {
	propertiesFound     atomic.Int64
	propertiesProcessed atomic.Int64
	propertiesAttempted atomic.Int64
	detailFetched       atomic.Int64
	detailSkipped       atomic.Int64
	detailFetchFailed   atomic.Int64
	newListings         atomic.Int64
	priceUpdated        atomic.Int64
	otherUpdates        atomic.Int64
	refetchedUnchanged  atomic.Int64
	saveFailed          atomic.Int64
	priceMissing        atomic.Int64
	buildingInfoMissing atomic.Int64
	otherErrors         atomic.Int64
	validationFailed    atomic.Int64
	errorsCount         atomic.Int64
}

func (c *pairCounters) apply(patch types.ProgressPatch) {
	storeIfSet(&c.propertiesFound, patch.PropertiesFound)
	storeIfSet(&c.propertiesProcessed, patch.PropertiesProcessed)
	storeIfSet(&c.propertiesAttempted, patch.PropertiesAttempted)
	storeIfSet(&c.detailFetched, patch.DetailFetched)
	storeIfSet(&c.detailSkipped, patch.DetailSkipped)
	storeIfSet(&c.detailFetchFailed, patch.DetailFetchFailed)
	storeIfSet(&c.newListings, patch.NewListings)
	storeIfSet(&c.priceUpdated, patch.PriceUpdated)
	storeIfSet(&c.otherUpdates, patch.OtherUpdates)
	storeIfSet(&c.refetchedUnchanged, patch.RefetchedUnchanged)
	storeIfSet(&c.saveFailed, patch.SaveFailed)
	storeIfSet(&c.priceMissing, patch.PriceMissing)
	storeIfSet(&c.buildingInfoMissing, patch.BuildingInfoMissing)
	storeIfSet(&c.otherErrors, patch.OtherErrors)
	storeIfSet(&c.validationFailed, patch.ValidationFailed)
	storeIfSet(&c.errorsCount, patch.Errors)
}

func storeIfSet(dst *atomic.Int64, v *int) {
	if v != nil {
		dst.Store(int64(*v))
	}
}

func (c *pairCounters) snapshot() types.ProgressPatch {
	return types.ProgressPatch{
		PropertiesFound:     intPtr(c.propertiesFound.Load()),
		PropertiesProcessed: intPtr(c.propertiesProcessed.Load()),
		PropertiesAttempted: intPtr(c.propertiesAttempted.Load()),
		DetailFetched:       intPtr(c.detailFetched.Load()),
		DetailSkipped:       intPtr(c.detailSkipped.Load()),
		DetailFetchFailed:   intPtr(c.detailFetchFailed.Load()),
		NewListings:         intPtr(c.newListings.Load()),
		PriceUpdated:        intPtr(c.priceUpdated.Load()),
		OtherUpdates:        intPtr(c.otherUpdates.Load()),
		RefetchedUnchanged:  intPtr(c.refetchedUnchanged.Load()),
		SaveFailed:          intPtr(c.saveFailed.Load()),
		PriceMissing:        intPtr(c.priceMissing.Load()),
		BuildingInfoMissing: intPtr(c.buildingInfoMissing.Load()),
		OtherErrors:         intPtr(c.otherErrors.Load()),
		ValidationFailed:    intPtr(c.validationFailed.Load()),
		Errors:              intPtr(c.errorsCount.Load()),
	}
}

func intPtr(v int64) *int {
	i := int(v)
	return &i
}

// pairReporter implements adapter.Reporter for one (task, scraper, area)
// pair. UpdateStats writes through to the store immediately (one of the
// three concurrent writers named in spec.md §4.2); the stats sampler
// separately re-asserts the latest mirrored counters on its own cadence so
// progress is visible even between adapter-driven writes.
type pairReporter struct {
	store    progressStore
	logs     *logbuffer.Buffer
	taskID   string
	scraper  string
	areaCode string
	pairKey  string

	counters pairCounters
}

func newPairReporter(store progressStore, logs *logbuffer.Buffer, taskID, scraper, areaCode string) *pairReporter {
	return &pairReporter{
		store:    store,
		logs:     logs,
		taskID:   taskID,
		scraper:  scraper,
		areaCode: areaCode,
		pairKey:  types.PairKey(scraper, areaCode),
	}
}

func (r *pairReporter) UpdateStats(patch types.ProgressPatch) {
	r.counters.apply(patch)
	_, _ = r.store.MergeProgress(context.Background(), r.taskID, r.pairKey, patch)
}

func (r *pairReporter) LogListingChange(change types.ListingChange) {
	change.Scraper, change.AreaCode = r.scraper, r.areaCode
	_ = r.logs.ListingChange(context.Background(), change)
}

func (r *pairReporter) LogError(info types.ErrorInfo) {
	info.Scraper, info.AreaCode = r.scraper, r.areaCode
	_ = r.logs.Error(context.Background(), info)
}

func (r *pairReporter) LogWarning(info types.ErrorInfo) {
	info.Scraper, info.AreaCode = r.scraper, r.areaCode
	_ = r.logs.Warning(context.Background(), info)
}

// statsSampler re-asserts a pair's latest mirrored counters on a fixed
// cadence (spec.md §4.2 "Stats sampler"). Before each write, MergeProgress
// itself re-reads the current record under row lock; if the result comes
// back final, the sampler stops — the finalisation check is folded into the
// merge call rather than duplicated here.
type statsSampler struct {
	store    progressStore
	taskID   string
	pairKey  string
	counters *pairCounters
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

func newStatsSampler(store progressStore, taskID, pairKey string, counters *pairCounters, interval time.Duration) *statsSampler {
	return &statsSampler{
		store:    store,
		taskID:   taskID,
		pairKey:  pairKey,
		counters: counters,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *statsSampler) start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				result, err := s.store.MergeProgress(ctx, s.taskID, s.pairKey, s.counters.snapshot())
				if err != nil {
					continue
				}
				if progress.IsAbsorbed(result) {
					return
				}
			}
		}
	}()
}

// halt signals the sampler goroutine to exit and blocks until it does or
// joinCtx expires. Returns false on timeout (spec.md §4.2/§5: bounded join,
// ≤ 5 s default, a timeout logs a warning but the worker proceeds).
func (s *statsSampler) halt(joinCtx context.Context) bool {
	close(s.stop)
	select {
	case <-s.done:
		return true
	case <-joinCtx.Done():
		return false
	}
}
