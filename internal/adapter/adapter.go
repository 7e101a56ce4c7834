// Package adapter defines the capability interfaces a SiteAdapter consumes
// and the engine provides, per spec.md §6.1/§6.2. Kept intentionally small:
// each interface is one or two methods, mirroring the Plugin/FetcherPlugin
// family of capability interfaces the teacher uses for its fetch/parse/store
// plugins, applied here to the scraping contract instead.
package adapter

import (
	"context"
	"sync"

	"github.com/areascope/areascope/internal/types"
)

// ScrapeOptions carries the per-task tunables down to one ScrapeArea call.
type ScrapeOptions struct {
	MaxProperties      int
	ForceDetailFetch   bool
	DetailRefetchHours *int
	IgnoreErrorHistory bool
}

// Stats is the terminal snapshot a SiteAdapter returns from ScrapeArea. Field
// names mirror types.ProgressRecord's counters one-to-one.
type Stats struct {
	PropertiesFound     int
	PropertiesProcessed int
	PropertiesAttempted int
	DetailFetched       int
	DetailSkipped       int
	DetailFetchFailed   int
	NewListings         int
	PriceUpdated        int
	OtherUpdates        int
	RefetchedUnchanged  int
	SaveFailed          int
	PriceMissing        int
	BuildingInfoMissing int
	OtherErrors         int
	ValidationFailed    int
	Errors              int
	ErrorsList          []string
}

// Reporter is the callback surface an adapter uses to push progress and log
// lines through the engine's ProgressAggregator + LogBuffer. The engine's
// implementation is the only one; adapters depend on the interface only.
type Reporter interface {
	UpdateStats(patch types.ProgressPatch)
	LogListingChange(change types.ListingChange)
	LogError(info types.ErrorInfo)
	LogWarning(info types.ErrorInfo)
}

// Controller is the single checkpoint capability an adapter must call before
// each list-page and detail-page fetch (spec.md §4.4). Returns
// types.ErrCancelled when the task has been cancelled or a pause has timed
// out; returns nil once any pause has cleared.
type Controller interface {
	CheckpointOrAbort(ctx context.Context) error
}

// SiteAdapter is the provider interface consumed by the engine. One
// operation: scrape one area, reporting through reporter and honoring
// controller at every checkpoint.
type SiteAdapter interface {
	Name() string
	ScrapeArea(ctx context.Context, areaCode string, opts ScrapeOptions, reporter Reporter, controller Controller) (Stats, error)
}

// ListingSink is the provider interface consumed by adapters to persist
// parsed listings (spec.md §6.2). The engine does not wrap the sink: an
// adapter reports each write itself by passing the ChangeKind the sink
// returns to Reporter.LogListingChange.
type ListingSink interface {
	CreateOrUpdateListing(ctx context.Context, building, property, listing map[string]any) (listingRef, changeKind, detailsText string, err error)
}

// Factory constructs a fresh SiteAdapter instance. Registered per scraper
// name; the engine's TaskRuntime calls it on a scraper's first area within a
// task and caches the result across areas. A pause observed at a checkpoint
// drops the cached instance, so the next area calls the factory again.
type Factory func() SiteAdapter

// Registry maps scraper identifiers to adapter factories, grounded on
// internal/plugin/registry.go's register/get/list shape.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name. Returns an error if name is already
// registered, mirroring plugin.Registry.Register's duplicate check.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return &types.InvalidArgumentError{Field: "scraper", Offenders: []string{name + " (already registered)"}}
	}
	r.factories[name] = f
	return nil
}

// New constructs a fresh SiteAdapter instance for name, or reports ok=false
// if nothing is registered under that name.
func (r *Registry) New(name string) (SiteAdapter, bool) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return f(), true
}

// Names lists every registered scraper identifier.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	return names
}
