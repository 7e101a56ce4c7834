// Package homes is a reference internal/adapter.SiteAdapter for a
// JS-rendered real-estate listing site, requiring a headless browser rather
// than a plain HTTP fetch. Grounded on internal/fetcher/browser.go's
// go-rod session lifecycle and internal/fetcher/stealth.go's
// go-rod/stealth page construction (anti-bot-detection evasion for sites
// that block plain HTTP clients), re-pointed at the listing-then-detail
// pagination shape of spec.md §4.4/§6.1.
package homes

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/areascope/areascope/internal/adapter"
	"github.com/areascope/areascope/internal/areacode"
	"github.com/areascope/areascope/internal/types"
)

const name = "homes"

const listingURLFormat = "https://www.homes.co.jp/chintai/city/%s/"

// Adapter scrapes homes.co.jp listing pages with a stealth-patched headless
// Chromium page, reused across every area within a task (spec.md §4.4 step
// 3: "may be reused across areas for the same scraper within one task").
type Adapter struct {
	sink    adapter.ListingSink
	browser *rod.Browser
	page    *rod.Page
}

// New returns a homes Adapter writing through sink. The browser/page are
// established lazily on first ScrapeArea call and torn down by Close.
func New(sink adapter.ListingSink) *Adapter {
	return &Adapter{sink: sink}
}

// Name implements adapter.SiteAdapter.
func (a *Adapter) Name() string { return name }

// Close releases the underlying browser process. Safe to call on a never-
// started Adapter.
func (a *Adapter) Close() {
	if a.browser != nil {
		_ = a.browser.Close()
	}
}

func (a *Adapter) ensureSession() error {
	if a.page != nil {
		return nil
	}
	url, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	a.browser = rod.New().ControlURL(url)
	if err := a.browser.Connect(); err != nil {
		return fmt.Errorf("connect browser: %w", err)
	}
	page, err := stealth.Page(a.browser)
	if err != nil {
		return fmt.Errorf("open stealth page: %w", err)
	}
	a.page = page
	return nil
}

// ScrapeArea implements adapter.SiteAdapter: on resume from pause a closed
// session must be re-established (spec.md §4.4 step 3), so every call opens
// the session if needed before navigating.
func (a *Adapter) ScrapeArea(ctx context.Context, areaCode string, opts adapter.ScrapeOptions, reporter adapter.Reporter, controller adapter.Controller) (adapter.Stats, error) {
	var stats adapter.Stats

	if err := controller.CheckpointOrAbort(ctx); err != nil {
		return stats, err
	}
	if err := a.ensureSession(); err != nil {
		reporter.LogError(types.ErrorInfo{Scraper: name, AreaCode: areaCode, Reason: types.CategoryConnectionRefused, ErrorDetail: err.Error()})
		stats.Errors++
		return stats, nil
	}

	romaji, ok := areacode.CodeToRomaji(areaCode)
	if !ok {
		romaji = areaCode
	}
	url := fmt.Sprintf(listingURLFormat, romaji)

	page := a.page.Context(ctx).Timeout(30 * time.Second)
	if err := page.Navigate(url); err != nil {
		reporter.LogError(types.ErrorInfo{Scraper: name, AreaCode: areaCode, URL: url, Reason: types.CategoryTimeout, ErrorDetail: err.Error()})
		stats.Errors++
		return stats, nil
	}
	if err := page.WaitStable(500 * time.Millisecond); err != nil {
		reporter.LogWarning(types.ErrorInfo{Scraper: name, AreaCode: areaCode, URL: url, Reason: types.CategoryTimeout, ErrorDetail: err.Error()})
	}

	units, err := page.Elements(".moduleInner")
	if err != nil {
		reporter.LogError(types.ErrorInfo{Scraper: name, AreaCode: areaCode, URL: url, Reason: types.CategoryExecutionError, ErrorDetail: err.Error()})
		stats.Errors++
		return stats, nil
	}
	stats.PropertiesFound = len(units)

	for _, unit := range units {
		if opts.MaxProperties > 0 && stats.PropertiesAttempted >= opts.MaxProperties {
			break
		}
		if err := controller.CheckpointOrAbort(ctx); err != nil {
			return stats, err
		}
		stats.PropertiesAttempted++

		buildingName := textOrEmpty(unit, ".bukkenName")
		floor := textOrEmpty(unit, ".floorSpace")
		priceText := textOrEmpty(unit, ".price")
		priceManYen := parsePriceManYen(priceText)

		var detailsText string
		if opts.ForceDetailFetch {
			if more, merr := unit.Element(".moreInfo"); merr == nil {
				if detail, terr := more.Text(); terr == nil {
					stats.DetailFetched++
					detailsText = strings.TrimSpace(detail)
				} else {
					stats.DetailFetchFailed++
				}
			} else {
				stats.DetailFetchFailed++
			}
		} else {
			stats.DetailSkipped++
		}

		building := map[string]any{"name": buildingName, "area_code": areaCode}
		property := map[string]any{"floor": floor}
		listing := map[string]any{
			"price_man_yen": priceManYen,
			"details_text":  detailsText,
			"source":        name,
		}

		_, changeKind, _, serr := a.sink.CreateOrUpdateListing(ctx, building, property, listing)
		if serr != nil {
			stats.SaveFailed++
			stats.OtherErrors++
			reporter.LogError(types.ErrorInfo{Scraper: name, AreaCode: areaCode, BuildingName: buildingName, Reason: types.CategoryExecutionError, ErrorDetail: serr.Error()})
			continue
		}
		if priceManYen == 0 {
			stats.PriceMissing++
		}
		switch changeKind {
		case "new":
			stats.NewListings++
		case "price_updated":
			stats.PriceUpdated++
		case "refetched_unchanged":
			stats.RefetchedUnchanged++
		default:
			stats.OtherUpdates++
		}
		reporter.LogListingChange(types.ListingChange{
			Scraper:      name,
			AreaCode:     areaCode,
			ChangeKind:   changeKind,
			BuildingName: buildingName,
			Floor:        floor,
			PriceManYen:  priceManYen,
		})
	}

	reporter.UpdateStats(types.ProgressPatch{
		PropertiesFound:     &stats.PropertiesFound,
		PropertiesAttempted: &stats.PropertiesAttempted,
		DetailFetched:       &stats.DetailFetched,
		DetailSkipped:       &stats.DetailSkipped,
		DetailFetchFailed:   &stats.DetailFetchFailed,
		NewListings:         &stats.NewListings,
		PriceUpdated:        &stats.PriceUpdated,
		OtherUpdates:        &stats.OtherUpdates,
		RefetchedUnchanged:  &stats.RefetchedUnchanged,
		SaveFailed:          &stats.SaveFailed,
		PriceMissing:        &stats.PriceMissing,
		Errors:              &stats.Errors,
	})
	return stats, nil
}

func textOrEmpty(el *rod.Element, selector string) string {
	found, err := el.Element(selector)
	if err != nil || found == nil {
		return ""
	}
	text, err := found.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

func parsePriceManYen(text string) int {
	text = strings.TrimSuffix(strings.TrimSpace(text), "万円")
	text = strings.ReplaceAll(text, ",", "")
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0
	}
	return n
}
