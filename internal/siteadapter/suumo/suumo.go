// Package suumo is a reference internal/adapter.SiteAdapter for a
// goquery/htmlquery-parsed, HTTP-fetched real-estate listing site. Grounded
// on internal/fetcher/http.go's net/http client (brotli-aware transport;
// each page is fetched once, without retry) and internal/parser/css.go's
// goquery selector walk,
// re-pointed at the listing-then-detail pagination shape named in spec.md
// §4.4/§6.1 instead of a generic crawl frontier.
package suumo

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
	"github.com/antchfx/htmlquery"

	"github.com/areascope/areascope/internal/adapter"
	"github.com/areascope/areascope/internal/areacode"
	"github.com/areascope/areascope/internal/types"
)

const name = "suumo"

const (
	listingURLFormat = "https://suumo.jp/chintai/%s/city/"
	userAgent        = "Mozilla/5.0 (compatible; areascope-bot/1.0)"
)

// Adapter scrapes suumo.jp listing and detail pages with a plain HTTP
// client. One Adapter is reused across every area within a task.
type Adapter struct {
	client *http.Client
	sink   adapter.ListingSink
}

// New returns a suumo Adapter writing through sink.
func New(sink adapter.ListingSink) *Adapter {
	return &Adapter{
		client: &http.Client{Timeout: 30 * time.Second},
		sink:   sink,
	}
}

// Name implements adapter.SiteAdapter.
func (a *Adapter) Name() string { return name }

// ScrapeArea implements adapter.SiteAdapter: fetch the area's listing pages
// with goquery, then each unit's detail page with htmlquery XPath, honoring
// controller at the checkpoints spec.md §4.4 requires.
func (a *Adapter) ScrapeArea(ctx context.Context, areaCode string, opts adapter.ScrapeOptions, reporter adapter.Reporter, controller adapter.Controller) (adapter.Stats, error) {
	var stats adapter.Stats

	if err := controller.CheckpointOrAbort(ctx); err != nil {
		return stats, err
	}

	romaji, ok := areacode.CodeToRomaji(areaCode)
	if !ok {
		romaji = areaCode
	}

	doc, err := a.fetchListingPage(ctx, romaji)
	if err != nil {
		reporter.LogError(types.ErrorInfo{Scraper: name, AreaCode: areaCode, Reason: types.CategoryConnectionRefused, ErrorDetail: err.Error()})
		stats.Errors++
		stats.ErrorsList = append(stats.ErrorsList, err.Error())
		return stats, err
	}

	units := doc.Find(".cassetteitem")
	stats.PropertiesFound = units.Length()

	var cancelled bool
	units.EachWithBreak(func(i int, unit *goquery.Selection) bool {
		if opts.MaxProperties > 0 && stats.PropertiesAttempted >= opts.MaxProperties {
			return false
		}
		if err := controller.CheckpointOrAbort(ctx); err != nil {
			cancelled = true
			return false
		}
		stats.PropertiesAttempted++

		buildingName := strings.TrimSpace(unit.Find(".cassetteitem_content-title").First().Text())
		floor := strings.TrimSpace(unit.Find(".cassetteitem_madori").First().Text())
		priceText := strings.TrimSpace(unit.Find(".cassetteitem_price--rent").First().Text())
		priceManYen := parsePriceManYen(priceText)
		detailHref, _ := unit.Find("a.js-cassette_link_href").First().Attr("href")

		var detailsText string
		if opts.ForceDetailFetch && detailHref != "" {
			d, derr := a.fetchDetailPage(ctx, detailHref)
			if derr != nil {
				stats.DetailFetchFailed++
				reporter.LogWarning(types.ErrorInfo{Scraper: name, AreaCode: areaCode, URL: detailHref, BuildingName: buildingName, Reason: types.CategoryTimeout, ErrorDetail: derr.Error()})
			} else {
				stats.DetailFetched++
				detailsText = d
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
			return true
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
		return true
	})

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
	if cancelled {
		return stats, types.ErrCancelled
	}
	return stats, nil
}

func (a *Adapter) fetchListingPage(ctx context.Context, romaji string) (*goquery.Document, error) {
	url := fmt.Sprintf(listingURLFormat, romaji)
	body, err := a.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return goquery.NewDocumentFromReader(body)
}

func (a *Adapter) fetchDetailPage(ctx context.Context, url string) (string, error) {
	body, err := a.get(ctx, url)
	if err != nil {
		return "", err
	}
	defer body.Close()
	doc, err := htmlquery.Parse(body)
	if err != nil {
		return "", err
	}
	node := htmlquery.FindOne(doc, "//div[contains(@class,'section_h2-header')]/following-sibling::div[1]")
	if node == nil {
		return "", nil
	}
	return strings.TrimSpace(htmlquery.InnerText(node)), nil
}

// get issues an HTTP GET with Accept-Encoding: br, gzip and decodes whichever
// encoding the server chose; suumo.jp serves brotli-compressed bodies to
// clients that advertise support for it.
func (a *Adapter) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Encoding", "br, gzip")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("suumo fetch %s: status %d", url, resp.StatusCode)
	}

	switch resp.Header.Get("Content-Encoding") {
	case "br":
		return io.NopCloser(brotli.NewReader(resp.Body)), nil
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		return gz, nil
	default:
		return resp.Body, nil
	}
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
