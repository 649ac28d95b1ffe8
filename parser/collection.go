package parser

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"stockwatch/config"
	"stockwatch/httputil"
	"stockwatch/models"
)

// Collection scrapes an HTML collection or search-results page using
// CSS selectors from the store config. One generic variant covers every
// store whose listing is plain server-rendered HTML; only the selectors
// and stock-marker phrases differ per store.
type Collection struct {
	cfg      *config.StoreConfig
	minDelay time.Duration
}

func NewCollection(cfg *config.StoreConfig, fallbackDelayMS int) *Collection {
	return &Collection{cfg: cfg, minDelay: cfg.RateLimit(fallbackDelayMS)}
}

func (p *Collection) ID() string { return p.cfg.ID }

func (p *Collection) ListsAvailableOnly() bool { return p.cfg.ListsAvailableOnly }

func (p *Collection) Scrape(ctx context.Context, f *httputil.Fetcher) ([]models.ProductSnapshot, error) {
	endpoint, ok := p.cfg.Endpoints["collection"]
	if !ok {
		return nil, &ParseError{StoreID: p.cfg.ID, Kind: ErrNotImplemented, Msg: "no collection endpoint configured"}
	}
	if p.cfg.Selectors.Item == "" {
		return nil, &ParseError{StoreID: p.cfg.ID, Kind: ErrNotImplemented, Msg: "no item selector configured"}
	}

	pageURL := strings.TrimSuffix(p.cfg.BaseURL, "/") + endpoint
	resp, err := f.Fetch(ctx, httputil.Request{URL: pageURL, MinDelay: p.minDelay})
	if err != nil {
		return nil, err
	}

	return p.Parse(resp.Body)
}

// Parse extracts snapshots from a raw collection page body. Split out so
// captured pages can be replayed in tests and diagnosis.
func (p *Collection) Parse(body []byte) ([]models.ProductSnapshot, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{StoreID: p.cfg.ID, Kind: ErrMalformed, Msg: err.Error(), Raw: body}
	}

	base, err := url.Parse(p.cfg.BaseURL)
	if err != nil {
		return nil, &ParseError{StoreID: p.cfg.ID, Kind: ErrMalformed, Msg: fmt.Sprintf("base url: %v", err)}
	}

	items := doc.Find(p.cfg.Selectors.Item)

	now := time.Now()
	var snapshots []models.ProductSnapshot
	broken := 0

	items.Each(func(_ int, item *goquery.Selection) {
		snap, ok := p.parseItem(item, base, now)
		if !ok {
			broken++
			return
		}
		snapshots = append(snapshots, snap)
	})

	// Matched tiles that all lack a name or link mean the markup moved
	// under us; that is maintenance, not an empty collection.
	if items.Length() > 0 && len(snapshots) == 0 {
		return nil, &ParseError{StoreID: p.cfg.ID, Kind: ErrMalformed,
			Msg: fmt.Sprintf("%d items matched, none parseable", broken), Raw: body}
	}

	return snapshots, nil
}

func (p *Collection) parseItem(item *goquery.Selection, base *url.URL, now time.Time) (models.ProductSnapshot, bool) {
	sel := p.cfg.Selectors

	name := strings.TrimSpace(item.Find(sel.Name).First().Text())

	href, _ := item.Find(sel.URL).First().Attr("href")
	if href == "" {
		// Some themes make the tile itself the anchor.
		href, _ = item.Attr("href")
	}
	if name == "" || href == "" {
		return models.ProductSnapshot{}, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return models.ProductSnapshot{}, false
	}
	absolute := base.ResolveReference(ref)

	return models.ProductSnapshot{
		StoreID:    p.cfg.ID,
		ExternalID: externalIDFromPath(absolute.Path),
		Name:       name,
		Price:      ParsePrice(item.Find(sel.Price).First().Text()),
		Stock:      p.classifyStock(item),
		URL:        absolute.String(),
		ObservedAt: now,
	}, true
}

// classifyStock matches configured marker phrases against the tile's
// text. in_stock markers win over out_of_stock ones; neither matching
// stays unknown, never out_of_stock.
func (p *Collection) classifyStock(item *goquery.Selection) models.StockStatus {
	text := strings.ToLower(item.Text())

	for _, marker := range p.cfg.StockMarkers.InStock {
		if strings.Contains(text, marker) {
			return models.StockInStock
		}
	}
	for _, marker := range p.cfg.StockMarkers.OutOfStock {
		if strings.Contains(text, marker) {
			return models.StockOutOfStock
		}
	}
	if p.cfg.ListsAvailableOnly {
		// Presence on an availability-only page is the stock signal.
		return models.StockInStock
	}
	return models.StockUnknown
}

// externalIDFromPath derives the store-native identifier from a product
// URL: the last non-empty path segment (Shopify handle, SKU slug).
func externalIDFromPath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}
	return path
}
