package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stockwatch/config"
	"stockwatch/httputil"
	"stockwatch/models"
)

const shopifyPageSize = 250

// shopifyMaxPages bounds pagination; NZ hobby stores carry a few hundred
// matching products at most.
const shopifyMaxPages = 20

// Shopify scrapes a Shopify collection's products.json endpoint. Most of
// the NZ stores we watch (Nova Games, Card Merchant and friends) run on
// Shopify, which exposes a stable JSON listing per collection.
type Shopify struct {
	cfg      *config.StoreConfig
	minDelay time.Duration
}

func NewShopify(cfg *config.StoreConfig, fallbackDelayMS int) *Shopify {
	return &Shopify{cfg: cfg, minDelay: cfg.RateLimit(fallbackDelayMS)}
}

func (p *Shopify) ID() string { return p.cfg.ID }

func (p *Shopify) ListsAvailableOnly() bool { return p.cfg.ListsAvailableOnly }

func (p *Shopify) Scrape(ctx context.Context, f *httputil.Fetcher) ([]models.ProductSnapshot, error) {
	endpoint, ok := p.cfg.Endpoints["products"]
	if !ok {
		return nil, &ParseError{StoreID: p.cfg.ID, Kind: ErrNotImplemented, Msg: "no products endpoint configured"}
	}

	var all []models.ProductSnapshot
	for page := 1; page <= shopifyMaxPages; page++ {
		snapshots, err := p.fetchPage(ctx, f, endpoint, page)
		if err != nil {
			return nil, err
		}
		if len(snapshots) == 0 {
			break
		}

		all = append(all, snapshots...)
		log.Printf("[%s] page %d: %d products (total %d)", p.cfg.ID, page, len(snapshots), len(all))

		if len(snapshots) < shopifyPageSize {
			break
		}
	}

	return all, nil
}

func (p *Shopify) fetchPage(ctx context.Context, f *httputil.Fetcher, endpoint string, page int) ([]models.ProductSnapshot, error) {
	url := fmt.Sprintf("%s%s?limit=%d&page=%d", strings.TrimSuffix(p.cfg.BaseURL, "/"), endpoint, shopifyPageSize, page)

	resp, err := f.Fetch(ctx, httputil.Request{URL: url, MinDelay: p.minDelay})
	if err != nil {
		return nil, err
	}

	var payload shopifyProductsResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, &ParseError{StoreID: p.cfg.ID, Kind: ErrMalformed, Msg: fmt.Sprintf("products.json page %d: %v", page, err), Raw: resp.Body}
	}

	now := time.Now()
	snapshots := make([]models.ProductSnapshot, 0, len(payload.Products))
	for _, prod := range payload.Products {
		if prod.Handle == "" {
			continue
		}

		snapshots = append(snapshots, models.ProductSnapshot{
			StoreID:    p.cfg.ID,
			ExternalID: prod.Handle,
			Name:       prod.Title,
			Price:      prod.lowestPrice(),
			Stock:      prod.stock(),
			URL:        fmt.Sprintf("%s/products/%s", strings.TrimSuffix(p.cfg.BaseURL, "/"), prod.Handle),
			ObservedAt: now,
		})
	}

	return snapshots, nil
}

type shopifyProductsResponse struct {
	Products []shopifyProduct `json:"products"`
}

type shopifyProduct struct {
	ID       int64            `json:"id"`
	Title    string           `json:"title"`
	Handle   string           `json:"handle"`
	Variants []shopifyVariant `json:"variants"`
}

type shopifyVariant struct {
	ID        int64  `json:"id"`
	Price     string `json:"price"`
	Available *bool  `json:"available"`
}

// stock is in_stock when any variant is purchasable. Shops that strip
// the available field from the feed give us no signal, which stays
// unknown rather than being guessed.
func (p shopifyProduct) stock() models.StockStatus {
	sawFlag := false
	for _, v := range p.Variants {
		if v.Available == nil {
			continue
		}
		sawFlag = true
		if *v.Available {
			return models.StockInStock
		}
	}
	if !sawFlag {
		return models.StockUnknown
	}
	return models.StockOutOfStock
}

func (p shopifyProduct) lowestPrice() *decimal.Decimal {
	var lowest *decimal.Decimal
	for _, v := range p.Variants {
		d, err := decimal.NewFromString(v.Price)
		if err != nil {
			continue
		}
		if lowest == nil || d.LessThan(*lowest) {
			val := d
			lowest = &val
		}
	}
	return lowest
}
