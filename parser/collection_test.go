package parser

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockwatch/config"
	"stockwatch/models"
)

func collectionConfig() *config.StoreConfig {
	return &config.StoreConfig{
		ID:      "cardmerchant_nz",
		Name:    "Card Merchant",
		Handler: "collection",
		Status:  config.StoreActive,
		BaseURL: "https://www.cardmerchant.co.nz",
		Endpoints: map[string]string{
			"collection": "/collections/sealed-product",
		},
		Selectors: config.Selectors{
			Item:  "div.product-card",
			Name:  ".product-card__title",
			Price: ".product-card__price",
			URL:   "a.product-card__link",
		},
		StockMarkers: config.StockMarkers{
			InStock:    []string{"add to cart"},
			OutOfStock: []string{"sold out"},
		},
	}
}

func TestCollectionParse(t *testing.T) {
	body, err := os.ReadFile("testdata/collection.html")
	require.NoError(t, err)

	p := NewCollection(collectionConfig(), 1000)
	snapshots, err := p.Parse(body)
	require.NoError(t, err)

	// The broken tile is skipped, the other three parse.
	require.Len(t, snapshots, 3)

	etb := snapshots[0]
	assert.Equal(t, "cardmerchant_nz", etb.StoreID)
	assert.Equal(t, "pokemon-tcg-surging-sparks-elite-trainer-box", etb.ExternalID)
	assert.Equal(t, "Pokemon TCG Surging Sparks Elite Trainer Box", etb.Name)
	assert.Equal(t, models.StockInStock, etb.Stock)
	assert.Equal(t, "https://www.cardmerchant.co.nz/products/pokemon-tcg-surging-sparks-elite-trainer-box", etb.URL)
	require.NotNil(t, etb.Price)
	assert.True(t, etb.Price.Equal(decimal.RequireFromString("89.99")))

	bundle := snapshots[1]
	assert.Equal(t, models.StockOutOfStock, bundle.Stock)

	// No marker on the tile: unknown, never assumed out of stock.
	pack := snapshots[2]
	assert.Equal(t, models.StockUnknown, pack.Stock)
	assert.Equal(t, "pokemon-tcg-prismatic-evolutions-booster-pack", pack.ExternalID)
}

func TestCollectionParseAvailableOnlyPresenceIsInStock(t *testing.T) {
	body, err := os.ReadFile("testdata/collection.html")
	require.NoError(t, err)

	cfg := collectionConfig()
	cfg.ListsAvailableOnly = true
	cfg.StockMarkers = config.StockMarkers{}

	p := NewCollection(cfg, 1000)
	snapshots, err := p.Parse(body)
	require.NoError(t, err)

	require.Len(t, snapshots, 3)
	for _, s := range snapshots {
		assert.Equal(t, models.StockInStock, s.Stock)
	}
}

func TestCollectionParseRedesignedMarkup(t *testing.T) {
	body, err := os.ReadFile("testdata/collection_redesigned.html")
	require.NoError(t, err)

	p := NewCollection(collectionConfig(), 1000)
	_, err = p.Parse(body)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, ErrMalformed, parseErr.Kind)
	assert.Equal(t, body, parseErr.Raw, "raw body kept for archiving")
}

func TestCollectionParseEmptyPageIsNotAnError(t *testing.T) {
	p := NewCollection(collectionConfig(), 1000)
	snapshots, err := p.Parse([]byte("<html><body><p>No products found</p></body></html>"))

	require.NoError(t, err)
	assert.Empty(t, snapshots)
}

func TestCollectionScrapeRequiresConfig(t *testing.T) {
	cfg := collectionConfig()
	cfg.Endpoints = nil

	p := NewCollection(cfg, 1000)
	_, err := p.Scrape(context.Background(), nil)

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, ErrNotImplemented, parseErr.Kind)
}

func TestExternalIDFromPath(t *testing.T) {
	assert.Equal(t, "surging-sparks", externalIDFromPath("/products/surging-sparks"))
	assert.Equal(t, "surging-sparks", externalIDFromPath("/products/surging-sparks/"))
	assert.Equal(t, "p123", externalIDFromPath("/shop/cards/p123"))
}
