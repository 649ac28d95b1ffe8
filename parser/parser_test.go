package parser

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockwatch/config"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"$89.99 NZD", "89.99"},
		{"From $9.99", "9.99"},
		{"NZD 1,079.00", "1079.00"},
		{"65", "65"},
	}
	for _, tt := range tests {
		got := ParsePrice(tt.in)
		require.NotNil(t, got, tt.in)
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "%s -> %s", tt.in, got)
	}

	assert.Nil(t, ParsePrice(""))
	assert.Nil(t, ParsePrice("Sold out"))
	assert.Nil(t, ParsePrice("Price TBA"))
}

func TestNewSelectsVariantByHandler(t *testing.T) {
	shopify := New(&config.StoreConfig{ID: "a", Handler: "shopify", Status: config.StoreActive}, 1000)
	assert.IsType(t, &Shopify{}, shopify)

	collection := New(&config.StoreConfig{ID: "b", Handler: "collection", Status: config.StoreActive}, 1000)
	assert.IsType(t, &Collection{}, collection)

	unknown := New(&config.StoreConfig{ID: "c", Handler: "telepathy", Status: config.StoreActive}, 1000)
	assert.IsType(t, &Unsupported{}, unknown)
}

func TestNewBlockedStoreAlwaysFails(t *testing.T) {
	p := New(&config.StoreConfig{ID: "ebgames_nz", Handler: "collection", Status: config.StoreBlocked}, 1000)

	_, err := p.Scrape(context.Background(), nil)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, ErrBlocked, parseErr.Kind)
	assert.Equal(t, "ebgames_nz", parseErr.StoreID)
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{
		Scanner: config.ScannerConfig{DelayMS: 1000},
		Stores: map[string]*config.StoreConfig{
			"a": {ID: "a", Handler: "shopify", Status: config.StoreActive},
			"b": {ID: "b", Handler: "collection", Status: config.StoreNotImplemented},
		},
	}

	parsers := FromConfig(cfg)

	require.Len(t, parsers, 2)
	assert.Equal(t, "a", parsers["a"].ID())
	assert.IsType(t, &Unsupported{}, parsers["b"])
}
