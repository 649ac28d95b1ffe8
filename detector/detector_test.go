package detector

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockwatch/models"
)

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func tracked(stock models.StockStatus, p *decimal.Decimal) *models.TrackedProduct {
	return &models.TrackedProduct{
		StoreID:    "novagames_nz",
		ExternalID: "surging-sparks-etb",
		Name:       "Surging Sparks Elite Trainer Box",
		LastStock:  stock,
		LastPrice:  p,
	}
}

func snapshot(stock models.StockStatus, p *decimal.Decimal) *models.ProductSnapshot {
	return &models.ProductSnapshot{
		StoreID:    "novagames_nz",
		ExternalID: "surging-sparks-etb",
		Name:       "Surging Sparks Elite Trainer Box",
		Stock:      stock,
		Price:      p,
		ObservedAt: time.Now(),
	}
}

func kinds(events []models.StockEvent) []models.EventKind {
	if len(events) == 0 {
		return nil
	}
	out := make([]models.EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestDetectNewProduct(t *testing.T) {
	events := Detect(nil, snapshot(models.StockInStock, price("89.99")))

	require.Len(t, events, 1)
	assert.Equal(t, models.EventNewProduct, events[0].Kind)
	assert.Nil(t, events[0].Previous)
	require.NotNil(t, events[0].Current)
	assert.Equal(t, "surging-sparks-etb", events[0].Key.ExternalID)
}

func TestDetectStockTransitions(t *testing.T) {
	tests := []struct {
		name string
		prev models.StockStatus
		cur  models.StockStatus
		want []models.EventKind
	}{
		{"out to in", models.StockOutOfStock, models.StockInStock, []models.EventKind{models.EventNewlyInStock}},
		{"unknown to in", models.StockUnknown, models.StockInStock, []models.EventKind{models.EventNewlyInStock}},
		{"in to out", models.StockInStock, models.StockOutOfStock, []models.EventKind{models.EventNewlyOutOfStock}},
		{"in to unknown", models.StockInStock, models.StockUnknown, []models.EventKind{models.EventNewlyOutOfStock}},
		{"in to in", models.StockInStock, models.StockInStock, nil},
		{"out to out", models.StockOutOfStock, models.StockOutOfStock, nil},
		{"out to unknown", models.StockOutOfStock, models.StockUnknown, nil},
		{"unknown to out", models.StockUnknown, models.StockOutOfStock, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := Detect(tracked(tt.prev, price("89.99")), snapshot(tt.cur, price("89.99")))
			assert.Equal(t, tt.want, kinds(events))
		})
	}
}

func TestDetectPriceChange(t *testing.T) {
	events := Detect(tracked(models.StockInStock, price("89.99")), snapshot(models.StockInStock, price("74.99")))

	require.Len(t, events, 1)
	assert.Equal(t, models.EventPriceChanged, events[0].Kind)
}

func TestDetectPriceChangeAlongsideStockTransition(t *testing.T) {
	events := Detect(tracked(models.StockOutOfStock, price("89.99")), snapshot(models.StockInStock, price("99.99")))

	assert.Equal(t, []models.EventKind{models.EventNewlyInStock, models.EventPriceChanged}, kinds(events))
}

func TestDetectPriceEqualDifferentScale(t *testing.T) {
	// 89.99 and 89.990 are the same price, not a change.
	events := Detect(tracked(models.StockInStock, price("89.99")), snapshot(models.StockInStock, price("89.990")))
	assert.Empty(t, events)
}

func TestDetectNoPriceChangeWhenEitherSideMissing(t *testing.T) {
	events := Detect(tracked(models.StockInStock, nil), snapshot(models.StockInStock, price("89.99")))
	assert.Empty(t, events)

	events = Detect(tracked(models.StockInStock, price("89.99")), snapshot(models.StockInStock, nil))
	assert.Empty(t, events)
}

func TestDedupeSnapshotsLastWins(t *testing.T) {
	first := snapshot(models.StockOutOfStock, price("89.99"))
	other := &models.ProductSnapshot{StoreID: "novagames_nz", ExternalID: "151-booster-bundle", Stock: models.StockInStock}
	last := snapshot(models.StockInStock, price("79.99"))

	out := DedupeSnapshots([]models.ProductSnapshot{*first, *other, *last})

	require.Len(t, out, 2)
	// First-appearance order is kept, later duplicate overwrites in place.
	assert.Equal(t, "surging-sparks-etb", out[0].ExternalID)
	assert.Equal(t, models.StockInStock, out[0].Stock)
	assert.True(t, out[0].Price.Equal(decimal.RequireFromString("79.99")))
	assert.Equal(t, "151-booster-bundle", out[1].ExternalID)
}

func TestDetectBatchDisappearanceFromFullListing(t *testing.T) {
	// A store that shows sold-out items too: absence from the page means
	// nothing, so no event fires for the missing product.
	previous := []models.TrackedProduct{*tracked(models.StockInStock, price("89.99"))}

	events := DetectBatch(previous, nil, false)
	assert.Empty(t, events)
}

func TestDetectBatchNoLongerListed(t *testing.T) {
	previous := []models.TrackedProduct{*tracked(models.StockInStock, price("89.99"))}

	events := DetectBatch(previous, nil, true)

	require.Len(t, events, 1)
	assert.Equal(t, models.EventNoLongerListed, events[0].Kind)
	assert.NotNil(t, events[0].Previous)
	assert.Nil(t, events[0].Current)
}

func TestDetectBatchNoLongerListedFiresOnce(t *testing.T) {
	// Once the row has been downgraded to unknown, repeated absence stays
	// quiet.
	previous := []models.TrackedProduct{*tracked(models.StockUnknown, price("89.99"))}

	events := DetectBatch(previous, nil, true)
	assert.Empty(t, events)
}

func TestDetectBatchMixed(t *testing.T) {
	previous := []models.TrackedProduct{
		*tracked(models.StockOutOfStock, price("89.99")),
		{StoreID: "novagames_nz", ExternalID: "prismatic-evolutions-etb", LastStock: models.StockInStock},
	}
	batch := []models.ProductSnapshot{
		*snapshot(models.StockInStock, price("89.99")),
		{StoreID: "novagames_nz", ExternalID: "journey-together-booster", Stock: models.StockInStock},
	}

	events := DetectBatch(previous, batch, true)

	assert.Equal(t, []models.EventKind{
		models.EventNewlyInStock,
		models.EventNewProduct,
		models.EventNoLongerListed,
	}, kinds(events))
	assert.Equal(t, "prismatic-evolutions-etb", events[2].Key.ExternalID)
}
