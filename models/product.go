package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockStatus is the tri-state availability of a product. Unknown means
// the page gave no clear signal either way; it is never folded into
// out_of_stock.
type StockStatus string

const (
	StockInStock    StockStatus = "in_stock"
	StockOutOfStock StockStatus = "out_of_stock"
	StockUnknown    StockStatus = "unknown"
)

// ProductKey is the natural key of a product: the store it was seen on
// plus the store-native identifier (SKU, handle, or URL slug).
type ProductKey struct {
	StoreID    string `json:"store_id"`
	ExternalID string `json:"external_id"`
}

func (k ProductKey) String() string {
	return k.StoreID + ":" + k.ExternalID
}

// ProductSnapshot is one store's momentary observation of a product.
// Snapshots are produced fresh each scan and are never persisted as-is;
// they update the TrackedProduct row for their key.
type ProductSnapshot struct {
	StoreID    string           `json:"store_id"`
	ExternalID string           `json:"external_id"`
	Name       string           `json:"name"`
	Price      *decimal.Decimal `json:"price,omitempty"` // store-local currency, nil when not exposed
	Stock      StockStatus      `json:"stock"`
	URL        string           `json:"url"`
	ObservedAt time.Time        `json:"observed_at"`
}

func (s *ProductSnapshot) Key() ProductKey {
	return ProductKey{StoreID: s.StoreID, ExternalID: s.ExternalID}
}

// TrackedProduct is the durable record of the last known state for a
// product key. Rows are created on first observation and updated on every
// successful scan; they are never auto-deleted (delisted products keep
// their history, stock transitions to out_of_stock/unknown instead).
type TrackedProduct struct {
	StoreID    string           `json:"store_id" db:"store_id"`
	ExternalID string           `json:"external_id" db:"external_id"`
	Name       string           `json:"name" db:"name"`
	URL        string           `json:"url" db:"url"`
	LastStock  StockStatus      `json:"last_stock" db:"last_stock"`
	LastPrice  *decimal.Decimal `json:"last_price,omitempty" db:"last_price"`

	LastCheckedAt  time.Time `json:"last_checked_at" db:"last_checked_at"`
	FirstTrackedAt time.Time `json:"first_tracked_at" db:"first_tracked_at"`

	// ConsecutiveFailures counts scans where this product's store failed
	// to fetch or parse. It is maintained per store and mirrored onto
	// every row read from that store.
	ConsecutiveFailures int `json:"consecutive_failures" db:"consecutive_failures"`
}

func (p *TrackedProduct) Key() ProductKey {
	return ProductKey{StoreID: p.StoreID, ExternalID: p.ExternalID}
}
