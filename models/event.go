package models

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventNewlyInStock     EventKind = "NEWLY_IN_STOCK"
	EventNewlyOutOfStock  EventKind = "NEWLY_OUT_OF_STOCK"
	EventPriceChanged     EventKind = "PRICE_CHANGED"
	EventNewProduct       EventKind = "NEW_PRODUCT_DISCOVERED"
	EventStoreUnreachable EventKind = "STORE_UNREACHABLE"

	// EventNoLongerListed fires when a store that only lists available
	// products stops listing a tracked product. Whether that means sold
	// out or delisted is ambiguous, so it is surfaced as its own kind
	// instead of guessing NEWLY_OUT_OF_STOCK.
	EventNoLongerListed EventKind = "NO_LONGER_LISTED"
)

// StockEvent is a classified change between the persisted state and a
// fresh snapshot. It carries both sides so a notifier can render a full
// message without further lookups. Events are consumed once by the scan's
// caller and are not persisted themselves.
type StockEvent struct {
	ID       uuid.UUID        `json:"id"`
	Kind     EventKind        `json:"kind"`
	StoreID  string           `json:"store_id"`
	Key      ProductKey       `json:"product_key"`
	Previous *TrackedProduct  `json:"previous,omitempty"` // nil for NEW_PRODUCT_DISCOVERED and STORE_UNREACHABLE
	Current  *ProductSnapshot `json:"current,omitempty"`  // nil for STORE_UNREACHABLE and NO_LONGER_LISTED
	Reason   string           `json:"reason,omitempty"`   // STORE_UNREACHABLE only

	// Unpersisted marks events whose durable state update failed; the
	// caller decides whether to retry or notify anyway.
	Unpersisted bool      `json:"unpersisted,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewStockEvent(kind EventKind, storeID string, key ProductKey, prev *TrackedProduct, cur *ProductSnapshot) StockEvent {
	return StockEvent{
		ID:        uuid.New(),
		Kind:      kind,
		StoreID:   storeID,
		Key:       key,
		Previous:  prev,
		Current:   cur,
		CreatedAt: time.Now(),
	}
}

type FailureKind string

const (
	FailureTransient   FailureKind = "transient"
	FailurePermanent   FailureKind = "permanent"
	FailureParse       FailureKind = "parse"
	FailurePersistence FailureKind = "persistence"
)

// StoreError records one store's failure within a scan.
type StoreError struct {
	StoreID string      `json:"store_id"`
	Kind    FailureKind `json:"kind"`
	Reason  string      `json:"reason"`
}

// ScanResult summarizes one scan invocation. A scan always produces a
// result; "nothing changed" and "every store failed" are both
// representable and distinguishable.
type ScanResult struct {
	Events []StockEvent `json:"events"`
	Errors []StoreError `json:"errors"`

	ProductsChecked int `json:"products_checked"`
	StoresSucceeded int `json:"stores_succeeded"`
	StoresFailed    int `json:"stores_failed"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// EventsForStore filters the result's events by store.
func (r *ScanResult) EventsForStore(storeID string) []StockEvent {
	var out []StockEvent
	for _, e := range r.Events {
		if e.StoreID == storeID {
			out = append(out, e)
		}
	}
	return out
}

// ErrorFor returns the error entry for a store, if any.
func (r *ScanResult) ErrorFor(storeID string) *StoreError {
	for i := range r.Errors {
		if r.Errors[i].StoreID == storeID {
			return &r.Errors[i]
		}
	}
	return nil
}
