// Package detector turns "what we knew" plus "what we just saw" into
// stock events. Everything here is pure: no clock beyond the snapshots'
// own timestamps, no I/O, no shared state.
package detector

import (
	"stockwatch/models"
)

// DedupeSnapshots collapses snapshots sharing a product key, last one
// wins. Two snapshots with the same key in one scan are a parser bug;
// detection must see exactly one state per key. Parser order is kept for
// each key's first appearance.
func DedupeSnapshots(snapshots []models.ProductSnapshot) []models.ProductSnapshot {
	if len(snapshots) < 2 {
		return snapshots
	}

	index := make(map[models.ProductKey]int, len(snapshots))
	out := make([]models.ProductSnapshot, 0, len(snapshots))

	for _, snap := range snapshots {
		key := snap.Key()
		if i, seen := index[key]; seen {
			out[i] = snap
			continue
		}
		index[key] = len(out)
		out = append(out, snap)
	}
	return out
}

// Detect classifies the change between a persisted record (nil when the
// key was never seen) and a fresh snapshot. First match wins for the
// stock transition; a price change is reported in addition, never
// instead.
func Detect(prev *models.TrackedProduct, cur *models.ProductSnapshot) []models.StockEvent {
	if prev == nil {
		return []models.StockEvent{
			models.NewStockEvent(models.EventNewProduct, cur.StoreID, cur.Key(), nil, cur),
		}
	}

	var events []models.StockEvent

	switch {
	case prev.LastStock != models.StockInStock && cur.Stock == models.StockInStock:
		events = append(events, models.NewStockEvent(models.EventNewlyInStock, cur.StoreID, cur.Key(), prev, cur))
	case prev.LastStock == models.StockInStock && cur.Stock != models.StockInStock:
		events = append(events, models.NewStockEvent(models.EventNewlyOutOfStock, cur.StoreID, cur.Key(), prev, cur))
	}

	if prev.LastPrice != nil && cur.Price != nil && !prev.LastPrice.Equal(*cur.Price) {
		events = append(events, models.NewStockEvent(models.EventPriceChanged, cur.StoreID, cur.Key(), prev, cur))
	}

	return events
}

// DetectBatch diffs a whole store's deduped snapshot batch against its
// persisted state. Events come out in the parser's snapshot order.
//
// When availableOnly is set (the store's page lists only purchasable
// items), tracked products missing from the batch get a NO_LONGER_LISTED
// event: silently vanishing from such a page is ambiguous between sold
// out and delisted, so it is surfaced as its own kind. Products already
// sitting at unknown stay quiet.
func DetectBatch(previous []models.TrackedProduct, batch []models.ProductSnapshot, availableOnly bool) []models.StockEvent {
	prevByKey := make(map[models.ProductKey]*models.TrackedProduct, len(previous))
	for i := range previous {
		prevByKey[previous[i].Key()] = &previous[i]
	}

	var events []models.StockEvent
	seen := make(map[models.ProductKey]bool, len(batch))

	for i := range batch {
		snap := &batch[i]
		seen[snap.Key()] = true
		events = append(events, Detect(prevByKey[snap.Key()], snap)...)
	}

	if !availableOnly {
		return events
	}

	for i := range previous {
		prev := &previous[i]
		if seen[prev.Key()] || prev.LastStock == models.StockUnknown {
			continue
		}
		events = append(events, models.NewStockEvent(models.EventNoLongerListed, prev.StoreID, prev.Key(), prev, nil))
	}

	return events
}
