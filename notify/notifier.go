// Package notify delivers stock events to downstream channels. The
// engine guarantees each event carries both sides of the change, so
// formatting here needs no further lookups.
package notify

import (
	"context"
	"fmt"
	"log"

	"stockwatch/models"
)

type Notifier interface {
	Notify(ctx context.Context, events []models.StockEvent) error
}

// Fanout delivers to every configured channel; one channel failing does
// not stop the others.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, events []models.StockEvent) error {
	var firstErr error
	for _, n := range f {
		if err := n.Notify(ctx, events); err != nil {
			log.Printf("Warning: notifier %T: %v", n, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Headline renders the one-line human summary of an event.
func Headline(e *models.StockEvent) string {
	switch e.Kind {
	case models.EventNewlyInStock:
		return fmt.Sprintf("IN STOCK: %s at %s", productName(e), e.StoreID)
	case models.EventNewlyOutOfStock:
		return fmt.Sprintf("OUT OF STOCK: %s at %s", productName(e), e.StoreID)
	case models.EventPriceChanged:
		return fmt.Sprintf("PRICE CHANGE: %s at %s (%s -> %s)",
			productName(e), e.StoreID, priceOf(e.Previous), priceOfSnapshot(e.Current))
	case models.EventNewProduct:
		return fmt.Sprintf("NEW PRODUCT: %s at %s", productName(e), e.StoreID)
	case models.EventNoLongerListed:
		return fmt.Sprintf("NO LONGER LISTED: %s at %s", productName(e), e.StoreID)
	case models.EventStoreUnreachable:
		return fmt.Sprintf("STORE UNREACHABLE: %s (%s)", e.StoreID, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Key)
}

func productName(e *models.StockEvent) string {
	if e.Current != nil && e.Current.Name != "" {
		return e.Current.Name
	}
	if e.Previous != nil && e.Previous.Name != "" {
		return e.Previous.Name
	}
	return e.Key.ExternalID
}

func productURL(e *models.StockEvent) string {
	if e.Current != nil && e.Current.URL != "" {
		return e.Current.URL
	}
	if e.Previous != nil {
		return e.Previous.URL
	}
	return ""
}

func priceOf(p *models.TrackedProduct) string {
	if p == nil || p.LastPrice == nil {
		return "?"
	}
	return "$" + p.LastPrice.StringFixed(2)
}

func priceOfSnapshot(s *models.ProductSnapshot) string {
	if s == nil || s.Price == nil {
		return "?"
	}
	return "$" + s.Price.StringFixed(2)
}
