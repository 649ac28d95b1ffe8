package parser

import (
	"context"
	"fmt"

	"stockwatch/config"
	"stockwatch/httputil"
	"stockwatch/models"
)

type ErrorKind string

const (
	// ErrMalformed means the page loaded but the markup was not
	// recognized: the store changed its layout and the variant needs
	// maintenance. Distinct from a legitimately empty product list.
	ErrMalformed      ErrorKind = "malformed"
	ErrNotImplemented ErrorKind = "not_implemented"
	ErrBlocked        ErrorKind = "blocked"
)

type ParseError struct {
	StoreID string
	Kind    ErrorKind
	Msg     string

	// Raw is the response body that failed to parse, kept for archiving
	// and offline diagnosis. Nil when the failure predates the fetch.
	Raw []byte
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s (%s): %s", e.StoreID, e.Kind, e.Msg)
}

// Parser is the per-store scraping strategy. A variant owns its request
// template and its parse logic; the engine owns fetching, retry, diffing
// and persistence. Adding a store means adding a variant here, nothing
// else.
type Parser interface {
	ID() string

	// ListsAvailableOnly reports whether the store's page carries only
	// purchasable items, in which case absence from the page is
	// meaningful (no-longer-listed) and out-of-stock is never inferred.
	ListsAvailableOnly() bool

	// Scrape fetches and normalizes the store's product list. An empty
	// list is a valid result (page loaded, nothing matched); errors are
	// either *httputil.FetchError or *ParseError.
	Scrape(ctx context.Context, f *httputil.Fetcher) ([]models.ProductSnapshot, error)
}

// New selects the variant for a store config the same way the handler
// string picks scrapers in the site configs: blocked or unimplemented
// stores get a variant that always fails with a structural reason.
func New(cfg *config.StoreConfig, fallbackDelayMS int) Parser {
	if cfg.Status != config.StoreActive {
		return NewUnsupported(cfg)
	}

	switch cfg.Handler {
	case "shopify":
		return NewShopify(cfg, fallbackDelayMS)
	case "collection":
		return NewCollection(cfg, fallbackDelayMS)
	default:
		return &Unsupported{cfg: cfg, kind: ErrNotImplemented}
	}
}

// FromConfig builds the full parser set for a loaded configuration.
func FromConfig(cfg *config.Config) map[string]Parser {
	parsers := make(map[string]Parser, len(cfg.Stores))
	for id, store := range cfg.Stores {
		parsers[id] = New(store, cfg.Scanner.DelayMS)
	}
	return parsers
}
