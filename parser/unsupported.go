package parser

import (
	"context"

	"stockwatch/config"
	"stockwatch/httputil"
	"stockwatch/models"
)

// Unsupported stands in for stores we cannot scan: blocked ones
// (EB Games serves plain HTTP clients a challenge page) and stores whose
// variant has not been written yet. It always fails, so the engine
// treats these exactly like genuine outages instead of special-casing
// them.
type Unsupported struct {
	cfg  *config.StoreConfig
	kind ErrorKind
}

func NewUnsupported(cfg *config.StoreConfig) *Unsupported {
	kind := ErrNotImplemented
	if cfg.Status == config.StoreBlocked {
		kind = ErrBlocked
	}
	return &Unsupported{cfg: cfg, kind: kind}
}

func (p *Unsupported) ID() string { return p.cfg.ID }

func (p *Unsupported) ListsAvailableOnly() bool { return false }

func (p *Unsupported) Scrape(ctx context.Context, _ *httputil.Fetcher) ([]models.ProductSnapshot, error) {
	msg := "store variant not implemented"
	if p.kind == ErrBlocked {
		msg = "store blocks plain HTTP scraping"
	}
	return nil, &ParseError{StoreID: p.cfg.ID, Kind: p.kind, Msg: msg}
}
