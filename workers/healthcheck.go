package workers

import (
	"context"
	"errors"
	"log"
	"time"

	"stockwatch/httputil"
	"stockwatch/storage"
)

// HealthcheckWorker re-probes products that no scan has touched recently.
// A product can go stale when its store page stops listing it (common on
// availability-only collection pages) while its product URL stays live,
// or when the whole store has been failing. The worker distinguishes the
// two: a dead product URL downgrades the row to unknown, a live one just
// refreshes the check timestamp.
type HealthcheckWorker struct {
	store     storage.HealthStore
	fetcher   *httputil.Fetcher
	triggerCh chan struct{}
}

func NewHealthcheckWorker(store storage.HealthStore, fetcher *httputil.Fetcher) *HealthcheckWorker {
	return &HealthcheckWorker{
		store: store,
		// Probes are best-effort, one attempt each.
		fetcher:   fetcher.WithRetries(0),
		triggerCh: make(chan struct{}, 1),
	}
}

// Trigger causes the worker to run a batch immediately.
func (w *HealthcheckWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run starts the worker loop. staleAfter is how long a product may go
// unchecked before it is probed; batchSize bounds work per pass.
func (w *HealthcheckWorker) Run(ctx context.Context, staleAfter time.Duration, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Healthcheck worker stopping")
			return
		case <-ticker.C:
			w.processBatch(ctx, staleAfter, batchSize)
		case <-w.triggerCh:
			log.Println("Healthcheck worker triggered manually")
			w.processBatch(ctx, staleAfter, batchSize)
		}
	}
}

func (w *HealthcheckWorker) processBatch(ctx context.Context, staleAfter time.Duration, batchSize int) {
	cutoff := time.Now().Add(-staleAfter)

	products, err := w.store.GetStale(ctx, cutoff, batchSize)
	if err != nil {
		log.Printf("Healthcheck: query error: %v", err)
		return
	}
	if len(products) == 0 {
		return
	}

	log.Printf("Healthcheck: probing %d stale products", len(products))

	var checked, downgraded int
	for i := range products {
		p := &products[i]
		if p.URL == "" {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		checked++
		now := time.Now()

		switch w.probe(ctx, p.URL) {
		case probeGone:
			log.Printf("Healthcheck: %s no longer resolves, marking unknown", p.Key())
			if err := w.store.MarkUnknown(ctx, p.Key(), now); err != nil {
				log.Printf("Healthcheck: mark unknown failed for %s: %v", p.Key(), err)
			} else {
				downgraded++
			}
		case probeLive:
			if err := w.store.Touch(ctx, p.Key(), now); err != nil {
				log.Printf("Healthcheck: touch failed for %s: %v", p.Key(), err)
			}
		case probeInconclusive:
			// Network trouble tells us nothing about the product.
		}
	}

	if downgraded > 0 {
		log.Printf("Healthcheck: checked %d, downgraded %d to unknown", checked, downgraded)
	}
}

type probeResult int

const (
	probeLive probeResult = iota
	probeGone
	probeInconclusive
)

func (w *HealthcheckWorker) probe(ctx context.Context, productURL string) probeResult {
	_, err := w.fetcher.Fetch(ctx, httputil.Request{URL: productURL, Method: "HEAD"})
	if err == nil {
		return probeLive
	}

	var fe *httputil.FetchError
	if errors.As(err, &fe) && fe.Kind == httputil.FailurePermanent {
		if fe.Status == 404 || fe.Status == 410 {
			return probeGone
		}
		// Blocked or forbidden says nothing about the listing itself.
		return probeInconclusive
	}
	return probeInconclusive
}
