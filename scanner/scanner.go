// Package scanner orchestrates scans: it drives fetch, parse, diff and
// persist for every requested store, isolating each store's failures so
// a scan always completes with a result.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"stockwatch/detector"
	"stockwatch/httputil"
	"stockwatch/models"
	"stockwatch/parser"
	"stockwatch/storage"
)

// ErrUnknownStore marks a caller-input bug: a store id with no parser
// variant. Raised before any fetch is attempted, unlike runtime store
// failures which become result entries.
var ErrUnknownStore = errors.New("unknown store")

const (
	DefaultTimeout     = 2 * time.Minute
	DefaultConcurrency = 4
	DefaultMaxRetries  = 3
)

// Options tune one scan. Zero values fall back to defaults.
type Options struct {
	Timeout     time.Duration
	MaxRetries  int
	Concurrency int
}

func (o Options) withDefaults() Options {
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Concurrency == 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

func (o Options) validate() error {
	if o.Timeout < 0 {
		return fmt.Errorf("invalid options: negative timeout")
	}
	if o.MaxRetries < 0 {
		return fmt.Errorf("invalid options: negative max retries")
	}
	if o.Concurrency < 0 {
		return fmt.Errorf("invalid options: negative concurrency")
	}
	return nil
}

// Archiver stores raw bodies of unparseable responses; optional.
type Archiver interface {
	Archive(ctx context.Context, storeID string, body []byte) (string, error)
}

// Notifier receives the events of scheduled scans; optional.
type Notifier interface {
	Notify(ctx context.Context, events []models.StockEvent) error
}

// Coordinator owns the scan pipeline. Stores are scanned concurrently
// with independent lifecycles; within a store, requests stay sequential
// so the fetcher's per-host politeness holds.
type Coordinator struct {
	fetcher  *httputil.Fetcher
	store    storage.ProductStore
	parsers  map[string]parser.Parser
	runs     storage.RunStore
	archiver Archiver
	notifier Notifier

	mu     sync.Mutex
	paused bool
}

func New(fetcher *httputil.Fetcher, store storage.ProductStore, parsers map[string]parser.Parser) *Coordinator {
	return &Coordinator{
		fetcher: fetcher,
		store:   store,
		parsers: parsers,
	}
}

func (c *Coordinator) SetRunStore(runs storage.RunStore) { c.runs = runs }
func (c *Coordinator) SetArchiver(archiver Archiver)     { c.archiver = archiver }
func (c *Coordinator) SetNotifier(notifier Notifier)     { c.notifier = notifier }

// StoreIDs lists every store the coordinator can scan.
func (c *Coordinator) StoreIDs() []string {
	ids := make([]string, 0, len(c.parsers))
	for id := range c.parsers {
		ids = append(ids, id)
	}
	return ids
}

// RunScan scans the requested stores and always returns a result; the
// only errors it returns are caller-input ones raised before any work
// starts. Per-store failures never abort the scan.
func (c *Coordinator) RunScan(ctx context.Context, storeIDs []string, opts Options) (*models.ScanResult, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	for _, id := range storeIDs {
		if _, ok := c.parsers[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStore, id)
		}
	}
	opts = opts.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	fetcher := c.fetcher.WithRetries(opts.MaxRetries)

	outcomes := make(map[string]*storeOutcome, len(storeIDs))
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(opts.Concurrency)

	started := time.Now()
	for _, id := range storeIDs {
		id := id
		g.Go(func() error {
			outcome := c.scanStore(ctx, fetcher, id)
			mu.Lock()
			outcomes[id] = outcome
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	result := &models.ScanResult{StartedAt: started, FinishedAt: time.Now()}
	for _, id := range storeIDs {
		outcome := outcomes[id]
		result.Events = append(result.Events, outcome.events...)
		result.Errors = append(result.Errors, outcome.errors...)
		result.ProductsChecked += outcome.checked
		if outcome.failed {
			result.StoresFailed++
		} else {
			result.StoresSucceeded++
		}
	}
	return result, nil
}

type storeOutcome struct {
	events  []models.StockEvent
	errors  []models.StoreError
	checked int
	failed  bool
}

func (c *Coordinator) scanStore(ctx context.Context, fetcher *httputil.Fetcher, storeID string) *storeOutcome {
	p := c.parsers[storeID]

	snapshots, err := p.Scrape(ctx, fetcher)
	if err != nil {
		return c.failStore(ctx, storeID, err)
	}

	snapshots = detector.DedupeSnapshots(snapshots)
	log.Printf("[%s] parsed %d products", storeID, len(snapshots))

	previous, err := c.store.GetAll(ctx, storeID)
	if err != nil {
		// Cannot diff without the prior state; the store's rows stay
		// untouched.
		return &storeOutcome{
			errors: []models.StoreError{{StoreID: storeID, Kind: models.FailurePersistence, Reason: err.Error()}},
			failed: true,
		}
	}

	events := detector.DetectBatch(previous, snapshots, p.ListsAvailableOnly())

	outcome := &storeOutcome{events: events, checked: len(snapshots)}
	c.persist(ctx, storeID, snapshots, outcome)
	return outcome
}

// failStore turns a fetch or parse failure into a single
// STORE_UNREACHABLE event plus an error entry. No product row is
// touched: stale state is never overwritten with absence of data.
func (c *Coordinator) failStore(ctx context.Context, storeID string, cause error) *storeOutcome {
	kind, reason := classifyFailure(cause)
	log.Printf("[%s] scan failed (%s): %s", storeID, kind, reason)

	var parseErr *parser.ParseError
	if c.archiver != nil && errors.As(cause, &parseErr) && len(parseErr.Raw) > 0 {
		if key, err := c.archiver.Archive(ctx, storeID, parseErr.Raw); err != nil {
			log.Printf("[%s] archive failed: %v", storeID, err)
		} else {
			log.Printf("[%s] raw response archived as %s", storeID, key)
		}
	}

	if _, err := c.store.RecordFailure(ctx, storeID); err != nil {
		log.Printf("[%s] record failure: %v", storeID, err)
	}

	event := models.NewStockEvent(models.EventStoreUnreachable, storeID, models.ProductKey{StoreID: storeID}, nil, nil)
	event.Reason = reason

	return &storeOutcome{
		events: []models.StockEvent{event},
		errors: []models.StoreError{{StoreID: storeID, Kind: kind, Reason: reason}},
		failed: true,
	}
}

func classifyFailure(err error) (models.FailureKind, string) {
	var fetchErr *httputil.FetchError
	if errors.As(err, &fetchErr) {
		kind := models.FailureTransient
		if fetchErr.Kind == httputil.FailurePermanent {
			kind = models.FailurePermanent
		}
		if fetchErr.Status != 0 {
			return kind, fmt.Sprintf("%d", fetchErr.Status)
		}
		return kind, fetchErr.Error()
	}

	var parseErr *parser.ParseError
	if errors.As(err, &parseErr) {
		return models.FailureParse, fmt.Sprintf("%s: %s", parseErr.Kind, parseErr.Msg)
	}

	return models.FailureTransient, err.Error()
}

// persist writes the batch through the product store. Events whose key
// failed to persist are flagged rather than dropped, so notification can
// still fire and the caller decides retry policy.
func (c *Coordinator) persist(ctx context.Context, storeID string, snapshots []models.ProductSnapshot, outcome *storeOutcome) {
	failedKeys := make(map[models.ProductKey]bool)
	var firstErr error

	for i := range snapshots {
		if _, err := c.store.Upsert(ctx, &snapshots[i]); err != nil {
			failedKeys[snapshots[i].Key()] = true
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	// Products that vanished from an availability-only page get their
	// rows conservatively downgraded to unknown.
	now := time.Now()
	for i := range outcome.events {
		e := &outcome.events[i]
		if e.Kind != models.EventNoLongerListed || e.Previous == nil {
			continue
		}
		gone := models.ProductSnapshot{
			StoreID:    e.Previous.StoreID,
			ExternalID: e.Previous.ExternalID,
			Name:       e.Previous.Name,
			URL:        e.Previous.URL,
			Price:      e.Previous.LastPrice,
			Stock:      models.StockUnknown,
			ObservedAt: now,
		}
		if _, err := c.store.Upsert(ctx, &gone); err != nil {
			failedKeys[gone.Key()] = true
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr == nil {
		if err := c.store.ResetFailures(ctx, storeID); err != nil {
			log.Printf("[%s] reset failures: %v", storeID, err)
		}
		return
	}

	for i := range outcome.events {
		if failedKeys[outcome.events[i].Key] {
			outcome.events[i].Unpersisted = true
		}
	}
	outcome.errors = append(outcome.errors, models.StoreError{
		StoreID: storeID,
		Kind:    models.FailurePersistence,
		Reason:  firstErr.Error(),
	})
}
