package scanner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockwatch/httputil"
	"stockwatch/models"
	"stockwatch/parser"
	"stockwatch/storage"
)

// fakeParser returns canned snapshots or a canned error.
type fakeParser struct {
	id            string
	availableOnly bool
	snapshots     []models.ProductSnapshot
	err           error
}

func (p *fakeParser) ID() string               { return p.id }
func (p *fakeParser) ListsAvailableOnly() bool { return p.availableOnly }

func (p *fakeParser) Scrape(ctx context.Context, _ *httputil.Fetcher) ([]models.ProductSnapshot, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.snapshots, nil
}

func snap(storeID, externalID string, stock models.StockStatus, priceStr string) models.ProductSnapshot {
	s := models.ProductSnapshot{
		StoreID:    storeID,
		ExternalID: externalID,
		Name:       externalID,
		Stock:      stock,
		URL:        "https://" + storeID + ".example/products/" + externalID,
		ObservedAt: time.Now(),
	}
	if priceStr != "" {
		d := decimal.RequireFromString(priceStr)
		s.Price = &d
	}
	return s
}

func newCoordinator(store storage.ProductStore, parsers ...parser.Parser) *Coordinator {
	m := make(map[string]parser.Parser, len(parsers))
	for _, p := range parsers {
		m[p.ID()] = p
	}
	return New(httputil.NewFetcher(), store, m)
}

func TestRunScanUnknownStore(t *testing.T) {
	c := newCoordinator(storage.NewMemoryStore(), &fakeParser{id: "novagames_nz"})

	_, err := c.RunScan(context.Background(), []string{"novagames_nz", "no_such_store"}, Options{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownStore)
}

func TestRunScanInvalidOptions(t *testing.T) {
	c := newCoordinator(storage.NewMemoryStore(), &fakeParser{id: "novagames_nz"})

	_, err := c.RunScan(context.Background(), []string{"novagames_nz"}, Options{Concurrency: -1})
	require.Error(t, err)
}

func TestRunScanEmptyBatchIsSuccess(t *testing.T) {
	store := storage.NewMemoryStore()
	c := newCoordinator(store, &fakeParser{id: "novagames_nz"})

	result, err := c.RunScan(context.Background(), []string{"novagames_nz"}, Options{})
	require.NoError(t, err)

	assert.Empty(t, result.Events)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, result.StoresSucceeded)
	assert.Zero(t, result.StoresFailed)
}

func TestRunScanDiscoversAndPersists(t *testing.T) {
	store := storage.NewMemoryStore()
	c := newCoordinator(store, &fakeParser{
		id: "novagames_nz",
		snapshots: []models.ProductSnapshot{
			snap("novagames_nz", "surging-sparks-etb", models.StockInStock, "89.99"),
			snap("novagames_nz", "151-booster-bundle", models.StockOutOfStock, "69.99"),
		},
	})

	result, err := c.RunScan(context.Background(), []string{"novagames_nz"}, Options{})
	require.NoError(t, err)

	require.Len(t, result.Events, 2)
	for _, e := range result.Events {
		assert.Equal(t, models.EventNewProduct, e.Kind)
		assert.False(t, e.Unpersisted)
	}
	assert.Equal(t, 2, result.ProductsChecked)

	stored, err := store.Get(context.Background(), models.ProductKey{StoreID: "novagames_nz", ExternalID: "surging-sparks-etb"})
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.StockInStock, stored.LastStock)
}

func TestRunScanRestockDetected(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	prior := snap("novagames_nz", "surging-sparks-etb", models.StockOutOfStock, "89.99")
	_, err := store.Upsert(ctx, &prior)
	require.NoError(t, err)

	c := newCoordinator(store, &fakeParser{
		id:        "novagames_nz",
		snapshots: []models.ProductSnapshot{snap("novagames_nz", "surging-sparks-etb", models.StockInStock, "89.99")},
	})

	result, err := c.RunScan(ctx, []string{"novagames_nz"}, Options{})
	require.NoError(t, err)

	require.Len(t, result.Events, 1)
	assert.Equal(t, models.EventNewlyInStock, result.Events[0].Kind)
}

func TestRunScanPartialFailureIsolation(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	existing := snap("ebgames_nz", "scarlet-violet-etb", models.StockInStock, "94.99")
	_, err := store.Upsert(ctx, &existing)
	require.NoError(t, err)

	blocked := &fakeParser{
		id:  "ebgames_nz",
		err: &httputil.FetchError{Kind: httputil.FailurePermanent, Status: 403},
	}
	healthy := &fakeParser{
		id:        "novagames_nz",
		snapshots: []models.ProductSnapshot{snap("novagames_nz", "surging-sparks-etb", models.StockInStock, "89.99")},
	}

	c := newCoordinator(store, blocked, healthy)

	result, err := c.RunScan(ctx, []string{"ebgames_nz", "novagames_nz"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.StoresSucceeded)
	assert.Equal(t, 1, result.StoresFailed)

	// The blocked store contributes one unreachable event and an error
	// entry carrying the status code.
	blockedEvents := result.EventsForStore("ebgames_nz")
	require.Len(t, blockedEvents, 1)
	assert.Equal(t, models.EventStoreUnreachable, blockedEvents[0].Kind)
	assert.Equal(t, "403", blockedEvents[0].Reason)

	require.Len(t, result.Errors, 1, "exactly one error entry for the failed store")
	storeErr := result.ErrorFor("ebgames_nz")
	require.NotNil(t, storeErr)
	assert.Equal(t, models.FailurePermanent, storeErr.Kind)

	// The healthy store's events are unaffected.
	require.Len(t, result.EventsForStore("novagames_nz"), 1)

	// Failed fetch must not touch existing rows but does bump the
	// store's failure counter.
	kept, err := store.Get(ctx, existing.Key())
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, models.StockInStock, kept.LastStock)
	assert.Equal(t, 1, kept.ConsecutiveFailures)
}

func TestRunScanParseFailureArchivesBody(t *testing.T) {
	store := storage.NewMemoryStore()
	archiver := &fakeArchiver{}

	c := newCoordinator(store, &fakeParser{
		id: "cardmerchant_nz",
		err: &parser.ParseError{
			StoreID: "cardmerchant_nz",
			Kind:    parser.ErrMalformed,
			Msg:     "no items matched",
			Raw:     []byte("<html>redesigned</html>"),
		},
	})
	c.SetArchiver(archiver)

	result, err := c.RunScan(context.Background(), []string{"cardmerchant_nz"}, Options{})
	require.NoError(t, err)

	storeErr := result.ErrorFor("cardmerchant_nz")
	require.NotNil(t, storeErr)
	assert.Equal(t, models.FailureParse, storeErr.Kind)

	require.Len(t, archiver.bodies, 1)
	assert.Equal(t, "<html>redesigned</html>", string(archiver.bodies[0]))
}

func TestRunScanSuccessResetsFailures(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_, err := store.RecordFailure(ctx, "novagames_nz")
	require.NoError(t, err)

	c := newCoordinator(store, &fakeParser{
		id:        "novagames_nz",
		snapshots: []models.ProductSnapshot{snap("novagames_nz", "surging-sparks-etb", models.StockInStock, "89.99")},
	})

	_, err = c.RunScan(ctx, []string{"novagames_nz"}, Options{})
	require.NoError(t, err)

	stored, err := store.Get(ctx, models.ProductKey{StoreID: "novagames_nz", ExternalID: "surging-sparks-etb"})
	require.NoError(t, err)
	assert.Zero(t, stored.ConsecutiveFailures)
}

func TestRunScanNoLongerListedDowngradesRow(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	prior := snap("goblingames_nz", "surging-sparks-etb", models.StockInStock, "89.99")
	_, err := store.Upsert(ctx, &prior)
	require.NoError(t, err)

	c := newCoordinator(store, &fakeParser{id: "goblingames_nz", availableOnly: true})

	result, err := c.RunScan(ctx, []string{"goblingames_nz"}, Options{})
	require.NoError(t, err)

	require.Len(t, result.Events, 1)
	assert.Equal(t, models.EventNoLongerListed, result.Events[0].Kind)

	stored, err := store.Get(ctx, prior.Key())
	require.NoError(t, err)
	assert.Equal(t, models.StockUnknown, stored.LastStock)
	// Name, URL and last price survive the downgrade.
	assert.Equal(t, prior.Name, stored.Name)
	assert.Equal(t, prior.URL, stored.URL)
	require.NotNil(t, stored.LastPrice)
	assert.True(t, stored.LastPrice.Equal(*prior.Price))
}

func TestRunScanPersistenceFailureFlagsEvents(t *testing.T) {
	store := &flakyStore{ProductStore: storage.NewMemoryStore(), failKeys: map[string]bool{"151-booster-bundle": true}}

	c := newCoordinator(store, &fakeParser{
		id: "novagames_nz",
		snapshots: []models.ProductSnapshot{
			snap("novagames_nz", "surging-sparks-etb", models.StockInStock, "89.99"),
			snap("novagames_nz", "151-booster-bundle", models.StockInStock, "69.99"),
		},
	})

	result, err := c.RunScan(context.Background(), []string{"novagames_nz"}, Options{})
	require.NoError(t, err)

	// The scrape itself worked, so the store still counts as succeeded,
	// but the result carries a persistence error entry.
	assert.Equal(t, 1, result.StoresSucceeded)
	storeErr := result.ErrorFor("novagames_nz")
	require.NotNil(t, storeErr)
	assert.Equal(t, models.FailurePersistence, storeErr.Kind)

	require.Len(t, result.Events, 2)
	for _, e := range result.Events {
		if e.Key.ExternalID == "151-booster-bundle" {
			assert.True(t, e.Unpersisted, "event for failed key must be flagged")
		} else {
			assert.False(t, e.Unpersisted)
		}
	}
}

func TestRunScanDuplicateSnapshotsCollapsed(t *testing.T) {
	store := storage.NewMemoryStore()
	c := newCoordinator(store, &fakeParser{
		id: "novagames_nz",
		snapshots: []models.ProductSnapshot{
			snap("novagames_nz", "surging-sparks-etb", models.StockOutOfStock, "89.99"),
			snap("novagames_nz", "surging-sparks-etb", models.StockInStock, "89.99"),
		},
	})

	result, err := c.RunScan(context.Background(), []string{"novagames_nz"}, Options{})
	require.NoError(t, err)

	require.Len(t, result.Events, 1)
	assert.Equal(t, 1, result.ProductsChecked)

	stored, err := store.Get(context.Background(), models.ProductKey{StoreID: "novagames_nz", ExternalID: "surging-sparks-etb"})
	require.NoError(t, err)
	assert.Equal(t, models.StockInStock, stored.LastStock, "last snapshot wins")
}

type fakeArchiver struct {
	bodies [][]byte
}

func (a *fakeArchiver) Archive(_ context.Context, storeID string, body []byte) (string, error) {
	a.bodies = append(a.bodies, body)
	return "raw/" + storeID + "/test.html", nil
}

// flakyStore fails Upsert for selected external ids.
type flakyStore struct {
	storage.ProductStore
	failKeys map[string]bool
}

func (s *flakyStore) Upsert(ctx context.Context, snap *models.ProductSnapshot) (*models.TrackedProduct, error) {
	if s.failKeys[snap.ExternalID] {
		return nil, fmt.Errorf("disk full")
	}
	return s.ProductStore.Upsert(ctx, snap)
}

func TestClassifyFailure(t *testing.T) {
	kind, reason := classifyFailure(&httputil.FetchError{Kind: httputil.FailureTransient, Status: 503})
	assert.Equal(t, models.FailureTransient, kind)
	assert.Equal(t, "503", reason)

	kind, _ = classifyFailure(&parser.ParseError{Kind: parser.ErrBlocked, Msg: "store blocked"})
	assert.Equal(t, models.FailureParse, kind)

	kind, _ = classifyFailure(errors.New("boom"))
	assert.Equal(t, models.FailureTransient, kind)
}
