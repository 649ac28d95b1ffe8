package storage

import (
	"context"
	"time"

	"stockwatch/models"
)

// ProductStore is the persistence boundary for tracked products. Writes
// are scoped to one product key and must be atomic per key; re-applying
// the same snapshot is a no-op for stored state.
type ProductStore interface {
	// GetAll returns the current known state for a store.
	GetAll(ctx context.Context, storeID string) ([]models.TrackedProduct, error)

	// Get returns one tracked product, nil when the key is unknown.
	Get(ctx context.Context, key models.ProductKey) (*models.TrackedProduct, error)

	// Upsert creates or updates the record for the snapshot's key and
	// returns the stored state.
	Upsert(ctx context.Context, snap *models.ProductSnapshot) (*models.TrackedProduct, error)

	// RecordFailure increments the store's consecutive failure counter
	// without touching any product row, returning the new count.
	RecordFailure(ctx context.Context, storeID string) (int, error)

	// ResetFailures zeroes the counter after a fully successful scan.
	ResetFailures(ctx context.Context, storeID string) error
}

// RunStore persists per-scan bookkeeping rows.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.ScanRun) (int64, error)
	UpdateRun(ctx context.Context, run *models.ScanRun) error
}

// HealthStore supports the background re-probe of stale products.
type HealthStore interface {
	// GetStale returns tracked products not checked since the cutoff,
	// oldest first.
	GetStale(ctx context.Context, olderThan time.Time, limit int) ([]models.TrackedProduct, error)

	// Touch bumps last_checked_at without changing observed state.
	Touch(ctx context.Context, key models.ProductKey, at time.Time) error

	// MarkUnknown conservatively downgrades a product whose page is gone.
	MarkUnknown(ctx context.Context, key models.ProductKey, at time.Time) error
}

var (
	_ ProductStore = (*SQLiteStore)(nil)
	_ ProductStore = (*PostgresStore)(nil)
	_ ProductStore = (*MemoryStore)(nil)

	_ RunStore = (*SQLiteStore)(nil)
	_ RunStore = (*PostgresStore)(nil)
	_ RunStore = (*MemoryStore)(nil)

	_ HealthStore = (*SQLiteStore)(nil)
	_ HealthStore = (*PostgresStore)(nil)
	_ HealthStore = (*MemoryStore)(nil)
)
