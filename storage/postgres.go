package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"stockwatch/models"
)

// PostgresStore is the shared-deployment backend. Same contract as
// SQLiteStore minus the daemon command queue, which stays local.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tracked_products (
		store_id TEXT NOT NULL,
		external_id TEXT NOT NULL,
		name TEXT,
		url TEXT,
		last_stock TEXT NOT NULL DEFAULT 'unknown',
		last_price TEXT,
		last_checked_at TIMESTAMPTZ,
		first_tracked_at TIMESTAMPTZ,
		PRIMARY KEY (store_id, external_id)
	);

	CREATE TABLE IF NOT EXISTS store_stats (
		store_id TEXT PRIMARY KEY,
		last_scan_at TIMESTAMPTZ,
		last_scan_status TEXT,
		total_products INTEGER DEFAULT 0,
		consecutive_failures INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS scan_runs (
		id BIGSERIAL PRIMARY KEY,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		status TEXT,
		stores_requested INTEGER,
		stores_failed INTEGER,
		products_checked INTEGER,
		events_emitted INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_products_checked ON tracked_products(store_id, last_checked_at);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const pgProductColumns = `p.store_id, p.external_id, p.name, p.url, p.last_stock, p.last_price,
	p.last_checked_at, p.first_tracked_at, COALESCE(st.consecutive_failures, 0)`

func (s *PostgresStore) GetAll(ctx context.Context, storeID string) ([]models.TrackedProduct, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgProductColumns+`
		FROM tracked_products p
		LEFT JOIN store_stats st ON st.store_id = p.store_id
		WHERE p.store_id = $1
		ORDER BY p.external_id`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []models.TrackedProduct
	for rows.Next() {
		p, err := scanPgProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, key models.ProductKey) (*models.TrackedProduct, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgProductColumns+`
		FROM tracked_products p
		LEFT JOIN store_stats st ON st.store_id = p.store_id
		WHERE p.store_id = $1 AND p.external_id = $2`, key.StoreID, key.ExternalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return scanPgProduct(rows)
}

func scanPgProduct(rows pgx.Rows) (*models.TrackedProduct, error) {
	var p models.TrackedProduct
	var name, url, price *string
	var checked, tracked *time.Time

	err := rows.Scan(&p.StoreID, &p.ExternalID, &name, &url, &p.LastStock, &price,
		&checked, &tracked, &p.ConsecutiveFailures)
	if err != nil {
		return nil, err
	}

	if name != nil {
		p.Name = *name
	}
	if url != nil {
		p.URL = *url
	}
	if checked != nil {
		p.LastCheckedAt = *checked
	}
	if tracked != nil {
		p.FirstTrackedAt = *tracked
	}
	if price != nil {
		d, err := decimal.NewFromString(*price)
		if err != nil {
			return nil, fmt.Errorf("stored price %q: %w", *price, err)
		}
		p.LastPrice = &d
	}
	return &p, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, snap *models.ProductSnapshot) (*models.TrackedProduct, error) {
	var price *string
	if snap.Price != nil {
		v := snap.Price.String()
		price = &v
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO tracked_products
			(store_id, external_id, name, url, last_stock, last_price, last_checked_at, first_tracked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (store_id, external_id) DO UPDATE SET
			name = EXCLUDED.name,
			url = EXCLUDED.url,
			last_stock = EXCLUDED.last_stock,
			last_price = EXCLUDED.last_price,
			last_checked_at = EXCLUDED.last_checked_at`,
		snap.StoreID, snap.ExternalID, snap.Name, snap.URL, string(snap.Stock), price, snap.ObservedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", snap.Key(), err)
	}

	return s.Get(ctx, snap.Key())
}

func (s *PostgresStore) RecordFailure(ctx context.Context, storeID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO store_stats (store_id, last_scan_at, last_scan_status, consecutive_failures)
		VALUES ($1, NOW(), 'failed', 1)
		ON CONFLICT (store_id) DO UPDATE SET
			last_scan_at = NOW(),
			last_scan_status = 'failed',
			consecutive_failures = store_stats.consecutive_failures + 1
		RETURNING consecutive_failures`, storeID).Scan(&count)
	return count, err
}

func (s *PostgresStore) ResetFailures(ctx context.Context, storeID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO store_stats (store_id, last_scan_at, last_scan_status, consecutive_failures, total_products)
		VALUES ($1, NOW(), 'completed', 0,
			(SELECT COUNT(*) FROM tracked_products WHERE store_id = $1))
		ON CONFLICT (store_id) DO UPDATE SET
			last_scan_at = NOW(),
			last_scan_status = 'completed',
			consecutive_failures = 0,
			total_products = EXCLUDED.total_products`, storeID)
	return err
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.ScanRun) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO scan_runs (started_at, status, stores_requested, stores_failed, products_checked, events_emitted)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		run.StartedAt, string(run.Status), run.StoresRequested, run.StoresFailed,
		run.ProductsChecked, run.EventsEmitted).Scan(&id)
	return id, err
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.ScanRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scan_runs SET finished_at = $1, status = $2, stores_failed = $3,
			products_checked = $4, events_emitted = $5
		WHERE id = $6`,
		run.FinishedAt, string(run.Status), run.StoresFailed,
		run.ProductsChecked, run.EventsEmitted, run.ID)
	return err
}

func (s *PostgresStore) GetStale(ctx context.Context, olderThan time.Time, limit int) ([]models.TrackedProduct, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgProductColumns+`
		FROM tracked_products p
		LEFT JOIN store_stats st ON st.store_id = p.store_id
		WHERE p.last_checked_at < $1 AND p.url != ''
		ORDER BY p.last_checked_at ASC
		LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []models.TrackedProduct
	for rows.Next() {
		p, err := scanPgProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (s *PostgresStore) Touch(ctx context.Context, key models.ProductKey, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE tracked_products SET last_checked_at = $1 WHERE store_id = $2 AND external_id = $3`,
		at, key.StoreID, key.ExternalID)
	return err
}

func (s *PostgresStore) MarkUnknown(ctx context.Context, key models.ProductKey, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tracked_products SET last_stock = 'unknown', last_checked_at = $1
		WHERE store_id = $2 AND external_id = $3`,
		at, key.StoreID, key.ExternalID)
	return err
}
