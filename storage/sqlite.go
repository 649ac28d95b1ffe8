package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"stockwatch/models"
)

// SQLiteStore is the default local backend: tracked products, store
// stats, scan runs, logs and the daemon command queue in one WAL file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tracked_products (
		store_id TEXT NOT NULL,
		external_id TEXT NOT NULL,
		name TEXT,
		url TEXT,
		last_stock TEXT NOT NULL DEFAULT 'unknown',
		last_price TEXT,
		last_checked_at DATETIME,
		first_tracked_at DATETIME,
		PRIMARY KEY (store_id, external_id)
	);

	CREATE TABLE IF NOT EXISTS store_stats (
		store_id TEXT PRIMARY KEY,
		last_scan_at DATETIME,
		last_scan_status TEXT,
		total_products INTEGER DEFAULT 0,
		consecutive_failures INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS scan_runs (
		id INTEGER PRIMARY KEY,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		stores_requested INTEGER,
		stores_failed INTEGER,
		products_checked INTEGER,
		events_emitted INTEGER
	);

	CREATE TABLE IF NOT EXISTS scan_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		store_id TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_products_checked ON tracked_products(store_id, last_checked_at);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scan_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON scan_runs(status, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

const productColumns = `p.store_id, p.external_id, p.name, p.url, p.last_stock, p.last_price,
	p.last_checked_at, p.first_tracked_at, COALESCE(st.consecutive_failures, 0)`

func (s *SQLiteStore) GetAll(ctx context.Context, storeID string) ([]models.TrackedProduct, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM tracked_products p
		LEFT JOIN store_stats st ON st.store_id = p.store_id
		WHERE p.store_id = ?
		ORDER BY p.external_id`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []models.TrackedProduct
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, key models.ProductKey) (*models.TrackedProduct, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM tracked_products p
		LEFT JOIN store_stats st ON st.store_id = p.store_id
		WHERE p.store_id = ? AND p.external_id = ?`, key.StoreID, key.ExternalID)

	p, err := scanProduct(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func scanProduct(scan func(...any) error) (*models.TrackedProduct, error) {
	var p models.TrackedProduct
	var name, url, price sql.NullString
	var checked, tracked sql.NullTime

	err := scan(&p.StoreID, &p.ExternalID, &name, &url, &p.LastStock, &price,
		&checked, &tracked, &p.ConsecutiveFailures)
	if err != nil {
		return nil, err
	}

	p.Name = name.String
	p.URL = url.String
	p.LastCheckedAt = checked.Time
	p.FirstTrackedAt = tracked.Time
	if price.Valid {
		d, err := decimal.NewFromString(price.String)
		if err != nil {
			return nil, fmt.Errorf("stored price %q: %w", price.String, err)
		}
		p.LastPrice = &d
	}
	return &p, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, snap *models.ProductSnapshot) (*models.TrackedProduct, error) {
	var price any
	if snap.Price != nil {
		price = snap.Price.String()
	}

	// Single-statement upsert keeps the per-key write atomic under
	// concurrent scans.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_products
			(store_id, external_id, name, url, last_stock, last_price, last_checked_at, first_tracked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(store_id, external_id) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			last_stock = excluded.last_stock,
			last_price = excluded.last_price,
			last_checked_at = excluded.last_checked_at`,
		snap.StoreID, snap.ExternalID, snap.Name, snap.URL, string(snap.Stock), price,
		snap.ObservedAt, snap.ObservedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", snap.Key(), err)
	}

	return s.Get(ctx, snap.Key())
}

func (s *SQLiteStore) RecordFailure(ctx context.Context, storeID string) (int, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_stats (store_id, last_scan_at, last_scan_status, consecutive_failures)
		VALUES (?, ?, 'failed', 1)
		ON CONFLICT(store_id) DO UPDATE SET
			last_scan_at = excluded.last_scan_at,
			last_scan_status = 'failed',
			consecutive_failures = store_stats.consecutive_failures + 1`,
		storeID, time.Now())
	if err != nil {
		return 0, err
	}

	var count int
	err = s.db.QueryRowContext(ctx,
		`SELECT consecutive_failures FROM store_stats WHERE store_id = ?`, storeID).Scan(&count)
	return count, err
}

func (s *SQLiteStore) ResetFailures(ctx context.Context, storeID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_stats (store_id, last_scan_at, last_scan_status, consecutive_failures, total_products)
		VALUES (?, ?, 'completed', 0,
			(SELECT COUNT(*) FROM tracked_products WHERE store_id = ?))
		ON CONFLICT(store_id) DO UPDATE SET
			last_scan_at = excluded.last_scan_at,
			last_scan_status = 'completed',
			consecutive_failures = 0,
			total_products = excluded.total_products`,
		storeID, time.Now(), storeID)
	return err
}

func (s *SQLiteStore) GetStoreStats(ctx context.Context, storeID string) (*models.StoreStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT store_id, last_scan_at, last_scan_status, total_products, consecutive_failures
		FROM store_stats WHERE store_id = ?`, storeID)

	var st models.StoreStats
	var at sql.NullTime
	var status sql.NullString
	err := row.Scan(&st.StoreID, &at, &status, &st.TotalProducts, &st.ConsecutiveFailures)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if at.Valid {
		st.LastScanAt = &at.Time
	}
	st.LastScanStatus = status.String
	return &st, nil
}

// =========================================================================
// Scan runs and logs
// =========================================================================

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.ScanRun) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_runs (started_at, status, stores_requested, stores_failed, products_checked, events_emitted)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.StartedAt, string(run.Status), run.StoresRequested, run.StoresFailed,
		run.ProductsChecked, run.EventsEmitted)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.ScanRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scan_runs SET finished_at = ?, status = ?, stores_failed = ?,
			products_checked = ?, events_emitted = ?
		WHERE id = ?`,
		run.FinishedAt, string(run.Status), run.StoresFailed,
		run.ProductsChecked, run.EventsEmitted, run.ID)
	return err
}

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message, storeID string) {
	s.db.Exec(`INSERT INTO scan_logs (run_id, timestamp, level, message, store_id) VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), string(level), message, storeID)
}

// =========================================================================
// Healthcheck support
// =========================================================================

func (s *SQLiteStore) GetStale(ctx context.Context, olderThan time.Time, limit int) ([]models.TrackedProduct, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM tracked_products p
		LEFT JOIN store_stats st ON st.store_id = p.store_id
		WHERE p.last_checked_at < ? AND p.url != ''
		ORDER BY p.last_checked_at ASC
		LIMIT ?`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []models.TrackedProduct
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (s *SQLiteStore) Touch(ctx context.Context, key models.ProductKey, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tracked_products SET last_checked_at = ? WHERE store_id = ? AND external_id = ?`,
		at, key.StoreID, key.ExternalID)
	return err
}

func (s *SQLiteStore) MarkUnknown(ctx context.Context, key models.ProductKey, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tracked_products SET last_stock = 'unknown', last_checked_at = ?
		WHERE store_id = ? AND external_id = ?`,
		at, key.StoreID, key.ExternalID)
	return err
}

// =========================================================================
// Daemon command queue
// =========================================================================

func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params *models.CommandParams) error {
	var raw []byte
	if params != nil {
		raw, _ = json.Marshal(params)
	}
	_, err := s.db.Exec(`INSERT INTO commands (command, params) VALUES (?, ?)`, string(cmd), raw)
	return err
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, COALESCE(params, '{}'), created_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params string
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt); err != nil {
			return nil, err
		}
		cmd.Params = []byte(params)
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func (s *SQLiteStore) ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	params := &models.CommandParams{}
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, params); err != nil {
			return nil, fmt.Errorf("command %d params: %w", cmd.ID, err)
		}
	}
	return params, nil
}
