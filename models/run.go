package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ScanRun is the bookkeeping row written for every scan invocation.
type ScanRun struct {
	ID              int64      `json:"id" db:"id"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time `json:"finished_at" db:"finished_at"`
	Status          RunStatus  `json:"status" db:"status"`
	StoresRequested int        `json:"stores_requested" db:"stores_requested"`
	StoresFailed    int        `json:"stores_failed" db:"stores_failed"`
	ProductsChecked int        `json:"products_checked" db:"products_checked"`
	EventsEmitted   int        `json:"events_emitted" db:"events_emitted"`
}

type StoreStats struct {
	StoreID             string     `json:"store_id" db:"store_id"`
	LastScanAt          *time.Time `json:"last_scan_at" db:"last_scan_at"`
	LastScanStatus      string     `json:"last_scan_status" db:"last_scan_status"`
	TotalProducts       int        `json:"total_products" db:"total_products"`
	ConsecutiveFailures int        `json:"consecutive_failures" db:"consecutive_failures"`
}
