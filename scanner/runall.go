package scanner

import (
	"context"
	"log"
	"sort"
	"time"

	"stockwatch/models"
)

// RunAll scans every configured store with default options, writes the
// run record, and hands events to the notifier. This is the entry point
// for scheduled and command-triggered runs; RunScan stays the library
// API for callers that want the raw result.
func (c *Coordinator) RunAll(ctx context.Context) (*models.ScanResult, error) {
	if c.IsPaused() {
		log.Println("Scanner is paused, skipping run")
		return nil, nil
	}

	storeIDs := c.StoreIDs()
	sort.Strings(storeIDs)
	return c.runAndRecord(ctx, storeIDs)
}

// RunStore scans a single store, used by the scan_store command.
func (c *Coordinator) RunStore(ctx context.Context, storeID string) (*models.ScanResult, error) {
	return c.runAndRecord(ctx, []string{storeID})
}

func (c *Coordinator) runAndRecord(ctx context.Context, storeIDs []string) (*models.ScanResult, error) {
	run := &models.ScanRun{
		StartedAt:       time.Now(),
		Status:          models.RunStatusRunning,
		StoresRequested: len(storeIDs),
	}
	if c.runs != nil {
		id, err := c.runs.CreateRun(ctx, run)
		if err != nil {
			log.Printf("Warning: failed to create run record: %v", err)
		} else {
			run.ID = id
		}
	}

	result, err := c.RunScan(ctx, storeIDs, Options{})
	if err != nil {
		c.finishRun(ctx, run, models.RunStatusFailed)
		return nil, err
	}

	run.StoresFailed = result.StoresFailed
	run.ProductsChecked = result.ProductsChecked
	run.EventsEmitted = len(result.Events)

	status := models.RunStatusCompleted
	if result.StoresSucceeded == 0 && result.StoresFailed > 0 {
		status = models.RunStatusFailed
	}
	c.finishRun(ctx, run, status)

	log.Printf("Scan done: %d products across %d stores, %d events, %d store failures",
		result.ProductsChecked, len(storeIDs), len(result.Events), result.StoresFailed)

	if c.notifier != nil && len(result.Events) > 0 {
		if err := c.notifier.Notify(ctx, result.Events); err != nil {
			log.Printf("Warning: notification failed: %v", err)
		}
	}

	return result, nil
}

func (c *Coordinator) finishRun(ctx context.Context, run *models.ScanRun, status models.RunStatus) {
	if c.runs == nil || run.ID == 0 {
		return
	}
	now := time.Now()
	run.FinishedAt = &now
	run.Status = status
	if err := c.runs.UpdateRun(ctx, run); err != nil {
		log.Printf("Warning: failed to update run record: %v", err)
	}
}

func (c *Coordinator) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

func (c *Coordinator) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

func (c *Coordinator) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// HandleCommand dispatches a queued daemon command.
func (c *Coordinator) HandleCommand(ctx context.Context, cmd *models.Command, params *models.CommandParams) error {
	switch cmd.Command {
	case models.CmdScanNow:
		_, err := c.RunAll(ctx)
		return err
	case models.CmdScanStore:
		if params != nil && params.Store != "" {
			_, err := c.RunStore(ctx, params.Store)
			return err
		}
		_, err := c.RunAll(ctx)
		return err
	case models.CmdPause:
		c.Pause()
		log.Println("Scanner paused")
	case models.CmdResume:
		c.Resume()
		log.Println("Scanner resumed")
	}
	return nil
}
