package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"stockwatch/config"
	"stockwatch/models"
	"stockwatch/scanner"
	"stockwatch/storage"
)

// Triggerable lets queued commands kick background workers immediately.
type Triggerable interface {
	Trigger()
}

// Scheduler drives periodic scans (cron expression or plain interval)
// and polls the local command queue so external tooling can trigger
// scans, pause, and resume without restarting the daemon.
type Scheduler struct {
	cfg         *config.Config
	coordinator *scanner.Coordinator
	store       *storage.SQLiteStore
	cron        *cron.Cron
	ticker      *time.Ticker
	stopCh      chan struct{}

	healthWorker Triggerable
}

func New(cfg *config.Config, coordinator *scanner.Coordinator, store *storage.SQLiteStore) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		coordinator: coordinator,
		store:       store,
		cron:        cron.New(),
		stopCh:      make(chan struct{}),
	}
}

func (s *Scheduler) SetHealthWorker(w Triggerable) {
	s.healthWorker = w
}

func (s *Scheduler) Start(ctx context.Context) error {
	go s.pollCommands(ctx)

	if s.cfg.Scheduler.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Scheduler.Cron)
		_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
			if _, err := s.coordinator.RunAll(ctx); err != nil {
				log.Printf("Scheduled scan error: %v", err)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Scheduler.Interval > 0 {
		log.Printf("Starting scheduler with interval: %s", s.cfg.Scheduler.Interval)
		s.ticker = time.NewTicker(s.cfg.Scheduler.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					if _, err := s.coordinator.RunAll(ctx); err != nil {
						log.Printf("Scheduled scan error: %v", err)
					}
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Println("No schedule configured, daemon will only respond to commands")
	}

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

func (s *Scheduler) TriggerNow(ctx context.Context) error {
	_, err := s.coordinator.RunAll(ctx)
	return err
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cmds, err := s.store.GetPendingCommands()
			if err != nil {
				log.Printf("Error getting commands: %v", err)
				continue
			}

			for _, cmd := range cmds {
				log.Printf("Processing command: %s", cmd.Command)
				if err := s.handleCommand(ctx, &cmd); err != nil {
					log.Printf("Command error: %v", err)
				}
				if err := s.store.MarkCommandProcessed(cmd.ID); err != nil {
					log.Printf("Error marking command processed: %v", err)
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	if cmd.Command == models.CmdHealthNow {
		if s.healthWorker != nil {
			s.healthWorker.Trigger()
			log.Println("Healthcheck worker triggered via command")
		}
		return nil
	}

	params, err := s.store.ParseCommandParams(cmd)
	if err != nil {
		return err
	}
	return s.coordinator.HandleCommand(ctx, cmd, params)
}
