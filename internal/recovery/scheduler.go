// Package recovery - Background worker dispatching due recovery attempts.
package recovery

import (
	"context"
	"time"

	"github.com/lockbridge-exchange/lockbridge/internal/config"
	"github.com/lockbridge-exchange/lockbridge/pkg/logging"
)

const schedulerBatchSize = 50

// Scheduler periodically polls storage for pending attempts whose scheduled
// execution time has passed and runs them through the engine. Attempts live in
// storage, so a restart picks up where the previous process left off.
type Scheduler struct {
	engine *Engine
	cfg    config.RecoveryConfig
	log    *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler for the given engine.
func NewScheduler(engine *Engine, cfg config.RecoveryConfig) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		engine: engine,
		cfg:    cfg,
		log:    logging.GetDefault().Component("recovery-scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the scheduler background goroutine.
func (s *Scheduler) Start() {
	go s.run()
	s.log.Info("Recovery scheduler started", "poll_interval", s.cfg.PollInterval)
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.cancel()
	s.log.Info("Recovery scheduler stopped")
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.processDue()
		}
	}
}

// processDue runs every attempt whose timer has fired. Each attempt is
// independent; one failure never blocks the rest of the batch.
func (s *Scheduler) processDue() {
	due, err := s.engine.store.ListDueRecoveryAttempts(s.engine.clock.Now(), schedulerBatchSize)
	if err != nil {
		s.log.Warn("Failed to list due recovery attempts", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	s.log.Debug("Processing due recovery attempts", "count", len(due))

	for _, attempt := range due {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if _, err := s.engine.ExecuteRecovery(s.ctx, attempt.ID); err != nil {
			s.log.Warn("Failed to execute recovery attempt",
				"recovery_id", attempt.ID,
				"swap_id", attempt.SwapID,
				"error", err)
		}
	}
}
