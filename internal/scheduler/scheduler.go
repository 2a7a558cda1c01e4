// Package scheduler runs monitoring cycles on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/speedmon/internal/domain"
	"github.com/hamed0406/speedmon/internal/monitor"
)

// Starter is satisfied by *monitor.Coordinator.
type Starter interface {
	StartCycle(kind domain.Kind, cfg domain.ThresholdConfig) (*monitor.Cycle, error)
}

type Scheduler struct {
	Logger    *zap.Logger
	Monitor   Starter
	Kinds     []domain.Kind
	Threshold domain.ThresholdConfig
	Interval  time.Duration
}

func New(logger *zap.Logger, m Starter, kinds []domain.Kind, threshold domain.ThresholdConfig, interval time.Duration) *Scheduler {
	if interval < 0 {
		interval = 0
	}
	if len(kinds) == 0 {
		kinds = []domain.Kind{domain.Download}
	}
	return &Scheduler{
		Logger:    logger,
		Monitor:   m,
		Kinds:     kinds,
		Threshold: threshold,
		Interval:  interval,
	}
}

// Run does an immediate pass, then one per tick, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.Interval == 0 {
		s.Logger.Info("scheduler_disabled")
		return
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("scheduler_stopped")
			return
		case <-t.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce measures each configured kind in turn. Cycles are exclusive, so a
// kind is skipped when someone else's cycle holds the coordinator.
func (s *Scheduler) runOnce(ctx context.Context) {
	for _, kind := range s.Kinds {
		if ctx.Err() != nil {
			return
		}
		cy, err := s.Monitor.StartCycle(kind, s.Threshold)
		if errors.Is(err, domain.ErrAlreadyRunning) {
			s.Logger.Info("scheduler_skipped", zap.String("kind", string(kind)), zap.String("reason", "cycle in progress"))
			continue
		}
		if err != nil {
			s.Logger.Warn("scheduler_start_error", zap.String("kind", string(kind)), zap.Error(err))
			continue
		}
		rec, err := cy.Wait(ctx)
		if err != nil {
			cy.Cancel()
			return
		}
		s.Logger.Debug("scheduler_cycle_done",
			zap.String("cycle_id", rec.ID),
			zap.String("kind", string(kind)),
			zap.Float64("rate_mbps", rec.Result.RateMbps),
			zap.String("decision", string(rec.Decision)),
		)
	}
}
