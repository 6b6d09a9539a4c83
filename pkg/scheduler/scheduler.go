// Package scheduler drives the periodic sync and reconciliation cadences.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/bridge-engine/pkg/apperrors"
	"github.com/relayforge/bridge-engine/pkg/models"
	"github.com/relayforge/bridge-engine/pkg/services"
)

// Runner is the orchestrator surface the scheduler drives.
type Runner interface {
	RunCycle(ctx context.Context) (*services.CycleResult, error)
	RunReconciliation(ctx context.Context) (*models.ReconciliationReport, error)
}

// Scheduler ticks the sync cycle and the reconciliation audit on their
// configured cadences until its context is cancelled.
type Scheduler struct {
	runner         Runner
	cycleEvery     time.Duration
	reconcileEvery time.Duration
	logger         *zap.Logger
}

// New creates a scheduler.
func New(runner Runner, cycleEvery, reconcileEvery time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:         runner,
		cycleEvery:     cycleEvery,
		reconcileEvery: reconcileEvery,
		logger:         logger.Named("scheduler"),
	}
}

// Run blocks until ctx is cancelled. The first cycle fires immediately so a
// fresh deployment syncs without waiting out a full interval; reconciliation
// waits for its first tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Scheduler started",
		zap.Duration("cycle_interval", s.cycleEvery),
		zap.Duration("reconciliation_interval", s.reconcileEvery))

	cycle := time.NewTicker(s.cycleEvery)
	defer cycle.Stop()
	reconcile := time.NewTicker(s.reconcileEvery)
	defer reconcile.Stop()

	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case <-cycle.C:
			s.runCycle(ctx)
		case <-reconcile.C:
			s.runReconciliation(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.runner.RunCycle(ctx); err != nil {
		if errors.Is(err, apperrors.ErrSyncInProgress) {
			s.logger.Info("Skipping cycle, previous one still running")
			return
		}
		s.logger.Error("Scheduled sync cycle failed", zap.Error(err))
	}
}

func (s *Scheduler) runReconciliation(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.runner.RunReconciliation(ctx); err != nil {
		if errors.Is(err, apperrors.ErrSyncInProgress) {
			s.logger.Info("Skipping reconciliation, previous one still running")
			return
		}
		s.logger.Error("Scheduled reconciliation failed", zap.Error(err))
	}
}
