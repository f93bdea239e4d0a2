/**
 * @description
 * Cron scheduler setup for the engine's background jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/creatorlift/promotion-engine/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.SettlementRedriveSchedule, s.jobs.RedrivePendingSettlements); err != nil {
		s.logger.Error("failed to schedule settlement redrive job", "error", err)
	} else {
		s.logger.Info("scheduled settlement redrive job", "schedule", s.config.SettlementRedriveSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.StaleSessionSchedule, s.jobs.ExpireStaleSessions); err != nil {
		s.logger.Error("failed to schedule stale session sweep", "error", err)
	} else {
		s.logger.Info("scheduled stale session sweep", "schedule", s.config.StaleSessionSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.LedgerAuditSchedule, s.jobs.AuditLedgerBalances); err != nil {
		s.logger.Error("failed to schedule ledger audit job", "error", err)
	} else {
		s.logger.Info("scheduled ledger audit job", "schedule", s.config.LedgerAuditSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
