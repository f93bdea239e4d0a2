/**
 * @description
 * Scheduled job implementations: the settlement redrive that repairs claims
 * whose side effects never landed, the stale-session sweep that expires
 * sessions orphaned by a dead process, and the ledger audit that cross-checks
 * cached balances against ledger sums.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/creatorlift/promotion-engine/internal/config"
	"github.com/creatorlift/promotion-engine/internal/store"
)

const settlementRedriveBatch = 100

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo   store.Repository
	logger *slog.Logger
	config config.Config
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo store.Repository, logger *slog.Logger, cfg config.Config) *Jobs {
	return &Jobs{
		repo:   repo,
		logger: logger,
		config: cfg,
	}
}

// RedrivePendingSettlements applies claim settlements whose side effects
// were interrupted between the claim transition and the apply step. It never
// re-runs the claim itself; applying is idempotent, so racing an in-flight
// apply is harmless.
func (j *Jobs) RedrivePendingSettlements() {
	ctx := context.Background()
	minAge := time.Duration(j.config.SettlementRedriveMinAgeSec) * time.Second

	settlements, err := j.repo.ListPendingSettlements(ctx, settlementRedriveBatch, minAge)
	if err != nil {
		j.logger.Error("failed to list pending settlements", "error", err)
		return
	}
	if len(settlements) == 0 {
		return
	}

	j.logger.Info("redriving pending settlements", "count", len(settlements))
	applied := 0
	for _, settlement := range settlements {
		if err := j.repo.ApplyClaimSettlement(ctx, settlement); err != nil {
			j.logger.Error("failed to apply settlement", "settlement_id", settlement.ID, "session_id", settlement.SessionID, "error", err)
			continue
		}
		applied++
	}
	j.logger.Info("settlement redrive finished", "applied", applied, "total", len(settlements))
}

// ExpireStaleSessions expires non-terminal sessions that have stopped
// ticking. Live sessions persist a tick every interval, so only sessions
// orphaned by a crashed or partitioned process qualify.
func (j *Jobs) ExpireStaleSessions() {
	ctx := context.Background()
	maxAge := time.Duration(j.config.StaleSessionMaxAgeMinutes) * time.Minute

	expired, err := j.repo.ExpireStaleSessions(ctx, maxAge)
	if err != nil {
		j.logger.Error("failed to expire stale sessions", "error", err)
		return
	}
	if expired > 0 {
		j.logger.Info("expired stale sessions", "count", expired, "max_age", maxAge.String())
	}
}

// AuditLedgerBalances cross-checks every account's cached balance against
// the sum of its ledger deltas and logs any drift. Drift is never repaired
// automatically; it signals a bug that needs a human.
func (j *Jobs) AuditLedgerBalances() {
	ctx := context.Background()

	drifts, err := j.repo.AuditLedgerBalances(ctx, 100)
	if err != nil {
		j.logger.Error("ledger audit failed", "error", err)
		return
	}
	if len(drifts) == 0 {
		j.logger.Info("ledger audit clean")
		return
	}

	for _, drift := range drifts {
		j.logger.Error("ledger drift detected", "account_id", drift.AccountID, "balance", drift.Balance, "ledger_sum", drift.LedgerSum)
	}
}
