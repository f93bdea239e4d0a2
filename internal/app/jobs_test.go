package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/creatorlift/promotion-engine/internal/config"
	"github.com/creatorlift/promotion-engine/internal/domain"
	"github.com/creatorlift/promotion-engine/internal/store"
)

type jobsRepoStub struct {
	store.Repository

	mu              sync.Mutex
	pending         []domain.ClaimSettlement
	pendingErr      error
	applyErrByID    map[uuid.UUID]error
	appliedIDs      []uuid.UUID
	expiredCount    int64
	expireErr       error
	drifts          []domain.LedgerDrift
	auditErr        error
	expireOlderThan time.Duration
}

func (s *jobsRepoStub) ListPendingSettlements(ctx context.Context, limit int, olderThan time.Duration) ([]domain.ClaimSettlement, error) {
	if s.pendingErr != nil {
		return nil, s.pendingErr
	}
	return s.pending, nil
}

func (s *jobsRepoStub) ApplyClaimSettlement(ctx context.Context, settlement domain.ClaimSettlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.applyErrByID[settlement.ID]; err != nil {
		return err
	}
	s.appliedIDs = append(s.appliedIDs, settlement.ID)
	return nil
}

func (s *jobsRepoStub) ExpireStaleSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireOlderThan = olderThan
	if s.expireErr != nil {
		return 0, s.expireErr
	}
	return s.expiredCount, nil
}

func (s *jobsRepoStub) AuditLedgerBalances(ctx context.Context, limit int) ([]domain.LedgerDrift, error) {
	if s.auditErr != nil {
		return nil, s.auditErr
	}
	return s.drifts, nil
}

func newTestJobs(repo store.Repository) *Jobs {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewJobs(repo, logger, config.Config{
		SettlementRedriveMinAgeSec: 30,
		StaleSessionMaxAgeMinutes:  60,
	})
}

func TestRedrivePendingSettlements_AppliesEachPendingRow(t *testing.T) {
	first := domain.ClaimSettlement{ID: uuid.New(), Status: domain.SettlementPending}
	second := domain.ClaimSettlement{ID: uuid.New(), Status: domain.SettlementPending}
	repo := &jobsRepoStub{pending: []domain.ClaimSettlement{first, second}}
	jobs := newTestJobs(repo)

	jobs.RedrivePendingSettlements()

	if len(repo.appliedIDs) != 2 {
		t.Fatalf("applied %d settlements, want 2", len(repo.appliedIDs))
	}
}

func TestRedrivePendingSettlements_ContinuesPastFailures(t *testing.T) {
	broken := domain.ClaimSettlement{ID: uuid.New(), Status: domain.SettlementPending}
	healthy := domain.ClaimSettlement{ID: uuid.New(), Status: domain.SettlementPending}
	repo := &jobsRepoStub{
		pending:      []domain.ClaimSettlement{broken, healthy},
		applyErrByID: map[uuid.UUID]error{broken.ID: errors.New("apply failed")},
	}
	jobs := newTestJobs(repo)

	jobs.RedrivePendingSettlements()

	if len(repo.appliedIDs) != 1 || repo.appliedIDs[0] != healthy.ID {
		t.Fatalf("applied = %v, want just %s", repo.appliedIDs, healthy.ID)
	}
}

func TestRedrivePendingSettlements_ListFailureIsNonFatal(t *testing.T) {
	repo := &jobsRepoStub{pendingErr: errors.New("db down")}
	jobs := newTestJobs(repo)

	jobs.RedrivePendingSettlements()

	if len(repo.appliedIDs) != 0 {
		t.Fatal("nothing should be applied when listing fails")
	}
}

func TestExpireStaleSessions_UsesConfiguredMaxAge(t *testing.T) {
	repo := &jobsRepoStub{expiredCount: 3}
	jobs := newTestJobs(repo)

	jobs.ExpireStaleSessions()

	if repo.expireOlderThan != time.Hour {
		t.Fatalf("olderThan = %s, want 1h", repo.expireOlderThan)
	}
}

func TestAuditLedgerBalances_ToleratesDriftAndErrors(t *testing.T) {
	repo := &jobsRepoStub{drifts: []domain.LedgerDrift{{AccountID: uuid.New(), Balance: 10, LedgerSum: 15}}}
	jobs := newTestJobs(repo)
	jobs.AuditLedgerBalances()

	repo = &jobsRepoStub{auditErr: errors.New("db down")}
	jobs = newTestJobs(repo)
	jobs.AuditLedgerBalances()
}
