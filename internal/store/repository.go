/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the engine performs. Business logic in `internal/app` depends only
 * on this interface, which keeps the PostgreSQL implementation swappable and
 * lets tests substitute small stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For entity identifiers.
 * - internal/domain: For the engine's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/creatorlift/promotion-engine/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account and ledger methods. All balance mutation funnels through
	// DebitAccount/CreditAccount, which serialize per account via row locks
	// and append the ledger row in the same database transaction.
	FindOrCreateAccount(ctx context.Context, externalID, displayName string, signupBonus int64) (*domain.Account, error)
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	DebitAccount(ctx context.Context, accountID uuid.UUID, amount int64, reason domain.TransactionReason, promotionID *uuid.UUID) error
	CreditAccount(ctx context.Context, accountID uuid.UUID, amount int64, reason domain.TransactionReason, promotionID, sessionID *uuid.UUID) error
	ListLedgerTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.LedgerTransaction, error)
	AuditLedgerBalances(ctx context.Context, limit int) ([]domain.LedgerDrift, error)

	// Promotion catalog methods. CreatePromotionWithDebit performs the
	// creator debit, its ledger row, and the promotion insert as one atomic
	// unit: either all three commit or none do.
	CreatePromotionWithDebit(ctx context.Context, promo *domain.Promotion, cost int64) error
	FindPromotionByID(ctx context.Context, promotionID uuid.UUID) (*domain.Promotion, error)
	ListPromotions(ctx context.Context, limit int) ([]domain.Promotion, error)
	IncrementViewCount(ctx context.Context, promotionID uuid.UUID) error
	IncrementReportCount(ctx context.Context, promotionID uuid.UUID) error

	// Verification session methods. CreateVerificationSession is idempotent
	// per (account, promotion): when a non-terminal session already exists it
	// returns that session with created=false. ClaimSession is the atomic
	// claimable -> claimed compare-and-transition; it records the pending
	// settlement in the same transaction.
	CreateVerificationSession(ctx context.Context, session *domain.VerificationSession) (*domain.VerificationSession, bool, error)
	FindSessionByID(ctx context.Context, sessionID uuid.UUID) (*domain.VerificationSession, error)
	FindActiveSession(ctx context.Context, accountID, promotionID uuid.UUID) (*domain.VerificationSession, error)
	AdvanceSessionState(ctx context.Context, sessionID uuid.UUID, from, to domain.SessionState) error
	UpdateSessionRemaining(ctx context.Context, sessionID uuid.UUID, remaining int) error
	MarkSessionClaimable(ctx context.Context, sessionID uuid.UUID) error
	ClaimSession(ctx context.Context, sessionID uuid.UUID) (*domain.VerificationSession, *domain.ClaimSettlement, error)
	ExpireSession(ctx context.Context, sessionID uuid.UUID) (bool, error)
	ExpireStaleSessions(ctx context.Context, olderThan time.Duration) (int64, error)
	ListCountingSessions(ctx context.Context) ([]domain.VerificationSession, error)

	// Claim settlement methods. ApplyClaimSettlement applies the reward
	// credit and the view increment and marks the settlement applied in one
	// transaction; applying an already-applied settlement is a no-op.
	ListPendingSettlements(ctx context.Context, limit int, olderThan time.Duration) ([]domain.ClaimSettlement, error)
	ApplyClaimSettlement(ctx context.Context, settlement domain.ClaimSettlement) error
}
