/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface for accounts, the credit ledger, and the promotion catalog. The
 * critical property here is that every balance mutation locks the account
 * row (`SELECT ... FOR UPDATE`) and appends the matching ledger row inside
 * the same transaction, so two concurrent debits can never both pass the
 * balance check against a stale read.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creatorlift/promotion-engine/internal/domain"
)

var (
	ErrAccountNotFound       = errors.New("account not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrPromotionNotFound     = errors.New("promotion not found")
	ErrSessionNotFound       = errors.New("verification session not found")
	ErrSessionNotClaimable   = errors.New("verification session is not yet claimable")
	ErrSessionAlreadyClaimed = errors.New("verification session already claimed")
	ErrSessionExpired        = errors.New("verification session expired")
	ErrInvalidTransition     = errors.New("illegal session state transition")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindOrCreateAccount resolves the account for an identity-provider subject,
// creating it on first reference. A newly created account receives the
// configured signup bonus through the ledger so the sum invariant holds from
// the very first observable instant.
func (r *PostgresRepository) FindOrCreateAccount(ctx context.Context, externalID, displayName string, signupBonus int64) (*domain.Account, error) {
	var account domain.Account
	query := `SELECT id, external_id, display_name, balance, created_at FROM accounts WHERE external_id = $1`
	err := r.db.QueryRow(ctx, query, externalID).Scan(
		&account.ID, &account.ExternalID, &account.DisplayName, &account.Balance, &account.CreatedAt,
	)
	if err == nil {
		return &account, nil
	}
	if err != pgx.ErrNoRows {
		return nil, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO accounts (id, external_id, display_name, balance)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id, external_id, display_name, balance, created_at
	`
	err = tx.QueryRow(ctx, insert, uuid.New(), externalID, displayName, signupBonus).Scan(
		&account.ID, &account.ExternalID, &account.DisplayName, &account.Balance, &account.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		// Lost a race with a concurrent first request for the same subject.
		return r.FindOrCreateAccount(ctx, externalID, displayName, signupBonus)
	}
	if err != nil {
		return nil, err
	}

	if signupBonus > 0 {
		ledger := `
			INSERT INTO ledger_transactions (id, account_id, delta, reason)
			VALUES ($1, $2, $3, $4)
		`
		if _, err := tx.Exec(ctx, ledger, uuid.New(), account.ID, signupBonus, domain.ReasonSignupBonus); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &account, nil
}

// FindAccountByID retrieves an account by its internal id.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	query := `SELECT id, external_id, display_name, balance, created_at FROM accounts WHERE id = $1`
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&account.ID, &account.ExternalID, &account.DisplayName, &account.Balance, &account.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// DebitAccount atomically checks funds, applies the debit, and appends the
// ledger row. The FOR UPDATE lock serializes concurrent debits per account.
func (r *PostgresRepository) DebitAccount(ctx context.Context, accountID uuid.UUID, amount int64, reason domain.TransactionReason, promotionID *uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := debitAccountTx(ctx, tx, accountID, amount, reason, promotionID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// debitAccountTx is the locked check-and-debit shared by DebitAccount and
// CreatePromotionWithDebit. The caller owns the transaction.
func debitAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, reason domain.TransactionReason, promotionID *uuid.UUID) error {
	var balance int64
	err := tx.QueryRow(ctx, "SELECT balance FROM accounts WHERE id = $1 FOR UPDATE", accountID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrAccountNotFound
		}
		return err
	}

	if balance < amount {
		return ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx, "UPDATE accounts SET balance = balance - $1 WHERE id = $2", amount, accountID); err != nil {
		return err
	}

	ledger := `
		INSERT INTO ledger_transactions (id, account_id, delta, reason, promotion_id)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = tx.Exec(ctx, ledger, uuid.New(), accountID, -amount, reason, promotionID)
	return err
}

// CreditAccount applies a credit and appends the ledger row atomically.
// Credits always succeed for existing accounts; no upper bound is modeled.
func (r *PostgresRepository) CreditAccount(ctx context.Context, accountID uuid.UUID, amount int64, reason domain.TransactionReason, promotionID, sessionID *uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := creditAccountTx(ctx, tx, accountID, amount, reason, promotionID, sessionID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func creditAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, reason domain.TransactionReason, promotionID, sessionID *uuid.UUID) error {
	result, err := tx.Exec(ctx, "UPDATE accounts SET balance = balance + $1 WHERE id = $2", amount, accountID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}

	ledger := `
		INSERT INTO ledger_transactions (id, account_id, delta, reason, promotion_id, session_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = tx.Exec(ctx, ledger, uuid.New(), accountID, amount, reason, promotionID, sessionID)
	return err
}

// ListLedgerTransactions returns an account's most recent ledger rows.
func (r *PostgresRepository) ListLedgerTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.LedgerTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	query := `
		SELECT id, account_id, delta, reason, promotion_id, session_id, created_at
		FROM ledger_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerTransaction
	for rows.Next() {
		var entry domain.LedgerTransaction
		if err := rows.Scan(
			&entry.ID, &entry.AccountID, &entry.Delta, &entry.Reason,
			&entry.PromotionID, &entry.SessionID, &entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// AuditLedgerBalances returns accounts whose cached balance disagrees with
// the sum of their ledger deltas. An empty result is the healthy outcome.
func (r *PostgresRepository) AuditLedgerBalances(ctx context.Context, limit int) ([]domain.LedgerDrift, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT a.id, a.balance, COALESCE(SUM(lt.delta), 0) AS ledger_sum
		FROM accounts a
		LEFT JOIN ledger_transactions lt ON lt.account_id = a.id
		GROUP BY a.id, a.balance
		HAVING a.balance <> COALESCE(SUM(lt.delta), 0)
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drifts []domain.LedgerDrift
	for rows.Next() {
		var drift domain.LedgerDrift
		if err := rows.Scan(&drift.AccountID, &drift.Balance, &drift.LedgerSum); err != nil {
			return nil, err
		}
		drifts = append(drifts, drift)
	}
	return drifts, nil
}

// CreatePromotionWithDebit inserts the promotion record and debits the
// creator's account in one transaction. A failed debit leaves no promotion;
// a failed insert rolls the debit back, so the "charged but nothing created"
// state cannot occur.
func (r *PostgresRepository) CreatePromotionWithDebit(ctx context.Context, promo *domain.Promotion, cost int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := debitAccountTx(ctx, tx, promo.CreatorAccountID, cost, domain.ReasonPromotionCreateDebit, &promo.ID); err != nil {
		return err
	}

	insert := `
		INSERT INTO promotions (id, kind, target_url, platform, title, creator_account_id, reward_amount, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, insert,
		promo.ID,
		promo.Kind,
		promo.TargetURL,
		promo.Platform,
		promo.Title,
		promo.CreatorAccountID,
		promo.RewardAmount,
		promo.Tags,
	).Scan(&promo.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// FindPromotionByID retrieves a single promotion record.
func (r *PostgresRepository) FindPromotionByID(ctx context.Context, promotionID uuid.UUID) (*domain.Promotion, error) {
	var promo domain.Promotion
	query := `
		SELECT id, kind, target_url, platform, title, creator_account_id,
		       reward_amount, view_count, report_count, tags, created_at
		FROM promotions
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, promotionID).Scan(
		&promo.ID, &promo.Kind, &promo.TargetURL, &promo.Platform, &promo.Title,
		&promo.CreatorAccountID, &promo.RewardAmount, &promo.ViewCount,
		&promo.ReportCount, &promo.Tags, &promo.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPromotionNotFound
		}
		return nil, err
	}
	return &promo, nil
}

// ListPromotions returns the newest promotions first, bounded by limit. This
// is the query the feed synchronizer polls.
func (r *PostgresRepository) ListPromotions(ctx context.Context, limit int) ([]domain.Promotion, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	query := `
		SELECT id, kind, target_url, platform, title, creator_account_id,
		       reward_amount, view_count, report_count, tags, created_at
		FROM promotions
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	promotions := make([]domain.Promotion, 0, limit)
	for rows.Next() {
		var promo domain.Promotion
		if err := rows.Scan(
			&promo.ID, &promo.Kind, &promo.TargetURL, &promo.Platform, &promo.Title,
			&promo.CreatorAccountID, &promo.RewardAmount, &promo.ViewCount,
			&promo.ReportCount, &promo.Tags, &promo.CreatedAt,
		); err != nil {
			return nil, err
		}
		promotions = append(promotions, promo)
	}
	return promotions, nil
}

// IncrementViewCount applies an atomic +1 to a promotion's view counter.
// Callers are responsible for at-most-once semantics per session.
func (r *PostgresRepository) IncrementViewCount(ctx context.Context, promotionID uuid.UUID) error {
	result, err := r.db.Exec(ctx, "UPDATE promotions SET view_count = view_count + 1 WHERE id = $1", promotionID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrPromotionNotFound
	}
	return nil
}

// IncrementReportCount applies an atomic +1 to a promotion's report counter.
// Purely informational; no automated action follows.
func (r *PostgresRepository) IncrementReportCount(ctx context.Context, promotionID uuid.UUID) error {
	result, err := r.db.Exec(ctx, "UPDATE promotions SET report_count = report_count + 1 WHERE id = $1", promotionID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrPromotionNotFound
	}
	return nil
}
