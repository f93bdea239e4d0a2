/**
 * @description
 * This file implements the verification-session and claim-settlement portion
 * of the PostgreSQL repository. Two store-level guarantees live here:
 *
 * 1. A partial unique index on (account_id, promotion_id) over non-terminal
 *    states makes the "at most one live session per pair" invariant hold no
 *    matter how many callers race StartVerification.
 * 2. ClaimSession performs the claimable -> claimed transition as a guarded
 *    UPDATE and records the pending settlement inside the same transaction,
 *    so exactly one of any number of racing claims wins and the reward
 *    payload survives a crash between the transition and its side effects.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: driver, including pgconn for SQLSTATE checks.
 * - internal/domain: session and settlement models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/creatorlift/promotion-engine/internal/domain"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const sessionColumns = `id, promotion_id, account_id, state, remaining, started_at, updated_at`

func scanSession(row pgx.Row) (*domain.VerificationSession, error) {
	var s domain.VerificationSession
	err := row.Scan(&s.ID, &s.PromotionID, &s.AccountID, &s.State, &s.Remaining, &s.StartedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

// CreateVerificationSession inserts a new session. When a non-terminal
// session for the same (account, promotion) pair already exists, the partial
// unique index rejects the insert and the existing session is returned with
// created=false, which makes StartVerification idempotent by construction.
func (r *PostgresRepository) CreateVerificationSession(ctx context.Context, session *domain.VerificationSession) (*domain.VerificationSession, bool, error) {
	insert := `
		INSERT INTO verification_sessions (id, promotion_id, account_id, state, remaining)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + sessionColumns
	created, err := scanSession(r.db.QueryRow(ctx, insert,
		session.ID, session.PromotionID, session.AccountID, session.State, session.Remaining,
	))
	if err == nil {
		return created, true, nil
	}
	if !isUniqueViolation(err) {
		return nil, false, err
	}

	existing, findErr := r.FindActiveSession(ctx, session.AccountID, session.PromotionID)
	if findErr != nil {
		// The live session terminated between the conflict and the lookup;
		// retry the insert once.
		if errors.Is(findErr, ErrSessionNotFound) {
			retried, retryErr := scanSession(r.db.QueryRow(ctx, insert,
				session.ID, session.PromotionID, session.AccountID, session.State, session.Remaining,
			))
			if retryErr != nil {
				return nil, false, retryErr
			}
			return retried, true, nil
		}
		return nil, false, findErr
	}
	return existing, false, nil
}

// FindSessionByID retrieves one session regardless of state.
func (r *PostgresRepository) FindSessionByID(ctx context.Context, sessionID uuid.UUID) (*domain.VerificationSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM verification_sessions WHERE id = $1`
	return scanSession(r.db.QueryRow(ctx, query, sessionID))
}

// FindActiveSession retrieves the single non-terminal session for a pair, if any.
func (r *PostgresRepository) FindActiveSession(ctx context.Context, accountID, promotionID uuid.UUID) (*domain.VerificationSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM verification_sessions
		WHERE account_id = $1 AND promotion_id = $2 AND state NOT IN ('claimed', 'expired')
	`
	return scanSession(r.db.QueryRow(ctx, query, accountID, promotionID))
}

// AdvanceSessionState moves a session forward with a guarded UPDATE. The
// from-state guard makes concurrent transitions lose cleanly instead of
// clobbering a later state with an earlier one.
func (r *PostgresRepository) AdvanceSessionState(ctx context.Context, sessionID uuid.UUID, from, to domain.SessionState) error {
	if !from.CanTransition(to) {
		return ErrInvalidTransition
	}
	query := `UPDATE verification_sessions SET state = $1, updated_at = NOW() WHERE id = $2 AND state = $3`
	result, err := r.db.Exec(ctx, query, to, sessionID, from)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// UpdateSessionRemaining persists a timer tick. Only counting sessions tick.
func (r *PostgresRepository) UpdateSessionRemaining(ctx context.Context, sessionID uuid.UUID, remaining int) error {
	query := `UPDATE verification_sessions SET remaining = $1, updated_at = NOW() WHERE id = $2 AND state = 'counting'`
	result, err := r.db.Exec(ctx, query, remaining, sessionID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// MarkSessionClaimable performs the counting -> claimable transition once the
// timer reaches zero.
func (r *PostgresRepository) MarkSessionClaimable(ctx context.Context, sessionID uuid.UUID) error {
	query := `UPDATE verification_sessions SET state = 'claimable', remaining = 0, updated_at = NOW() WHERE id = $1 AND state = 'counting'`
	result, err := r.db.Exec(ctx, query, sessionID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// ClaimSession atomically transitions claimable -> claimed and records the
// pending settlement. The transition is the commit point: of any number of
// racing claims exactly one sees an updated row; the others get an error
// naming the state they actually observed. No ledger or catalog effect
// happens here; the settlement row is the durable instruction to apply them.
func (r *PostgresRepository) ClaimSession(ctx context.Context, sessionID uuid.UUID) (*domain.VerificationSession, *domain.ClaimSettlement, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	update := `
		UPDATE verification_sessions
		SET state = 'claimed', updated_at = NOW()
		WHERE id = $1 AND state = 'claimable'
		RETURNING ` + sessionColumns
	session, err := scanSession(tx.QueryRow(ctx, update, sessionID))
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, nil, err
		}
		// Lost the race or called too early. Report which.
		var state domain.SessionState
		stateErr := r.db.QueryRow(ctx, "SELECT state FROM verification_sessions WHERE id = $1", sessionID).Scan(&state)
		if stateErr != nil {
			if stateErr == pgx.ErrNoRows {
				return nil, nil, ErrSessionNotFound
			}
			return nil, nil, stateErr
		}
		switch state {
		case domain.SessionClaimed:
			return nil, nil, ErrSessionAlreadyClaimed
		case domain.SessionExpired:
			return nil, nil, ErrSessionExpired
		default:
			return nil, nil, ErrSessionNotClaimable
		}
	}

	var reward int64
	err = tx.QueryRow(ctx, "SELECT reward_amount FROM promotions WHERE id = $1", session.PromotionID).Scan(&reward)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, ErrPromotionNotFound
		}
		return nil, nil, err
	}

	settlement := domain.ClaimSettlement{
		ID:           uuid.New(),
		SessionID:    session.ID,
		AccountID:    session.AccountID,
		PromotionID:  session.PromotionID,
		RewardAmount: reward,
		Status:       domain.SettlementPending,
	}
	insert := `
		INSERT INTO claim_settlements (id, session_id, account_id, promotion_id, reward_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, insert,
		settlement.ID, settlement.SessionID, settlement.AccountID,
		settlement.PromotionID, settlement.RewardAmount, settlement.Status,
	).Scan(&settlement.CreatedAt)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return session, &settlement, nil
}

// ExpireSession moves any non-terminal session to expired. Returns false when
// the session was already terminal (a benign no-op for Abandon).
func (r *PostgresRepository) ExpireSession(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	query := `
		UPDATE verification_sessions
		SET state = 'expired', updated_at = NOW()
		WHERE id = $1 AND state NOT IN ('claimed', 'expired')
	`
	result, err := r.db.Exec(ctx, query, sessionID)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() > 0 {
		return true, nil
	}

	// Distinguish "already terminal" from "no such session".
	var state domain.SessionState
	if err := r.db.QueryRow(ctx, "SELECT state FROM verification_sessions WHERE id = $1", sessionID).Scan(&state); err != nil {
		if err == pgx.ErrNoRows {
			return false, ErrSessionNotFound
		}
		return false, err
	}
	return false, nil
}

// ExpireStaleSessions expires non-terminal sessions that have not been
// touched for olderThan. Live sessions persist a tick every interval, so
// only orphans from a dead process qualify.
func (r *PostgresRepository) ExpireStaleSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE verification_sessions
		SET state = 'expired', updated_at = NOW()
		WHERE state NOT IN ('claimed', 'expired')
		  AND updated_at < NOW() - ($1 * INTERVAL '1 second')
	`
	result, err := r.db.Exec(ctx, query, int64(olderThan.Seconds()))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// ListCountingSessions returns every session currently in the counting state.
// Used on startup to resume timers with their persisted remaining.
func (r *PostgresRepository) ListCountingSessions(ctx context.Context) ([]domain.VerificationSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM verification_sessions WHERE state = 'counting' ORDER BY started_at`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.VerificationSession
	for rows.Next() {
		var s domain.VerificationSession
		if err := rows.Scan(&s.ID, &s.PromotionID, &s.AccountID, &s.State, &s.Remaining, &s.StartedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// ListPendingSettlements returns settlements whose side effects have not been
// applied yet, oldest first. The age filter keeps the redrive job from
// racing a claim whose apply step is still in flight.
func (r *PostgresRepository) ListPendingSettlements(ctx context.Context, limit int, olderThan time.Duration) ([]domain.ClaimSettlement, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	query := `
		SELECT id, session_id, account_id, promotion_id, reward_amount, status, created_at, applied_at
		FROM claim_settlements
		WHERE status = 'pending'
		  AND created_at < NOW() - ($1 * INTERVAL '1 second')
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, int64(olderThan.Seconds()), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settlements []domain.ClaimSettlement
	for rows.Next() {
		var s domain.ClaimSettlement
		if err := rows.Scan(
			&s.ID, &s.SessionID, &s.AccountID, &s.PromotionID,
			&s.RewardAmount, &s.Status, &s.CreatedAt, &s.AppliedAt,
		); err != nil {
			return nil, err
		}
		settlements = append(settlements, s)
	}
	return settlements, nil
}

// ApplyClaimSettlement applies the two side effects of a committed claim (the
// reward credit and the view increment) and marks the settlement applied, all
// in one transaction. The status guard makes re-application a no-op, so the
// redrive job and an in-flight claim can both call this safely.
func (r *PostgresRepository) ApplyClaimSettlement(ctx context.Context, settlement domain.ClaimSettlement) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	mark := `
		UPDATE claim_settlements
		SET status = 'applied', applied_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	result, err := tx.Exec(ctx, mark, settlement.ID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		// Already applied by a competing caller.
		return nil
	}

	if err := creditAccountTx(ctx, tx, settlement.AccountID, settlement.RewardAmount,
		domain.ReasonRewardCredit, &settlement.PromotionID, &settlement.SessionID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "UPDATE promotions SET view_count = view_count + 1 WHERE id = $1", settlement.PromotionID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
