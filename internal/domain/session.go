/**
 * @description
 * This file defines the verification session state machine and the claim
 * settlement record. The session states and their legal transitions are the
 * authority every layer consults; the store enforces them again with guarded
 * UPDATEs so a stale in-memory view can never corrupt persisted state.
 *
 * @notes
 * - claimed and expired are terminal. expired is reachable from any
 *   non-terminal state (abandon, stale-session sweep, process death).
 * - A ClaimSettlement is the durable instruction to apply a committed
 *   claim's side effects (reward credit, view increment). It is written in
 *   the same transaction as the claim and applied exactly once.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a verification session.
type SessionState string

const (
	SessionLaunched  SessionState = "launched"
	SessionCounting  SessionState = "counting"
	SessionClaimable SessionState = "claimable"
	SessionClaimed   SessionState = "claimed"
	SessionExpired   SessionState = "expired"
)

// Terminal reports whether no further transition is possible.
func (s SessionState) Terminal() bool {
	return s == SessionClaimed || s == SessionExpired
}

// CanTransition reports whether moving from s to next is legal.
func (s SessionState) CanTransition(next SessionState) bool {
	if s.Terminal() {
		return false
	}
	if next == SessionExpired {
		return true
	}
	switch s {
	case SessionLaunched:
		return next == SessionCounting
	case SessionCounting:
		return next == SessionClaimable
	case SessionClaimable:
		return next == SessionClaimed
	}
	return false
}

// VerificationSession represents one account's in-flight (or finished)
// verification of one promotion. This struct maps directly to the
// `verification_sessions` table. Remaining is the persisted countdown in
// ticks, so a restarted process resumes where the dead one stopped.
type VerificationSession struct {
	ID          uuid.UUID    `json:"id"`
	PromotionID uuid.UUID    `json:"promotion_id"`
	AccountID   uuid.UUID    `json:"account_id"`
	State       SessionState `json:"state"`
	Remaining   int          `json:"remaining"`
	StartedAt   time.Time    `json:"started_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// SettlementStatus tracks whether a claim's side effects have been applied.
type SettlementStatus string

const (
	SettlementPending SettlementStatus = "pending"
	SettlementApplied SettlementStatus = "applied"
)

// ClaimSettlement records the side effects owed for a committed claim. This
// struct maps directly to the `claim_settlements` table.
type ClaimSettlement struct {
	ID           uuid.UUID        `json:"id"`
	SessionID    uuid.UUID        `json:"session_id"`
	AccountID    uuid.UUID        `json:"account_id"`
	PromotionID  uuid.UUID        `json:"promotion_id"`
	RewardAmount int64            `json:"reward_amount"`
	Status       SettlementStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	AppliedAt    *time.Time       `json:"applied_at,omitempty"`
}
