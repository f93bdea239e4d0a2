/**
 * @description
 * This file defines the account and credit-ledger domain models. Balances are
 * plain integer credits (no fractional unit exists) and every balance change
 * is mirrored by exactly one ledger row, so an account's balance always
 * equals the sum of its ledger deltas.
 *
 * @notes
 * - Deltas are signed: debits are negative, credits positive. The reason
 *   field names the business event that produced the row.
 * - Amounts use `int64` to keep arithmetic exact; credits are an internal
 *   currency, never money.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionReason names the business event behind a ledger row.
type TransactionReason string

const (
	ReasonSignupBonus          TransactionReason = "signup_bonus"
	ReasonPromotionCreateDebit TransactionReason = "promotion_create_debit"
	ReasonRewardCredit         TransactionReason = "reward_credit"
)

// Account represents a participant with a credit balance. This struct maps
// directly to the `accounts` table.
type Account struct {
	ID          uuid.UUID `json:"id"`
	ExternalID  string    `json:"external_id"`
	DisplayName string    `json:"display_name"`
	Balance     int64     `json:"balance"`
	CreatedAt   time.Time `json:"created_at"`
}

// LedgerTransaction is one append-only ledger row. PromotionID and SessionID
// are set when the row was produced by a catalog or verification event.
type LedgerTransaction struct {
	ID          uuid.UUID         `json:"id"`
	AccountID   uuid.UUID         `json:"account_id"`
	Delta       int64             `json:"delta"`
	Reason      TransactionReason `json:"reason"`
	PromotionID *uuid.UUID        `json:"promotion_id,omitempty"`
	SessionID   *uuid.UUID        `json:"session_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// LedgerDrift reports an account whose cached balance disagrees with the sum
// of its ledger deltas. Produced only by the audit job; a healthy system
// never emits one.
type LedgerDrift struct {
	AccountID uuid.UUID `json:"account_id"`
	Balance   int64     `json:"balance"`
	LedgerSum int64     `json:"ledger_sum"`
}
