/**
 * @description
 * This file defines the promotion catalog domain models. Each promotion kind
 * carries a fixed creation cost and a fixed per-verification reward; the
 * pricing table is the single authority both the catalog service and the
 * claim settlement path read from.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PromotionKind distinguishes the two promotable content types.
type PromotionKind string

const (
	PromotionVideo   PromotionKind = "video"
	PromotionChannel PromotionKind = "channel"
)

type promotionPrice struct {
	cost   int64
	reward int64
}

var promotionPricing = map[PromotionKind]promotionPrice{
	PromotionVideo:   {cost: 50, reward: 5},
	PromotionChannel: {cost: 100, reward: 15},
}

// Valid reports whether the kind is one the catalog accepts.
func (k PromotionKind) Valid() bool {
	_, ok := promotionPricing[k]
	return ok
}

// Cost returns the credits debited from the creator at creation time.
func (k PromotionKind) Cost() int64 {
	return promotionPricing[k].cost
}

// Reward returns the credits paid per completed verification.
func (k PromotionKind) Reward() int64 {
	return promotionPricing[k].reward
}

// Promotion represents one catalog entry. This struct maps directly to the
// `promotions` table. RewardAmount is denormalized from the kind at creation
// time so a later pricing change cannot alter what an existing promotion pays.
type Promotion struct {
	ID               uuid.UUID     `json:"id"`
	Kind             PromotionKind `json:"kind"`
	TargetURL        string        `json:"target_url"`
	Platform         string        `json:"platform"`
	Title            string        `json:"title"`
	CreatorAccountID uuid.UUID     `json:"creator_account_id"`
	RewardAmount     int64         `json:"reward_amount"`
	ViewCount        int64         `json:"view_count"`
	ReportCount      int64         `json:"report_count"`
	Tags             []string      `json:"tags"`
	CreatedAt        time.Time     `json:"created_at"`
}

// CreatePromotionRequest is the DTO for incoming promotion submissions.
type CreatePromotionRequest struct {
	Kind      PromotionKind `json:"kind"`
	TargetURL string        `json:"target_url"`
	Title     string        `json:"title"`
	Tags      []string      `json:"tags,omitempty"`
}
