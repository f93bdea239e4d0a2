/**
 * @description
 * This file defines the feed delta model and the payloads published to the
 * message broker. The feed is a bounded newest-first window over the
 * promotion catalog; subscribers receive a snapshot followed by incremental
 * add/change/remove deltas.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// FeedEventType classifies a feed delta.
type FeedEventType string

const (
	FeedAdded   FeedEventType = "added"
	FeedChanged FeedEventType = "changed"
	FeedRemoved FeedEventType = "removed"
)

// FeedEvent is one delta (or snapshot entry) delivered to a feed subscriber.
// Snapshot entries carry Snapshot=true and FeedAdded as their type.
type FeedEvent struct {
	Type      FeedEventType `json:"type"`
	Snapshot  bool          `json:"snapshot,omitempty"`
	Promotion Promotion     `json:"promotion"`
	Timestamp time.Time     `json:"timestamp"`
}

// PromotionCreatedEvent is the broker payload for a new catalog entry.
type PromotionCreatedEvent struct {
	PromotionID uuid.UUID     `json:"promotion_id"`
	Kind        PromotionKind `json:"kind"`
	CreatorID   uuid.UUID     `json:"creator_id"`
	Cost        int64         `json:"cost"`
	Timestamp   time.Time     `json:"timestamp"`
}

// RewardClaimedEvent is the broker payload for a settled claim.
type RewardClaimedEvent struct {
	SessionID   uuid.UUID `json:"session_id"`
	AccountID   uuid.UUID `json:"account_id"`
	PromotionID uuid.UUID `json:"promotion_id"`
	Reward      int64     `json:"reward"`
	Timestamp   time.Time `json:"timestamp"`
}
