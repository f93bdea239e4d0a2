package domain

import "testing"

func TestPromotionPricing(t *testing.T) {
	if got := PromotionVideo.Cost(); got != 50 {
		t.Errorf("video cost = %d, want 50", got)
	}
	if got := PromotionVideo.Reward(); got != 5 {
		t.Errorf("video reward = %d, want 5", got)
	}
	if got := PromotionChannel.Cost(); got != 100 {
		t.Errorf("channel cost = %d, want 100", got)
	}
	if got := PromotionChannel.Reward(); got != 15 {
		t.Errorf("channel reward = %d, want 15", got)
	}
}

func TestPromotionKindValid(t *testing.T) {
	if !PromotionVideo.Valid() || !PromotionChannel.Valid() {
		t.Error("known kinds should be valid")
	}
	if PromotionKind("playlist").Valid() {
		t.Error("unknown kind should not be valid")
	}
	if PromotionKind("").Valid() {
		t.Error("empty kind should not be valid")
	}
}
