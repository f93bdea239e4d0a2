package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/creatorlift/promotion-engine/internal/domain"
	"github.com/creatorlift/promotion-engine/internal/store"
)

type catalogRepoStub struct {
	store.Repository

	createErr     error
	createdPromo  *domain.Promotion
	createdCost   int64
	accountCalled bool
}

func (s *catalogRepoStub) CreatePromotionWithDebit(ctx context.Context, promo *domain.Promotion, cost int64) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.createdPromo = promo
	s.createdCost = cost
	return nil
}

func (s *catalogRepoStub) FindOrCreateAccount(ctx context.Context, externalID, displayName string, signupBonus int64) (*domain.Account, error) {
	s.accountCalled = true
	return &domain.Account{ID: uuid.New(), ExternalID: externalID, Balance: signupBonus}, nil
}

func newTestService(repo store.Repository) *Service {
	return NewService(repo, nil, "promotion.events", 100)
}

func TestCreatePromotion_RejectsInvalidSubmissions(t *testing.T) {
	repo := &catalogRepoStub{}
	service := newTestService(repo)
	creatorID := uuid.New()

	cases := []struct {
		name string
		req  domain.CreatePromotionRequest
	}{
		{"unknown kind", domain.CreatePromotionRequest{Kind: "playlist", TargetURL: "https://example.com/v", Title: "t"}},
		{"missing url", domain.CreatePromotionRequest{Kind: domain.PromotionVideo, Title: "t"}},
		{"relative url", domain.CreatePromotionRequest{Kind: domain.PromotionVideo, TargetURL: "/watch?v=1", Title: "t"}},
		{"non-http scheme", domain.CreatePromotionRequest{Kind: domain.PromotionVideo, TargetURL: "ftp://example.com/v", Title: "t"}},
		{"missing title", domain.CreatePromotionRequest{Kind: domain.PromotionVideo, TargetURL: "https://example.com/v"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.CreatePromotion(context.Background(), creatorID, tc.req)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}

	if repo.createdPromo != nil {
		t.Fatal("no promotion should be created for invalid submissions")
	}
}

func TestCreatePromotion_DebitsKindCost(t *testing.T) {
	repo := &catalogRepoStub{}
	service := newTestService(repo)
	creatorID := uuid.New()

	promo, err := service.CreatePromotion(context.Background(), creatorID, domain.CreatePromotionRequest{
		Kind:      domain.PromotionChannel,
		TargetURL: "https://www.youtube.com/@creator",
		Title:     "My channel",
		Tags:      []string{"Music", " music ", "", "Live"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if repo.createdCost != 100 {
		t.Errorf("channel creation should debit 100, debited %d", repo.createdCost)
	}
	if promo.RewardAmount != 15 {
		t.Errorf("channel reward should be 15, got %d", promo.RewardAmount)
	}
	if promo.Platform != "youtube" {
		t.Errorf("platform = %q, want youtube", promo.Platform)
	}
	if len(promo.Tags) != 2 || promo.Tags[0] != "music" || promo.Tags[1] != "live" {
		t.Errorf("tags not normalized: %v", promo.Tags)
	}
	if promo.CreatorAccountID != creatorID {
		t.Error("creator id not carried onto promotion")
	}
}

func TestCreatePromotion_InsufficientFundsLeavesNothing(t *testing.T) {
	repo := &catalogRepoStub{createErr: store.ErrInsufficientFunds}
	service := newTestService(repo)

	_, err := service.CreatePromotion(context.Background(), uuid.New(), domain.CreatePromotionRequest{
		Kind:      domain.PromotionVideo,
		TargetURL: "https://example.com/v",
		Title:     "t",
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if repo.createdPromo != nil {
		t.Fatal("failed debit must not leave a promotion behind")
	}
}

func TestEnsureAccount_RejectsEmptySubject(t *testing.T) {
	repo := &catalogRepoStub{}
	service := newTestService(repo)

	if _, err := service.EnsureAccount(context.Background(), "   ", "name"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if repo.accountCalled {
		t.Fatal("repository should not be reached for an empty subject")
	}
}

func TestDerivePlatform(t *testing.T) {
	cases := map[string]string{
		"www.youtube.com": "youtube",
		"youtu.be":        "youtube",
		"m.youtube.com":   "youtube",
		"www.twitch.tv":   "twitch",
		"vimeo.com":       "vimeo",
		"example.com":     "example.com",
	}
	for host, want := range cases {
		if got := derivePlatform(host); got != want {
			t.Errorf("derivePlatform(%q) = %q, want %q", host, got, want)
		}
	}
}
