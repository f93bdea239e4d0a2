package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/creatorlift/promotion-engine/internal/domain"
	"github.com/creatorlift/promotion-engine/internal/store"
)

type feedRepoStub struct {
	store.Repository

	mu         sync.Mutex
	promotions []domain.Promotion
}

func (s *feedRepoStub) ListPromotions(ctx context.Context, limit int) ([]domain.Promotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.promotions) > limit {
		return append([]domain.Promotion(nil), s.promotions[:limit]...), nil
	}
	return append([]domain.Promotion(nil), s.promotions...), nil
}

func (s *feedRepoStub) setPromotions(promotions []domain.Promotion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promotions = promotions
}

func promoFixture(title string) domain.Promotion {
	return domain.Promotion{
		ID:               uuid.New(),
		Kind:             domain.PromotionVideo,
		TargetURL:        "https://example.com/" + title,
		Title:            title,
		CreatorAccountID: uuid.New(),
		RewardAmount:     5,
	}
}

func TestDiffWindows(t *testing.T) {
	a := promoFixture("a")
	b := promoFixture("b")
	c := promoFixture("c")

	bumped := b
	bumped.ViewCount = 3

	events := diffWindows(
		[]domain.Promotion{b, a},
		[]domain.Promotion{c, bumped},
	)

	byType := make(map[domain.FeedEventType][]uuid.UUID)
	for _, event := range events {
		byType[event.Type] = append(byType[event.Type], event.Promotion.ID)
	}

	if len(byType[domain.FeedAdded]) != 1 || byType[domain.FeedAdded][0] != c.ID {
		t.Errorf("added = %v, want [%s]", byType[domain.FeedAdded], c.ID)
	}
	if len(byType[domain.FeedChanged]) != 1 || byType[domain.FeedChanged][0] != b.ID {
		t.Errorf("changed = %v, want [%s]", byType[domain.FeedChanged], b.ID)
	}
	if len(byType[domain.FeedRemoved]) != 1 || byType[domain.FeedRemoved][0] != a.ID {
		t.Errorf("removed = %v, want [%s]", byType[domain.FeedRemoved], a.ID)
	}
}

func TestDiffWindows_NoChanges(t *testing.T) {
	a := promoFixture("a")
	b := promoFixture("b")
	window := []domain.Promotion{b, a}

	if events := diffWindows(window, window); len(events) != 0 {
		t.Fatalf("identical windows produced %d events", len(events))
	}
}

func TestSubscribe_SeedsSnapshotThenDeltas(t *testing.T) {
	a := promoFixture("a")
	repo := &feedRepoStub{promotions: []domain.Promotion{a}}
	feed := NewFeedSynchronizer(repo, nil, "promotion.events", 50, time.Hour)

	if err := feed.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	defer feed.Stop()

	events, unsubscribe := feed.Subscribe()
	defer unsubscribe()

	snapshot := <-events
	if !snapshot.Snapshot || snapshot.Type != domain.FeedAdded || snapshot.Promotion.ID != a.ID {
		t.Fatalf("first event should be the snapshot of %s, got %+v", a.ID, snapshot)
	}

	b := promoFixture("b")
	repo.setPromotions([]domain.Promotion{b, a})
	if err := feed.refresh(context.Background()); err != nil {
		t.Fatalf("unexpected refresh error: %v", err)
	}

	delta := <-events
	if delta.Snapshot || delta.Type != domain.FeedAdded || delta.Promotion.ID != b.ID {
		t.Fatalf("expected added delta for %s, got %+v", b.ID, delta)
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	repo := &feedRepoStub{}
	feed := NewFeedSynchronizer(repo, nil, "promotion.events", 50, time.Hour)
	if err := feed.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	defer feed.Stop()

	events, unsubscribe := feed.Subscribe()
	unsubscribe()
	unsubscribe() // safe to repeat

	if _, open := <-events; open {
		t.Fatal("unsubscribed channel should be closed")
	}
}

func TestWindowBound(t *testing.T) {
	var promotions []domain.Promotion
	for i := 0; i < 60; i++ {
		promotions = append(promotions, promoFixture("p"))
	}
	repo := &feedRepoStub{promotions: promotions}
	feed := NewFeedSynchronizer(repo, nil, "promotion.events", 50, time.Hour)

	if err := feed.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	defer feed.Stop()

	if got := len(feed.Snapshot()); got != 50 {
		t.Fatalf("snapshot size = %d, want the 50-entry window", got)
	}
}
