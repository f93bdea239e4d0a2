/**
 * @description
 * This file contains the core business logic for the promotion catalog and
 * the account/ledger surface. The `Service` struct validates submissions,
 * drives the atomic debit+insert that creates a promotion, and exposes the
 * bounded catalog reads used by handlers and the feed synchronizer.
 *
 * Key properties:
 * - Creating a promotion debits the creator and inserts the record as one
 *   unit of work; InsufficientFunds leaves no partial state behind.
 * - Report is informational only: an atomic counter bump, no automated action.
 *
 * @dependencies
 * - context, errors, fmt, log: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For publishing catalog events.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/creatorlift/promotion-engine/internal/domain"
	"github.com/creatorlift/promotion-engine/internal/store"
	"github.com/creatorlift/promotion-engine/pkg/rabbitmq"
)

const maxPromotionTags = 10

var (
	ErrValidation         = errors.New("invalid promotion submission")
	ErrOwnPromotion       = errors.New("cannot verify your own promotion")
	ErrNotSessionOwner    = errors.New("session belongs to another account")
	ErrSettlementDeferred = errors.New("claim committed but settlement deferred")
)

// Service provides the catalog and account business logic.
type Service struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher
	exchange      string
	signupBonus   int64
}

// NewService creates a new catalog service instance.
func NewService(repo store.Repository, producer rabbitmq.Publisher, exchange string, signupBonus int64) *Service {
	return &Service{
		repo:          repo,
		eventProducer: producer,
		exchange:      exchange,
		signupBonus:   signupBonus,
	}
}

// EnsureAccount resolves the identity-provider subject to an internal
// account, creating the account (with the signup bonus) on first reference.
func (s *Service) EnsureAccount(ctx context.Context, externalID, displayName string) (*domain.Account, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrValidation)
	}
	return s.repo.FindOrCreateAccount(ctx, externalID, displayName, s.signupBonus)
}

// GetAccount returns the current account record, including its balance.
func (s *Service) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return s.repo.FindAccountByID(ctx, accountID)
}

// GetLedger returns an account's most recent ledger entries, newest first.
func (s *Service) GetLedger(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.LedgerTransaction, error) {
	return s.repo.ListLedgerTransactions(ctx, accountID, limit)
}

// CreatePromotion validates the submission, debits the creator by the kind's
// fixed cost, and inserts the promotion record. Debit and insert are one
// atomic unit inside the repository; on ErrInsufficientFunds nothing is
// created and no ledger row is appended.
func (s *Service) CreatePromotion(ctx context.Context, creatorID uuid.UUID, req domain.CreatePromotionRequest) (*domain.Promotion, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrValidation, req.Kind)
	}
	targetURL := strings.TrimSpace(req.TargetURL)
	if targetURL == "" {
		return nil, fmt.Errorf("%w: target url is required", ErrValidation)
	}
	parsed, err := url.ParseRequestURI(targetURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("%w: target url must be an absolute http(s) url", ErrValidation)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}

	tags := normalizeTags(req.Tags)
	if len(tags) > maxPromotionTags {
		return nil, fmt.Errorf("%w: at most %d tags", ErrValidation, maxPromotionTags)
	}

	promo := &domain.Promotion{
		ID:               uuid.New(),
		Kind:             req.Kind,
		TargetURL:        targetURL,
		Platform:         derivePlatform(parsed.Host),
		Title:            title,
		CreatorAccountID: creatorID,
		RewardAmount:     req.Kind.Reward(),
		Tags:             tags,
	}

	cost := req.Kind.Cost()
	if err := s.repo.CreatePromotionWithDebit(ctx, promo, cost); err != nil {
		return nil, err
	}
	log.Printf("level=info component=catalog msg=\"promotion created\" promotion_id=%s kind=%s creator_id=%s cost=%d", promo.ID, promo.Kind, creatorID, cost)

	s.publish("promotion.created", domain.PromotionCreatedEvent{
		PromotionID: promo.ID,
		Kind:        promo.Kind,
		CreatorID:   creatorID,
		Cost:        cost,
		Timestamp:   time.Now().UTC(),
	})

	return promo, nil
}

// GetPromotion returns a single catalog record.
func (s *Service) GetPromotion(ctx context.Context, promotionID uuid.UUID) (*domain.Promotion, error) {
	return s.repo.FindPromotionByID(ctx, promotionID)
}

// ListPromotions returns the newest promotions first, bounded by limit.
func (s *Service) ListPromotions(ctx context.Context, limit int) ([]domain.Promotion, error) {
	return s.repo.ListPromotions(ctx, limit)
}

// Report bumps a promotion's report counter. Informational: it triggers no
// automated moderation.
func (s *Service) Report(ctx context.Context, promotionID uuid.UUID) error {
	if err := s.repo.IncrementReportCount(ctx, promotionID); err != nil {
		return err
	}
	log.Printf("level=info component=catalog msg=\"promotion reported\" promotion_id=%s", promotionID)
	return nil
}

func (s *Service) publish(routingKey string, body interface{}) {
	if s.eventProducer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.eventProducer.Publish(ctx, s.exchange, routingKey, body); err != nil {
		log.Printf("level=warn component=catalog msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// derivePlatform maps a target host to a coarse platform label so the feed
// can badge entries without re-parsing URLs.
func derivePlatform(host string) string {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	switch {
	case strings.Contains(host, "youtube.") || host == "youtu.be":
		return "youtube"
	case strings.Contains(host, "twitch."):
		return "twitch"
	case strings.Contains(host, "vimeo."):
		return "vimeo"
	default:
		return host
	}
}
