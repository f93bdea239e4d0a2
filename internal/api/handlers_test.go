package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/creatorlift/promotion-engine/internal/app"
	"github.com/creatorlift/promotion-engine/internal/domain"
	"github.com/creatorlift/promotion-engine/internal/store"
)

type handlerRepoStub struct {
	store.Repository

	account   *domain.Account
	createErr error
	session   *domain.VerificationSession
	promo     *domain.Promotion
}

func (s *handlerRepoStub) FindOrCreateAccount(ctx context.Context, externalID, displayName string, signupBonus int64) (*domain.Account, error) {
	return s.account, nil
}

func (s *handlerRepoStub) CreatePromotionWithDebit(ctx context.Context, promo *domain.Promotion, cost int64) error {
	return s.createErr
}

func (s *handlerRepoStub) FindSessionByID(ctx context.Context, sessionID uuid.UUID) (*domain.VerificationSession, error) {
	if s.session == nil || s.session.ID != sessionID {
		return nil, store.ErrSessionNotFound
	}
	session := *s.session
	return &session, nil
}

func (s *handlerRepoStub) ClaimSession(ctx context.Context, sessionID uuid.UUID) (*domain.VerificationSession, *domain.ClaimSettlement, error) {
	switch s.session.State {
	case domain.SessionClaimable:
		s.session.State = domain.SessionClaimed
		session := *s.session
		return &session, &domain.ClaimSettlement{
			ID:           uuid.New(),
			SessionID:    session.ID,
			AccountID:    session.AccountID,
			PromotionID:  session.PromotionID,
			RewardAmount: 5,
			Status:       domain.SettlementPending,
		}, nil
	case domain.SessionClaimed:
		return nil, nil, store.ErrSessionAlreadyClaimed
	case domain.SessionExpired:
		return nil, nil, store.ErrSessionExpired
	default:
		return nil, nil, store.ErrSessionNotClaimable
	}
}

func (s *handlerRepoStub) ApplyClaimSettlement(ctx context.Context, settlement domain.ClaimSettlement) error {
	return nil
}

type noopLauncher struct{}

func (noopLauncher) Open(ctx context.Context, targetURL, accountID, sessionID string) error {
	return nil
}

func newTestHandlers(repo store.Repository) (*Handlers, func()) {
	service := app.NewService(repo, nil, "promotion.events", 100)
	sessions := app.NewSessionManager(repo, noopLauncher{}, nil, "promotion.events", 15, time.Hour)
	feed := app.NewFeedSynchronizer(repo, nil, "promotion.events", 50, time.Hour)
	handlers := NewHandlers(service, sessions, feed, nil, 30, 10)
	return handlers, sessions.Close
}

func authedRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	ctx := context.WithValue(req.Context(), authSubjectKey, "user_123")
	return req.WithContext(ctx)
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestCreatePromotionHandler_MapsValidationTo400(t *testing.T) {
	repo := &handlerRepoStub{account: &domain.Account{ID: uuid.New(), ExternalID: "user_123"}}
	handlers, cleanup := newTestHandlers(repo)
	defer cleanup()

	req := authedRequest(http.MethodPost, "/promotions", `{"kind":"playlist","target_url":"https://example.com/v","title":"t"}`)
	rec := httptest.NewRecorder()
	handlers.CreatePromotionHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreatePromotionHandler_MapsInsufficientFundsTo402(t *testing.T) {
	repo := &handlerRepoStub{
		account:   &domain.Account{ID: uuid.New(), ExternalID: "user_123"},
		createErr: store.ErrInsufficientFunds,
	}
	handlers, cleanup := newTestHandlers(repo)
	defer cleanup()

	req := authedRequest(http.MethodPost, "/promotions", `{"kind":"video","target_url":"https://example.com/v","title":"t"}`)
	rec := httptest.NewRecorder()
	handlers.CreatePromotionHandler(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
}

func TestClaimHandler_SuccessReturnsReward(t *testing.T) {
	accountID := uuid.New()
	sessionID := uuid.New()
	repo := &handlerRepoStub{
		account: &domain.Account{ID: accountID, ExternalID: "user_123"},
		session: &domain.VerificationSession{
			ID:          sessionID,
			PromotionID: uuid.New(),
			AccountID:   accountID,
			State:       domain.SessionClaimable,
		},
	}
	handlers, cleanup := newTestHandlers(repo)
	defer cleanup()

	req := withURLParam(authedRequest(http.MethodPost, "/verifications/"+sessionID.String()+"/claim", ""), "sessionID", sessionID.String())
	rec := httptest.NewRecorder()
	handlers.ClaimHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var resp claimResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Reward != 5 || resp.Status != "claimed" {
		t.Fatalf("response = %+v, want reward 5 claimed", resp)
	}
}

func TestClaimHandler_DoubleClaimConflicts(t *testing.T) {
	accountID := uuid.New()
	sessionID := uuid.New()
	repo := &handlerRepoStub{
		account: &domain.Account{ID: accountID, ExternalID: "user_123"},
		session: &domain.VerificationSession{
			ID:          sessionID,
			PromotionID: uuid.New(),
			AccountID:   accountID,
			State:       domain.SessionClaimed,
		},
	}
	handlers, cleanup := newTestHandlers(repo)
	defer cleanup()

	req := withURLParam(authedRequest(http.MethodPost, "/verifications/"+sessionID.String()+"/claim", ""), "sessionID", sessionID.String())
	rec := httptest.NewRecorder()
	handlers.ClaimHandler(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestClaimHandler_ForeignSessionForbidden(t *testing.T) {
	sessionID := uuid.New()
	repo := &handlerRepoStub{
		account: &domain.Account{ID: uuid.New(), ExternalID: "user_123"},
		session: &domain.VerificationSession{
			ID:          sessionID,
			PromotionID: uuid.New(),
			AccountID:   uuid.New(),
			State:       domain.SessionClaimable,
		},
	}
	handlers, cleanup := newTestHandlers(repo)
	defer cleanup()

	req := withURLParam(authedRequest(http.MethodPost, "/verifications/"+sessionID.String()+"/claim", ""), "sessionID", sessionID.String())
	rec := httptest.NewRecorder()
	handlers.ClaimHandler(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}
