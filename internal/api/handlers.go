/**
 * @description
 * This file contains the HTTP handlers for the engine's API endpoints.
 * Handlers parse requests, resolve the authenticated account, call the
 * application services, and map service errors onto HTTP status codes. They
 * are the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: services, models, errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/creatorlift/promotion-engine/internal/app"
	"github.com/creatorlift/promotion-engine/internal/domain"
	"github.com/creatorlift/promotion-engine/internal/store"
)

// Handlers holds the application services the HTTP layer dispatches to.
type Handlers struct {
	service  *app.Service
	sessions *app.SessionManager
	feed     *app.FeedSynchronizer
	limiter  *app.RedisRateLimiter

	claimLimitPerMinute  int
	reportLimitPerMinute int
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(service *app.Service, sessions *app.SessionManager, feed *app.FeedSynchronizer, limiter *app.RedisRateLimiter, claimLimit, reportLimit int) *Handlers {
	return &Handlers{
		service:              service,
		sessions:             sessions,
		feed:                 feed,
		limiter:              limiter,
		claimLimitPerMinute:  claimLimit,
		reportLimitPerMinute: reportLimit,
	}
}

type startVerificationRequest struct {
	PromotionID string `json:"promotion_id"`
}

type claimResponse struct {
	SessionID     string `json:"session_id"`
	Status        string `json:"status"`
	Reward        int64  `json:"reward,omitempty"`
	RewardPending bool   `json:"reward_pending,omitempty"`
}

// resolveAccount maps the authenticated subject to the internal account,
// creating it on first contact. Writes the error response on failure.
func (h *Handlers) resolveAccount(w http.ResponseWriter, r *http.Request) (*domain.Account, bool) {
	subject, ok := GetAuthSubject(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get subject from context")
		return nil, false
	}
	account, err := h.service.EnsureAccount(r.Context(), subject, GetAuthDisplayName(r.Context()))
	if err != nil {
		log.Printf("level=error component=api msg=\"account resolution failed\" subject=%s err=%v", subject, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to resolve account")
		return nil, false
	}
	return account, true
}

// CreatePromotionHandler handles promotion submissions. The creation cost is
// fixed per kind; an underfunded creator gets 402 and no side effects.
func (h *Handlers) CreatePromotionHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	var req domain.CreatePromotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	promo, err := h.service.CreatePromotion(r.Context(), account.ID, req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrValidation):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrInsufficientFunds):
			h.writeError(w, http.StatusPaymentRequired, "Insufficient credits to create this promotion")
		default:
			log.Printf("level=error component=api endpoint=create_promotion err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Unable to create promotion")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, promo)
}

// ListPromotionsHandler returns the newest promotions, bounded by ?limit.
func (h *Handlers) ListPromotionsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	promotions, err := h.service.ListPromotions(r.Context(), limit)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_promotions err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to list promotions")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"promotions": promotions})
}

// GetPromotionHandler returns a single catalog record.
func (h *Handlers) GetPromotionHandler(w http.ResponseWriter, r *http.Request) {
	promotionID, err := uuid.Parse(chi.URLParam(r, "promotionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid promotion id")
		return
	}

	promo, err := h.service.GetPromotion(r.Context(), promotionID)
	if err != nil {
		if errors.Is(err, store.ErrPromotionNotFound) {
			h.writeError(w, http.StatusNotFound, "Promotion not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_promotion promotion_id=%s err=%v", promotionID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to fetch promotion")
		return
	}
	h.writeJSON(w, http.StatusOK, promo)
}

// ReportPromotionHandler records a report against a promotion. Rate limited
// per account; informational only.
func (h *Handlers) ReportPromotionHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}
	if !h.consumeRateLimit(w, r, "report", account.ID.String(), h.reportLimitPerMinute) {
		return
	}

	promotionID, err := uuid.Parse(chi.URLParam(r, "promotionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid promotion id")
		return
	}

	if err := h.service.Report(r.Context(), promotionID); err != nil {
		if errors.Is(err, store.ErrPromotionNotFound) {
			h.writeError(w, http.StatusNotFound, "Promotion not found")
			return
		}
		log.Printf("level=error component=api endpoint=report_promotion promotion_id=%s err=%v", promotionID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to record report")
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// StartVerificationHandler begins (or returns) the caller's verification
// session for a promotion. Repeating the call while a session is live
// returns the same session unchanged.
func (h *Handlers) StartVerificationHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	var req startVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	promotionID, err := uuid.Parse(req.PromotionID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid promotion id")
		return
	}

	session, err := h.sessions.StartVerification(r.Context(), account.ID, promotionID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrPromotionNotFound):
			h.writeError(w, http.StatusNotFound, "Promotion not found")
		case errors.Is(err, app.ErrOwnPromotion):
			h.writeError(w, http.StatusForbidden, "You cannot verify your own promotion")
		default:
			log.Printf("level=error component=api endpoint=start_verification promotion_id=%s err=%v", promotionID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to start verification")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, session)
}

// ClaimHandler redeems a claimable session. Of concurrent claims on the same
// session exactly one succeeds; the rest receive a state-specific conflict.
func (h *Handlers) ClaimHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}
	if !h.consumeRateLimit(w, r, "claim", account.ID.String(), h.claimLimitPerMinute) {
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid session id")
		return
	}

	reward, err := h.sessions.Claim(r.Context(), sessionID, account.ID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrSettlementDeferred):
			// The claim stands; the credit lands when the redrive runs.
			h.writeJSON(w, http.StatusAccepted, claimResponse{
				SessionID:     sessionID.String(),
				Status:        "claimed",
				RewardPending: true,
			})
		case errors.Is(err, store.ErrSessionNotFound):
			h.writeError(w, http.StatusNotFound, "Session not found")
		case errors.Is(err, app.ErrNotSessionOwner):
			h.writeError(w, http.StatusForbidden, "Session belongs to another account")
		case errors.Is(err, store.ErrSessionAlreadyClaimed):
			h.writeError(w, http.StatusConflict, "Session already claimed")
		case errors.Is(err, store.ErrSessionExpired):
			h.writeError(w, http.StatusGone, "Session expired")
		case errors.Is(err, store.ErrSessionNotClaimable):
			h.writeError(w, http.StatusConflict, "Session is not yet claimable")
		default:
			log.Printf("level=error component=api endpoint=claim session_id=%s err=%v", sessionID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to claim reward")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, claimResponse{
		SessionID: sessionID.String(),
		Status:    "claimed",
		Reward:    reward,
	})
}

// AbandonHandler expires the caller's session early. Abandoning a session
// that already finished is a benign no-op.
func (h *Handlers) AbandonHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid session id")
		return
	}

	if err := h.sessions.Abandon(r.Context(), sessionID, account.ID); err != nil {
		switch {
		case errors.Is(err, store.ErrSessionNotFound):
			h.writeError(w, http.StatusNotFound, "Session not found")
		case errors.Is(err, app.ErrNotSessionOwner):
			h.writeError(w, http.StatusForbidden, "Session belongs to another account")
		default:
			log.Printf("level=error component=api endpoint=abandon session_id=%s err=%v", sessionID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to abandon session")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "abandoned"})
}

// BalanceHandler returns the caller's account, including its credit balance.
func (h *Handlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// LedgerHandler returns the caller's most recent ledger entries, newest first.
func (h *Handlers) LedgerHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.service.GetLedger(r.Context(), account.ID, limit)
	if err != nil {
		log.Printf("level=error component=api endpoint=ledger account_id=%s err=%v", account.ID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to fetch ledger")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": entries})
}

// FeedHandler returns the current feed window as a snapshot.
func (h *Handlers) FeedHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"promotions": h.feed.Snapshot()})
}

// FeedStreamHandler serves the feed as server-sent events: the snapshot
// first, then deltas until the client disconnects.
func (h *Handlers) FeedStreamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, unsubscribe := h.feed.Subscribe()
	defer unsubscribe()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case event, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		}
	}
}

// consumeRateLimit enforces a per-account per-minute cap. Limiter outages
// fail open: abuse control never takes the endpoint down with it.
func (h *Handlers) consumeRateLimit(w http.ResponseWriter, r *http.Request, scope, subject string, limit int) bool {
	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), scope, subject, limit, time.Minute)
	if err != nil {
		log.Printf("level=warn component=api msg=\"rate limiter unavailable\" scope=%s err=%v", scope, err)
		return true
	}
	if limit > 0 && count > limit {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return false
	}
	return true
}

// writeJSON is a helper for writing JSON responses.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
