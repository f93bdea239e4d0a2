/**
 * @description
 * This file sets up the HTTP router for the engine. It defines the API
 * endpoints, associates them with their handlers, and applies middleware for
 * logging, panic recovery, CORS, timeouts, and authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes creates and returns the router for the promotion engine.
func Routes(h *Handlers, jwksURL, issuer, audience string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL, issuer, audience))
		r.Use(middleware.Timeout(60 * time.Second))

		// Promotion catalog endpoints
		r.Post("/promotions", h.CreatePromotionHandler)
		r.Get("/promotions", h.ListPromotionsHandler)
		r.Get("/promotions/{promotionID}", h.GetPromotionHandler)
		r.Post("/promotions/{promotionID}/report", h.ReportPromotionHandler)

		// Verification session endpoints
		r.Post("/verifications", h.StartVerificationHandler)
		r.Post("/verifications/{sessionID}/claim", h.ClaimHandler)
		r.Post("/verifications/{sessionID}/abandon", h.AbandonHandler)

		// Account endpoints
		r.Get("/account/balance", h.BalanceHandler)
		r.Get("/account/ledger", h.LedgerHandler)

		// Feed snapshot
		r.Get("/feed", h.FeedHandler)
	})

	// The SSE stream is long-lived; no request timeout applies.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL, issuer, audience))
		r.Get("/feed/stream", h.FeedStreamHandler)
	})

	return r
}
