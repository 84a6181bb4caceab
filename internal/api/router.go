/**
 * @description
 * This file sets up the HTTP router for the commerce-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS for the mini-app frontend.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// CommerceRoutes creates and returns a new router for the commerce service.
func CommerceRoutes(h *CommerceHandlers, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*.telegram.org", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Payment provider webhook; authenticated by HMAC signature, not JWT.
	r.Post("/webhooks/payments", h.PaymentWebhookHandler)

	// Group routes that require a mini-app session token.
	r.Group(func(r chi.Router) {
		r.Use(SessionAuthMiddleware(jwtSecret))

		// Rental lifecycle
		r.Get("/rentals/current", h.CurrentRentalHandler)
		r.Get("/rentals/{rentalID}/actions", h.AvailableActionsHandler)
		r.Post("/rentals/{rentalID}/confirm-pickup", h.ConfirmPickupHandler)
		r.Post("/rentals/{rentalID}/confirm-return", h.ConfirmReturnHandler)
		r.Post("/rentals/{rentalID}/photos", h.AddRentalPhotoHandler)
		r.Post("/rentals/{rentalID}/drop-anywhere", h.RequestDropAnywhereHandler)
		r.Post("/rentals/{rentalID}/sos", h.RequestSOSHandler)
		r.Post("/geotag", h.AttachGeotagHandler)

		// Referral program
		r.Get("/referral/code", h.ReferralCodeHandler)
		r.Post("/referral/redeem", h.RedeemReferralHandler)
		r.Get("/referral/stats", h.ReferralStatsHandler)
		r.Get("/referral/leaderboard", h.LeaderboardHandler)

		// Crew shifts
		r.Post("/shifts/clock-in", h.ClockInHandler)
		r.Post("/shifts/toggle-ride", h.ToggleRideHandler)
		r.Post("/shifts/clock-out", h.ClockOutHandler)
		r.Post("/shifts/location", h.ReportLocationHandler)
	})

	return r
}
