/**
 * @description
 * This file sets up the HTTP router for the billing-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication and webhook signature checks.
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

// BillingRoutes creates and returns a new router for the billing service.
func BillingRoutes(h *BillingHandlers, jwksURL, webhookSecret string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Idempotency-Key"},
		MaxAge:         300,
	}))

	// Health check endpoint
	r.Get("/health", h.HealthHandler)

	// Plan catalog is public so the pricing page can render without a session.
	r.Get("/plans", h.ListPlansHandler)

	// Gateway notifications arrive unauthenticated; signature verification
	// stands in for the JWT check.
	r.Group(func(r chi.Router) {
		r.Use(WebhookSignatureMiddleware(webhookSecret))
		r.Post("/webhooks/payments", h.PaymentWebhookHandler)
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		r.Post("/payments", h.SubmitChargeHandler)
		r.Post("/checkout", h.CreateCheckoutHandler)
	})

	return r
}
