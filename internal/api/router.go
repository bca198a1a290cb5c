/**
 * @description
 * This file sets up the HTTP router for the billing-service using the
 * go-chi/chi router. It defines the API routes, applies middleware for
 * logging, CORS and authentication, and maps routes to their handlers.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the billing-service routes.
func NewRouter(h *BillingHandlers, stream *StreamHandler, jwtSecret, internalAPIKey string) *chi.Mux {
	r := chi.NewRouter()

	// Setup middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Billing service is healthy"))
	})

	// Internal service-to-service endpoints
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/internal/profile-events", h.ProfileEventHandler)
	})

	// Protected routes that require authentication
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		r.Get("/bills", h.ListBillsHandler)
		r.Get("/bills/{billID}", h.GetBillHandler)
		r.Post("/bills/{billID}/orders", h.CreateOrderHandler)
		r.Post("/payments/verify", h.VerifyPaymentHandler)

		r.Get("/notifications", h.ListNotificationsHandler)
		r.Post("/notifications/{notificationID}/read", h.MarkNotificationReadHandler)

		// Event distribution channel
		r.Get("/ws", stream.ServeHTTP)

		// Admin-only operations
		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)

			r.Post("/bills", h.GenerateBillHandler)
			r.Delete("/bills/{billID}", h.DeleteBillHandler)
			r.Get("/reports/period", h.PeriodReportHandler)
			r.Post("/notifications", h.PostNotificationHandler)
			r.Delete("/notifications/{notificationID}", h.DeleteNotificationHandler)
		})
	})

	return r
}
