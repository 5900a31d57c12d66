/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, also logged on 5xx
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend
  5. Auth:       Bearer token -> principal (everything except /api/health)

ROUTE GROUPS:
  /api/health           Liveness, unauthenticated
  /api/me/*             Caller's account, products, history
  /api/products/*       Catalog reads
  /api/purchases        Purchase
  /api/topups           Top-up submission
  /api/tickets/*        Support tickets
  /api/admin/*          Top-up resolution, catalog writes, ticket status

  /api/admin/* answers 403 for callers whose account role is not admin.

SEE ALSO:
  - handlers.go, tickets.go: Handler implementations
  - auth.go: Principal middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins are the dev frontends.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *Authenticator, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			r.Route("/me", func(r chi.Router) {
				r.Get("/", h.GetMe)
				r.Get("/products", h.ListOwnedProducts)
				r.Put("/products/{id}/binding", h.UpdateServerBinding)
				r.Get("/history", h.GetHistory)
				r.Get("/entries", h.GetEntries)
			})

			r.Route("/products", func(r chi.Router) {
				r.Get("/", h.ListProducts)
				r.Get("/{id}", h.GetProduct)
			})

			r.Post("/purchases", h.Purchase)
			r.Post("/topups", h.SubmitTopUp)

			r.Route("/tickets", func(r chi.Router) {
				r.Get("/", h.ListTickets)
				r.Post("/", h.CreateTicket)
				r.Get("/{id}", h.GetTicket)
				r.Post("/{id}/comments", h.AddTicketComment)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Get("/topups", h.ListTopUps)
				r.Post("/topups/{id}/approve", h.ApproveTopUp)
				r.Post("/topups/{id}/reject", h.RejectTopUp)

				r.Post("/products", h.CreateProduct)
				r.Put("/products/{id}", h.UpdateProduct)

				r.Get("/tickets/stats", h.GetTicketStats)
				r.Put("/tickets/{id}/status", h.UpdateTicketStatus)
			})
		})
	})

	return r
}
