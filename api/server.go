/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/groups/*      Group-scoped round operations
  /api/rounds/*      Round editing and slot management
  /api/slots/*       Contribution submission
  /api/admin/*       Manual tick trigger
  /api/health        Liveness probe

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Group-scoped round routes
		r.Route("/groups/{groupID}/rounds", func(r chi.Router) {
			r.Get("/", h.ListRounds)
			r.Post("/", h.CreateRound)
		})

		// Round routes
		r.Route("/rounds/{id}", func(r chi.Router) {
			r.Put("/", h.EditRound)
			r.Delete("/", h.DeleteRound)

			r.Route("/slots", func(r chi.Router) {
				r.Get("/", h.ListSlots)
				r.Post("/", h.GenerateSlots)
				r.Delete("/", h.ResetSlots)
			})
		})

		// Contribution routes
		r.Route("/slots/{id}", func(r chi.Router) {
			r.Post("/contributions", h.SubmitContribution)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/tick", h.TriggerTick)
		})

		r.Get("/health", h.Health)
	})

	return r
}
