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
  4. CORS:       Cross-origin requests for admin UIs and SDK clients

ROUTE GROUPS:
  /api/flags/*          Flag management
  /api/evaluate         Evaluation (single + batch)
  /api/experiments/*    Experiment lifecycle, assignment, conversions
  /api/cache/*          Cache invalidation
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus metrics
  /healthz              Liveness probe

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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
		// Flag routes
		r.Route("/flags", func(r chi.Router) {
			r.Get("/", h.ListFlags)
			r.Post("/", h.CreateFlag)
			r.Get("/{key}", h.GetFlag)
			r.Put("/{key}", h.UpdateFlag)
			r.Post("/{key}/activate", h.ActivateFlag)
			r.Post("/{key}/deactivate", h.DeactivateFlag)
			r.Post("/{key}/archive", h.ArchiveFlag)
		})

		// Evaluation routes
		r.Route("/evaluate", func(r chi.Router) {
			r.Post("/", h.Evaluate)
			r.Post("/batch", h.EvaluateBatch)
		})

		// Experiment routes
		r.Route("/experiments", func(r chi.Router) {
			r.Get("/", h.ListExperiments)
			r.Post("/", h.CreateExperiment)
			r.Get("/{id}", h.GetExperiment)
			r.Post("/{id}/start", h.StartExperiment)
			r.Post("/{id}/pause", h.PauseExperiment)
			r.Post("/{id}/resume", h.ResumeExperiment)
			r.Post("/{id}/stop", h.StopExperiment)
			r.Post("/{id}/cancel", h.CancelExperiment)
			r.Post("/{id}/assign", h.AssignParticipant)
			r.Post("/{id}/convert", h.TrackConversion)
			r.Get("/{id}/results", h.ExperimentResults)
			r.Get("/{id}/participants", h.ExperimentParticipants)
		})

		// Cache routes
		r.Route("/cache", func(r chi.Router) {
			r.Post("/clear", h.ClearCache)
			r.Post("/clear/{tenant}", h.ClearTenantCache)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	// Observability
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
