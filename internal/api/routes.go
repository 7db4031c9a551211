package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, hc *HealthChecker, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS - explicit origins come from config; bare dev setups get a wildcard
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))

	// Health checks (no /api prefix)
	if hc != nil {
		r.Get("/health", hc.HandleHealth)
		r.Get("/health/live", hc.HandleLiveness)
		r.Get("/health/ready", hc.HandleReadiness)
	}

	// The tracking pixel lives at the root: its URL is baked into outbound
	// email HTML and must stay short and stable.
	r.Get("/emails/track-open/{token}", h.TrackOpen)

	r.Route("/api/v1", func(r chi.Router) {
		// AI provider settings
		r.Route("/settings", func(r chi.Router) {
			r.Get("/ai-config", h.GetAIConfig)
			r.Put("/ai-config", h.UpdateAIConfig)
			r.Post("/test-ai", h.TestAI)
			r.Get("/gemini-models", h.ListGeminiModels)
			r.Post("/test-prompt", h.TestPrompt)
		})

		// Email sequence operations
		r.Route("/emails", func(r chi.Router) {
			r.Post("/generate", h.GenerateEmail)
			r.Post("/store-external", h.StoreExternalEmail)
			r.Post("/track-copy", h.TrackCopy)
			r.Post("/batch-generate-cis", h.BatchGenerate)
			r.Get("/states/{prospect_id}", h.EmailStates)
			r.Get("/tracking/{id}", h.TrackingRecord)
		})

		// Lifecycle jobs
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/run-nightly", h.RunNightly)
			r.Get("/runs", h.ListRuns)
			r.Post("/sync-warehouse", h.SyncWarehouse)
		})

		// On-demand scoring
		r.Get("/calculate-score", h.CalculateScore)
	})

	return r
}
