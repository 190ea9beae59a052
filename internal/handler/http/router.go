package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/searchsync/internal/config"
	"github.com/utafrali/searchsync/pkg/health"
	"github.com/utafrali/searchsync/pkg/middleware"
)

// NewRouter creates a chi router with the admin API, health checks and
// metrics registered.
func NewRouter(
	cfg *config.Config,
	admin *AdminHandler,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		ExposedHeaders: []string{"X-Correlation-ID"},
		Environment:    cfg.Environment,
	}))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("searchsync"))
	r.Use(middleware.Tracing("searchsync"))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	// Admin API endpoints
	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Route("/reindex", func(r chi.Router) {
			r.Post("/", admin.StartReindex)
			r.Get("/", admin.ListReindexJobs)
			r.Get("/{id}", admin.GetReindexJob)
			r.Post("/{id}/resume", admin.ResumeReindexJob)
			r.Post("/{id}/abandon", admin.AbandonReindexJob)
		})

		r.Route("/dead-letters", func(r chi.Router) {
			r.Get("/", admin.ListDeadLetters)
			r.Get("/count", admin.CountDeadLetters)
			r.Post("/{eventId}/replay", admin.ReplayDeadLetter)
		})
	})

	return r
}
