package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/localbiz/directory-analytics/internal/middleware"
	"github.com/localbiz/directory-analytics/pkg/logger"
)

const maxBodyBytes = 1 << 20

// RouterConfig holds what the collector router needs.
type RouterConfig struct {
	Analytics          *AnalyticsHandler
	Health             *HealthHandler
	Logger             *logger.Logger
	JWTSecret          string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	CORSAllowedOrigins []string
	ServiceName        string
}

// NewRouter builds the collector's HTTP routes.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/analytics", func(r chi.Router) {
		r.Use(middleware.OptionalAuth(cfg.JWTSecret))
		r.Use(middleware.RecordUser)
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Use(middleware.MaxBodyBytes(maxBodyBytes))
		r.Use(middleware.RequireJSON)

		r.Post("/track", cfg.Analytics.Track)
		r.Post("/track-batch", cfg.Analytics.TrackBatch)
	})

	return r
}
