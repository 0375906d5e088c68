package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vatadvisor/usage/internal/database"
	mw "github.com/vatadvisor/usage/internal/middleware"
	inats "github.com/vatadvisor/usage/internal/nats"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Usage handlers
	GetUsage        http.HandlerFunc
	GetUsageHistory http.HandlerFunc
	ListPlans       http.HandlerFunc

	// Chat handlers
	SendMessage http.HandlerFunc

	// Billing webhook (public, signature-verified)
	BillingWebhook http.HandlerFunc

	// Support handlers
	SetUserOverride http.HandlerFunc

	AuthMiddleware  func(http.Handler) http.Handler
	AdminMiddleware func(http.Handler) http.Handler

	// ProvisionMiddleware runs after AuthMiddleware. Optional.
	ProvisionMiddleware func(http.Handler) http.Handler
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	ChatRateLimiter    func(http.Handler) http.Handler
	RedisCheck         func(ctx context.Context) error
}

func NewRouter(pool *pgxpool.Pool, natsClient *inats.Client, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"redis":    "healthy",
			"nats":     "healthy",
		}

		status := http.StatusOK

		if pool == nil || database.HealthCheck(r.Context(), pool) != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if cfg.RedisCheck == nil {
			health["redis"] = "not configured"
		} else if err := cfg.RedisCheck(r.Context()); err != nil {
			health["redis"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		// The ledger is best-effort, so NATS never fails readiness.
		if natsClient == nil {
			health["nats"] = "not configured"
		} else if !natsClient.Healthy() {
			health["nats"] = "unhealthy"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if h.BillingWebhook != nil {
			r.Post("/billing/webhook", h.BillingWebhook)
		}

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)
			if h.ProvisionMiddleware != nil {
				r.Use(h.ProvisionMiddleware)
			}

			r.Route("/usage", func(r chi.Router) {
				r.Get("/", h.GetUsage)
				r.Get("/history", h.GetUsageHistory)
				r.Get("/plans", h.ListPlans)
			})

			if h.SendMessage != nil {
				r.Group(func(r chi.Router) {
					if cfg.ChatRateLimiter != nil {
						r.Use(cfg.ChatRateLimiter)
					}
					r.Post("/chat/messages", h.SendMessage)
				})
			}
		})

		if h.SetUserOverride != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(h.AdminMiddleware)
				r.Put("/users/{userID}/override", h.SetUserOverride)
			})
		}
	})

	return r
}
