package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vatadvisor/usage/internal/api"
	"github.com/vatadvisor/usage/internal/auth"
	"github.com/vatadvisor/usage/internal/billing"
	"github.com/vatadvisor/usage/internal/chat"
	"github.com/vatadvisor/usage/internal/config"
	"github.com/vatadvisor/usage/internal/database"
	mw "github.com/vatadvisor/usage/internal/middleware"
	inats "github.com/vatadvisor/usage/internal/nats"
	iredis "github.com/vatadvisor/usage/internal/redis"
	"github.com/vatadvisor/usage/internal/server"
	"github.com/vatadvisor/usage/internal/usage"
	"github.com/vatadvisor/usage/internal/usage/ledger"
	"github.com/vatadvisor/usage/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS (optional)
	var natsClient *inats.Client
	var usageOpts []usage.Option
	if cfg.NATS.URL != "" {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()

		usageOpts = append(usageOpts, usage.WithPublisher(inats.NewPublisher(natsClient.JetStream())))

		ledgerConsumer := ledger.NewConsumer(
			ledger.NewRepository(pool),
			inats.NewConsumerManager(natsClient.JetStream()),
		)
		go func() {
			if err := ledgerConsumer.Start(ctx); err != nil {
				slog.Error("ledger consumer stopped", "error", err)
			}
		}()
	} else {
		slog.Info("NATS_URL not set, usage events are not recorded")
	}

	// Usage
	catalog, err := usage.NewCatalog(usage.CatalogOptions{
		DefaultPlan: usage.PlanKey(cfg.Usage.DefaultPlan),
		PaidPlan:    usage.PlanKey(cfg.Usage.PaidPlan),
		FreeLimit:   cfg.Usage.FreeLimit,
		TrialLimit:  cfg.Usage.TrialLimit,
		ProLimit:    cfg.Usage.ProLimit,
		TrialDays:   cfg.Usage.TrialDays,
	})
	if err != nil {
		slog.Error("building plan catalog", "error", err)
		os.Exit(1)
	}

	userSvc := users.NewService(users.NewRepository(pool), catalog)
	billingSvc := billing.NewService(billing.NewRepository(pool))
	resolver := usage.NewResolver(userSvc, billingSvc, catalog)

	usageSvc := usage.NewService(resolver, newCounterStore(cfg.Usage.Store, pool, redisClient), usageOpts...)
	usageHandler := usage.NewHandler(usageSvc, catalog)

	// Chat
	chatHandler := chat.NewHandler(usageSvc, chat.NewGeminiResponder(cfg.Gemini))
	chatLimiter := mw.NewRateLimiter(redisClient, "ratelimit:chat:", cfg.RateLimit.ChatMaxRequests, cfg.RateLimit.ChatWindowSec).
		WithKey(func(r *http.Request) string {
			if id, ok := auth.UserIDFromContext(r.Context()); ok {
				return id.String()
			}
			return ""
		})

	// Billing and support
	webhookHandler := billing.NewWebhookHandler(billingSvc, cfg.Stripe.WebhookSecret)
	userHandler := users.NewHandler(userSvc)

	jwtManager := auth.NewJWTManager(cfg.JWT.AccessSecret, 15*time.Minute)

	router := api.NewRouter(pool, natsClient, api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		ChatRateLimiter:    chatLimiter.Middleware,
		RedisCheck:         iredis.HealthCheck(redisClient),
	}, api.HandlerSet{
		GetUsage:        usageHandler.GetUsage,
		GetUsageHistory: usageHandler.GetHistory,
		ListPlans:       usageHandler.ListPlans,

		SendMessage: chatHandler.SendMessage,

		BillingWebhook: webhookHandler.Handle,

		SetUserOverride: userHandler.SetOverride,

		AuthMiddleware:      auth.Middleware(jwtManager),
		AdminMiddleware:     auth.AdminMiddleware(cfg.Admin.APIKey),
		ProvisionMiddleware: userHandler.ProvisionMiddleware,
	})

	// Start server
	srv := server.New(cfg.Server, router, cfg.Gemini.Timeout+15*time.Second)
	if err := srv.Start(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newCounterStore(kind string, pool *pgxpool.Pool, rdb redis.Cmdable) usage.CounterStore {
	if kind == "redis" {
		slog.Info("usage counters stored in Redis")
		return usage.NewRedisStore(rdb)
	}
	slog.Info("usage counters stored in PostgreSQL")
	return usage.NewPostgresStore(pool)
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
