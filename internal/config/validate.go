package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}

	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// Usage accounting
	switch c.Usage.Store {
	case "postgres", "redis":
	default:
		errs = append(errs, fmt.Sprintf("USAGE_STORE must be postgres or redis, got %q", c.Usage.Store))
	}
	for name, v := range map[string]int{
		"USAGE_FREE_LIMIT":  c.Usage.FreeLimit,
		"USAGE_TRIAL_LIMIT": c.Usage.TrialLimit,
		"USAGE_PRO_LIMIT":   c.Usage.ProLimit,
	} {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0, got %d", name, v))
		}
	}
	if c.Usage.TrialDays < 1 {
		errs = append(errs, fmt.Sprintf("USAGE_TRIAL_DAYS must be >= 1, got %d", c.Usage.TrialDays))
	}

	if c.RateLimit.ChatMaxRequests < 1 || c.RateLimit.ChatWindowSec < 1 {
		errs = append(errs, "RATELIMIT_CHAT_MAX_REQUESTS and RATELIMIT_CHAT_WINDOW_SEC must be positive")
	}

	// Optional integrations: warn only
	if c.Stripe.WebhookSecret == "" {
		slog.Warn("STRIPE_WEBHOOK_SECRET is empty; billing webhook is disabled")
	}
	if c.Gemini.APIKey == "" {
		slog.Warn("GEMINI_API_KEY is empty; chat replies will fail")
	}
	if c.Admin.APIKey == "" {
		slog.Warn("ADMIN_API_KEY is empty; admin override endpoint is disabled")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
