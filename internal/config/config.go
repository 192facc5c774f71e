package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/restobill/renewals/internal/billing"
	"github.com/restobill/renewals/internal/domain"
)

// Gateway providers.
const (
	ProviderHTTP   = "http"
	ProviderStripe = "stripe"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	LogLevel    slog.Level

	SweepSchedule        string
	SweepTimeout         time.Duration
	SweepItemTimeout     time.Duration
	RenewalMaxAttempts   int
	RenewalRetryInterval time.Duration

	GatewayProvider  string
	GatewayBaseURL   string
	GatewayAPIKey    string
	GatewayTimeout   time.Duration
	GatewayRateLimit int
	StripeSecretKey  string

	Currency             string
	Tier1Price           int64
	Tier2Price           int64
	Tier1CampaignLimit   int
	ReminderQueueEnabled bool
}

// Load reads configuration from the environment. Values from a .env file in
// the working directory are used for keys that are not already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		SweepSchedule:        getEnv("SWEEP_SCHEDULE", "0 3 * * *"),
		SweepTimeout:         getEnvDuration("SWEEP_TIMEOUT", 2*time.Hour),
		SweepItemTimeout:     getEnvDuration("SWEEP_ITEM_TIMEOUT", 2*time.Minute),
		RenewalMaxAttempts:   getEnvInt("RENEWAL_MAX_ATTEMPTS", billing.DefaultMaxAttempts),
		RenewalRetryInterval: getEnvDuration("RENEWAL_RETRY_INTERVAL", billing.DefaultRetryInterval),

		GatewayProvider:  strings.ToLower(getEnv("GATEWAY_PROVIDER", ProviderHTTP)),
		GatewayBaseURL:   getEnv("GATEWAY_BASE_URL", "http://localhost:9090"),
		GatewayAPIKey:    getEnv("GATEWAY_API_KEY", ""),
		GatewayTimeout:   getEnvDuration("GATEWAY_TIMEOUT", 15*time.Second),
		GatewayRateLimit: getEnvInt("GATEWAY_RATE_LIMIT", 10),
		StripeSecretKey:  getEnv("STRIPE_SECRET_KEY", ""),

		Currency:             strings.ToUpper(getEnv("CURRENCY", "USD")),
		Tier1Price:           int64(getEnvInt("PLAN_TIER1_PRICE", 39900)),
		Tier2Price:           int64(getEnvInt("PLAN_TIER2_PRICE", 79900)),
		Tier1CampaignLimit:   getEnvInt("PLAN_TIER1_CAMPAIGN_LIMIT", 5),
		ReminderQueueEnabled: getEnvBool("REMINDER_QUEUE_ENABLED", true),
	}

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	switch c.GatewayProvider {
	case ProviderHTTP:
		if c.GatewayBaseURL == "" {
			return fmt.Errorf("GATEWAY_BASE_URL is required for the http gateway")
		}
	case ProviderStripe:
		if c.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required for the stripe gateway")
		}
	default:
		return fmt.Errorf("GATEWAY_PROVIDER must be %q or %q, got %q", ProviderHTTP, ProviderStripe, c.GatewayProvider)
	}
	if c.SweepItemTimeout <= 0 {
		return fmt.Errorf("SWEEP_ITEM_TIMEOUT must be positive")
	}
	if c.RenewalMaxAttempts < 1 {
		return fmt.Errorf("RENEWAL_MAX_ATTEMPTS must be at least 1")
	}
	if c.Tier1Price <= 0 || c.Tier2Price <= 0 {
		return fmt.Errorf("paid plan prices must be positive")
	}
	if c.Tier1CampaignLimit < 1 {
		return fmt.Errorf("PLAN_TIER1_CAMPAIGN_LIMIT must be at least 1")
	}
	return nil
}

// PlanCatalog builds the plan catalog from the configured prices and limits.
func (c *Config) PlanCatalog() domain.PlanCatalog {
	return domain.NewPlanCatalog(c.Tier1Price, c.Tier2Price, c.Tier1CampaignLimit)
}

// RenewalPolicy returns the configured retry policy.
func (c *Config) RenewalPolicy() billing.Policy {
	return billing.Policy{MaxAttempts: c.RenewalMaxAttempts, RetryInterval: c.RenewalRetryInterval}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
