package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restobill/renewals/internal/domain"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/renewals")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "0 3 * * *", cfg.SweepSchedule)
	assert.Equal(t, 2*time.Hour, cfg.SweepTimeout)
	assert.Equal(t, 2*time.Minute, cfg.SweepItemTimeout)
	assert.Equal(t, 1, cfg.RenewalMaxAttempts)
	assert.Equal(t, ProviderHTTP, cfg.GatewayProvider)
	assert.Equal(t, "USD", cfg.Currency)
	assert.True(t, cfg.ReminderQueueEnabled)

	catalog := cfg.PlanCatalog()
	assert.Equal(t, int64(39900), catalog[domain.PlanTier1].MonthlyPrice)
	assert.Equal(t, 5, catalog[domain.PlanTier1].CampaignConcurrencyLimit)
	assert.Equal(t, 1, catalog[domain.PlanFree].CampaignConcurrencyLimit)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SWEEP_SCHEDULE", "@every 6h")
	t.Setenv("RENEWAL_MAX_ATTEMPTS", "3")
	t.Setenv("RENEWAL_RETRY_INTERVAL", "12h")
	t.Setenv("GATEWAY_PROVIDER", "Stripe")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_x")
	t.Setenv("GATEWAY_TIMEOUT", "5s")
	t.Setenv("SWEEP_ITEM_TIMEOUT", "30s")
	t.Setenv("CURRENCY", "sar")
	t.Setenv("PLAN_TIER1_PRICE", "19900")
	t.Setenv("PLAN_TIER1_CAMPAIGN_LIMIT", "3")
	t.Setenv("REMINDER_QUEUE_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "@every 6h", cfg.SweepSchedule)
	assert.Equal(t, ProviderStripe, cfg.GatewayProvider)
	assert.Equal(t, 5*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 30*time.Second, cfg.SweepItemTimeout)
	assert.Equal(t, "SAR", cfg.Currency)
	assert.False(t, cfg.ReminderQueueEnabled)

	policy := cfg.RenewalPolicy()
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, 12*time.Hour, policy.RetryInterval)

	catalog := cfg.PlanCatalog()
	assert.Equal(t, int64(19900), catalog[domain.PlanTier1].MonthlyPrice)
	assert.Equal(t, 3, catalog[domain.PlanTier1].CampaignConcurrencyLimit)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "missing database", env: map[string]string{"DATABASE_URL": ""}, want: "DATABASE_URL"},
		{name: "missing redis", env: map[string]string{"REDIS_URL": ""}, want: "REDIS_URL"},
		{name: "unknown provider", env: map[string]string{"GATEWAY_PROVIDER": "paypal"}, want: "GATEWAY_PROVIDER"},
		{name: "stripe without key", env: map[string]string{"GATEWAY_PROVIDER": "stripe", "STRIPE_SECRET_KEY": ""}, want: "STRIPE_SECRET_KEY"},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "loud"}, want: "LOG_LEVEL"},
		{name: "zero item timeout", env: map[string]string{"SWEEP_ITEM_TIMEOUT": "0s"}, want: "SWEEP_ITEM_TIMEOUT"},
		{name: "zero attempts", env: map[string]string{"RENEWAL_MAX_ATTEMPTS": "0"}, want: "RENEWAL_MAX_ATTEMPTS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGetEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("X_INT", "ten")
	t.Setenv("X_DUR", "soon")
	t.Setenv("X_BOOL", "maybe")

	assert.Equal(t, 7, getEnvInt("X_INT", 7))
	assert.Equal(t, time.Minute, getEnvDuration("X_DUR", time.Minute))
	assert.True(t, getEnvBool("X_BOOL", true))
}
