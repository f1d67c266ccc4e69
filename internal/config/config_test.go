package config_test

import (
	"context"
	"testing"
	"time"

	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "usd", cfg.Stripe.Currency)
	assert.Equal(t, 14, cfg.Stripe.DaysUntilDue)
	assert.Equal(t, 15*time.Second, cfg.Stripe.RequestTimeoutDuration())
	assert.False(t, cfg.Telegram.Enabled)
	assert.False(t, cfg.Jobs.ReconcileEnabled)
	assert.Equal(t, 5*time.Minute, cfg.Jobs.ReconcileTimeoutDuration())
	assert.Equal(t, 120, cfg.RateLimit.RequestsPerMinuteUser)
	assert.Equal(t, 300, cfg.RateLimit.RequestsPerMinuteAPIKey)
	assert.False(t, cfg.RateLimit.TrustProxyHeaders)
	assert.NotEmpty(t, cfg.Catalog.Plans)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("STRIPE_DAYSUNTILDUE", "30")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 30, cfg.Stripe.DaysUntilDue)
	assert.Equal(t, "sk_test_123", cfg.Stripe.SecretKey)
	assert.Equal(t, "whsec_123", cfg.Stripe.WebhookSecret)
	assert.Equal(t, "sk-openai", cfg.LLM.APIKey)
}

func TestLoadWithSecrets_WithoutVaultUsesEnvironment(t *testing.T) {
	t.Setenv("USE_AZURE_KEY_VAULT", "false")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_env")

	cfg, err := config.LoadWithSecrets(context.Background(), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "sk_test_env", cfg.Stripe.SecretKey)
}

func TestLoadWithSecrets_VaultRequiresName(t *testing.T) {
	t.Setenv("USE_AZURE_KEY_VAULT", "true")
	t.Setenv("APP_ENVIRONMENT", "production")
	t.Setenv("AZURE_KEY_VAULT_NAME", "")

	_, err := config.LoadWithSecrets(context.Background(), zap.NewNop())
	assert.ErrorContains(t, err, "AZURE_KEY_VAULT_NAME")
}

func TestTelegramConfig_IsChatAllowed(t *testing.T) {
	cfg := config.TelegramConfig{AllowedChatIDs: []int64{1001, -2002}}

	assert.True(t, cfg.IsChatAllowed(1001))
	assert.True(t, cfg.IsChatAllowed(-2002))
	assert.False(t, cfg.IsChatAllowed(3003))

	var empty config.TelegramConfig
	assert.False(t, empty.IsChatAllowed(1001), "empty allow-list admits nobody")
}
