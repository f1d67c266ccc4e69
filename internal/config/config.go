package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/opsboard/opsboard-api/internal/secrets"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	ApiKey    ApiKeyConfig
	JWT       JWTConfig
	Storage   StorageConfig
	Secrets   SecretsConfig
	Logging   LoggingConfig
	Server    ServerConfig
	CORS      CORSConfig
	Security  SecurityConfig
	RateLimit RateLimitConfig
	Stripe    StripeConfig
	Email     EmailConfig
	LLM       LLMConfig
	Catalog   CatalogConfig
	Events    EventsConfig
	Telegram  TelegramConfig
	Jobs      JobsConfig
}

type AppConfig struct {
	Name        string
	Environment string
	Port        int
	BaseURL     string
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite"
	Driver          string
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int
}

type ApiKeyConfig struct {
	SecretName string
	Value      string // Loaded from secrets or environment
}

// JWTConfig configures HS256 bearer token validation
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

type StorageConfig struct {
	Mode                  string
	LocalBasePath         string
	CloudConnectionString string
	CloudContainer        string
}

type SecretsConfig struct {
	// Source determines where secrets are loaded from: "environment", "vault", or "auto"
	Source       string
	KeyVaultName string
	CacheEnabled bool
	CacheTTL     int // seconds
}

type LoggingConfig struct {
	Level  string
	Format string
}

type ServerConfig struct {
	ReadTimeout    int
	WriteTimeout   int
	RequestTimeout int
	EnableSwagger  bool
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// SecurityConfig holds security header configuration
type SecurityConfig struct {
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	ContentSecurityPolicy string
	FrameOptions          string
	ContentTypeNosniff    bool
	ReferrerPolicy        string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled bool
	// RequestsPerMinute caps each client address before authentication
	RequestsPerMinute       int
	RequestsPerMinuteUser   int
	RequestsPerMinuteAPIKey int
	// TrustProxyHeaders takes the client address from X-Forwarded-For and friends.
	// Only enable behind a proxy that overwrites them.
	TrustProxyHeaders bool
}

// StripeConfig holds payment processor settings
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	// RequestTimeout bounds every processor call (seconds)
	RequestTimeout int
	// DaysUntilDue is used when a quote carries neither a due date nor net terms
	DaysUntilDue int
	// APIBaseURL overrides the processor endpoint, e.g. for stripe-mock
	APIBaseURL string
}

// EmailConfig holds SMTP delivery settings
type EmailConfig struct {
	Enabled     bool
	SMTPURL     string
	FromAddress string
	FromName    string
	SkipVerify  bool
	Timeout     int // seconds
	// ArchiveSent stores a copy of every sent invoice email in Storage
	ArchiveSent bool
}

// LLMConfig holds chat completion settings for pricing suggestions and intent parsing
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     int // seconds
}

// CatalogPlan is a named service offering with fixed fees in cents
type CatalogPlan struct {
	Name             string
	SetupFeeCents    int64
	MonthlyFeeCents  int64
	Description      string
	TypicalLowCents  int64
	TypicalHighCents int64
}

// CatalogConfig lists the plans the pricing suggester quotes against
type CatalogConfig struct {
	Plans []CatalogPlan
}

// EventsConfig controls publishing billing events to Kafka
type EventsConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// TelegramConfig holds bot settings for the chat front-end
type TelegramConfig struct {
	Enabled        bool
	BotToken       string
	WebhookSecret  string
	AllowedChatIDs []int64
}

// JobsConfig controls background jobs
type JobsConfig struct {
	ReconcileEnabled bool
	ReconcileCron    string
	ReconcileTimeout int // seconds
}

// ConnectionString builds PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// ConnMaxLifetimeDuration returns connection max lifetime as duration
func (d *DatabaseConfig) ConnMaxLifetimeDuration() time.Duration {
	return time.Duration(d.ConnMaxLifetime) * time.Second
}

// ReadTimeoutDuration returns read timeout as duration
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns write timeout as duration
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// RequestTimeoutDuration returns request timeout as duration
func (s *StripeConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(s.RequestTimeout) * time.Second
}

// TimeoutDuration returns the SMTP send timeout as duration
func (e *EmailConfig) TimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

// TimeoutDuration returns the completion timeout as duration
func (l *LLMConfig) TimeoutDuration() time.Duration {
	return time.Duration(l.Timeout) * time.Second
}

// ReconcileTimeoutDuration returns the reconcile job timeout as duration
func (j *JobsConfig) ReconcileTimeoutDuration() time.Duration {
	return time.Duration(j.ReconcileTimeout) * time.Second
}

// IsChatAllowed checks the chat allow-list. An empty list allows nobody.
func (t *TelegramConfig) IsChatAllowed(chatID int64) bool {
	for _, id := range t.AllowedChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// Load loads configuration from file and environment variables.
// Use LoadWithSecrets for full secret resolution.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override config file
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Well-known variable names used by deployment tooling
	if cfg.ApiKey.Value == "" {
		cfg.ApiKey.Value = v.GetString("ADMIN_API_KEY")
	}
	if cfg.Stripe.SecretKey == "" {
		cfg.Stripe.SecretKey = v.GetString("STRIPE_SECRET_KEY")
	}
	if cfg.Stripe.WebhookSecret == "" {
		cfg.Stripe.WebhookSecret = v.GetString("STRIPE_WEBHOOK_SECRET")
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v.GetString("OPENAI_API_KEY")
	}
	if cfg.Telegram.BotToken == "" {
		cfg.Telegram.BotToken = v.GetString("TELEGRAM_BOT_TOKEN")
	}
	if cfg.Secrets.KeyVaultName == "" {
		cfg.Secrets.KeyVaultName = v.GetString("AZURE_KEY_VAULT_NAME")
	}

	return &cfg, nil
}

// LoadWithSecrets loads configuration and resolves secrets from the configured source.
//
// Key Vault is used when BOTH conditions are met:
// 1. USE_AZURE_KEY_VAULT environment variable is set to "true"
// 2. Environment is "staging" or "production"
func LoadWithSecrets(ctx context.Context, logger *zap.Logger) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	useKeyVault := strings.ToLower(os.Getenv("USE_AZURE_KEY_VAULT")) == "true"
	isValidEnv := cfg.App.Environment == "staging" || cfg.App.Environment == "production"

	if !useKeyVault {
		logger.Info("USE_AZURE_KEY_VAULT not enabled, using environment variables for secrets",
			zap.String("environment", cfg.App.Environment),
		)
		return cfg, nil
	}

	if !isValidEnv {
		logger.Warn("USE_AZURE_KEY_VAULT is enabled but environment is not staging or production, using environment variables for secrets",
			zap.String("environment", cfg.App.Environment),
		)
		return cfg, nil
	}

	if cfg.Secrets.KeyVaultName == "" {
		return nil, fmt.Errorf("AZURE_KEY_VAULT_NAME is required when USE_AZURE_KEY_VAULT=true")
	}

	provider, err := secrets.NewProvider(&secrets.ProviderConfig{
		Source:       secrets.SourceVault,
		VaultName:    cfg.Secrets.KeyVaultName,
		Environment:  cfg.App.Environment,
		CacheEnabled: cfg.Secrets.CacheEnabled,
		CacheTTL:     time.Duration(cfg.Secrets.CacheTTL) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secrets provider (USE_AZURE_KEY_VAULT=true requires valid vault): %w", err)
	}

	logger.Info("Loading secrets from Azure Key Vault",
		zap.String("key_vault_name", cfg.Secrets.KeyVaultName),
	)

	applySecrets(ctx, cfg, provider)

	logger.Info("Secrets loaded from vault successfully")
	return cfg, nil
}

// SecretSource is the lookup applySecrets needs from a secrets provider
type SecretSource interface {
	GetSecretOrEnv(ctx context.Context, secretName, envName string) (string, error)
}

// applySecrets overwrites config values with whatever the source resolves.
// Missing secrets leave the loaded value in place.
func applySecrets(ctx context.Context, cfg *Config, source SecretSource) {
	bindings := []struct {
		secret string
		env    string
		target *string
	}{
		{"POSTGRES-MAIN-HOST", "DATABASE_HOST", &cfg.Database.Host},
		{"POSTGRES-MAIN-USER", "DATABASE_USER", &cfg.Database.User},
		{"POSTGRES-MAIN-PASSWORD", "DATABASE_PASSWORD", &cfg.Database.Password},
		{"admin-api-key", "ADMIN_API_KEY", &cfg.ApiKey.Value},
		{"jwt-secret", "JWT_SECRET", &cfg.JWT.Secret},
		{"storage-connection-string", "STORAGE_CLOUDCONNECTIONSTRING", &cfg.Storage.CloudConnectionString},
		{"stripe-secret-key", "STRIPE_SECRET_KEY", &cfg.Stripe.SecretKey},
		{"stripe-webhook-secret", "STRIPE_WEBHOOK_SECRET", &cfg.Stripe.WebhookSecret},
		{"smtp-url", "EMAIL_SMTPURL", &cfg.Email.SMTPURL},
		{"openai-api-key", "OPENAI_API_KEY", &cfg.LLM.APIKey},
		{"telegram-bot-token", "TELEGRAM_BOT_TOKEN", &cfg.Telegram.BotToken},
		{"telegram-webhook-secret", "TELEGRAM_WEBHOOKSECRET", &cfg.Telegram.WebhookSecret},
	}

	for _, b := range bindings {
		if value, err := source.GetSecretOrEnv(ctx, b.secret, b.env); err == nil && value != "" {
			*b.target = value
		}
	}

	if sslMode := os.Getenv("DATABASE_SSLMODE"); sslMode != "" {
		cfg.Database.SSLMode = sslMode
	}
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "Opsboard API")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.baseURL", "http://localhost:8080")

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "opsboard")
	v.SetDefault("database.user", "opsboard")
	v.SetDefault("database.password", "opsboard")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.sqlitePath", "opsboard.db")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", 300)

	// Auth defaults
	v.SetDefault("jwt.issuer", "opsboard")
	v.SetDefault("jwt.audience", "opsboard-api")

	// Secrets defaults
	v.SetDefault("secrets.source", "auto")
	v.SetDefault("secrets.cacheEnabled", true)
	v.SetDefault("secrets.cacheTTL", 300)

	// Storage defaults
	v.SetDefault("storage.mode", "local")
	v.SetDefault("storage.localBasePath", "./storage")
	v.SetDefault("storage.cloudContainer", "invoice-emails")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Server defaults
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.requestTimeout", 60)
	v.SetDefault("server.enableSwagger", true)

	// CORS defaults
	v.SetDefault("cors.allowedOrigins", []string{})
	v.SetDefault("cors.allowedMethods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowedHeaders", []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"})
	v.SetDefault("cors.exposedHeaders", []string{"Location", "X-Request-ID"})
	v.SetDefault("cors.allowCredentials", true)
	v.SetDefault("cors.maxAge", 300)

	// Security header defaults
	v.SetDefault("security.enableHSTS", false)
	v.SetDefault("security.hstsMaxAge", 31536000)
	v.SetDefault("security.hstsIncludeSubdomains", true)
	v.SetDefault("security.contentSecurityPolicy", "default-src 'self'")
	v.SetDefault("security.frameOptions", "DENY")
	v.SetDefault("security.contentTypeNosniff", true)
	v.SetDefault("security.referrerPolicy", "strict-origin-when-cross-origin")

	// Rate limiting defaults
	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.requestsPerMinute", 600)
	v.SetDefault("rateLimit.requestsPerMinuteUser", 120)
	v.SetDefault("rateLimit.requestsPerMinuteAPIKey", 300)
	v.SetDefault("rateLimit.trustProxyHeaders", false)

	// Stripe defaults
	v.SetDefault("stripe.currency", "usd")
	v.SetDefault("stripe.requestTimeout", 15)
	v.SetDefault("stripe.daysUntilDue", 14)
	v.SetDefault("stripe.apiBaseURL", "")

	// Email defaults
	v.SetDefault("email.enabled", false)
	v.SetDefault("email.fromAddress", "billing@localhost")
	v.SetDefault("email.fromName", "Billing")
	v.SetDefault("email.timeout", 20)
	v.SetDefault("email.archiveSent", true)

	// LLM defaults
	v.SetDefault("llm.baseURL", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.timeout", 45)

	// Catalog defaults
	v.SetDefault("catalog.plans", []map[string]interface{}{
		{"name": "Starter Website", "setupFeeCents": 150000, "monthlyFeeCents": 5000, "description": "Template site with hosting"},
		{"name": "Business Website", "setupFeeCents": 450000, "monthlyFeeCents": 15000, "description": "Custom design, CMS and hosting"},
		{"name": "Automation Retainer", "setupFeeCents": 0, "monthlyFeeCents": 200000, "description": "Ongoing workflow automation"},
	})

	// Events defaults
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.brokers", []string{"localhost:9092"})
	v.SetDefault("events.topic", "billing-events")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.allowedChatIDs", []int64{})

	// Job defaults
	v.SetDefault("jobs.reconcileEnabled", false)
	v.SetDefault("jobs.reconcileCron", "0 */30 * * * *")
	v.SetDefault("jobs.reconcileTimeout", 300)
}
