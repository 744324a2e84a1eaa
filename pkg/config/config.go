package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coachdeck/coachdeck/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Stripe        StripeConfig
	SMTP          SMTPConfig
	Billing       BillingConfig
	Tiers         TiersConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	CORSOrigin      string
	Development     bool

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	QueryTimeout    time.Duration
}

// RedisConfig holds Redis configuration for rate limiting and caching
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
}

// StripeConfig holds payment processor configuration
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string

	// Price IDs per subscription tier, mapped at startup into the tier registry
	PriceIDStarter string
	PriceIDCoach   string
	PriceIDStudio  string
	PriceIDGym     string
}

// SMTPConfig holds outbound email configuration
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	Enabled  bool
}

// BillingConfig holds subscription lifecycle settings
type BillingConfig struct {
	TrialDays          int
	PaymentGraceDays   int
	ArchiveDelayDays   int
	RetentionBatchSize int
	UpgradeURL         string
}

// TiersConfig holds tier registry settings
type TiersConfig struct {
	// Optional YAML file overriding the built-in tier definitions
	OverridePath string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Stripe:        loadStripeConfig(),
		SMTP:          loadSMTPConfig(),
		Billing:       loadBillingConfig(),
		Tiers:         loadTiersConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("COACHDECK_HOST", "0.0.0.0"),
		Port:            getEnv("COACHDECK_PORT", "8080"),
		ReadTimeout:     getEnvDuration("COACHDECK_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("COACHDECK_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("COACHDECK_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("COACHDECK_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("COACHDECK_MAX_BODY_BYTES", 1<<20),
		CORSOrigin:      getEnv("COACHDECK_CORS_ORIGIN", "*"),
		Development:     getEnvBool("COACHDECK_DEVELOPMENT", false),
		HealthPort:      getEnv("COACHDECK_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("COACHDECK_POSTGRES_URL", ""),
		MaxOpenConns:    getEnvInt("COACHDECK_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns:    getEnvInt("COACHDECK_POSTGRES_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("COACHDECK_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		ConnMaxIdleTime: getEnvDuration("COACHDECK_POSTGRES_CONN_IDLE_TIME", 5*time.Minute),
		QueryTimeout:    getEnvDuration("COACHDECK_POSTGRES_TIMEOUT", 10*time.Second),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("COACHDECK_REDIS_URL", ""),
		Password:   getEnv("COACHDECK_REDIS_PASSWORD", ""),
		DB:         getEnvInt("COACHDECK_REDIS_DB", 0),
		PoolSize:   getEnvInt("COACHDECK_REDIS_POOL_SIZE", 10),
		MaxRetries: getEnvInt("COACHDECK_REDIS_MAX_RETRIES", 3),
	}
}

func loadStripeConfig() StripeConfig {
	return StripeConfig{
		SecretKey:      getEnv("COACHDECK_STRIPE_SECRET_KEY", ""),
		WebhookSecret:  getEnv("COACHDECK_STRIPE_WEBHOOK_SECRET", ""),
		PriceIDStarter: getEnv("COACHDECK_STRIPE_PRICE_STARTER", ""),
		PriceIDCoach:   getEnv("COACHDECK_STRIPE_PRICE_COACH", ""),
		PriceIDStudio:  getEnv("COACHDECK_STRIPE_PRICE_STUDIO", ""),
		PriceIDGym:     getEnv("COACHDECK_STRIPE_PRICE_GYM", ""),
	}
}

func loadSMTPConfig() SMTPConfig {
	return SMTPConfig{
		Host:     getEnv("COACHDECK_SMTP_HOST", ""),
		Port:     getEnv("COACHDECK_SMTP_PORT", "587"),
		Username: getEnv("COACHDECK_SMTP_USERNAME", ""),
		Password: getEnv("COACHDECK_SMTP_PASSWORD", ""),
		From:     getEnv("COACHDECK_SMTP_FROM", "no-reply@coachdeck.io"),
		Enabled:  getEnvBool("COACHDECK_SMTP_ENABLED", false),
	}
}

func loadBillingConfig() BillingConfig {
	return BillingConfig{
		TrialDays:          getEnvInt("COACHDECK_TRIAL_DAYS", 14),
		PaymentGraceDays:   getEnvInt("COACHDECK_PAYMENT_GRACE_DAYS", 7),
		ArchiveDelayDays:   getEnvInt("COACHDECK_ARCHIVE_DELAY_DAYS", 7),
		RetentionBatchSize: getEnvInt("COACHDECK_RETENTION_BATCH_SIZE", 100),
		UpgradeURL:         getEnv("COACHDECK_UPGRADE_URL", "/billing/upgrade"),
	}
}

func loadTiersConfig() TiersConfig {
	return TiersConfig{
		OverridePath: getEnv("COACHDECK_TIERS_FILE", ""),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("COACHDECK_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("COACHDECK_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("COACHDECK_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("COACHDECK_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("COACHDECK_OTEL_SERVICE_NAME", "coachdeck"),
		OTelServiceVersion: getEnv("COACHDECK_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("COACHDECK_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MaxOpenConns < c.Database.MaxIdleConns {
		return fmt.Errorf("max open connections must be >= max idle connections")
	}

	if c.Stripe.SecretKey == "" {
		return fmt.Errorf("stripe secret key is required")
	}
	if c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("stripe webhook secret is required")
	}

	if c.SMTP.Enabled {
		if c.SMTP.Host == "" {
			return fmt.Errorf("SMTP host is required when SMTP is enabled")
		}
		if c.SMTP.From == "" {
			return fmt.Errorf("SMTP from address is required when SMTP is enabled")
		}
	}

	if c.Billing.TrialDays < 0 {
		return fmt.Errorf("trial days must not be negative")
	}
	if c.Billing.PaymentGraceDays < 1 {
		return fmt.Errorf("payment grace days must be at least 1")
	}
	if c.Billing.ArchiveDelayDays < 0 {
		return fmt.Errorf("archive delay days must not be negative")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
