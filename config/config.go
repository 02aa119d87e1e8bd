package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"fulfillment-service/sender"
)

// Config holds all configuration for the fulfillment service and fulfillmentctl.
type Config struct {
	Env  string
	Port string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	StripeWebhookSecret string
	// StripeSecretKey is only needed to read events back for replay.
	StripeSecretKey string

	PrintifyAPIToken string
	PrintifyShopID   string
	PrintifyBaseURL  string

	ArtifactBucket    string
	ArtifactPrefix    string
	ArtifactURLExpiry time.Duration

	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	PublicBaseURL string

	OpsSNSTopicARN string
	LeadQueueURL   string

	// IdempotencyBackend is "postgres" or "dynamodb".
	IdempotencyBackend string
	IdempotencyTable   string

	RedisAddr     string
	RedisPassword string

	SchedulerInterval     time.Duration
	SchedulerSendInterval time.Duration
	SchedulerLockTTL      time.Duration
	SchedulerBatchSize    int

	WebhookRateLimit float64
	WebhookBurst     int

	CloudWatchEnabled  bool
	CloudWatchLogGroup string
	MetricsEnabled     bool
	MetricsNamespace   string
}

// SecretSource is satisfied by *aws.SecretsClient.
type SecretSource interface {
	GetSecret(ctx context.Context, name string) (string, error)
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

const (
	secretDBCredentials = "fulfillment/DB_CREDENTIALS"
	secretStripe        = "fulfillment/STRIPE_WEBHOOK_SECRET"
	secretStripeKey     = "fulfillment/STRIPE_SECRET_KEY"
	secretPrintify      = "fulfillment/PRINTIFY_API_TOKEN"
	secretSMTPPass      = "fulfillment/SMTP_PASS"
)

// LoadConfig reads configuration from environment variables. Call godotenv.Load first
// when a .env file should be honoured.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Env:  getEnv("APP_ENV", "production"),
		Port: getEnv("PORT", "8095"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "UTC"),

		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),

		PrintifyAPIToken: os.Getenv("PRINTIFY_API_TOKEN"),
		PrintifyShopID:   os.Getenv("PRINTIFY_SHOP_ID"),
		PrintifyBaseURL:  getEnv("PRINTIFY_BASE_URL", "https://api.printify.com/v1"),

		ArtifactBucket: os.Getenv("ARTIFACT_BUCKET"),
		ArtifactPrefix: getEnv("ARTIFACT_PREFIX", "artifacts"),

		SMTPHost: os.Getenv("SMTP_HOST"),
		SMTPPort: getEnv("SMTP_PORT", "587"),
		SMTPUser: os.Getenv("SMTP_USER"),
		SMTPPass: os.Getenv("SMTP_PASS"),
		SMTPFrom: os.Getenv("SMTP_FROM"),

		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:3000"),

		OpsSNSTopicARN: os.Getenv("OPS_SNS_TOPIC_ARN"),
		LeadQueueURL:   os.Getenv("LEAD_QUEUE_URL"),

		IdempotencyBackend: getEnv("IDEMPOTENCY_BACKEND", "postgres"),
		IdempotencyTable:   getEnv("IDEMPOTENCY_TABLE", "fulfillment-effects"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		CloudWatchEnabled:  os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchLogGroup: getEnv("CLOUDWATCH_LOG_GROUP", "/ecs/fulfillment-service"),
		MetricsEnabled:     os.Getenv("METRICS_ENABLED") == "true",
		MetricsNamespace:   getEnv("METRICS_NAMESPACE", "Fulfillment"),
	}

	var err error
	if cfg.ArtifactURLExpiry, err = getDuration("ARTIFACT_URL_EXPIRY", time.Hour); err != nil {
		return nil, err
	}
	if cfg.SchedulerInterval, err = getDuration("SCHEDULER_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SchedulerSendInterval, err = getDuration("SCHEDULER_SEND_INTERVAL", 600*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.SchedulerLockTTL, err = getDuration("SCHEDULER_LOCK_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SchedulerBatchSize, err = getInt("SCHEDULER_BATCH_SIZE", 500); err != nil {
		return nil, err
	}
	if cfg.WebhookBurst, err = getInt("WEBHOOK_RATE_BURST", 20); err != nil {
		return nil, err
	}
	rps, err := getInt("WEBHOOK_RATE_LIMIT", 10)
	if err != nil {
		return nil, err
	}
	cfg.WebhookRateLimit = float64(rps)

	return cfg, nil
}

// ApplySecrets overrides credentials from Secrets Manager. Missing secrets keep the env value.
func (c *Config) ApplySecrets(ctx context.Context, sm SecretSource) {
	if m, err := sm.GetSecretMap(ctx, secretDBCredentials); err == nil {
		override(&c.PostgresUser, m["POSTGRES_USER"])
		override(&c.PostgresPassword, m["POSTGRES_PASSWORD"])
		override(&c.PostgresDB, m["POSTGRES_DB"])
		override(&c.PostgresHost, m["POSTGRES_HOST"])
		override(&c.PostgresPort, m["POSTGRES_PORT"])
	}
	if v, err := sm.GetSecret(ctx, secretStripe); err == nil {
		override(&c.StripeWebhookSecret, v)
	}
	if v, err := sm.GetSecret(ctx, secretStripeKey); err == nil {
		override(&c.StripeSecretKey, v)
	}
	if v, err := sm.GetSecret(ctx, secretPrintify); err == nil {
		override(&c.PrintifyAPIToken, v)
	}
	if v, err := sm.GetSecret(ctx, secretSMTPPass); err == nil {
		override(&c.SMTPPass, v)
	}
}

// Validate checks the values every entry point needs.
func (c *Config) Validate() error {
	if c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "" || c.PostgresHost == "" {
		return fmt.Errorf("database config incomplete")
	}
	if c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET not set")
	}
	if c.PrintifyAPIToken == "" || c.PrintifyShopID == "" {
		return fmt.Errorf("PRINTIFY_API_TOKEN and PRINTIFY_SHOP_ID are required")
	}
	if c.ArtifactBucket == "" {
		return fmt.Errorf("ARTIFACT_BUCKET not set")
	}
	if c.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST not set")
	}
	switch c.IdempotencyBackend {
	case "postgres", "dynamodb":
	default:
		return fmt.Errorf("IDEMPOTENCY_BACKEND must be postgres or dynamodb, got %q", c.IdempotencyBackend)
	}
	return nil
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone,
	)
}

func (c *Config) SMTP() sender.SMTPConfig {
	return sender.SMTPConfig{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		Username: c.SMTPUser,
		Password: c.SMTPPass,
		From:     c.SMTPFrom,
	}
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
