package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("POSTGRES_USER", "fulfillment")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "fulfillment")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("PRINTIFY_API_TOKEN", "tok")
	t.Setenv("PRINTIFY_SHOP_ID", "12345")
	t.Setenv("ARTIFACT_BUCKET", "portraits")
	t.Setenv("SMTP_HOST", "smtp.example.com")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8095", cfg.Port)
	assert.Equal(t, "postgres", cfg.IdempotencyBackend)
	assert.Equal(t, 15*time.Minute, cfg.SchedulerInterval)
	assert.Equal(t, 600*time.Millisecond, cfg.SchedulerSendInterval)
	assert.Equal(t, 500, cfg.SchedulerBatchSize)
	assert.Contains(t, cfg.PostgresDSN(), "host=localhost")
}

func TestLoadConfig_BadDuration(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SCHEDULER_INTERVAL", "every hour")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())

	setRequiredEnv(t)
	t.Setenv("IDEMPOTENCY_BACKEND", "memcached")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
}

type fakeSecrets struct {
	values map[string]string
	maps   map[string]map[string]string
}

func (f *fakeSecrets) GetSecret(_ context.Context, name string) (string, error) {
	if v, ok := f.values[name]; ok {
		return v, nil
	}
	return "", errors.New("ResourceNotFoundException")
}

func (f *fakeSecrets) GetSecretMap(_ context.Context, name string) (map[string]string, error) {
	if m, ok := f.maps[name]; ok {
		return m, nil
	}
	return nil, errors.New("ResourceNotFoundException")
}

func TestApplySecrets(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := LoadConfig()
	require.NoError(t, err)

	cfg.ApplySecrets(context.Background(), &fakeSecrets{
		values: map[string]string{
			"fulfillment/STRIPE_WEBHOOK_SECRET": "whsec_live",
			"fulfillment/STRIPE_SECRET_KEY":     "sk_live_1",
		},
		maps: map[string]map[string]string{
			"fulfillment/DB_CREDENTIALS": {"POSTGRES_PASSWORD": "rotated", "POSTGRES_HOST": "db.internal"},
		},
	})

	assert.Equal(t, "whsec_live", cfg.StripeWebhookSecret)
	assert.Equal(t, "rotated", cfg.PostgresPassword)
	assert.Equal(t, "db.internal", cfg.PostgresHost)
	assert.Equal(t, "fulfillment", cfg.PostgresUser)
	assert.Equal(t, "tok", cfg.PrintifyAPIToken)
	assert.Equal(t, "sk_live_1", cfg.StripeSecretKey)
}
