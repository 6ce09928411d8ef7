package app_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tenantquota/internal/app"
	"github.com/dmitrymomot/tenantquota/pkg/config"
)

func TestConfig_Defaults(t *testing.T) {
	t.Setenv("PG_CONN_URL", "postgres://localhost/quota")
	t.Setenv("AUDIT_EMAIL_RECIPIENTS", "ops@example.com,finance@example.com")

	var cfg app.Config
	require.NoError(t, config.Load(&cfg))

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, app.UsageStorePostgres, cfg.Usage.Store)
	assert.Equal(t, 32, cfg.Usage.MaxAttempts)
	assert.Equal(t, 1024, cfg.Audit.BufferSize)
	assert.Equal(t, 10*time.Second, cfg.Audit.DeliveryTimeout)
	assert.Equal(t, 7, cfg.Lifecycle.GracePeriodDays)
	assert.Equal(t, "@hourly", cfg.Billing.Schedule)
	assert.Equal(t, 24*time.Hour, cfg.Archive.Window)
	assert.Equal(t, []string{"ops@example.com", "finance@example.com"}, cfg.Email.Recipients)
	assert.False(t, cfg.Redis.Enabled)
}

func TestConfig_MissingDatabase(t *testing.T) {
	t.Setenv("PG_CONN_URL", "unused")
	require.NoError(t, os.Unsetenv("PG_CONN_URL"))

	var cfg app.Config
	err := config.Load(&cfg)
	require.ErrorIs(t, err, config.ErrParsingConfig)
}

func TestNew_RedisStoreNeedsRedis(t *testing.T) {
	t.Parallel()

	var cfg app.Config
	cfg.Usage.Store = app.UsageStoreRedis

	_, err := app.New(context.Background(), cfg, nil)
	require.ErrorIs(t, err, app.ErrRedisRequired)
}
