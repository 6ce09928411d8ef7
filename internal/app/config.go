package app

import (
	"time"

	"github.com/dmitrymomot/tenantquota/pkg/httpserver"
	"github.com/dmitrymomot/tenantquota/pkg/pg"
	"github.com/dmitrymomot/tenantquota/pkg/redis"
	"github.com/dmitrymomot/tenantquota/svc/audit"
	"github.com/dmitrymomot/tenantquota/svc/billing"
	"github.com/dmitrymomot/tenantquota/svc/payment"
	"github.com/dmitrymomot/tenantquota/svc/subscription"
)

// Config aggregates every component configuration. Nested structs are
// parsed without prefixes, each field carries its full variable name.
type Config struct {
	Env           string `env:"APP_ENV" envDefault:"development"`
	Name          string `env:"APP_NAME" envDefault:"quotad"`
	LogLevel      string `env:"LOG_LEVEL"`
	PlansSeedFile string `env:"PLANS_SEED_FILE"`

	HTTP      httpserver.Config
	Postgres  pg.Config
	Redis     redis.Config
	Billing   billing.Config
	Lifecycle subscription.Config
	Usage     UsageConfig
	Audit     AuditConfig
	Email     audit.EmailConfig
	Webhook   audit.WebhookConfig
	Archive   audit.ArchiveConfig
	Paddle    payment.PaddleConfig
}

// Counter backends.
const (
	UsageStorePostgres = "postgres"
	UsageStoreRedis    = "redis"
)

type UsageConfig struct {
	Store       string `env:"USAGE_STORE" envDefault:"postgres"`
	MaxAttempts int    `env:"USAGE_MAX_ATTEMPTS" envDefault:"32"`
	RedisPrefix string `env:"USAGE_REDIS_PREFIX" envDefault:"usage"`
}

type AuditConfig struct {
	BufferSize      int           `env:"AUDIT_BUFFER_SIZE" envDefault:"1024"`
	DeliveryTimeout time.Duration `env:"AUDIT_DELIVERY_TIMEOUT" envDefault:"10s"`
	RedisChannel    string        `env:"AUDIT_REDIS_CHANNEL" envDefault:"tenantquota:audit"`
}
