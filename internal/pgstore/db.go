package pgstore

import (
	"context"
	"embed"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/tenantquota/pkg/pg"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB groups the stores sharing one pool.
type DB struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

type Option func(*DB)

// WithQueryTimeout bounds every store call.
func WithQueryTimeout(d time.Duration) Option {
	return func(db *DB) {
		if d > 0 {
			db.timeout = d
		}
	}
}

func New(pool *pgxpool.Pool, opts ...Option) *DB {
	if pool == nil {
		panic("pgstore: pool is required")
	}
	db := &DB{pool: pool, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Migrate applies the embedded schema migrations.
func (db *DB) Migrate(ctx context.Context, cfg pg.Config, log *slog.Logger) error {
	return pg.Migrate(ctx, db.pool, migrations, "migrations", cfg, log)
}

func (db *DB) Plans() *PlanStore                 { return &PlanStore{db: db} }
func (db *DB) Subscriptions() *SubscriptionStore { return &SubscriptionStore{db: db} }
func (db *DB) Counters() *CounterStore           { return &CounterStore{db: db} }
func (db *DB) Audit() *AuditStore                { return &AuditStore{db: db} }

func (db *DB) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, db.timeout)
}
