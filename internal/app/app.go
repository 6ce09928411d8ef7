package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/tenantquota/internal/api"
	"github.com/dmitrymomot/tenantquota/internal/pgstore"
	"github.com/dmitrymomot/tenantquota/pkg/httpserver"
	"github.com/dmitrymomot/tenantquota/pkg/logger"
	"github.com/dmitrymomot/tenantquota/pkg/pg"
	"github.com/dmitrymomot/tenantquota/pkg/redis"
	"github.com/dmitrymomot/tenantquota/svc/audit"
	"github.com/dmitrymomot/tenantquota/svc/billing"
	"github.com/dmitrymomot/tenantquota/svc/payment"
	"github.com/dmitrymomot/tenantquota/svc/plan"
	"github.com/dmitrymomot/tenantquota/svc/subscription"
	"github.com/dmitrymomot/tenantquota/svc/usage"
)

var ErrRedisRequired = errors.New("app: USAGE_STORE=redis needs REDIS_ENABLED=true")

// App is a fully wired service instance.
type App struct {
	cfg       Config
	log       *slog.Logger
	pool      *pgxpool.Pool
	rdb       *goredis.Client
	emitter   *audit.Emitter
	api       *api.Server
	scheduler *billing.Scheduler
}

// New connects storage and builds every component. Resources opened before
// a failure are released.
func New(ctx context.Context, cfg Config, log *slog.Logger) (_ *App, err error) {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.Usage.Store == UsageStoreRedis && !cfg.Redis.Enabled {
		return nil, ErrRedisRequired
	}

	a := &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	if a.pool, err = pg.Connect(ctx, cfg.Postgres); err != nil {
		return nil, err
	}
	db := pgstore.New(a.pool, pgstore.WithQueryTimeout(cfg.Postgres.QueryTimeout))
	if cfg.Postgres.AutoMigrate {
		if err = db.Migrate(ctx, cfg.Postgres, log); err != nil {
			return nil, err
		}
	}
	if cfg.Redis.Enabled {
		if a.rdb, err = redis.Connect(ctx, cfg.Redis); err != nil {
			return nil, err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sinks, err := a.sinks()
	if err != nil {
		return nil, err
	}
	auditStore := db.Audit()
	a.emitter = audit.NewEmitter(auditStore,
		audit.WithSinks(sinks...),
		audit.WithLogger(log),
		audit.WithBufferSize(cfg.Audit.BufferSize),
		audit.WithDeliveryTimeout(cfg.Audit.DeliveryTimeout),
		audit.WithRegisterer(reg),
	)

	subStore := db.Subscriptions()
	catalog := plan.NewCatalog(db.Plans(), plan.WithLogger(log), plan.WithSubscriberCounter(subStore))
	if cfg.PlansSeedFile != "" {
		plans, err := plan.LoadSeedFile(cfg.PlansSeedFile)
		if err != nil {
			return nil, err
		}
		if err := catalog.Seed(ctx, plans); err != nil {
			return nil, err
		}
		log.InfoContext(ctx, "plan catalog seeded", slog.Int("plans", len(plans)))
	}

	var counters usage.Store = db.Counters()
	if cfg.Usage.Store == UsageStoreRedis {
		counters = usage.NewRedisStore(a.rdb, cfg.Usage.RedisPrefix)
	}

	subs := subscription.NewService(subStore, catalog,
		subscription.WithLogger(log),
		subscription.WithConfig(cfg.Lifecycle),
		subscription.WithCounters(counters),
		subscription.WithAuditor(a.emitter),
		subscription.WithRegisterer(reg),
	)
	ledger := usage.NewLedger(counters, subs,
		usage.WithLogger(log),
		usage.WithMaxAttempts(cfg.Usage.MaxAttempts),
		usage.WithAuditor(a.emitter),
		usage.WithRegisterer(reg),
	)

	var leaser billing.Leaser = billing.LocalLeaser{}
	if a.rdb != nil {
		leaser = billing.NewRedisLeaser(a.rdb, "")
	}
	sweeper := billing.NewSweeper(subStore, subs, cfg.Billing,
		billing.WithLogger(log),
		billing.WithLeaser(leaser),
		billing.WithRegisterer(reg),
	)
	a.scheduler = billing.NewScheduler(log)
	if err = a.scheduler.AddSweep(sweeper); err != nil {
		return nil, err
	}
	if cfg.Archive.Enabled() {
		if err = a.scheduleArchive(ctx, auditStore); err != nil {
			return nil, err
		}
	}

	opts := []api.Option{
		api.WithLogger(log),
		api.WithGatherer(reg),
		api.WithRequestTimeout(cfg.HTTP.WriteTimeout),
		api.WithReadinessChecks(pg.Healthcheck(a.pool)),
	}
	if a.rdb != nil {
		opts = append(opts, api.WithReadinessChecks(redis.Healthcheck(a.rdb)))
	}
	if cfg.Paddle.WebhookSecret != "" {
		paddle, err := payment.NewPaddleParser(cfg.Paddle)
		if err != nil {
			return nil, err
		}
		opts = append(opts, api.WithWebhook("paddle", paddle))
	}
	a.api = api.New(ledger, subs, catalog, a.emitter, opts...)
	return a, nil
}

func (a *App) sinks() ([]audit.Sink, error) {
	var sinks []audit.Sink
	if a.rdb != nil {
		sinks = append(sinks, audit.NewRedisSink(a.rdb, a.cfg.Audit.RedisChannel))
	}
	if a.cfg.Email.Enabled() {
		email, err := audit.NewEmailSink(a.cfg.Email)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, email)
	}
	if a.cfg.Webhook.Enabled() {
		hook, err := audit.NewWebhookSink(a.cfg.Webhook, nil)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, hook)
	}
	return sinks, nil
}

func (a *App) scheduleArchive(ctx context.Context, storage audit.Storage) error {
	client, err := audit.NewS3Client(ctx, a.cfg.Archive)
	if err != nil {
		return err
	}
	archiver := audit.NewS3Archiver(storage, client, a.cfg.Archive, a.log)
	window := a.cfg.Archive.Window
	return a.scheduler.Add("audit_archive", a.cfg.Archive.Schedule, func(ctx context.Context) error {
		return archiver.Run(ctx, time.Now().UTC(), window)
	})
}

// Run serves HTTP and runs scheduled jobs until ctx is cancelled or one of
// them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.New(a.cfg.HTTP, httpserver.WithLogger(a.log)).Run(ctx, a.api.Handler())
	})
	g.Go(func() error {
		return a.scheduler.Run(ctx)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// Close drains audit deliveries and releases connections.
func (a *App) Close(ctx context.Context) {
	if a.emitter != nil {
		if err := a.emitter.Close(ctx); err != nil {
			a.log.WarnContext(ctx, "audit deliveries not drained", logger.Error(err))
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.WarnContext(ctx, "redis close failed", logger.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
