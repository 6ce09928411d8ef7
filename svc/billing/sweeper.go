package billing

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/tenantquota/pkg/backoff"
	"github.com/dmitrymomot/tenantquota/pkg/logger"
	"github.com/dmitrymomot/tenantquota/svc/subscription"
)

// Config controls the sweep.
type Config struct {
	Schedule      string        `env:"BILLING_SWEEP_SCHEDULE" envDefault:"@hourly"`
	Workers       int           `env:"BILLING_WORKERS" envDefault:"4"`
	PageSize      int           `env:"BILLING_PAGE_SIZE" envDefault:"200"`
	RetryAttempts int           `env:"BILLING_RETRY_ATTEMPTS" envDefault:"3"`
	LeaseTTL      time.Duration `env:"BILLING_LEASE_TTL" envDefault:"10m"`
}

// Lister pages current subscriptions that may need a time-driven transition.
type Lister interface {
	ListActive(ctx context.Context, after uuid.UUID, limit int) ([]subscription.Subscription, error)
}

// Transitioner applies transitions through the subscription service so that
// version checks and auditing stay in one place.
type Transitioner interface {
	Get(ctx context.Context, id uuid.UUID) (subscription.Subscription, error)
	Fire(ctx context.Context, id uuid.UUID, expectedVersion int, event subscription.Event) (subscription.Subscription, error)
	Config() subscription.Config
}

// Report summarizes one sweep.
type Report struct {
	Scanned     int                        `json:"scanned"`
	Transitions map[subscription.Event]int `json:"transitions"`
	Failed      int                        `json:"failed"`
	Skipped     int                        `json:"skipped"` // partitions owned by another process
	Duration    time.Duration              `json:"duration"`
}

// Sweeper walks subscriptions and fires due events. Organizations are
// partitioned by id hash; each partition is processed by one worker and
// guarded by a lease so several processes can share the work.
type Sweeper struct {
	lister   Lister
	subs     Transitioner
	leaser   Leaser
	cfg      Config
	strategy backoff.Strategy
	log      *slog.Logger
	now      func() time.Time

	registerer  prometheus.Registerer
	duration    prometheus.Histogram
	transitions *prometheus.CounterVec
	failures    prometheus.Counter
}

type Option func(*Sweeper)

func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

func WithLeaser(l Leaser) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.leaser = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func WithBackoff(b backoff.Strategy) Option {
	return func(s *Sweeper) {
		if b != nil {
			s.strategy = b
		}
	}
}

func WithRegisterer(r prometheus.Registerer) Option {
	return func(s *Sweeper) { s.registerer = r }
}

// NewSweeper panics when lister or subs is nil.
func NewSweeper(lister Lister, subs Transitioner, cfg Config, opts ...Option) *Sweeper {
	if lister == nil || subs == nil {
		panic("billing: lister and transitioner are required")
	}
	cfg.Workers = max(cfg.Workers, 1)
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	cfg.RetryAttempts = max(cfg.RetryAttempts, 1)
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 10 * time.Minute
	}

	s := &Sweeper{
		lister:   lister,
		subs:     subs,
		leaser:   LocalLeaser{},
		cfg:      cfg,
		strategy: backoff.Default(),
		log:      logger.Discard(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("billing_sweep"))

	s.duration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "billing_sweep_duration_seconds",
		Help:    "Duration of billing sweeps.",
		Buckets: prometheus.DefBuckets,
	})
	s.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_sweep_transitions_total",
		Help: "Transitions fired by the billing sweep, by rule.",
	}, []string{"rule"})
	s.failures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_sweep_failures_total",
		Help: "Subscriptions the sweep could not process.",
	})
	if s.registerer != nil {
		s.registerer.MustRegister(s.duration, s.transitions, s.failures)
	}
	return s
}

// Partition returns the worker index for an organization.
func Partition(orgID uuid.UUID, workers int) int {
	h := fnv.New32a()
	_, _ = h.Write(orgID[:])
	return int(h.Sum32() % uint32(max(workers, 1)))
}

// Sweep runs one pass. Failures on individual subscriptions are logged and
// counted; only cancellation of ctx aborts the pass.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	start := time.Now()
	now := s.now()
	report := Report{Transitions: make(map[subscription.Event]int)}
	var mu sync.Mutex

	owned := make([]bool, s.cfg.Workers)
	for i := range owned {
		release, ok, err := s.leaser.Acquire(ctx, "partition:"+strconv.Itoa(i), s.cfg.LeaseTTL)
		if err != nil {
			s.log.WarnContext(ctx, "failed to acquire sweep lease", logger.Partition(i), logger.Error(err))
			continue
		}
		if !ok {
			report.Skipped++
			continue
		}
		owned[i] = true
		defer release(context.WithoutCancel(ctx))
	}

	queues := make([]chan subscription.Subscription, s.cfg.Workers)
	for i := range queues {
		queues[i] = make(chan subscription.Subscription, s.cfg.PageSize)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queues {
		g.Go(func() error {
			for sub := range q {
				ev, fired, err := s.process(gctx, sub, now)
				mu.Lock()
				report.Scanned++
				switch {
				case err != nil:
					report.Failed++
				case fired:
					report.Transitions[ev]++
				}
				mu.Unlock()
				if err != nil {
					s.failures.Inc()
					s.log.ErrorContext(gctx, "sweep failed for subscription",
						logger.Partition(i), logger.OrganizationID(sub.OrganizationID),
						logger.SubscriptionID(sub.ID), logger.Error(err))
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		return s.produce(gctx, owned, queues)
	})

	err := g.Wait()
	report.Duration = time.Since(start)
	s.duration.Observe(report.Duration.Seconds())
	s.log.InfoContext(ctx, "billing sweep finished",
		slog.Int("scanned", report.Scanned), slog.Int("failed", report.Failed),
		slog.Int("skipped_partitions", report.Skipped), logger.Duration(report.Duration))
	return report, err
}

func (s *Sweeper) produce(ctx context.Context, owned []bool, queues []chan subscription.Subscription) error {
	after := uuid.Nil
	for {
		var page []subscription.Subscription
		err := backoff.Retry(ctx, s.cfg.RetryAttempts, s.strategy, nil, func(ctx context.Context) error {
			var err error
			page, err = s.lister.ListActive(ctx, after, s.cfg.PageSize)
			return err
		})
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		for _, sub := range page {
			p := Partition(sub.OrganizationID, len(queues))
			if !owned[p] {
				continue
			}
			select {
			case queues[p] <- sub:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		after = page[len(page)-1].ID
	}
}

// process fires the event due for sub, re-reading on version conflicts.
// A guard rejection means someone else already moved the subscription and
// is treated as done.
func (s *Sweeper) process(ctx context.Context, sub subscription.Subscription, now time.Time) (subscription.Event, bool, error) {
	cfg := s.subs.Config()
	var fired subscription.Event

	err := backoff.Retry(ctx, s.cfg.RetryAttempts, s.strategy, retryable, func(ctx context.Context) error {
		ev, ok := subscription.NextScheduledEvent(sub, now, cfg)
		if !ok {
			return nil
		}
		_, err := s.subs.Fire(ctx, sub.ID, sub.Version, ev)
		if errors.Is(err, subscription.ErrConcurrentModification) {
			if fresh, gerr := s.subs.Get(ctx, sub.ID); gerr == nil {
				sub = fresh
			}
			return err
		}
		if err != nil {
			return err
		}
		fired = ev
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, subscription.ErrInvalidTransition), errors.Is(err, subscription.ErrSuperseded):
		return "", false, nil
	default:
		return "", false, err
	}
	if fired == "" {
		return "", false, nil
	}
	s.transitions.WithLabelValues(string(fired)).Inc()
	s.log.InfoContext(ctx, "sweep fired transition",
		logger.OrganizationID(sub.OrganizationID), logger.SubscriptionID(sub.ID),
		logger.Action(string(fired)))
	return fired, true, nil
}

// retryable reports whether a failed step should be attempted again.
// Domain refusals are final; everything else is assumed transient.
func retryable(err error) bool {
	switch {
	case errors.Is(err, subscription.ErrInvalidTransition),
		errors.Is(err, subscription.ErrSuperseded),
		errors.Is(err, subscription.ErrNotFound),
		errors.Is(err, subscription.ErrInvalidEvent),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
