package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/tenantquota/pkg/logger"
)

// Job is a unit of periodic work.
type Job func(ctx context.Context) error

// Scheduler runs jobs on cron expressions. A job that is still running when
// its next tick fires is skipped for that tick.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
	ctx  context.Context
	stop context.CancelFunc
}

// NewScheduler creates a UTC scheduler. Expressions use the standard five
// fields or descriptors such as @hourly.
func NewScheduler(log *slog.Logger) *Scheduler {
	if log == nil {
		log = logger.Discard()
	}
	log = log.With(logger.Component("scheduler"))
	cl := cronLogger{log: log}
	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:  log,
		ctx:  ctx,
		stop: stop,
	}
}

// Add registers job under name. The job context is cancelled when Run returns.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("billing: invalid schedule %q for %s: %w", spec, name, err)
	}
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		if err := job(s.ctx); err != nil {
			s.log.ErrorContext(s.ctx, "scheduled job failed", logger.Action(name), logger.Error(err))
			return
		}
		s.log.DebugContext(s.ctx, "scheduled job done", logger.Action(name), logger.Duration(time.Since(start)))
	})
	return err
}

// AddSweep registers the billing sweep on its configured schedule.
func (s *Scheduler) AddSweep(sw *Sweeper) error {
	return s.Add("billing_sweep", sw.cfg.Schedule, func(ctx context.Context) error {
		_, err := sw.Sweep(ctx)
		return err
	})
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.log.InfoContext(ctx, "scheduler started", slog.Int("jobs", len(s.cron.Entries())))

	<-ctx.Done()
	s.stop()
	<-s.cron.Stop().Done()
	s.log.InfoContext(context.Background(), "scheduler stopped")
	return nil
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{logger.Error(err)}, keysAndValues...)...)
}
