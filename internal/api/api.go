package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/tenantquota/pkg/binder"
	"github.com/dmitrymomot/tenantquota/pkg/handler"
	"github.com/dmitrymomot/tenantquota/pkg/httpserver"
	"github.com/dmitrymomot/tenantquota/pkg/logger"
	"github.com/dmitrymomot/tenantquota/pkg/requestid"
	"github.com/dmitrymomot/tenantquota/svc/audit"
	"github.com/dmitrymomot/tenantquota/svc/payment"
	"github.com/dmitrymomot/tenantquota/svc/plan"
	"github.com/dmitrymomot/tenantquota/svc/subscription"
	"github.com/dmitrymomot/tenantquota/svc/usage"
)

// Ledger is the usage surface used by the internal resource endpoints.
type Ledger interface {
	TryIncrement(ctx context.Context, orgID uuid.UUID, r plan.Resource, amount int64) (int64, error)
	Decrement(ctx context.Context, orgID uuid.UUID, r plan.Resource, amount int64) (int64, error)
	Report(ctx context.Context, orgID uuid.UUID) ([]usage.ResourceUsage, error)
	Reconcile(ctx context.Context, orgID uuid.UUID, actual map[plan.Resource]int64) ([]usage.Drift, error)
}

// Subscriptions is the lifecycle surface.
type Subscriptions interface {
	Signup(ctx context.Context, req subscription.SignupRequest) (subscription.Organization, subscription.Subscription, error)
	GetOrganization(ctx context.Context, id uuid.UUID) (subscription.Organization, error)
	Get(ctx context.Context, id uuid.UUID) (subscription.Subscription, error)
	GetCurrent(ctx context.Context, orgID uuid.UUID) (subscription.Subscription, error)
	History(ctx context.Context, orgID uuid.UUID) ([]subscription.Subscription, error)
	Payments(ctx context.Context, subscriptionID uuid.UUID) ([]subscription.Payment, error)
	Extend(ctx context.Context, id uuid.UUID, expectedVersion, days int) (subscription.Subscription, error)
	Cancel(ctx context.Context, id uuid.UUID, expectedVersion int, reason string, immediate bool) (subscription.Subscription, error)
	Reactivate(ctx context.Context, id uuid.UUID, expectedVersion int, planID string) (subscription.Subscription, error)
	ReapplyLimits(ctx context.Context, id uuid.UUID, expectedVersion int) (subscription.Subscription, error)
	ChangePlan(ctx context.Context, id uuid.UUID, expectedVersion int, planID string) (subscription.Subscription, subscription.Proration, error)
	ApplyPayment(ctx context.Context, ev subscription.PaymentEvent) (subscription.PaymentResult, error)
}

// Catalog is the plan administration surface.
type Catalog interface {
	GetPlan(ctx context.Context, id string) (plan.Plan, error)
	ListActivePlans(ctx context.Context) ([]plan.Plan, error)
	CreatePlan(ctx context.Context, p plan.Plan) (plan.Plan, error)
	UpdatePlan(ctx context.Context, p plan.Plan) (plan.Plan, error)
	DeactivatePlan(ctx context.Context, id string) (plan.Plan, error)
	DeletePlan(ctx context.Context, id string) error
}

// AuditLog serves the audit trail.
type AuditLog interface {
	ListEvents(ctx context.Context, f audit.Filter, page, limit int) (audit.Page, error)
}

// Server holds the HTTP handlers.
type Server struct {
	ledger   Ledger
	subs     Subscriptions
	catalog  Catalog
	auditLog AuditLog
	webhooks map[string]payment.Parser
	checks   []func(context.Context) error
	gatherer prometheus.Gatherer
	timeout  time.Duration
	log      *slog.Logger
	errors   handler.ErrorHandler
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithWebhook mounts POST /webhooks/{name} backed by the parser.
func WithWebhook(name string, p payment.Parser) Option {
	return func(s *Server) {
		if p != nil {
			s.webhooks[name] = p
		}
	}
}

// WithReadinessChecks adds dependency checks to /health/ready.
func WithReadinessChecks(checks ...func(context.Context) error) Option {
	return func(s *Server) { s.checks = append(s.checks, checks...) }
}

// WithGatherer exposes the registry at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithRequestTimeout bounds every request context.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New builds the server. Panics if a required dependency is nil.
func New(ledger Ledger, subs Subscriptions, catalog Catalog, auditLog AuditLog, opts ...Option) *Server {
	if ledger == nil || subs == nil || catalog == nil || auditLog == nil {
		panic("api: ledger, subscriptions, catalog and audit log are required")
	}
	s := &Server{
		ledger:   ledger,
		subs:     subs,
		catalog:  catalog,
		auditLog: auditLog,
		webhooks: map[string]payment.Parser{"payment": payment.JSONParser{}},
		timeout:  30 * time.Second,
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("api"))
	s.errors = handler.NewErrorHandler(s.log, classify)
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(actorMiddleware)

	r.Get("/health/live", httpserver.HealthCheckHandler(s.log))
	r.Get("/health/ready", httpserver.HealthCheckHandler(s.log, s.checks...))
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	errs := handler.WithErrorHandler(s.errors)
	path := handler.WithBinders(binder.Path(chi.URLParam))
	pathJSON := handler.WithBinders(binder.Path(chi.URLParam), binder.JSON())
	pathOptionalJSON := handler.WithBinders(binder.Path(chi.URLParam), binder.OptionalJSON())

	r.Route("/internal/usage/{orgID}", func(r chi.Router) {
		r.Post("/reconcile", handler.Wrap(s.reconcile, errs, pathJSON))
		r.Post("/{resource}/increment", handler.Wrap(s.increment, errs, pathOptionalJSON))
		r.Post("/{resource}/decrement", handler.Wrap(s.decrement, errs, pathOptionalJSON))
	})

	r.Route("/organizations", func(r chi.Router) {
		r.Post("/", handler.Wrap(s.signup, errs, handler.WithBinders(binder.JSON())))
		r.Route("/{orgID}", func(r chi.Router) {
			r.Get("/", handler.Wrap(s.getOrganization, errs, path))
			r.Get("/subscription", handler.Wrap(s.currentSubscription, errs, path))
			r.Get("/subscriptions", handler.Wrap(s.subscriptionHistory, errs, path))
			r.Get("/usage", handler.Wrap(s.usageReport, errs, path))
		})
	})

	r.Route("/subscriptions/{subID}", func(r chi.Router) {
		r.Get("/", handler.Wrap(s.getSubscription, errs, path))
		r.Get("/payments", handler.Wrap(s.listPayments, errs, path))
		r.Put("/extend", handler.Wrap(s.extend, errs, pathJSON))
		r.Put("/cancel", handler.Wrap(s.cancel, errs, pathOptionalJSON))
		r.Put("/change-plan", handler.Wrap(s.changePlan, errs, pathJSON))
		r.Put("/reactivate", handler.Wrap(s.reactivate, errs, pathOptionalJSON))
		r.Put("/reapply-limits", handler.Wrap(s.reapplyLimits, errs, path))
	})

	r.Route("/plans", func(r chi.Router) {
		r.Get("/", handler.Wrap(s.listPlans, errs))
		r.Post("/", handler.Wrap(s.createPlan, errs, handler.WithBinders(binder.JSON())))
		r.Route("/{planID}", func(r chi.Router) {
			r.Get("/", handler.Wrap(s.getPlan, errs, path))
			r.Put("/", handler.Wrap(s.updatePlan, errs, pathJSON))
			r.Delete("/", handler.Wrap(s.deletePlan, errs, path))
			r.Post("/deactivate", handler.Wrap(s.deactivatePlan, errs, path))
		})
	})

	r.Get("/audit/events", handler.Wrap(s.listAuditEvents, errs, handler.WithBinders(binder.Query())))
	r.Post("/webhooks/{gateway}", handler.Wrap(s.webhook, errs, path))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.errors(handler.NewContext(w, r), errRoute)
	})
	return r
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.errors(handler.NewContext(w, r), fmt.Errorf("%w: panic: %v", handler.ErrInternalServerError, rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
