package usage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/tenantquota/pkg/limit"
	"github.com/dmitrymomot/tenantquota/pkg/logger"
	"github.com/dmitrymomot/tenantquota/svc/audit"
	"github.com/dmitrymomot/tenantquota/svc/plan"
)

// Entitlement is what an organization's current subscription allows.
type Entitlement struct {
	SubscriptionID uuid.UUID
	Version        int
	Limits         plan.Limits
	Active         bool // false when new resources must be refused regardless of limits
}

// EntitlementSource resolves the current subscription of an organization.
type EntitlementSource interface {
	Entitlement(ctx context.Context, orgID uuid.UUID) (Entitlement, error)
}

// Auditor records drift findings.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) (audit.Event, error)
}

// ResourceUsage is one row of an organization's usage report.
type ResourceUsage struct {
	Resource  plan.Resource `json:"resource"`
	Current   int64         `json:"current"`
	Limit     limit.Limit   `json:"limit"`
	OverLimit bool          `json:"over_limit"`
}

// Drift describes a counter that disagrees with the resource service's count.
type Drift struct {
	Resource plan.Resource `json:"resource"`
	Ledger   int64         `json:"ledger"`
	Actual   int64         `json:"actual"`
}

// Ledger enforces quotas on top of a counter Store.
type Ledger struct {
	store       Store
	source      EntitlementSource
	auditor     Auditor
	log         *slog.Logger
	maxAttempts int
	registerer  prometheus.Registerer
	decisions   *prometheus.CounterVec
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithLogger(l *slog.Logger) Option {
	return func(lg *Ledger) {
		if l != nil {
			lg.log = l
		}
	}
}

// WithMaxAttempts bounds the read-check-swap retries before ErrBusy.
func WithMaxAttempts(n int) Option {
	return func(lg *Ledger) {
		if n > 0 {
			lg.maxAttempts = n
		}
	}
}

func WithAuditor(a Auditor) Option {
	return func(lg *Ledger) { lg.auditor = a }
}

func WithRegisterer(r prometheus.Registerer) Option {
	return func(lg *Ledger) { lg.registerer = r }
}

// NewLedger panics when store or source is nil.
func NewLedger(store Store, source EntitlementSource, opts ...Option) *Ledger {
	if store == nil || source == nil {
		panic("usage: store and entitlement source are required")
	}
	lg := &Ledger{
		store:       store,
		source:      source,
		log:         logger.Discard(),
		maxAttempts: 32,
	}
	for _, opt := range opts {
		opt(lg)
	}
	lg.log = lg.log.With(logger.Component("usage_ledger"))

	lg.decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quota_decisions_total",
		Help: "Quota checks by resource and outcome.",
	}, []string{"resource", "result"})
	if lg.registerer != nil {
		lg.registerer.MustRegister(lg.decisions)
	}
	return lg
}

// TryIncrement adds amount to the counter if the current subscription's
// limit allows it. The check and the write form one compare-and-swap; on
// contention the whole cycle is retried up to the configured attempts.
// After a successful swap the entitlement is read again: if the plan changed
// underneath and the new limit no longer admits the value, the increment is
// undone and the cycle retried.
func (l *Ledger) TryIncrement(ctx context.Context, orgID uuid.UUID, r plan.Resource, amount int64) (int64, error) {
	if !r.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownResource, r)
	}
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		ent, err := l.source.Entitlement(ctx, orgID)
		if err != nil {
			return 0, fmt.Errorf("usage: resolve entitlement: %w", err)
		}
		if !ent.Active {
			l.decisions.WithLabelValues(string(r), "inactive").Inc()
			return 0, ErrSubscriptionInactive
		}

		lim := ent.Limits.For(r)
		current, err := l.store.Get(ctx, orgID, r)
		if err != nil {
			return 0, fmt.Errorf("usage: read counter: %w", err)
		}
		if !lim.Admits(current, amount) {
			if lim.IsUnlimited() {
				// Only an int64 overflow rejects an unlimited quota.
				return current, fmt.Errorf("%w: counter would overflow", ErrInvalidAmount)
			}
			l.decisions.WithLabelValues(string(r), "exceeded").Inc()
			return current, &QuotaError{Resource: r, Limit: lim, Current: current, Requested: amount}
		}

		swapped, err := l.store.CompareAndSwap(ctx, orgID, r, current, current+amount)
		if err != nil {
			return 0, fmt.Errorf("usage: swap counter: %w", err)
		}
		if !swapped {
			continue
		}

		confirmed, err := l.confirm(ctx, orgID, r, ent, current+amount)
		if err != nil {
			return 0, err
		}
		if confirmed {
			l.decisions.WithLabelValues(string(r), "allowed").Inc()
			return current + amount, nil
		}
		if _, err := l.store.Decrement(ctx, orgID, r, amount); err != nil {
			return 0, fmt.Errorf("usage: undo increment: %w", err)
		}
		l.log.DebugContext(ctx, "entitlement changed during increment, retrying",
			logger.OrganizationID(orgID), logger.Resource(string(r)), logger.RetryCount(attempt))
	}

	l.decisions.WithLabelValues(string(r), "busy").Inc()
	l.log.WarnContext(ctx, "quota check gave up under contention",
		logger.OrganizationID(orgID), logger.Resource(string(r)))
	return 0, ErrBusy
}

func (l *Ledger) confirm(ctx context.Context, orgID uuid.UUID, r plan.Resource, seen Entitlement, total int64) (bool, error) {
	now, err := l.source.Entitlement(ctx, orgID)
	if err != nil {
		return false, fmt.Errorf("usage: confirm entitlement: %w", err)
	}
	if now.SubscriptionID == seen.SubscriptionID && now.Version == seen.Version {
		return true, nil
	}
	return now.Active && now.Limits.For(r).Allows(total), nil
}

// Decrement releases capacity. It never fails on an empty counter.
func (l *Ledger) Decrement(ctx context.Context, orgID uuid.UUID, r plan.Resource, amount int64) (int64, error) {
	if !r.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownResource, r)
	}
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	v, err := l.store.Decrement(ctx, orgID, r, amount)
	if err != nil {
		return 0, fmt.Errorf("usage: decrement counter: %w", err)
	}
	return v, nil
}

// CurrentUsage returns a single counter.
func (l *Ledger) CurrentUsage(ctx context.Context, orgID uuid.UUID, r plan.Resource) (int64, error) {
	if !r.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownResource, r)
	}
	v, err := l.store.Get(ctx, orgID, r)
	if err != nil {
		return 0, fmt.Errorf("usage: read counter: %w", err)
	}
	return v, nil
}

// Usage returns every counter of an organization.
func (l *Ledger) Usage(ctx context.Context, orgID uuid.UUID) (map[plan.Resource]int64, error) {
	m, err := l.store.List(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("usage: list counters: %w", err)
	}
	return m, nil
}

// Init creates zero counters for a new organization.
func (l *Ledger) Init(ctx context.Context, orgID uuid.UUID) error {
	if err := l.store.Init(ctx, orgID, plan.Resources); err != nil {
		return fmt.Errorf("usage: init counters: %w", err)
	}
	return nil
}

// Report pairs every counter with the current limit.
func (l *Ledger) Report(ctx context.Context, orgID uuid.UUID) ([]ResourceUsage, error) {
	ent, err := l.source.Entitlement(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("usage: resolve entitlement: %w", err)
	}
	counters, err := l.Usage(ctx, orgID)
	if err != nil {
		return nil, err
	}
	out := make([]ResourceUsage, 0, len(plan.Resources))
	for _, r := range plan.Resources {
		lim := ent.Limits.For(r)
		out = append(out, ResourceUsage{
			Resource:  r,
			Current:   counters[r],
			Limit:     lim,
			OverLimit: lim.Exceeded(counters[r]),
		})
	}
	return out, nil
}

// Reconcile compares counters with the counts reported by resource services.
// Drift is logged and audited but never corrected here.
func (l *Ledger) Reconcile(ctx context.Context, orgID uuid.UUID, actual map[plan.Resource]int64) ([]Drift, error) {
	counters, err := l.Usage(ctx, orgID)
	if err != nil {
		return nil, err
	}

	var drift []Drift
	for _, r := range plan.Resources {
		want, ok := actual[r]
		if !ok || want == counters[r] {
			continue
		}
		drift = append(drift, Drift{Resource: r, Ledger: counters[r], Actual: want})
		l.log.WarnContext(ctx, "usage counter drift",
			logger.OrganizationID(orgID), logger.Resource(string(r)),
			slog.Int64("ledger", counters[r]), slog.Int64("actual", want))
	}

	if len(drift) > 0 && l.auditor != nil {
		if _, err := l.auditor.Record(ctx, audit.Entry{
			OrganizationID: orgID,
			Action:         "usage.drift",
			Before:         counters,
			After:          actual,
		}); err != nil {
			l.log.ErrorContext(ctx, "failed to audit usage drift", logger.OrganizationID(orgID), logger.Error(err))
		}
	}
	return drift, nil
}
