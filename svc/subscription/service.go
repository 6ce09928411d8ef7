package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/tenantquota/pkg/logger"
	"github.com/dmitrymomot/tenantquota/svc/audit"
	"github.com/dmitrymomot/tenantquota/svc/plan"
	"github.com/dmitrymomot/tenantquota/svc/usage"
)

// PlanSource resolves catalog plans.
type PlanSource interface {
	GetPlan(ctx context.Context, id string) (plan.Plan, error)
}

// Counters is the part of the usage counter store the service needs:
// zero counters at signup and current values for over-limit checks.
// usage.Store satisfies it.
type Counters interface {
	List(ctx context.Context, orgID uuid.UUID) (map[plan.Resource]int64, error)
	Init(ctx context.Context, orgID uuid.UUID, resources []plan.Resource) error
}

// Auditor appends audit events.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) (audit.Event, error)
}

// Service drives subscription state. It is safe for concurrent use; all
// coordination happens through versioned writes in the Store.
type Service struct {
	store    Store
	plans    PlanSource
	counters Counters
	auditor  Auditor
	cfg      Config
	log      *slog.Logger
	now      func() time.Time

	paymentAttempts int
	registerer      prometheus.Registerer
	transitions     *prometheus.CounterVec
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithCounters enables counter initialization at signup and over-limit
// detection on plan changes and renewals.
func WithCounters(c Counters) Option {
	return func(s *Service) { s.counters = c }
}

func WithAuditor(a Auditor) Option {
	return func(s *Service) { s.auditor = a }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithRegisterer(r prometheus.Registerer) Option {
	return func(s *Service) { s.registerer = r }
}

// NewService panics when store or plans is nil.
func NewService(store Store, plans PlanSource, opts ...Option) *Service {
	if store == nil || plans == nil {
		panic("subscription: store and plan source are required")
	}
	s := &Service{
		store:           store,
		plans:           plans,
		cfg:             Config{GracePeriodDays: 7, AutoSuspendOnExpiry: true},
		log:             logger.Discard(),
		now:             func() time.Time { return time.Now().UTC() },
		paymentAttempts: 5,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("subscription"))

	s.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "subscription_transitions_total",
		Help: "Subscription status transition attempts.",
	}, []string{"from", "to", "result"})
	if s.registerer != nil {
		s.registerer.MustRegister(s.transitions)
	}
	return s
}

// Config returns the billing policy in effect.
func (s *Service) Config() Config {
	return s.cfg
}

// SignupRequest creates an organization with its first subscription.
type SignupRequest struct {
	Name             string            `json:"name"`
	PlanID           string            `json:"plan_id"`
	BillingCycle     plan.BillingCycle `json:"billing_cycle"`
	HasPaymentMethod bool              `json:"has_payment_method"`
}

// Signup creates the organization and a trial subscription when the plan has
// trial days, otherwise an active one for a single billing cycle.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (Organization, Subscription, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.BillingCycle == "" {
		req.BillingCycle = plan.Monthly
	}
	if req.Name == "" || req.PlanID == "" || !req.BillingCycle.Valid() {
		return Organization{}, Subscription{}, ErrInvalidSignup
	}

	p, err := s.availablePlan(ctx, req.PlanID)
	if err != nil {
		return Organization{}, Subscription{}, err
	}

	now := s.now()
	org := Organization{ID: uuid.New(), Name: req.Name, CreatedAt: now, UpdatedAt: now}
	sub := Subscription{
		ID:               uuid.New(),
		OrganizationID:   org.ID,
		BillingCycle:     req.BillingCycle,
		StartDate:        now,
		HasPaymentMethod: req.HasPaymentMethod,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	snapshot(&sub, p)
	if p.TrialDays > 0 {
		sub.Status = StatusTrial
		sub.EndDate = now.AddDate(0, 0, p.TrialDays)
		sub.Amount = 0
	} else {
		sub.Status = StatusActive
		sub.EndDate = req.BillingCycle.Advance(now)
	}
	org.CurrentSubscriptionID = sub.ID
	org.Status = OrgStatusFor(sub.Status)

	err = s.store.CreateOrganization(ctx, org, sub)
	s.record(ctx, "organization.signup", org.ID, nil, sub, err, map[string]string{"plan_id": p.ID})
	if err != nil {
		return Organization{}, Subscription{}, fmt.Errorf("subscription: signup: %w", err)
	}
	s.seedCounters(ctx, org.ID)

	s.log.InfoContext(ctx, "organization signed up",
		logger.OrganizationID(org.ID), logger.SubscriptionID(sub.ID), logger.PlanID(p.ID),
		slog.String("status", string(sub.Status)))
	return org, sub, nil
}

// seedCounters writes zero counters when the store did not do it inside
// CreateOrganization. A missing counter reads as zero, so a failure here
// leaves the organization usable and is only logged.
func (s *Service) seedCounters(ctx context.Context, orgID uuid.UUID) {
	if s.counters == nil {
		return
	}
	if seeder, ok := s.store.(CounterSeeder); ok && seeder.SeedsCounters() {
		return
	}
	if err := s.counters.Init(ctx, orgID, plan.Resources); err != nil {
		s.log.WarnContext(ctx, "usage counters not seeded at signup",
			logger.OrganizationID(orgID), logger.Error(err))
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Subscription, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetCurrent(ctx context.Context, orgID uuid.UUID) (Subscription, error) {
	return s.store.GetCurrent(ctx, orgID)
}

func (s *Service) GetOrganization(ctx context.Context, id uuid.UUID) (Organization, error) {
	return s.store.GetOrganization(ctx, id)
}

func (s *Service) History(ctx context.Context, orgID uuid.UUID) ([]Subscription, error) {
	return s.store.History(ctx, orgID)
}

func (s *Service) Payments(ctx context.Context, subscriptionID uuid.UUID) ([]Payment, error) {
	return s.store.ListPayments(ctx, subscriptionID)
}

// Entitlement reports the current limits of an organization to the usage ledger.
func (s *Service) Entitlement(ctx context.Context, orgID uuid.UUID) (usage.Entitlement, error) {
	sub, err := s.store.GetCurrent(ctx, orgID)
	if err != nil {
		return usage.Entitlement{}, err
	}
	return usage.Entitlement{
		SubscriptionID: sub.ID,
		Version:        sub.Version,
		Limits:         sub.Limits,
		Active:         sub.InService(s.now()),
	}, nil
}

// Extend pushes the end date to max(endDate, now) + days. An expired
// subscription extended into the future becomes active again.
func (s *Service) Extend(ctx context.Context, id uuid.UUID, expectedVersion, days int) (Subscription, error) {
	return s.mutate(ctx, id, expectedVersion, "subscription.extend", func(ctx context.Context, cur Subscription, now time.Time) (Subscription, error) {
		if days <= 0 {
			return cur, ErrInvalidDays
		}
		if cur.Status == StatusCancelled {
			return cur, &TransitionError{From: cur.Status, Event: EventExtended}
		}

		next := cur
		next.EndDate = later(cur.EndDate, now).AddDate(0, 0, days)
		switch next.Status {
		case StatusExpired:
			if next.EndDate.After(now) {
				return resolve(ctx, next, EventExtended, now, s.cfg)
			}
		case StatusPastDue:
			next.GraceDeadline = s.graceDeadline(next.EndDate)
		}
		return next, nil
	})
}

// Cancel ends the subscription. Service continues until the paid period ends
// unless immediate is set.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, expectedVersion int, reason string, immediate bool) (Subscription, error) {
	return s.mutate(ctx, id, expectedVersion, "subscription.cancel", func(ctx context.Context, cur Subscription, now time.Time) (Subscription, error) {
		next, err := resolve(ctx, cur, EventCancel, now, s.cfg)
		if err != nil {
			return cur, err
		}
		next.CancelReason = reason
		next.CancelledAt = &now
		next.GraceDeadline = nil
		if immediate {
			next.EndDate = later(now, next.StartDate)
		}
		return next, nil
	})
}

// Reactivate restarts a suspended, cancelled or expired subscription on the
// same record, optionally on another plan. Calling it on an active
// subscription returns the current state unchanged.
func (s *Service) Reactivate(ctx context.Context, id uuid.UUID, expectedVersion int, planID string) (Subscription, error) {
	cur, err := s.store.Get(ctx, id)
	if err == nil && cur.IsCurrent() && cur.Status == StatusActive && (planID == "" || planID == cur.PlanID) {
		s.record(ctx, "subscription.reactivate", cur.OrganizationID, cur, cur, nil, map[string]string{"noop": "true"})
		return cur, nil
	}

	return s.mutate(ctx, id, expectedVersion, "subscription.reactivate", func(ctx context.Context, cur Subscription, now time.Time) (Subscription, error) {
		next, err := resolve(ctx, cur, EventReactivate, now, s.cfg)
		if err != nil {
			return cur, err
		}
		if planID == "" {
			planID = cur.PlanID
		}
		p, err := s.availablePlan(ctx, planID)
		if err != nil {
			return cur, err
		}
		snapshot(&next, p)
		next.StartDate = now
		next.EndDate = next.BillingCycle.Advance(now)
		next.GraceDeadline = nil
		next.CancelReason = ""
		next.CancelledAt = nil
		next.OverLimit = s.overLimit(ctx, next)
		return next, nil
	})
}

// ReapplyLimits copies the plan's current limits into the snapshot.
func (s *Service) ReapplyLimits(ctx context.Context, id uuid.UUID, expectedVersion int) (Subscription, error) {
	return s.mutate(ctx, id, expectedVersion, "subscription.reapply_limits", func(ctx context.Context, cur Subscription, _ time.Time) (Subscription, error) {
		p, err := s.plans.GetPlan(ctx, cur.PlanID)
		if err != nil {
			return cur, err
		}
		next := cur
		next.Limits = p.Limits
		next.PlanVersion = p.Version
		next.OverLimit = s.overLimit(ctx, next)
		return next, nil
	})
}

// ChangePlan moves the organization to another plan mid-period. The current
// record is frozen and a successor carries the same period with the new
// amount and limits. Downgrades below current usage succeed and flag the
// successor as over limit.
func (s *Service) ChangePlan(ctx context.Context, id uuid.UUID, expectedVersion int, planID string) (Subscription, Proration, error) {
	const action = "subscription.change_plan"

	cur, err := s.load(ctx, id, expectedVersion)
	if err != nil {
		s.fail(ctx, action, cur, err, nil)
		return Subscription{}, Proration{}, err
	}

	now := s.now()
	next, proration, err := s.planChange(ctx, cur, planID, now)
	if err == nil {
		frozen := cur
		frozen.SupersededBy = &next.ID
		frozen.Version = cur.Version + 1
		frozen.UpdatedAt = now
		err = s.store.Supersede(ctx, frozen, cur.Version, next)
	}

	meta := map[string]string{
		"plan_id":       planID,
		"unused_credit": fmt.Sprint(proration.UnusedCredit),
		"amount_due":    fmt.Sprint(proration.AmountDue),
		"credit_note":   fmt.Sprint(proration.CreditNote),
	}
	if err != nil {
		s.fail(ctx, action, cur, err, meta)
		return Subscription{}, Proration{}, err
	}
	s.record(ctx, action, cur.OrganizationID, cur, next, nil, meta)
	s.log.InfoContext(ctx, "subscription plan changed",
		logger.OrganizationID(cur.OrganizationID), logger.SubscriptionID(next.ID),
		logger.PlanID(next.PlanID), slog.Bool("over_limit", next.OverLimit))
	return next, proration, nil
}

func (s *Service) planChange(ctx context.Context, cur Subscription, planID string, now time.Time) (Subscription, Proration, error) {
	if cur.Status.Terminal() {
		return cur, Proration{}, &TransitionError{From: cur.Status, Event: EventChangePlan}
	}
	if planID == cur.PlanID {
		return cur, Proration{}, ErrSamePlan
	}
	p, err := s.availablePlan(ctx, planID)
	if err != nil {
		return cur, Proration{}, err
	}

	next := cur
	next.ID = uuid.New()
	next.SupersededBy = nil
	next.Version = 1
	next.CreatedAt = now
	next.UpdatedAt = now
	snapshot(&next, p)

	var proration Proration
	if cur.Status == StatusTrial {
		next.Amount = 0
	} else {
		proration = Prorate(cur, next.Amount, now)
	}
	next.OverLimit = s.overLimit(ctx, next)
	return next, proration, nil
}

// Fire applies a time-driven event. It is the scheduler's entry point;
// guards are evaluated against the stored state so a stale decision is rejected.
func (s *Service) Fire(ctx context.Context, id uuid.UUID, expectedVersion int, event Event) (Subscription, error) {
	switch event {
	case EventPeriodEnded, EventGraceElapsed, EventTrialExpired, EventTrialConverted:
	default:
		return Subscription{}, fmt.Errorf("%w: %q", ErrInvalidEvent, event)
	}

	return s.mutate(ctx, id, expectedVersion, "subscription."+string(event), func(ctx context.Context, cur Subscription, now time.Time) (Subscription, error) {
		next, err := resolve(ctx, cur, event, now, s.cfg)
		if err != nil {
			return cur, err
		}
		switch event {
		case EventPeriodEnded:
			next.GraceDeadline = s.graceDeadline(next.EndDate)
		case EventTrialConverted:
			if err := s.renew(ctx, &next, next.EndDate); err != nil {
				return cur, err
			}
		}
		return next, nil
	})
}

// mutateFunc computes the next state from the stored one. Returning an
// error aborts the write and is audited as a failure.
type mutateFunc func(ctx context.Context, cur Subscription, now time.Time) (Subscription, error)

// mutate is the single write path for in-place changes: version check,
// compute, conditional write, audit and transition metrics.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, expectedVersion int, action string, fn mutateFunc) (Subscription, error) {
	cur, err := s.load(ctx, id, expectedVersion)
	if err != nil {
		s.fail(ctx, action, cur, err, nil)
		return Subscription{}, err
	}

	now := s.now()
	next, err := fn(ctx, cur, now)
	if err == nil {
		next.Version = cur.Version + 1
		next.UpdatedAt = now
		err = s.store.Update(ctx, next, cur.Version)
	}
	if err != nil {
		s.fail(ctx, action, cur, err, nil)
		return Subscription{}, err
	}

	s.record(ctx, action, cur.OrganizationID, cur, next, nil, nil)
	if next.Status != cur.Status {
		s.transitions.WithLabelValues(string(cur.Status), string(next.Status), "success").Inc()
		s.log.InfoContext(ctx, "subscription transitioned",
			logger.OrganizationID(cur.OrganizationID), logger.SubscriptionID(cur.ID),
			logger.Transition(string(cur.Status), string(next.Status)), logger.Action(action))
	}
	return next, nil
}

// load reads a subscription that is current and at the expected version.
// The returned value is usable for auditing even on error.
func (s *Service) load(ctx context.Context, id uuid.UUID, expectedVersion int) (Subscription, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return Subscription{ID: id}, err
	}
	if !cur.IsCurrent() {
		return cur, ErrSuperseded
	}
	if cur.Version != expectedVersion {
		return cur, ErrConcurrentModification
	}
	return cur, nil
}

func (s *Service) fail(ctx context.Context, action string, cur Subscription, err error, meta map[string]string) {
	var te *TransitionError
	if errors.As(err, &te) {
		result := "invalid"
		if te.Rejected {
			result = "rejected"
		}
		s.transitions.WithLabelValues(string(te.From), "", result).Inc()
		s.log.WarnContext(ctx, "subscription transition refused",
			logger.OrganizationID(cur.OrganizationID), logger.SubscriptionID(cur.ID),
			logger.Action(action), logger.Error(err))
	}
	s.record(ctx, action, cur.OrganizationID, cur, nil, err, meta)
}

func (s *Service) record(ctx context.Context, action string, orgID uuid.UUID, before, after any, err error, meta map[string]string) {
	if s.auditor == nil {
		return
	}
	if _, aerr := s.auditor.Record(ctx, audit.Entry{
		OrganizationID: orgID,
		Action:         action,
		Before:         before,
		After:          after,
		Err:            err,
		Metadata:       meta,
	}); aerr != nil {
		s.log.ErrorContext(ctx, "failed to record audit event",
			logger.OrganizationID(orgID), logger.Action(action), logger.Error(aerr))
	}
}

func (s *Service) availablePlan(ctx context.Context, id string) (plan.Plan, error) {
	p, err := s.plans.GetPlan(ctx, id)
	if err != nil {
		if errors.Is(err, plan.ErrNotFound) {
			return plan.Plan{}, errors.Join(ErrPlanUnavailable, err)
		}
		return plan.Plan{}, err
	}
	if !p.IsActive {
		return plan.Plan{}, ErrPlanUnavailable
	}
	return p, nil
}

// renew starts a new paid period at from with a fresh limits snapshot.
func (s *Service) renew(ctx context.Context, sub *Subscription, from time.Time) error {
	p, err := s.plans.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return err
	}
	snapshot(sub, p)
	sub.StartDate = from
	sub.EndDate = sub.BillingCycle.Advance(from)
	sub.GraceDeadline = nil
	sub.OverLimit = s.overLimit(ctx, *sub)
	return nil
}

func (s *Service) overLimit(ctx context.Context, sub Subscription) bool {
	if s.counters == nil {
		return sub.OverLimit
	}
	counters, err := s.counters.List(ctx, sub.OrganizationID)
	if err != nil {
		s.log.WarnContext(ctx, "over-limit check skipped",
			logger.OrganizationID(sub.OrganizationID), logger.Error(err))
		return sub.OverLimit
	}
	return len(sub.Limits.Exceeded(counters)) > 0
}

func (s *Service) graceDeadline(end time.Time) *time.Time {
	d := end.AddDate(0, 0, s.cfg.GracePeriodDays)
	return &d
}

func snapshot(sub *Subscription, p plan.Plan) {
	sub.PlanID = p.ID
	sub.PlanVersion = p.Version
	sub.Limits = p.Limits
	sub.Amount = p.Price(sub.BillingCycle)
	sub.Currency = p.Currency
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
