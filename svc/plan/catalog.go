package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dmitrymomot/tenantquota/pkg/logger"
)

// Catalog serves plan lookups and operator mutations.
type Catalog struct {
	store       Store
	subscribers SubscriberCounter
	log         *slog.Logger
	now         func() time.Time
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

func WithLogger(l *slog.Logger) CatalogOption {
	return func(c *Catalog) {
		if l != nil {
			c.log = l
		}
	}
}

// WithSubscriberCounter enables the PlanInUse check on delete.
func WithSubscriberCounter(sc SubscriberCounter) CatalogOption {
	return func(c *Catalog) { c.subscribers = sc }
}

func WithClock(now func() time.Time) CatalogOption {
	return func(c *Catalog) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCatalog creates a catalog backed by store. Panics if store is nil.
func NewCatalog(store Store, opts ...CatalogOption) *Catalog {
	if store == nil {
		panic("plan: store is required")
	}
	c := &Catalog{
		store: store,
		log:   logger.Discard(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.Component("plan_catalog"))
	return c
}

// GetPlan returns a plan by id, active or not.
func (c *Catalog) GetPlan(ctx context.Context, id string) (Plan, error) {
	p, err := c.store.Get(ctx, id)
	if err != nil {
		return Plan{}, fmt.Errorf("get plan %q: %w", id, err)
	}
	return p, nil
}

// ListActivePlans returns active plans ordered by monthly price, then tier rank.
func (c *Catalog) ListActivePlans(ctx context.Context) ([]Plan, error) {
	all, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	active := slices.DeleteFunc(all, func(p Plan) bool { return !p.IsActive })
	slices.SortStableFunc(active, Less)
	return active, nil
}

// CreatePlan validates and stores a new plan at version 1.
func (c *Catalog) CreatePlan(ctx context.Context, p Plan) (Plan, error) {
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	now := c.now()
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := c.store.Create(ctx, p); err != nil {
		return Plan{}, fmt.Errorf("create plan %q: %w", p.ID, err)
	}
	c.log.InfoContext(ctx, "plan created", logger.PlanID(p.ID), slog.String("tier", string(p.Tier)))
	return p, nil
}

// UpdatePlan replaces the mutable fields of a plan and bumps its version.
// A non-zero p.Version must match the stored version. Subscriptions keep the
// limits they were issued with.
func (c *Catalog) UpdatePlan(ctx context.Context, p Plan) (Plan, error) {
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	current, err := c.store.Get(ctx, p.ID)
	if err != nil {
		return Plan{}, fmt.Errorf("update plan %q: %w", p.ID, err)
	}
	if p.Version != 0 && p.Version != current.Version {
		return Plan{}, fmt.Errorf("update plan %q: %w", p.ID, ErrConcurrentModification)
	}
	p.Version = current.Version + 1
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = c.now()
	if err := c.store.Update(ctx, p, current.Version); err != nil {
		return Plan{}, fmt.Errorf("update plan %q: %w", p.ID, err)
	}
	c.log.InfoContext(ctx, "plan updated", logger.PlanID(p.ID), slog.Int("version", p.Version))
	return p, nil
}

// DeactivatePlan hides a plan from new signups. Existing subscribers are unaffected.
func (c *Catalog) DeactivatePlan(ctx context.Context, id string) (Plan, error) {
	p, err := c.store.Get(ctx, id)
	if err != nil {
		return Plan{}, fmt.Errorf("deactivate plan %q: %w", id, err)
	}
	if !p.IsActive {
		return p, nil
	}
	p.IsActive = false
	p.Version++
	p.UpdatedAt = c.now()
	if err := c.store.Update(ctx, p, p.Version-1); err != nil {
		return Plan{}, fmt.Errorf("deactivate plan %q: %w", id, err)
	}
	c.log.InfoContext(ctx, "plan deactivated", logger.PlanID(id))
	return p, nil
}

// DeletePlan removes a plan. Fails with ErrPlanInUse while subscribers exist.
// The counter gives an early answer; the store makes the final decision in
// the delete itself.
func (c *Catalog) DeletePlan(ctx context.Context, id string) error {
	if c.subscribers != nil {
		n, err := c.subscribers.CountActiveSubscribers(ctx, id)
		if err != nil {
			return fmt.Errorf("delete plan %q: %w", id, err)
		}
		if n > 0 {
			return fmt.Errorf("delete plan %q: %w (%d subscribers)", id, ErrPlanInUse, n)
		}
	}
	if err := c.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete plan %q: %w", id, err)
	}
	c.log.InfoContext(ctx, "plan deleted", logger.PlanID(id))
	return nil
}

// Seed creates missing plans and updates plans whose definition changed.
func (c *Catalog) Seed(ctx context.Context, plans []Plan) error {
	for _, p := range plans {
		existing, err := c.store.Get(ctx, p.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			if _, err := c.CreatePlan(ctx, p); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("seed plan %q: %w", p.ID, err)
		case !sameDefinition(existing, p):
			if _, err := c.UpdatePlan(ctx, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func sameDefinition(a, b Plan) bool {
	return a.Name == b.Name &&
		a.Tier == b.Tier &&
		a.MonthlyPrice == b.MonthlyPrice &&
		a.YearlyPrice == b.YearlyPrice &&
		a.Currency == b.Currency &&
		a.Limits == b.Limits &&
		slices.Equal(a.Features, b.Features) &&
		a.TrialDays == b.TrialDays &&
		a.IsActive == b.IsActive
}
