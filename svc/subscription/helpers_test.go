package subscription_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tenantquota/pkg/limit"
	"github.com/dmitrymomot/tenantquota/svc/audit"
	"github.com/dmitrymomot/tenantquota/svc/plan"
	"github.com/dmitrymomot/tenantquota/svc/subscription"
	"github.com/dmitrymomot/tenantquota/svc/usage"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type auditRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *auditRecorder) Record(_ context.Context, e audit.Entry) (audit.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return audit.Event{Action: e.Action}, nil
}

func (a *auditRecorder) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

func (a *auditRecorder) failures() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.entries {
		if e.Err != nil {
			n++
		}
	}
	return n
}

func limits(students int64) plan.Limits {
	return plan.Limits{
		MaxStudents:  limit.Finite(students),
		MaxBatches:   limit.Finite(10),
		MaxStaff:     limit.Finite(10),
		MaxUsers:     limit.Unlimited(),
		MaxStorageMB: limit.Finite(1024),
	}
}

func testPlans() []plan.Plan {
	return []plan.Plan{
		{ID: "trial-basic", Tier: plan.TierBasic, MonthlyPrice: 1900, YearlyPrice: 19000, Currency: "USD", Limits: limits(100), TrialDays: 14, IsActive: true, Version: 1},
		{ID: "basic", Tier: plan.TierBasic, MonthlyPrice: 3000, YearlyPrice: 30000, Currency: "USD", Limits: limits(100), IsActive: true, Version: 1},
		{ID: "professional", Tier: plan.TierProfessional, MonthlyPrice: 6000, YearlyPrice: 60000, Currency: "USD", Limits: limits(200), IsActive: true, Version: 1},
		{ID: "retired", Tier: plan.TierBasic, MonthlyPrice: 1000, Currency: "USD", Limits: limits(5), IsActive: false, Version: 3},
	}
}

type fixture struct {
	svc      *subscription.Service
	store    *subscription.MemoryStore
	plans    *plan.MemoryStore
	counters *usage.MemoryStore
	audit    *auditRecorder
	clock    *clock
}

var epoch = time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, opts ...subscription.Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    subscription.NewMemoryStore(),
		plans:    plan.NewMemoryStore(testPlans()...),
		counters: usage.NewMemoryStore(),
		audit:    &auditRecorder{},
		clock:    &clock{t: epoch},
	}
	base := []subscription.Option{
		subscription.WithCounters(f.counters),
		subscription.WithAuditor(f.audit),
		subscription.WithClock(f.clock.Now),
		subscription.WithConfig(subscription.Config{GracePeriodDays: 7, AutoSuspendOnExpiry: true}),
	}
	f.svc = subscription.NewService(f.store, plan.NewCatalog(f.plans), append(base, opts...)...)
	return f
}

func (f *fixture) signup(t *testing.T, planID string, withPayment bool) subscription.Subscription {
	t.Helper()
	_, sub, err := f.svc.Signup(context.Background(), subscription.SignupRequest{
		Name:             "Acme " + uuid.NewString()[:8],
		PlanID:           planID,
		BillingCycle:     plan.Monthly,
		HasPaymentMethod: withPayment,
	})
	require.NoError(t, err)
	return sub
}
