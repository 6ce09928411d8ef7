package subscription_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/tenantquota/svc/subscription"
)

var (
	allStatuses = []subscription.Status{
		subscription.StatusTrial, subscription.StatusActive, subscription.StatusPastDue,
		subscription.StatusSuspended, subscription.StatusCancelled, subscription.StatusExpired,
	}
	allEvents = []subscription.Event{
		subscription.EventPaymentSucceeded, subscription.EventPaymentFailed,
		subscription.EventTrialConverted, subscription.EventTrialExpired,
		subscription.EventPeriodEnded, subscription.EventGraceElapsed,
		subscription.EventCancel, subscription.EventReactivate, subscription.EventExtended,
		subscription.EventChangePlan,
	}
)

func TestAllowed_GraphIsClosed(t *testing.T) {
	t.Parallel()

	type edge struct {
		from  subscription.Status
		event subscription.Event
	}
	allowed := map[edge]bool{
		{subscription.StatusTrial, subscription.EventPaymentSucceeded}:   true,
		{subscription.StatusTrial, subscription.EventTrialConverted}:     true,
		{subscription.StatusTrial, subscription.EventTrialExpired}:       true,
		{subscription.StatusActive, subscription.EventPaymentFailed}:     true,
		{subscription.StatusActive, subscription.EventPeriodEnded}:       true,
		{subscription.StatusPastDue, subscription.EventPaymentSucceeded}: true,
		{subscription.StatusPastDue, subscription.EventGraceElapsed}:     true,
		{subscription.StatusActive, subscription.EventCancel}:            true,
		{subscription.StatusPastDue, subscription.EventCancel}:           true,
		{subscription.StatusSuspended, subscription.EventCancel}:         true,
		{subscription.StatusSuspended, subscription.EventReactivate}:     true,
		{subscription.StatusCancelled, subscription.EventReactivate}:     true,
		{subscription.StatusExpired, subscription.EventReactivate}:       true,
		{subscription.StatusExpired, subscription.EventExtended}:         true,
	}

	for _, from := range allStatuses {
		for _, ev := range allEvents {
			assert.Equal(t, allowed[edge{from, ev}], subscription.Allowed(from, ev), "%s on %s", ev, from)
		}
	}
}

func TestNextScheduledEvent(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	cfg := subscription.Config{GracePeriodDays: 7, AutoSuspendOnExpiry: true}

	tests := []struct {
		name string
		sub  subscription.Subscription
		cfg  subscription.Config
		want subscription.Event
		ok   bool
	}{
		{"active in period", subscription.Subscription{Status: subscription.StatusActive, EndDate: future}, cfg, "", false},
		{"active past end", subscription.Subscription{Status: subscription.StatusActive, EndDate: past}, cfg, subscription.EventPeriodEnded, true},
		{"past due in grace", subscription.Subscription{Status: subscription.StatusPastDue, GraceDeadline: &future}, cfg, "", false},
		{"past due grace over", subscription.Subscription{Status: subscription.StatusPastDue, GraceDeadline: &past}, cfg, subscription.EventGraceElapsed, true},
		{"past due without auto suspend", subscription.Subscription{Status: subscription.StatusPastDue, GraceDeadline: &past}, subscription.Config{GracePeriodDays: 7}, "", false},
		{"trial ended with card", subscription.Subscription{Status: subscription.StatusTrial, EndDate: past, HasPaymentMethod: true}, cfg, subscription.EventTrialConverted, true},
		{"trial ended without card", subscription.Subscription{Status: subscription.StatusTrial, EndDate: past}, cfg, subscription.EventTrialExpired, true},
		{"suspended", subscription.Subscription{Status: subscription.StatusSuspended, EndDate: past}, cfg, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev, ok := subscription.NextScheduledEvent(tt.sub, now, tt.cfg)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, ev)
		})
	}
}

func TestProrate(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sub := subscription.Subscription{StartDate: start, EndDate: start.AddDate(0, 0, 30), Amount: 3000}

	t.Run("upgrade halfway", func(t *testing.T) {
		t.Parallel()
		p := subscription.Prorate(sub, 6000, start.AddDate(0, 0, 15))
		assert.Equal(t, subscription.Proration{UnusedCredit: 1500, NewCharge: 3000, AmountDue: 1500}, p)
	})

	t.Run("downgrade yields credit note", func(t *testing.T) {
		t.Parallel()
		p := subscription.Prorate(sub, 1000, start.AddDate(0, 0, 15))
		assert.Equal(t, int64(1500), p.UnusedCredit)
		assert.Equal(t, int64(500), p.NewCharge)
		assert.Zero(t, p.AmountDue)
		assert.Equal(t, int64(1000), p.CreditNote)
	})

	t.Run("after period end", func(t *testing.T) {
		t.Parallel()
		p := subscription.Prorate(sub, 6000, start.AddDate(0, 0, 40))
		assert.Equal(t, subscription.Proration{}, p)
	})

	t.Run("before period start", func(t *testing.T) {
		t.Parallel()
		p := subscription.Prorate(sub, 6000, start.Add(-time.Hour))
		assert.Equal(t, int64(3000), p.UnusedCredit)
		assert.Equal(t, int64(6000), p.NewCharge)
	})

	t.Run("rounding", func(t *testing.T) {
		t.Parallel()
		p := subscription.Prorate(sub, 0, start.AddDate(0, 0, 10))
		assert.Equal(t, int64(2000), p.UnusedCredit)
		assert.Equal(t, int64(2000), p.CreditNote)
	})
}
