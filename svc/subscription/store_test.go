package subscription_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tenantquota/svc/subscription"
)

func TestMemoryStore_ListActive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	for range 5 {
		f.signup(t, "basic", true)
	}
	cancelled := f.signup(t, "basic", true)
	_, err := f.svc.Cancel(ctx, cancelled.ID, cancelled.Version, "", false)
	require.NoError(t, err)

	var seen []subscription.Subscription
	after := uuid.Nil
	for {
		page, err := f.store.ListActive(ctx, after, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		assert.LessOrEqual(t, len(page), 2)
		seen = append(seen, page...)
		after = page[len(page)-1].ID
	}

	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.Negative(t, bytes.Compare(seen[i-1].ID[:], seen[i].ID[:]))
	}

	n, err := f.store.CountActiveSubscribers(ctx, "basic")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestMemoryStore_UpdateIsConditional(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	sub := f.signup(t, "basic", true)

	next := sub
	next.Version = 2
	require.NoError(t, f.store.Update(ctx, next, 1))
	assert.ErrorIs(t, f.store.Update(ctx, next, 1), subscription.ErrConcurrentModification)

	ghost := sub
	ghost.ID = uuid.New()
	assert.ErrorIs(t, f.store.Update(ctx, ghost, 1), subscription.ErrNotFound)
}

func TestMemoryStore_RecordPaymentIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := subscription.NewMemoryStore()
	p := subscription.Payment{ID: uuid.New(), SubscriptionID: uuid.New(), Reference: "ref", Status: subscription.PaymentCompleted}

	ok, err := s.RecordPayment(ctx, p)
	require.NoError(t, err)
	assert.True(t, ok)

	p.ID = uuid.New()
	ok, err = s.RecordPayment(ctx, p)
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := s.ListPayments(ctx, p.SubscriptionID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
