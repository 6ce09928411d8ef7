package usage_test

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tenantquota/pkg/limit"
	"github.com/dmitrymomot/tenantquota/svc/audit"
	"github.com/dmitrymomot/tenantquota/svc/plan"
	"github.com/dmitrymomot/tenantquota/svc/usage"
)

// staticSource serves a mutable entitlement guarded by a mutex.
type staticSource struct {
	mu  sync.Mutex
	ent usage.Entitlement
	// onRead runs after every read, outside the lock
	onRead func(n int)
	reads  atomic.Int64
}

func (s *staticSource) Entitlement(_ context.Context, _ uuid.UUID) (usage.Entitlement, error) {
	s.mu.Lock()
	ent := s.ent
	s.mu.Unlock()
	n := int(s.reads.Add(1))
	if s.onRead != nil {
		s.onRead(n)
	}
	return ent, nil
}

func (s *staticSource) set(ent usage.Entitlement) {
	s.mu.Lock()
	s.ent = ent
	s.mu.Unlock()
}

func studentsLimit(n int64) plan.Limits {
	return plan.Limits{
		MaxStudents:  limit.Finite(n),
		MaxBatches:   limit.Finite(5),
		MaxStaff:     limit.Finite(5),
		MaxUsers:     limit.Unlimited(),
		MaxStorageMB: limit.Finite(1024),
	}
}

func activeSource(n int64) *staticSource {
	return &staticSource{ent: usage.Entitlement{
		SubscriptionID: uuid.New(),
		Version:        1,
		Limits:         studentsLimit(n),
		Active:         true,
	}}
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

func TestLedger_TryIncrement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("within limit", func(t *testing.T) {
		t.Parallel()
		org := uuid.New()
		store := usage.NewMemoryStore()
		l := usage.NewLedger(store, activeSource(10))

		v, err := l.TryIncrement(ctx, org, plan.Students, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(3), v)
	})

	t.Run("exactly at limit is allowed", func(t *testing.T) {
		t.Parallel()
		org := uuid.New()
		store := usage.NewMemoryStore()
		store.Set(org, plan.Students, 9)
		l := usage.NewLedger(store, activeSource(10))

		v, err := l.TryIncrement(ctx, org, plan.Students, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(10), v)
	})

	t.Run("over limit reports current and limit", func(t *testing.T) {
		t.Parallel()
		org := uuid.New()
		store := usage.NewMemoryStore()
		store.Set(org, plan.Students, 10)
		l := usage.NewLedger(store, activeSource(10))

		_, err := l.TryIncrement(ctx, org, plan.Students, 1)
		require.ErrorIs(t, err, usage.ErrQuotaExceeded)
		qe, ok := usage.AsQuotaError(err)
		require.True(t, ok)
		assert.Equal(t, int64(10), qe.Current)
		assert.Equal(t, limit.Finite(10), qe.Limit)

		v, err := l.CurrentUsage(ctx, org, plan.Students)
		require.NoError(t, err)
		assert.Equal(t, int64(10), v)
	})

	t.Run("unlimited never rejects", func(t *testing.T) {
		t.Parallel()
		org := uuid.New()
		store := usage.NewMemoryStore()
		store.Set(org, plan.Users, 1_000_000)
		l := usage.NewLedger(store, activeSource(10))

		_, err := l.TryIncrement(ctx, org, plan.Users, 500)
		require.NoError(t, err)
	})

	t.Run("zero limit rejects first resource", func(t *testing.T) {
		t.Parallel()
		l := usage.NewLedger(usage.NewMemoryStore(), activeSource(0))
		_, err := l.TryIncrement(ctx, uuid.New(), plan.Students, 1)
		assert.ErrorIs(t, err, usage.ErrQuotaExceeded)
	})

	t.Run("inactive subscription", func(t *testing.T) {
		t.Parallel()
		src := activeSource(10)
		src.ent.Active = false
		l := usage.NewLedger(usage.NewMemoryStore(), src)

		_, err := l.TryIncrement(ctx, uuid.New(), plan.Students, 1)
		assert.ErrorIs(t, err, usage.ErrSubscriptionInactive)
	})

	t.Run("huge amount cannot wrap a finite counter", func(t *testing.T) {
		t.Parallel()
		org := uuid.New()
		store := usage.NewMemoryStore()
		store.Set(org, plan.Students, 1)
		l := usage.NewLedger(store, activeSource(50))

		_, err := l.TryIncrement(ctx, org, plan.Students, math.MaxInt64)
		require.ErrorIs(t, err, usage.ErrQuotaExceeded)
		qe, ok := usage.AsQuotaError(err)
		require.True(t, ok)
		assert.Equal(t, int64(1), qe.Current)

		v, err := l.CurrentUsage(ctx, org, plan.Students)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
	})

	t.Run("huge amount cannot wrap an unlimited counter", func(t *testing.T) {
		t.Parallel()
		org := uuid.New()
		store := usage.NewMemoryStore()
		store.Set(org, plan.Users, 1)
		l := usage.NewLedger(store, activeSource(50))

		_, err := l.TryIncrement(ctx, org, plan.Users, math.MaxInt64)
		require.ErrorIs(t, err, usage.ErrInvalidAmount)

		v, err := l.CurrentUsage(ctx, org, plan.Users)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
	})

	t.Run("invalid input", func(t *testing.T) {
		t.Parallel()
		l := usage.NewLedger(usage.NewMemoryStore(), activeSource(10))

		_, err := l.TryIncrement(ctx, uuid.New(), plan.Resource("rooms"), 1)
		assert.ErrorIs(t, err, usage.ErrUnknownResource)
		_, err = l.TryIncrement(ctx, uuid.New(), plan.Students, 0)
		assert.ErrorIs(t, err, usage.ErrInvalidAmount)
	})
}

func TestLedger_TryIncrement_LastSlotRace(t *testing.T) {
	t.Parallel()

	for range 50 {
		org := uuid.New()
		store := usage.NewMemoryStore()
		store.Set(org, plan.Students, 49)
		l := usage.NewLedger(store, activeSource(50))

		var ok, rejected atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := l.TryIncrement(context.Background(), org, plan.Students, 1)
				switch {
				case err == nil:
					ok.Add(1)
				case assert.ErrorIs(t, err, usage.ErrQuotaExceeded):
					rejected.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), ok.Load())
		assert.Equal(t, int32(1), rejected.Load())
		v, _ := store.Get(context.Background(), org, plan.Students)
		assert.Equal(t, int64(50), v)
	}
}

func TestLedger_TryIncrement_ManyWriters(t *testing.T) {
	t.Parallel()

	org := uuid.New()
	store := usage.NewMemoryStore()
	l := usage.NewLedger(store, activeSource(10), usage.WithMaxAttempts(1000))

	var ok atomic.Int32
	var wg sync.WaitGroup
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.TryIncrement(context.Background(), org, plan.Students, 1); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), ok.Load())
	v, _ := store.Get(context.Background(), org, plan.Students)
	assert.Equal(t, int64(10), v)
}

func TestLedger_TryIncrement_PlanChangedDuringIncrement(t *testing.T) {
	t.Parallel()

	org := uuid.New()
	store := usage.NewMemoryStore()
	store.Set(org, plan.Students, 5)

	src := activeSource(10)
	downgraded := usage.Entitlement{
		SubscriptionID: uuid.New(),
		Version:        1,
		Limits:         studentsLimit(5),
		Active:         true,
	}
	// The downgrade lands between the first read and the confirmation read.
	src.onRead = func(n int) {
		if n == 1 {
			src.set(downgraded)
		}
	}
	l := usage.NewLedger(store, src)

	_, err := l.TryIncrement(context.Background(), org, plan.Students, 1)
	require.ErrorIs(t, err, usage.ErrQuotaExceeded)

	v, _ := store.Get(context.Background(), org, plan.Students)
	assert.Equal(t, int64(5), v, "rolled back increment must not leak")
}

// flakyStore fails every swap so the ledger exhausts its attempts.
type flakyStore struct {
	*usage.MemoryStore
}

func (flakyStore) CompareAndSwap(context.Context, uuid.UUID, plan.Resource, int64, int64) (bool, error) {
	return false, nil
}

func TestLedger_TryIncrement_Busy(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	l := usage.NewLedger(flakyStore{usage.NewMemoryStore()}, activeSource(10),
		usage.WithMaxAttempts(3), usage.WithRegisterer(reg))

	_, err := l.TryIncrement(context.Background(), uuid.New(), plan.Students, 1)
	assert.ErrorIs(t, err, usage.ErrBusy)

	n, err := testutil.GatherAndCount(reg, "quota_decisions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLedger_Decrement(t *testing.T) {
	t.Parallel()

	org := uuid.New()
	store := usage.NewMemoryStore()
	store.Set(org, plan.Batches, 2)
	l := usage.NewLedger(store, activeSource(10))

	v, err := l.Decrement(context.Background(), org, plan.Batches, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = l.Decrement(context.Background(), org, plan.Batches, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestLedger_Report(t *testing.T) {
	t.Parallel()

	org := uuid.New()
	store := usage.NewMemoryStore()
	store.Set(org, plan.Students, 12)
	store.Set(org, plan.Batches, 3)
	l := usage.NewLedger(store, activeSource(10))

	report, err := l.Report(context.Background(), org)
	require.NoError(t, err)
	require.Len(t, report, len(plan.Resources))

	byRes := map[plan.Resource]usage.ResourceUsage{}
	for _, r := range report {
		byRes[r.Resource] = r
	}
	assert.True(t, byRes[plan.Students].OverLimit)
	assert.Equal(t, int64(12), byRes[plan.Students].Current)
	assert.False(t, byRes[plan.Batches].OverLimit)
	assert.True(t, byRes[plan.Users].Limit.IsUnlimited())
}

func TestLedger_Reconcile(t *testing.T) {
	t.Parallel()

	org := uuid.New()
	store := usage.NewMemoryStore()
	store.Set(org, plan.Students, 7)
	store.Set(org, plan.Staff, 2)
	rec := &auditRecorder{}
	l := usage.NewLedger(store, activeSource(10), usage.WithAuditor(rec))

	drift, err := l.Reconcile(context.Background(), org, map[plan.Resource]int64{
		plan.Students: 6,
		plan.Staff:    2,
	})
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.Equal(t, usage.Drift{Resource: plan.Students, Ledger: 7, Actual: 6}, drift[0])

	v, _ := store.Get(context.Background(), org, plan.Students)
	assert.Equal(t, int64(7), v, "reconcile only reports")

	require.Len(t, rec.entries, 1)
	assert.Equal(t, "usage.drift", rec.entries[0].Action)

	drift, err = l.Reconcile(context.Background(), org, map[plan.Resource]int64{plan.Students: 7})
	require.NoError(t, err)
	assert.Empty(t, drift)
	assert.Len(t, rec.entries, 1)
}
