package usage

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tenantquota/svc/plan"
)

// Store holds one counter per (organization, resource). Missing counters read as zero.
// CompareAndSwap is the only primitive used to increase a counter.
type Store interface {
	Get(ctx context.Context, orgID uuid.UUID, r plan.Resource) (int64, error)
	CompareAndSwap(ctx context.Context, orgID uuid.UUID, r plan.Resource, old, next int64) (bool, error)
	// Decrement subtracts amount, flooring at zero, and returns the new value.
	Decrement(ctx context.Context, orgID uuid.UUID, r plan.Resource, amount int64) (int64, error)
	List(ctx context.Context, orgID uuid.UUID) (map[plan.Resource]int64, error)
	// Init creates zero counters. Existing counters are left untouched.
	Init(ctx context.Context, orgID uuid.UUID, resources []plan.Resource) error
}

type counterKey struct {
	org uuid.UUID
	res plan.Resource
}

// MemoryStore keeps counters in a sync.Map of atomics so that organizations
// never contend on a shared lock.
type MemoryStore struct {
	counters sync.Map // counterKey -> *atomic.Int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) counter(orgID uuid.UUID, r plan.Resource) *atomic.Int64 {
	key := counterKey{org: orgID, res: r}
	if v, ok := s.counters.Load(key); ok {
		return v.(*atomic.Int64)
	}
	v, _ := s.counters.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

func (s *MemoryStore) Get(_ context.Context, orgID uuid.UUID, r plan.Resource) (int64, error) {
	return s.counter(orgID, r).Load(), nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, orgID uuid.UUID, r plan.Resource, old, next int64) (bool, error) {
	return s.counter(orgID, r).CompareAndSwap(old, next), nil
}

func (s *MemoryStore) Decrement(_ context.Context, orgID uuid.UUID, r plan.Resource, amount int64) (int64, error) {
	c := s.counter(orgID, r)
	for {
		cur := c.Load()
		next := max(cur-amount, 0)
		if c.CompareAndSwap(cur, next) {
			return next, nil
		}
	}
}

func (s *MemoryStore) List(_ context.Context, orgID uuid.UUID) (map[plan.Resource]int64, error) {
	out := make(map[plan.Resource]int64, len(plan.Resources))
	for _, r := range plan.Resources {
		if v, ok := s.counters.Load(counterKey{org: orgID, res: r}); ok {
			out[r] = v.(*atomic.Int64).Load()
		} else {
			out[r] = 0
		}
	}
	return out, nil
}

func (s *MemoryStore) Init(_ context.Context, orgID uuid.UUID, resources []plan.Resource) error {
	for _, r := range resources {
		s.counter(orgID, r)
	}
	return nil
}

// Set overwrites a counter. Used by tests to prepare fixtures.
func (s *MemoryStore) Set(orgID uuid.UUID, r plan.Resource, v int64) {
	s.counter(orgID, r).Store(v)
}
