package plan

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// Store persists plans.
type Store interface {
	Get(ctx context.Context, id string) (Plan, error)
	List(ctx context.Context) ([]Plan, error)
	Create(ctx context.Context, p Plan) error
	// Update writes p only while the stored version equals expectedVersion,
	// failing with ErrConcurrentModification otherwise.
	Update(ctx context.Context, p Plan, expectedVersion int) error
	// Delete fails with ErrPlanInUse when the store can see current
	// subscribers of the plan.
	Delete(ctx context.Context, id string) error
}

// SubscriberCounter reports how many current, non-terminal subscriptions use a plan.
type SubscriberCounter interface {
	CountActiveSubscribers(ctx context.Context, planID string) (int, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

func NewMemoryStore(plans ...Plan) *MemoryStore {
	s := &MemoryStore{plans: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		s.plans[p.ID] = clonePlan(p)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, id string) (Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return Plan{}, ErrNotFound
	}
	return clonePlan(p), nil
}

func (s *MemoryStore) List(_ context.Context) ([]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Plan, 0, len(s.plans))
	for _, id := range slices.Sorted(maps.Keys(s.plans)) {
		out = append(out, clonePlan(s.plans[id]))
	}
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, p Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[p.ID]; ok {
		return ErrAlreadyExists
	}
	s.plans[p.ID] = clonePlan(p)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, p Plan, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.plans[p.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConcurrentModification
	}
	s.plans[p.ID] = clonePlan(p)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[id]; !ok {
		return ErrNotFound
	}
	delete(s.plans, id)
	return nil
}

func clonePlan(p Plan) Plan {
	p.Features = slices.Clone(p.Features)
	return p
}
