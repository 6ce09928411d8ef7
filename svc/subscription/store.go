package subscription

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Store persists organizations, subscriptions and payments.
// Update and Supersede are conditional on the stored version and must change
// the organization status in the same write.
type Store interface {
	CreateOrganization(ctx context.Context, org Organization, sub Subscription) error
	GetOrganization(ctx context.Context, id uuid.UUID) (Organization, error)

	Get(ctx context.Context, id uuid.UUID) (Subscription, error)
	GetCurrent(ctx context.Context, orgID uuid.UUID) (Subscription, error)
	// Update fails with ErrConcurrentModification when the stored version
	// differs from expectedVersion and with ErrSuperseded for history records.
	Update(ctx context.Context, sub Subscription, expectedVersion int) error
	// Supersede freezes old, inserts successor and repoints the organization.
	Supersede(ctx context.Context, old Subscription, expectedVersion int, successor Subscription) error
	History(ctx context.Context, orgID uuid.UUID) ([]Subscription, error)
	// ListActive pages current subscriptions in trial, active or past_due
	// ordered by id, starting after the given id.
	ListActive(ctx context.Context, after uuid.UUID, limit int) ([]Subscription, error)
	CountActiveSubscribers(ctx context.Context, planID string) (int, error)

	// RecordPayment appends p. It returns false when the reference was seen before.
	RecordPayment(ctx context.Context, p Payment) (bool, error)
	ListPayments(ctx context.Context, subscriptionID uuid.UUID) ([]Payment, error)
}

// CounterSeeder is implemented by stores that create the zero usage counters
// in the same transaction as the organization.
type CounterSeeder interface {
	SeedsCounters() bool
}

type orgEntry struct {
	mu   sync.Mutex
	org  Organization
	subs []Subscription // creation order, last is current
}

func (e *orgEntry) find(id uuid.UUID) int {
	return slices.IndexFunc(e.subs, func(s Subscription) bool { return s.ID == id })
}

// MemoryStore is an in-process Store. Each organization has its own lock;
// the index lock is held only for map lookups.
type MemoryStore struct {
	mu       sync.RWMutex
	orgs     map[uuid.UUID]*orgEntry
	subOwner map[uuid.UUID]uuid.UUID

	paymentsMu sync.Mutex
	refs       map[string]struct{}
	payments   map[uuid.UUID][]Payment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:     make(map[uuid.UUID]*orgEntry),
		subOwner: make(map[uuid.UUID]uuid.UUID),
		refs:     make(map[string]struct{}),
		payments: make(map[uuid.UUID][]Payment),
	}
}

func (s *MemoryStore) CreateOrganization(_ context.Context, org Organization, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[org.ID]; ok {
		return ErrOrganizationExists
	}
	org.CurrentSubscriptionID = sub.ID
	org.Status = OrgStatusFor(sub.Status)
	s.orgs[org.ID] = &orgEntry{org: org, subs: []Subscription{sub}}
	s.subOwner[sub.ID] = org.ID
	return nil
}

func (s *MemoryStore) entry(orgID uuid.UUID) (*orgEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.orgs[orgID]
	return e, ok
}

func (s *MemoryStore) entryForSub(subID uuid.UUID) (*orgEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orgID, ok := s.subOwner[subID]
	if !ok {
		return nil, false
	}
	e, ok := s.orgs[orgID]
	return e, ok
}

func (s *MemoryStore) GetOrganization(_ context.Context, id uuid.UUID) (Organization, error) {
	e, ok := s.entry(id)
	if !ok {
		return Organization{}, ErrOrganizationNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.org, nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Subscription, error) {
	e, ok := s.entryForSub(id)
	if !ok {
		return Subscription{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subs[e.find(id)], nil
}

func (s *MemoryStore) GetCurrent(_ context.Context, orgID uuid.UUID) (Subscription, error) {
	e, ok := s.entry(orgID)
	if !ok {
		return Subscription{}, ErrOrganizationNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subs[len(e.subs)-1], nil
}

func (s *MemoryStore) Update(_ context.Context, sub Subscription, expectedVersion int) error {
	e, ok := s.entryForSub(sub.ID)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.find(sub.ID)
	stored := e.subs[i]
	if !stored.IsCurrent() {
		return ErrSuperseded
	}
	if stored.Version != expectedVersion {
		return ErrConcurrentModification
	}
	e.subs[i] = sub
	e.org.Status = OrgStatusFor(sub.Status)
	e.org.UpdatedAt = sub.UpdatedAt
	return nil
}

func (s *MemoryStore) Supersede(_ context.Context, old Subscription, expectedVersion int, successor Subscription) error {
	e, ok := s.entryForSub(old.ID)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.find(old.ID)
	stored := e.subs[i]
	if !stored.IsCurrent() {
		return ErrSuperseded
	}
	if stored.Version != expectedVersion {
		return ErrConcurrentModification
	}
	e.subs[i] = old
	e.subs = append(e.subs, successor)
	e.org.CurrentSubscriptionID = successor.ID
	e.org.Status = OrgStatusFor(successor.Status)
	e.org.UpdatedAt = successor.CreatedAt

	s.mu.Lock()
	s.subOwner[successor.ID] = old.OrganizationID
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) History(_ context.Context, orgID uuid.UUID) ([]Subscription, error) {
	e, ok := s.entry(orgID)
	if !ok {
		return nil, ErrOrganizationNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.subs), nil
}

func (s *MemoryStore) current() []Subscription {
	s.mu.RLock()
	entries := make([]*orgEntry, 0, len(s.orgs))
	for _, e := range s.orgs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Subscription, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.subs[len(e.subs)-1])
		e.mu.Unlock()
	}
	return out
}

func (s *MemoryStore) ListActive(_ context.Context, after uuid.UUID, limit int) ([]Subscription, error) {
	var out []Subscription
	for _, sub := range s.current() {
		switch sub.Status {
		case StatusTrial, StatusActive, StatusPastDue:
		default:
			continue
		}
		if bytes.Compare(sub.ID[:], after[:]) <= 0 {
			continue
		}
		out = append(out, sub)
	}
	slices.SortFunc(out, func(a, b Subscription) int { return bytes.Compare(a.ID[:], b.ID[:]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CountActiveSubscribers(_ context.Context, planID string) (int, error) {
	n := 0
	for _, sub := range s.current() {
		if sub.PlanID == planID && !sub.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) RecordPayment(_ context.Context, p Payment) (bool, error) {
	s.paymentsMu.Lock()
	defer s.paymentsMu.Unlock()
	if _, seen := s.refs[p.Reference]; seen {
		return false, nil
	}
	s.refs[p.Reference] = struct{}{}
	s.payments[p.SubscriptionID] = append(s.payments[p.SubscriptionID], p)
	return true, nil
}

func (s *MemoryStore) ListPayments(_ context.Context, subscriptionID uuid.UUID) ([]Payment, error) {
	s.paymentsMu.Lock()
	defer s.paymentsMu.Unlock()
	return slices.Clone(s.payments[subscriptionID]), nil
}
