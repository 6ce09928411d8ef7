package audit

import (
	"context"
	"slices"
	"sync"
)

// Query selects a window of events, newest first.
type Query struct {
	Filter Filter
	Offset int
	Limit  int
}

// Storage is append-only: events are inserted and range-scanned, never updated.
type Storage interface {
	Append(ctx context.Context, e Event) error
	// Query returns the requested window and the total number of matches.
	Query(ctx context.Context, q Query) ([]Event, int, error)
}

// MemoryStorage keeps events in process. Suitable for tests and single-node setups.
type MemoryStorage struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Append(_ context.Context, e Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Query(_ context.Context, q Query) ([]Event, int, error) {
	s.mu.RLock()
	matched := make([]Event, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		if q.Filter.Match(s.events[i]) {
			matched = append(matched, s.events[i])
		}
	}
	s.mu.RUnlock()

	// insertion order already approximates time order; sort to be exact
	slices.SortStableFunc(matched, func(a, b Event) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	total := len(matched)
	if q.Offset >= total {
		return []Event{}, total, nil
	}
	end := total
	if q.Limit > 0 && q.Offset+q.Limit < total {
		end = q.Offset + q.Limit
	}
	return matched[q.Offset:end], total, nil
}
