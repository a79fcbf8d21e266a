package ridelog

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore keeps the event log in process memory. It intentionally
// favors clarity over performance; production deployments use the Postgres
// store.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) ListByKind(_ context.Context, scope Scope, kind Kind) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, event := range s.events {
		if event.Kind == kind && scope.Matches(event) {
			out = append(out, event)
		}
	}
	sortDescending(out)
	return out, nil
}

func (s *InMemoryStore) Recent(_ context.Context, scope Scope, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, event := range s.events {
		if scope.Matches(event) {
			out = append(out, event)
		}
	}
	sortDescending(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// sortDescending orders by timestamp descending; ties keep append order so
// results stay deterministic.
func sortDescending(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
}
