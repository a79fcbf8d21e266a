package directory

import (
	"context"
	"sync"

	id "vanscontrol/pkg/domain"
	"vanscontrol/pkg/platform/sentinel"
)

// InMemoryChildStore keeps the directory testable without external
// persistence. It intentionally favors clarity over performance.
type InMemoryChildStore struct {
	mu       sync.RWMutex
	children map[id.ChildID]Child
}

func NewInMemoryChildStore() *InMemoryChildStore {
	return &InMemoryChildStore{children: make(map[id.ChildID]Child)}
}

func (s *InMemoryChildStore) Save(_ context.Context, child Child) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children[child.ID] = child
	return nil
}

func (s *InMemoryChildStore) FindByID(_ context.Context, childID id.ChildID) (Child, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if child, ok := s.children[childID]; ok {
		return child, nil
	}
	return Child{}, sentinel.ErrNotFound
}
