package resource

import (
	"context"
	"fmt"
	"sync"

	"github.com/hearthward/warden/pkg/runner"
)

// InMemoryFactStore is a process-local memory-fact store keyed by
// entity id. Facts are append-only per entity.
type InMemoryFactStore struct {
	mu    sync.RWMutex
	facts map[string][]string
}

// NewInMemoryFactStore creates an empty fact store.
func NewInMemoryFactStore() *InMemoryFactStore {
	return &InMemoryFactStore{facts: make(map[string][]string)}
}

// Read returns all facts for an entity, or runner.ErrNotFound when the
// entity has none.
func (s *InMemoryFactStore) Read(ctx context.Context, entityID string) ([]string, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	facts, ok := s.facts[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: entity %s", runner.ErrNotFound, entityID)
	}
	out := make([]string, len(facts))
	copy(out, facts)
	return out, nil
}

// Write appends a fact to an entity's record.
func (s *InMemoryFactStore) Write(ctx context.Context, entityID, fact string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[entityID] = append(s.facts[entityID], fact)
	return nil
}
