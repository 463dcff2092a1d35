package quota

import (
	"context"
	"sync"

	"github.com/questforge/trade-engine/internal/model"
)

// MemoryStore implements Store with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	records map[model.ActorID]Record
}

// NewMemoryStore creates a new in-memory quota store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[model.ActorID]Record)}
}

func (s *MemoryStore) Load(_ context.Context, actor model.ActorID) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[actor]
	return rec, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, actor model.ActorID, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[actor] = rec
	return nil
}
