package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a process-local Store used when Redis is not configured.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]ItemStock
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]ItemStock)}
}

func (s *MemoryStore) Get(_ context.Context, itemID string) (*ItemStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[itemID]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *MemoryStore) Set(_ context.Context, v *ItemStock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[v.ItemID] = *v
	return nil
}

func (s *MemoryStore) ItemIDs(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.items))
	for k := range s.items {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids, nil
}
