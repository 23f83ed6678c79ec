package storage

import (
	"context"
	"sync"

	"tree-estimator/core/engine"
)

// MemoryStore is an in-memory storage backend
type MemoryStore struct {
	results map[string]*engine.Result
	mu      sync.RWMutex
}

// NewMemoryStore creates a memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results: make(map[string]*engine.Result),
	}
}

func (s *MemoryStore) Save(ctx context.Context, result *engine.Result) error {
	if err := checkSavable(result); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.results[result.ID]; ok {
		return conflict(result.ID)
	}
	s.results[result.ID] = result
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*engine.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.results[id]
	if !ok {
		return nil, notFound(id)
	}
	return result, nil
}

func (s *MemoryStore) List(ctx context.Context, filter *ListFilter) ([]*engine.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*engine.Result
	for _, result := range s.results {
		if filter.Match(result) {
			results = append(results, result)
		}
	}
	return filter.finish(results), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
