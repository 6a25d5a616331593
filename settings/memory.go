package settings

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record)}
}

func (s *MemoryStore) Get(_ context.Context, appKey string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[appKey]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Set(_ context.Context, appKey string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[appKey] = rec
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, appKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, appKey)
	return nil
}

func (s *MemoryStore) All(_ context.Context) (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Record, len(s.recs))
	for k, v := range s.recs {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
