package admission

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps reservations in process. Used when Redis is unavailable and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]map[string]time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]map[string]time.Time)}
}

func (s *MemoryStore) Acquire(_ context.Context, key, holder string, now time.Time, ttl time.Duration) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	holders, ok := s.entries[key]
	if !ok {
		holders = make(map[string]time.Time)
		s.entries[key] = holders
	}
	for h, exp := range holders {
		if !now.Before(exp) {
			delete(holders, h)
		}
	}
	holders[holder] = now.Add(ttl)

	out := make([]string, 0, len(holders))
	for h := range holders {
		out = append(out, h)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Release(_ context.Context, key, holder string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	holders, ok := s.entries[key]
	if !ok {
		return 0, nil
	}
	delete(holders, holder)
	if len(holders) == 0 {
		delete(s.entries, key)
	}
	return len(holders), nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, holders := range s.entries {
		for h, exp := range holders {
			if !now.Before(exp) {
				delete(holders, h)
				removed++
			}
		}
		if len(holders) == 0 {
			delete(s.entries, key)
		}
	}
	return removed, nil
}

// Count returns how many holders key has, ignoring expiry.
func (s *MemoryStore) Count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[key])
}
