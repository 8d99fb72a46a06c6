package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryWindowStore is a process-local WindowStore for development and
// tests. It enforces the limit only within one process, so production
// deployments with multiple workers should use the Redis store.
type MemoryWindowStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

// NewMemoryWindowStore constructs an empty store.
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{entries: make(map[string][]time.Time)}
}

// CountInWindow implements WindowStore.
func (s *MemoryWindowStore) CountInWindow(_ context.Context, domain string, windowStart time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.prune(domain, windowStart)
	if len(kept) == 0 {
		return 0, time.Time{}, nil
	}
	return len(kept), kept[0], nil
}

// Record implements WindowStore. The TTL is ignored; pruning on read is
// enough for a process-local store.
func (s *MemoryWindowStore) Record(_ context.Context, domain string, at time.Time, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[domain] = append(s.entries[domain], at)
	s.prune(domain, at.Add(-Window))
	return nil
}

// prune drops entries before windowStart; callers must hold the lock.
// Entries are appended in time order, so the slice stays sorted.
func (s *MemoryWindowStore) prune(domain string, windowStart time.Time) []time.Time {
	existing := s.entries[domain]
	kept := existing[:0]
	for _, ts := range existing {
		// Matches the Redis prune, which removes scores <= windowStart.
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(s.entries, domain)
		return nil
	}
	s.entries[domain] = kept
	return kept
}
