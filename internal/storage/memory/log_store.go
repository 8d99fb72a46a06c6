package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
)

// LogStore keeps per-URL fetch records grouped by job.
type LogStore struct {
	mu      sync.RWMutex
	entries map[string][]crawler.URLLogEntry
}

// NewLogStore constructs an empty LogStore.
func NewLogStore() *LogStore {
	return &LogStore{entries: make(map[string][]crawler.URLLogEntry)}
}

// Append implements crawler.LogStore.
func (s *LogStore) Append(_ context.Context, entry crawler.URLLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.JobID] = append(s.entries[entry.JobID], entry)
	return nil
}

// ListForJob implements crawler.LogStore, in append order.
func (s *LogStore) ListForJob(_ context.Context, jobID string) ([]crawler.URLLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.entries[jobID]
	out := make([]crawler.URLLogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// ComputeStats implements crawler.LogStore. Aggregates are derived from
// the log entries so the finalized stats blob always reflects what was
// actually recorded.
func (s *LogStore) ComputeStats(_ context.Context, jobID string) (crawler.JobStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats crawler.JobStats
	entries := s.entries[jobID]
	if len(entries) == 0 {
		return stats, nil
	}

	var totalDuration int64
	for _, e := range entries {
		stats.PagesCrawled++
		if e.IsSuccess() {
			stats.PagesSuccessful++
		} else {
			stats.PagesFailed++
		}
		if e.Error != "" {
			stats.PagesWithErrors++
		}
		stats.LeadsFound += e.LeadsFound
		stats.LinksDiscovered += e.LinksDiscovered
		totalDuration += e.DurationMs
	}
	stats.AvgDurationMs = float64(totalDuration) / float64(len(entries))
	return stats, nil
}
