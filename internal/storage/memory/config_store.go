// Package memory provides in-memory store implementations for
// development and tests. They enforce the same transition rules as the
// Postgres stores so the pipeline behaves identically against either.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
)

// ConfigStore keeps source configurations in a map.
type ConfigStore struct {
	ids   crawler.IDGenerator
	clock crawler.Clock

	mu      sync.RWMutex
	configs map[string]crawler.SourceConfig
}

// NewConfigStore constructs an empty ConfigStore.
func NewConfigStore(ids crawler.IDGenerator, clock crawler.Clock) *ConfigStore {
	return &ConfigStore{
		ids:     ids,
		clock:   clock,
		configs: make(map[string]crawler.SourceConfig),
	}
}

// CreateConfig implements crawler.ConfigStore. A missing ID is generated.
func (s *ConfigStore) CreateConfig(_ context.Context, cfg crawler.SourceConfig) (crawler.SourceConfig, error) {
	if cfg.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return crawler.SourceConfig{}, fmt.Errorf("generate config id: %w", err)
		}
		cfg.ID = id
	}
	now := s.clock.Now()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.configs[cfg.ID]; exists {
		return crawler.SourceConfig{}, fmt.Errorf("config %s already exists", cfg.ID)
	}
	s.configs[cfg.ID] = cfg
	return cfg, nil
}

// GetConfig implements crawler.ConfigStore.
func (s *ConfigStore) GetConfig(_ context.Context, id string) (crawler.SourceConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[id]
	if !ok {
		return crawler.SourceConfig{}, crawler.ErrNotFound
	}
	return cfg, nil
}

// UpdateConfig implements crawler.ConfigStore. Creation time and the last
// crawl stamp are preserved from the stored record.
func (s *ConfigStore) UpdateConfig(_ context.Context, cfg crawler.SourceConfig) (crawler.SourceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.configs[cfg.ID]
	if !ok {
		return crawler.SourceConfig{}, crawler.ErrNotFound
	}
	cfg.CreatedAt = existing.CreatedAt
	cfg.LastCrawlAt = existing.LastCrawlAt
	cfg.UpdatedAt = s.clock.Now()
	s.configs[cfg.ID] = cfg
	return cfg, nil
}

// ListConfigs implements crawler.ConfigStore, ordered by creation time.
func (s *ConfigStore) ListConfigs(_ context.Context, enabledOnly bool) ([]crawler.SourceConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.SourceConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		if enabledOnly && !cfg.Enabled {
			continue
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// TouchLastCrawl implements crawler.ConfigStore.
func (s *ConfigStore) TouchLastCrawl(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return crawler.ErrNotFound
	}
	cfg.LastCrawlAt = &at
	cfg.UpdatedAt = at
	s.configs[id] = cfg
	return nil
}
