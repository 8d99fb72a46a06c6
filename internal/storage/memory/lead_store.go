package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
)

// LeadStore keeps leads in a map keyed by (profile URL, source domain).
type LeadStore struct {
	ids   crawler.IDGenerator
	clock crawler.Clock

	mu    sync.RWMutex
	leads map[string]crawler.Lead
}

// NewLeadStore constructs an empty LeadStore.
func NewLeadStore(ids crawler.IDGenerator, clock crawler.Clock) *LeadStore {
	return &LeadStore{ids: ids, clock: clock, leads: make(map[string]crawler.Lead)}
}

func leadKey(profileURL, sourceDomain string) string {
	return profileURL + "|" + sourceDomain
}

// Upsert implements crawler.LeadStore. An existing lead is replaced
// wholesale, keeping only its ID and creation time.
func (s *LeadStore) Upsert(_ context.Context, candidate crawler.CandidateLead) (crawler.Lead, bool, error) {
	if candidate.ProfileURL == "" || candidate.SourceDomain == "" {
		return crawler.Lead{}, false, fmt.Errorf("lead requires profile_url and source_domain")
	}
	now := s.clock.Now()
	key := leadKey(candidate.ProfileURL, candidate.SourceDomain)

	s.mu.Lock()
	defer s.mu.Unlock()

	lead := crawler.Lead{
		Name:         candidate.Name,
		Role:         candidate.Role,
		Company:      candidate.Company,
		ProfileURL:   candidate.ProfileURL,
		SourceDomain: candidate.SourceDomain,
		Email:        candidate.Email,
		Tags:         append([]string(nil), candidate.Tags...),
		RawData:      candidate.RawData,
		UpdatedAt:    now,
	}

	if existing, ok := s.leads[key]; ok {
		lead.ID = existing.ID
		lead.CreatedAt = existing.CreatedAt
		s.leads[key] = lead
		return lead, false, nil
	}

	id, err := s.ids.NewID()
	if err != nil {
		return crawler.Lead{}, false, fmt.Errorf("generate lead id: %w", err)
	}
	lead.ID = id
	lead.CreatedAt = now
	s.leads[key] = lead
	return lead, true, nil
}

// ListLeads implements crawler.LeadStore, newest first. An empty domain
// matches all sources; limit <= 0 means no limit.
func (s *LeadStore) ListLeads(_ context.Context, sourceDomain string, limit int) ([]crawler.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Lead, 0, len(s.leads))
	for _, lead := range s.leads {
		if sourceDomain != "" && lead.SourceDomain != sourceDomain {
			continue
		}
		out = append(out, lead)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountLeads implements crawler.LeadStore.
func (s *LeadStore) CountLeads(_ context.Context, sourceDomain string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sourceDomain == "" {
		return len(s.leads), nil
	}
	count := 0
	for _, lead := range s.leads {
		if lead.SourceDomain == sourceDomain {
			count++
		}
	}
	return count, nil
}
