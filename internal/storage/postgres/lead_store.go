package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
)

// LeadStore persists leads in Postgres.
type LeadStore struct {
	pool  db
	ids   crawler.IDGenerator
	clock crawler.Clock
}

// NewLeadStore constructs a LeadStore over an existing pool.
func NewLeadStore(pool db, ids crawler.IDGenerator, clock crawler.Clock) *LeadStore {
	return &LeadStore{pool: pool, ids: ids, clock: clock}
}

// Upsert implements crawler.LeadStore. The ON CONFLICT update replaces
// every mutable column, so stale tags and raw data do not linger. The
// xmax check tells an insert apart from an update without a second
// round trip.
func (s *LeadStore) Upsert(ctx context.Context, candidate crawler.CandidateLead) (crawler.Lead, bool, error) {
	if candidate.ProfileURL == "" || candidate.SourceDomain == "" {
		return crawler.Lead{}, false, fmt.Errorf("lead requires profile_url and source_domain")
	}
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.Lead{}, false, fmt.Errorf("generate lead id: %w", err)
	}
	now := s.clock.Now()

	tags := candidate.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return crawler.Lead{}, false, fmt.Errorf("marshal tags: %w", err)
	}
	raw := candidate.RawData
	if raw == nil {
		raw = map[string]any{}
	}
	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return crawler.Lead{}, false, fmt.Errorf("marshal raw data: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
INSERT INTO leads (id, name, role, company, profile_url, source_domain, email, tags, raw_data, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
ON CONFLICT (profile_url, source_domain) DO UPDATE SET
	name = EXCLUDED.name,
	role = EXCLUDED.role,
	company = EXCLUDED.company,
	email = EXCLUDED.email,
	tags = EXCLUDED.tags,
	raw_data = EXCLUDED.raw_data,
	updated_at = EXCLUDED.updated_at
RETURNING id, created_at, (xmax = 0)`,
		id, candidate.Name, candidate.Role, candidate.Company,
		candidate.ProfileURL, candidate.SourceDomain, candidate.Email,
		tagsJSON, rawJSON, now)

	lead := crawler.Lead{
		Name:         candidate.Name,
		Role:         candidate.Role,
		Company:      candidate.Company,
		ProfileURL:   candidate.ProfileURL,
		SourceDomain: candidate.SourceDomain,
		Email:        candidate.Email,
		Tags:         tags,
		RawData:      raw,
		UpdatedAt:    now,
	}
	var created bool
	if err := row.Scan(&lead.ID, &lead.CreatedAt, &created); err != nil {
		return crawler.Lead{}, false, fmt.Errorf("upsert lead: %w", err)
	}
	return lead, created, nil
}

const leadColumns = `id, name, role, company, profile_url, source_domain, email, tags, raw_data, created_at, updated_at`

// ListLeads implements crawler.LeadStore, newest first.
func (s *LeadStore) ListLeads(ctx context.Context, sourceDomain string, limit int) ([]crawler.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads`
	var args []any
	if sourceDomain != "" {
		args = append(args, sourceDomain)
		query += ` WHERE source_domain = $1`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var out []crawler.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	return out, nil
}

// CountLeads implements crawler.LeadStore.
func (s *LeadStore) CountLeads(ctx context.Context, sourceDomain string) (int, error) {
	query := `SELECT COUNT(*) FROM leads`
	var args []any
	if sourceDomain != "" {
		args = append(args, sourceDomain)
		query += ` WHERE source_domain = $1`
	}
	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count leads: %w", err)
	}
	return count, nil
}

func scanLead(row pgx.Row) (crawler.Lead, error) {
	var lead crawler.Lead
	var tags, raw []byte
	err := row.Scan(
		&lead.ID, &lead.Name, &lead.Role, &lead.Company,
		&lead.ProfileURL, &lead.SourceDomain, &lead.Email,
		&tags, &raw, &lead.CreatedAt, &lead.UpdatedAt)
	if err != nil {
		return crawler.Lead{}, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &lead.Tags); err != nil {
			return crawler.Lead{}, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &lead.RawData); err != nil {
			return crawler.Lead{}, fmt.Errorf("unmarshal raw data: %w", err)
		}
	}
	return lead, nil
}
