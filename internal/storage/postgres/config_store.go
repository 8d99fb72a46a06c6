package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
)

// ConfigStore persists source configurations in Postgres.
type ConfigStore struct {
	pool  db
	ids   crawler.IDGenerator
	clock crawler.Clock
}

// NewConfigStore constructs a ConfigStore over an existing pool.
func NewConfigStore(pool db, ids crawler.IDGenerator, clock crawler.Clock) *ConfigStore {
	return &ConfigStore{pool: pool, ids: ids, clock: clock}
}

const configColumns = `id, domain, source_type, name, enabled, start_urls, filters,
requests_per_minute, crawl_interval_hours, max_pages, follow_links, use_browser,
last_crawl_at, created_at, updated_at`

// CreateConfig implements crawler.ConfigStore.
func (s *ConfigStore) CreateConfig(ctx context.Context, cfg crawler.SourceConfig) (crawler.SourceConfig, error) {
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

	startURLs, filters, err := marshalConfigJSON(cfg)
	if err != nil {
		return crawler.SourceConfig{}, err
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO source_configs (
	id, domain, source_type, name, enabled, start_urls, filters,
	requests_per_minute, crawl_interval_hours, max_pages, follow_links, use_browser,
	created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		cfg.ID, cfg.Domain, cfg.SourceType, cfg.Name, cfg.Enabled, startURLs, filters,
		cfg.RequestsPerMinute, cfg.CrawlIntervalHours, cfg.MaxPages, cfg.FollowLinks, cfg.UseBrowser,
		cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return crawler.SourceConfig{}, fmt.Errorf("insert config: %w", err)
	}
	return cfg, nil
}

// GetConfig implements crawler.ConfigStore.
func (s *ConfigStore) GetConfig(ctx context.Context, id string) (crawler.SourceConfig, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+configColumns+` FROM source_configs WHERE id = $1`, id)
	cfg, err := scanConfig(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.SourceConfig{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.SourceConfig{}, fmt.Errorf("get config: %w", err)
	}
	return cfg, nil
}

// UpdateConfig implements crawler.ConfigStore. Creation time and the last
// crawl stamp are kept from the stored row.
func (s *ConfigStore) UpdateConfig(ctx context.Context, cfg crawler.SourceConfig) (crawler.SourceConfig, error) {
	cfg.UpdatedAt = s.clock.Now()

	startURLs, filters, err := marshalConfigJSON(cfg)
	if err != nil {
		return crawler.SourceConfig{}, err
	}

	row := s.pool.QueryRow(ctx, `
UPDATE source_configs SET
	domain = $2, source_type = $3, name = $4, enabled = $5, start_urls = $6, filters = $7,
	requests_per_minute = $8, crawl_interval_hours = $9, max_pages = $10,
	follow_links = $11, use_browser = $12, updated_at = $13
WHERE id = $1
RETURNING created_at, last_crawl_at`,
		cfg.ID, cfg.Domain, cfg.SourceType, cfg.Name, cfg.Enabled, startURLs, filters,
		cfg.RequestsPerMinute, cfg.CrawlIntervalHours, cfg.MaxPages,
		cfg.FollowLinks, cfg.UseBrowser, cfg.UpdatedAt)

	err = row.Scan(&cfg.CreatedAt, &cfg.LastCrawlAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.SourceConfig{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.SourceConfig{}, fmt.Errorf("update config: %w", err)
	}
	return cfg, nil
}

// ListConfigs implements crawler.ConfigStore, ordered by creation time.
func (s *ConfigStore) ListConfigs(ctx context.Context, enabledOnly bool) ([]crawler.SourceConfig, error) {
	query := `SELECT ` + configColumns + ` FROM source_configs`
	if enabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	defer rows.Close()

	var out []crawler.SourceConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	return out, nil
}

// TouchLastCrawl implements crawler.ConfigStore.
func (s *ConfigStore) TouchLastCrawl(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE source_configs SET last_crawl_at = $2, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch last crawl: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

func marshalConfigJSON(cfg crawler.SourceConfig) ([]byte, []byte, error) {
	urls := cfg.StartURLs
	if urls == nil {
		urls = []string{}
	}
	startURLs, err := json.Marshal(urls)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal start urls: %w", err)
	}
	f := cfg.Filters
	if f == nil {
		f = map[string]any{}
	}
	filters, err := json.Marshal(f)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal filters: %w", err)
	}
	return startURLs, filters, nil
}

func scanConfig(row pgx.Row) (crawler.SourceConfig, error) {
	var cfg crawler.SourceConfig
	var startURLs, filters []byte
	err := row.Scan(
		&cfg.ID, &cfg.Domain, &cfg.SourceType, &cfg.Name, &cfg.Enabled, &startURLs, &filters,
		&cfg.RequestsPerMinute, &cfg.CrawlIntervalHours, &cfg.MaxPages, &cfg.FollowLinks, &cfg.UseBrowser,
		&cfg.LastCrawlAt, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return crawler.SourceConfig{}, err
	}
	if len(startURLs) > 0 {
		if err := json.Unmarshal(startURLs, &cfg.StartURLs); err != nil {
			return crawler.SourceConfig{}, fmt.Errorf("unmarshal start urls: %w", err)
		}
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &cfg.Filters); err != nil {
			return crawler.SourceConfig{}, fmt.Errorf("unmarshal filters: %w", err)
		}
	}
	return cfg, nil
}
