// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// db is the slice of pgxpool.Pool the stores use; pgxmock satisfies it.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Connect opens a connection pool using the provided config.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS source_configs (
	id TEXT PRIMARY KEY,
	domain TEXT NOT NULL,
	source_type TEXT NOT NULL,
	name TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	start_urls JSONB NOT NULL DEFAULT '[]',
	filters JSONB NOT NULL DEFAULT '{}',
	requests_per_minute INTEGER NOT NULL DEFAULT 10,
	crawl_interval_hours INTEGER NOT NULL DEFAULT 24,
	max_pages INTEGER NOT NULL DEFAULT 100,
	follow_links BOOLEAN NOT NULL DEFAULT TRUE,
	use_browser BOOLEAN NOT NULL DEFAULT FALSE,
	last_crawl_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	config_id TEXT NOT NULL,
	status TEXT NOT NULL,
	triggered_by TEXT NOT NULL DEFAULT '',
	scheduled_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	stats JSONB NOT NULL DEFAULT '{}',
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS jobs_config_id_idx ON jobs (config_id, scheduled_at DESC);

CREATE TABLE IF NOT EXISTS leads (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT '',
	company TEXT NOT NULL DEFAULT '',
	profile_url TEXT NOT NULL,
	source_domain TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	tags JSONB NOT NULL DEFAULT '[]',
	raw_data JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (profile_url, source_domain)
);

CREATE TABLE IF NOT EXISTS url_logs (
	seq BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL,
	url TEXT NOT NULL,
	http_status INTEGER NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	fetched_at TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	leads_found INTEGER NOT NULL DEFAULT 0,
	links_discovered INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS url_logs_job_id_idx ON url_logs (job_id, seq);
`

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, pool db) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
