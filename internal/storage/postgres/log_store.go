package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
)

// LogStore persists per-URL fetch records in Postgres.
type LogStore struct {
	pool db
}

// NewLogStore constructs a LogStore over an existing pool.
func NewLogStore(pool db) *LogStore {
	return &LogStore{pool: pool}
}

// Append implements crawler.LogStore.
func (s *LogStore) Append(ctx context.Context, entry crawler.URLLogEntry) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO url_logs (job_id, url, http_status, content_type, fetched_at, duration_ms, leads_found, links_discovered, error, retry_count)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		entry.JobID, entry.URL, entry.HTTPStatus, entry.ContentType, entry.FetchedAt,
		entry.DurationMs, entry.LeadsFound, entry.LinksDiscovered, entry.Error, entry.RetryCount)
	if err != nil {
		return fmt.Errorf("insert url log: %w", err)
	}
	return nil
}

// ListForJob implements crawler.LogStore, in append order.
func (s *LogStore) ListForJob(ctx context.Context, jobID string) ([]crawler.URLLogEntry, error) {
	rows, err := s.pool.Query(ctx, `
SELECT job_id, url, http_status, content_type, fetched_at, duration_ms, leads_found, links_discovered, error, retry_count
FROM url_logs WHERE job_id = $1 ORDER BY seq`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list url logs: %w", err)
	}
	defer rows.Close()

	var out []crawler.URLLogEntry
	for rows.Next() {
		var e crawler.URLLogEntry
		err := rows.Scan(&e.JobID, &e.URL, &e.HTTPStatus, &e.ContentType, &e.FetchedAt,
			&e.DurationMs, &e.LeadsFound, &e.LinksDiscovered, &e.Error, &e.RetryCount)
		if err != nil {
			return nil, fmt.Errorf("scan url log: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list url logs: %w", err)
	}
	return out, nil
}

// ComputeStats implements crawler.LogStore with a single aggregate query.
func (s *LogStore) ComputeStats(ctx context.Context, jobID string) (crawler.JobStats, error) {
	var stats crawler.JobStats
	err := s.pool.QueryRow(ctx, `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE http_status BETWEEN 200 AND 399),
	COUNT(*) FILTER (WHERE http_status < 200 OR http_status >= 400),
	COUNT(*) FILTER (WHERE error <> ''),
	COALESCE(SUM(leads_found), 0),
	COALESCE(SUM(links_discovered), 0),
	COALESCE(AVG(duration_ms), 0)
FROM url_logs WHERE job_id = $1`, jobID).Scan(
		&stats.PagesCrawled, &stats.PagesSuccessful, &stats.PagesFailed,
		&stats.PagesWithErrors, &stats.LeadsFound, &stats.LinksDiscovered, &stats.AvgDurationMs)
	if err != nil {
		return crawler.JobStats{}, fmt.Errorf("compute job stats: %w", err)
	}
	return stats, nil
}
