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

// JobStore persists crawl jobs in Postgres.
type JobStore struct {
	pool  db
	ids   crawler.IDGenerator
	clock crawler.Clock
}

// NewJobStore constructs a JobStore over an existing pool.
func NewJobStore(pool db, ids crawler.IDGenerator, clock crawler.Clock) *JobStore {
	return &JobStore{pool: pool, ids: ids, clock: clock}
}

const jobColumns = `id, config_id, status, triggered_by, scheduled_at, started_at, finished_at, stats, error_message`

// CreateJob implements crawler.JobStore.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) (crawler.Job, error) {
	if job.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return crawler.Job{}, fmt.Errorf("generate job id: %w", err)
		}
		job.ID = id
	}
	if job.Status == "" {
		job.Status = crawler.JobStatusPending
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = s.clock.Now()
	}

	stats, err := json.Marshal(job.Stats)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("marshal stats: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO jobs (id, config_id, status, triggered_by, scheduled_at, stats, error_message)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		job.ID, job.ConfigID, job.Status, job.TriggeredBy, job.ScheduledAt, stats, job.ErrorMessage)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetJob implements crawler.JobStore.
func (s *JobStore) GetJob(ctx context.Context, id string) (crawler.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs implements crawler.JobStore, newest first. Empty filter values
// match everything.
func (s *JobStore) ListJobs(ctx context.Context, configID string, status crawler.JobStatus) ([]crawler.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	var where []string
	if configID != "" {
		args = append(args, configID)
		where = append(where, fmt.Sprintf("config_id = $%d", len(args)))
	}
	if status != "" {
		args = append(args, status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	for i, cond := range where {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY scheduled_at DESC, id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []crawler.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

// MarkQueued implements crawler.JobStore.
func (s *JobStore) MarkQueued(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2 WHERE id = $1 AND status = $3`,
		id, crawler.JobStatusQueued, crawler.JobStatusPending)
	if err != nil {
		return fmt.Errorf("mark queued: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, id, "not pending")
	}
	return nil
}

// MarkStarted implements crawler.JobStore.
func (s *JobStore) MarkStarted(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, started_at = $3 WHERE id = $1 AND finished_at IS NULL`,
		id, crawler.JobStatusRunning, at)
	if err != nil {
		return fmt.Errorf("mark started: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.finishedConflict(ctx, id)
	}
	return nil
}

// MarkFinished implements crawler.JobStore. The guard on finished_at
// makes the terminal transition first-writer-wins.
func (s *JobStore) MarkFinished(ctx context.Context, id string, status crawler.JobStatus, stats crawler.JobStats, errText string, at time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	blob, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
UPDATE jobs SET status = $2, stats = $3, error_message = $4, finished_at = $5
WHERE id = $1 AND finished_at IS NULL`,
		id, status, blob, errText, at)
	if err != nil {
		return fmt.Errorf("mark finished: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.finishedConflict(ctx, id)
	}
	return nil
}

// transitionConflict distinguishes a missing job from one in the wrong
// status after a guarded update matched no rows.
func (s *JobStore) transitionConflict(ctx context.Context, id, want string) error {
	var status crawler.JobStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check job status: %w", err)
	}
	return fmt.Errorf("job %s is %s, %s", id, status, want)
}

func (s *JobStore) finishedConflict(ctx context.Context, id string) error {
	var status crawler.JobStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check job status: %w", err)
	}
	return crawler.ErrAlreadyFinished
}

func scanJob(row pgx.Row) (crawler.Job, error) {
	var job crawler.Job
	var stats []byte
	err := row.Scan(
		&job.ID, &job.ConfigID, &job.Status, &job.TriggeredBy,
		&job.ScheduledAt, &job.StartedAt, &job.FinishedAt, &stats, &job.ErrorMessage)
	if err != nil {
		return crawler.Job{}, err
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &job.Stats); err != nil {
			return crawler.Job{}, fmt.Errorf("unmarshal stats: %w", err)
		}
	}
	return job, nil
}
