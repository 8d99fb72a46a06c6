package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
)

// JobStore keeps crawl jobs in a map and enforces the status lifecycle.
type JobStore struct {
	ids   crawler.IDGenerator
	clock crawler.Clock

	mu   sync.RWMutex
	jobs map[string]crawler.Job
}

// NewJobStore constructs an empty JobStore.
func NewJobStore(ids crawler.IDGenerator, clock crawler.Clock) *JobStore {
	return &JobStore{ids: ids, clock: clock, jobs: make(map[string]crawler.Job)}
}

// CreateJob implements crawler.JobStore. A missing ID is generated and an
// empty status defaults to pending.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) (crawler.Job, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return crawler.Job{}, fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return job, nil
}

// GetJob implements crawler.JobStore.
func (s *JobStore) GetJob(_ context.Context, id string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return crawler.Job{}, crawler.ErrNotFound
	}
	return job, nil
}

// ListJobs implements crawler.JobStore. Empty filter values match
// everything; results are newest first.
func (s *JobStore) ListJobs(_ context.Context, configID string, status crawler.JobStatus) ([]crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if configID != "" && job.ConfigID != configID {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].ScheduledAt.After(out[j].ScheduledAt)
	})
	return out, nil
}

// MarkQueued implements crawler.JobStore.
func (s *JobStore) MarkQueued(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return crawler.ErrNotFound
	}
	if job.Status != crawler.JobStatusPending {
		return fmt.Errorf("job %s is %s, not pending", id, job.Status)
	}
	job.Status = crawler.JobStatusQueued
	s.jobs[id] = job
	return nil
}

// MarkStarted implements crawler.JobStore.
func (s *JobStore) MarkStarted(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return crawler.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return crawler.ErrAlreadyFinished
	}
	job.Status = crawler.JobStatusRunning
	job.StartedAt = &at
	s.jobs[id] = job
	return nil
}

// MarkFinished implements crawler.JobStore. The finished stamp is set
// exactly once; a second terminal transition is refused.
func (s *JobStore) MarkFinished(_ context.Context, id string, status crawler.JobStatus, stats crawler.JobStats, errText string, at time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return crawler.ErrNotFound
	}
	if job.FinishedAt != nil {
		return crawler.ErrAlreadyFinished
	}
	job.Status = status
	job.Stats = stats
	job.ErrorMessage = errText
	job.FinishedAt = &at
	s.jobs[id] = job
	return nil
}
