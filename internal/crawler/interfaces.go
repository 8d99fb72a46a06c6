package crawler

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyFinished is returned when a terminal transition is attempted
// on a job that already reached a terminal status.
var ErrAlreadyFinished = errors.New("job already finished")

// ConfigStore reads and updates source configurations.
type ConfigStore interface {
	CreateConfig(ctx context.Context, cfg SourceConfig) (SourceConfig, error)
	GetConfig(ctx context.Context, id string) (SourceConfig, error)
	UpdateConfig(ctx context.Context, cfg SourceConfig) (SourceConfig, error)
	ListConfigs(ctx context.Context, enabledOnly bool) ([]SourceConfig, error)
	TouchLastCrawl(ctx context.Context, id string, at time.Time) error
}

// JobStore persists crawl jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) (Job, error)
	GetJob(ctx context.Context, id string) (Job, error)
	ListJobs(ctx context.Context, configID string, status JobStatus) ([]Job, error)
	// MarkQueued transitions a pending job into the queue.
	MarkQueued(ctx context.Context, id string) error
	// MarkStarted transitions a job to running and stamps started_at.
	MarkStarted(ctx context.Context, id string, at time.Time) error
	// MarkFinished sets a terminal status, the stats blob, an optional error
	// message, and stamps finished_at. It must refuse a second terminal
	// transition.
	MarkFinished(ctx context.Context, id string, status JobStatus, stats JobStats, errText string, at time.Time) error
}

// LogStore appends and aggregates per-URL fetch records.
type LogStore interface {
	Append(ctx context.Context, entry URLLogEntry) error
	ListForJob(ctx context.Context, jobID string) ([]URLLogEntry, error)
	// ComputeStats derives the aggregate stats blob for a job from its log
	// entries. The log is the authoritative source for finalization.
	ComputeStats(ctx context.Context, jobID string) (JobStats, error)
}

// LeadStore persists extracted leads.
type LeadStore interface {
	// Upsert creates or wholesale-replaces the lead identified by
	// (ProfileURL, SourceDomain). The bool result is true when a new row
	// was created.
	Upsert(ctx context.Context, lead CandidateLead) (Lead, bool, error)
	ListLeads(ctx context.Context, sourceDomain string, limit int) ([]Lead, error)
	CountLeads(ctx context.Context, sourceDomain string) (int, error)
}

// RateLimiter gates fetches so a domain is not hit faster than its
// configured requests-per-minute, across all concurrent workers.
type RateLimiter interface {
	// WaitIfNeeded blocks until a request to url is admissible, records the
	// request, and returns how long it waited. It fails open when the
	// backing store is unavailable.
	WaitIfNeeded(ctx context.Context, url string, requestsPerMinute int) (time.Duration, error)
}

// Queue provides enqueue/dequeue semantics for job attempts.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
