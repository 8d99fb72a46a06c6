// Package crawler defines core types shared across subsystems.
package crawler

import (
	"strings"
	"time"
)

// SourceType identifies which crawler implementation handles a source.
type SourceType string

// Known source types. Registering a crawler for a new type is all that is
// needed to support it; these constants exist so configs stay spellable.
const (
	SourceTypeMedium SourceType = "medium"
	SourceTypeReddit SourceType = "reddit"
	SourceTypeCustom SourceType = "custom"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether a job in this status will never run again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// SourceConfig describes one external site or API to crawl and how to
// crawl it. Operators create and edit these; a job reads its config once
// at start.
type SourceConfig struct {
	ID         string     `json:"id"`
	Domain     string     `json:"domain"`
	SourceType SourceType `json:"source_type"`
	Name       string     `json:"name"`
	Enabled    bool       `json:"enabled"`

	StartURLs []string       `json:"start_urls"`
	Filters   map[string]any `json:"filters,omitempty"`

	RequestsPerMinute  int `json:"requests_per_minute"`
	CrawlIntervalHours int `json:"crawl_interval_hours"`
	MaxPages           int `json:"max_pages"`

	FollowLinks bool `json:"follow_links"`
	UseBrowser  bool `json:"use_browser"`

	LastCrawlAt *time.Time `json:"last_crawl_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// DueForCrawl reports whether enough time has passed since the last crawl
// for the scheduler to start a new job.
func (c SourceConfig) DueForCrawl(now time.Time) bool {
	if !c.Enabled {
		return false
	}
	if c.LastCrawlAt == nil {
		return true
	}
	return now.Sub(*c.LastCrawlAt) >= time.Duration(c.CrawlIntervalHours)*time.Hour
}

// Job represents one crawl execution against a SourceConfig.
type Job struct {
	ID          string    `json:"id"`
	ConfigID    string    `json:"config_id"`
	Status      JobStatus `json:"status"`
	TriggeredBy string    `json:"triggered_by"`

	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`

	Stats        JobStats `json:"stats"`
	ErrorMessage string   `json:"error_message,omitempty"`
}

// Duration returns the wall time the job spent running, if it finished.
func (j Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// JobStats is the aggregate stats blob stored on a finished job. It is
// recomputed from the job's URL log entries at finalization, so the log
// remains the source of truth.
type JobStats struct {
	PagesCrawled    int     `json:"pages_crawled"`
	PagesSuccessful int     `json:"pages_successful"`
	PagesFailed     int     `json:"pages_failed"`
	PagesWithErrors int     `json:"pages_with_errors"`
	LeadsFound      int     `json:"leads_found"`
	LinksDiscovered int     `json:"links_discovered"`
	AvgDurationMs   float64 `json:"avg_duration_ms"`
}

// RunStats is the summary a pipeline run returns to its caller. Unlike
// JobStats it includes the upsert outcome tallies, which only the running
// pipeline knows.
type RunStats struct {
	PagesCrawled    int      `json:"pages_crawled"`
	PagesSuccessful int      `json:"pages_successful"`
	PagesFailed     int      `json:"pages_failed"`
	LeadsFound      int      `json:"leads_found"`
	LeadsCreated    int      `json:"leads_created"`
	LeadsUpdated    int      `json:"leads_updated"`
	LinksDiscovered int      `json:"links_discovered"`
	Errors          []string `json:"-"`
}

// ErrorCount returns the number of recoverable errors seen during the run.
func (s RunStats) ErrorCount() int { return len(s.Errors) }

// CandidateLead is a person extracted from one fetched document, not yet
// persisted.
type CandidateLead struct {
	Name         string         `json:"name"`
	ProfileURL   string         `json:"profile_url"`
	SourceDomain string         `json:"source_domain"`
	Role         string         `json:"role,omitempty"`
	Company      string         `json:"company,omitempty"`
	Email        string         `json:"email,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	RawData      map[string]any `json:"raw_data,omitempty"`
}

// Lead is the persisted entity, uniquely keyed by (ProfileURL, SourceDomain).
// Upserts replace all fields wholesale, including tags and raw data.
type Lead struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Role         string         `json:"role,omitempty"`
	Company      string         `json:"company,omitempty"`
	ProfileURL   string         `json:"profile_url"`
	SourceDomain string         `json:"source_domain"`
	Email        string         `json:"email,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	RawData      map[string]any `json:"raw_data,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// URLLogEntry records one fetch attempt within a job.
type URLLogEntry struct {
	JobID           string    `json:"job_id"`
	URL             string    `json:"url"`
	HTTPStatus      int       `json:"http_status,omitempty"`
	ContentType     string    `json:"content_type,omitempty"`
	FetchedAt       time.Time `json:"fetched_at"`
	DurationMs      int64     `json:"duration_ms"`
	LeadsFound      int       `json:"leads_found"`
	LinksDiscovered int       `json:"links_discovered"`
	Error           string    `json:"error,omitempty"`
	RetryCount      int       `json:"retry_count"`
}

// IsSuccess reports whether the fetch behind this entry got a usable page.
func (e URLLogEntry) IsSuccess() bool {
	return e.HTTPStatus >= 200 && e.HTTPStatus < 400
}

// ExtractionResult is what a parser produces from one fetched document.
type ExtractionResult struct {
	Leads    []CandidateLead
	Links    []string
	Errors   []string
	Metadata map[string]any
}

// AddError appends a recoverable extraction error.
func (r *ExtractionResult) AddError(msg string) {
	if strings.TrimSpace(msg) == "" {
		return
	}
	r.Errors = append(r.Errors, msg)
}

// QueueItem wraps a job attempt ready to run.
type QueueItem struct {
	JobID     string
	Attempt   int
	Submitted int64
}
