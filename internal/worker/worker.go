// Package worker consumes job attempts from the queue and drives the
// crawl pipeline, including the bounded re-enqueue retry policy.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
	"github.com/JakeFAU/leadsniffer/internal/metrics"
	"github.com/JakeFAU/leadsniffer/internal/scrape"
)

// Config controls worker retry behavior.
type Config struct {
	// MaxRetries bounds how many times an attempt that errored at the
	// pipeline level is re-enqueued. Per-page fetch failures are absorbed
	// into the run stats and never trigger a retry.
	MaxRetries int
	// RetryDelay is the pause before a failed attempt is re-enqueued.
	RetryDelay time.Duration
}

// Runner abstracts the pipeline for testing.
type Runner interface {
	Run(ctx context.Context, job crawler.Job, sc scrape.Crawler) (crawler.RunStats, error)
}

// Worker consumes queue items and executes crawl jobs.
type Worker struct {
	queue    crawler.Queue
	jobs     crawler.JobStore
	configs  crawler.ConfigStore
	logs     crawler.LogStore
	registry *scrape.Registry
	runner   Runner
	clock    crawler.Clock
	cfg      Config
	logger   *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Worker.
func New(
	queue crawler.Queue,
	jobs crawler.JobStore,
	configs crawler.ConfigStore,
	logs crawler.LogStore,
	registry *scrape.Registry,
	runner Runner,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		jobs:     jobs,
		configs:  configs,
		logs:     logs,
		registry: registry,
		runner:   runner,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.Process(ctx, item)
	}
}

// Process executes one job attempt.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID), zap.Int("attempt", item.Attempt))

	job, err := w.jobs.GetJob(ctx, item.JobID)
	if err != nil {
		logger.Warn("dequeued unknown job", zap.Error(err))
		return
	}
	if !w.claimable(job, item.Attempt) {
		logger.Info("skipping job not eligible to run", zap.String("status", string(job.Status)))
		return
	}

	cfg, err := w.configs.GetConfig(ctx, job.ConfigID)
	if err != nil {
		w.finalize(ctx, job.ID, crawler.JobStatusFailed, crawler.RunStats{}, "load source config: "+err.Error(), logger)
		return
	}
	if !cfg.Enabled {
		w.finalize(ctx, job.ID, crawler.JobStatusFailed, crawler.RunStats{}, "source config is disabled", logger)
		return
	}

	// A missing crawler binding cannot be retried away.
	sc, err := w.registry.Crawler(cfg)
	if err != nil {
		w.finalize(ctx, job.ID, crawler.JobStatusFailed, crawler.RunStats{}, err.Error(), logger)
		return
	}

	if err := w.jobs.MarkStarted(ctx, job.ID, w.clock.Now()); err != nil {
		if errors.Is(err, crawler.ErrAlreadyFinished) {
			logger.Info("job finished elsewhere before start")
			return
		}
		logger.Error("mark job started failed", zap.Error(err))
		return
	}

	metrics.IncActiveWorkers()
	stats, runErr := w.runner.Run(ctx, job, sc)
	metrics.DecActiveWorkers()

	switch {
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		w.finalize(ctx, job.ID, crawler.JobStatusCancelled, stats, runErr.Error(), logger)

	case runErr != nil:
		if item.Attempt < w.cfg.MaxRetries {
			w.retry(ctx, item, runErr.Error(), logger)
			return
		}
		w.finalize(ctx, job.ID, crawler.JobStatusFailed, stats, runErr.Error(), logger)

	default:
		// A loop that ran to completion is a completed job even when
		// every page fetch failed; the stats carry the failure tallies.
		w.finalize(ctx, job.ID, crawler.JobStatusCompleted, stats, "", logger)
		if err := w.configs.TouchLastCrawl(ctx, cfg.ID, w.clock.Now()); err != nil {
			logger.Error("touch last crawl failed", zap.Error(err))
		}
	}
}

// claimable reports whether this attempt may run the job. Running jobs
// are only claimable by retry attempts, which the worker itself issued
// after marking the job running.
func (w *Worker) claimable(job crawler.Job, attempt int) bool {
	switch job.Status {
	case crawler.JobStatusPending, crawler.JobStatusQueued:
		return true
	case crawler.JobStatusRunning:
		return attempt > 0
	default:
		return false
	}
}

// retry pauses, then re-enqueues the job with a bumped attempt counter.
// The job stays in running status between attempts.
func (w *Worker) retry(ctx context.Context, item crawler.QueueItem, reason string, logger *zap.Logger) {
	logger.Warn("job attempt failed, retrying",
		zap.String("reason", reason),
		zap.Duration("delay", w.cfg.RetryDelay),
		zap.Int("max_retries", w.cfg.MaxRetries))

	if err := w.sleep(ctx, w.cfg.RetryDelay); err != nil {
		w.finalize(ctx, item.JobID, crawler.JobStatusCancelled, crawler.RunStats{}, err.Error(), logger)
		return
	}
	next := crawler.QueueItem{
		JobID:     item.JobID,
		Attempt:   item.Attempt + 1,
		Submitted: w.clock.Now().Unix(),
	}
	if err := w.queue.Enqueue(ctx, next); err != nil {
		w.finalize(ctx, item.JobID, crawler.JobStatusFailed, crawler.RunStats{}, "re-enqueue failed: "+reason, logger)
	}
}

// finalize recomputes the stats blob from the URL log and writes the
// terminal status. The log is the source of truth; the in-memory run
// stats only fill in when the log is unreadable.
func (w *Worker) finalize(ctx context.Context, jobID string, status crawler.JobStatus, run crawler.RunStats, errText string, logger *zap.Logger) {
	stats, err := w.logs.ComputeStats(ctx, jobID)
	if err != nil {
		logger.Error("compute job stats failed", zap.Error(err))
		stats = crawler.JobStats{
			PagesCrawled:    run.PagesCrawled,
			PagesSuccessful: run.PagesSuccessful,
			PagesFailed:     run.PagesFailed,
			LeadsFound:      run.LeadsFound,
			LinksDiscovered: run.LinksDiscovered,
		}
	}

	if err := w.jobs.MarkFinished(ctx, jobID, status, stats, errText, w.clock.Now()); err != nil {
		if errors.Is(err, crawler.ErrAlreadyFinished) {
			logger.Info("job already finalized")
			return
		}
		logger.Error("mark job finished failed", zap.Error(err))
		return
	}
	metrics.ObserveJob(string(status))
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("pages_crawled", stats.PagesCrawled),
		zap.Int("leads_found", stats.LeadsFound),
		zap.String("error", errText))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
