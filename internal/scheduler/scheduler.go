// Package scheduler starts crawl jobs for sources whose crawl interval
// has elapsed, driven by a cron beat.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
)

// Scheduler periodically scans enabled source configs and enqueues a job
// for each one that is due.
type Scheduler struct {
	configs crawler.ConfigStore
	jobs    crawler.JobStore
	queue   crawler.Queue
	clock   crawler.Clock
	logger  *zap.Logger
	cron    *cron.Cron
}

// New constructs a Scheduler.
func New(
	configs crawler.ConfigStore,
	jobs crawler.JobStore,
	queue crawler.Queue,
	clock crawler.Clock,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		configs: configs,
		jobs:    jobs,
		queue:   queue,
		clock:   clock,
		logger:  logger,
		cron:    cron.New(),
	}
}

// Start registers the beat under the given cron spec and starts the
// cron loop in the background.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		if _, err := s.Beat(ctx); err != nil {
			s.logger.Error("scheduler beat failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("register cron spec %q: %w", spec, err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("cron_spec", spec))
	return nil
}

// Stop halts the cron loop; the returned context is done once any
// in-flight beat finishes.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Beat enqueues one job per due source and returns how many it started.
// A failure on one source does not block the others.
func (s *Scheduler) Beat(ctx context.Context) (int, error) {
	now := s.clock.Now()
	configs, err := s.configs.ListConfigs(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("list enabled configs: %w", err)
	}

	started := 0
	for _, cfg := range configs {
		if !cfg.DueForCrawl(now) {
			continue
		}
		active, err := s.hasActiveJob(ctx, cfg.ID)
		if err != nil {
			s.logger.Error("check active jobs failed", zap.String("config_id", cfg.ID), zap.Error(err))
			continue
		}
		if active {
			s.logger.Debug("source already has a job in flight", zap.String("config_id", cfg.ID))
			continue
		}
		if err := s.startJob(ctx, cfg); err != nil {
			s.logger.Error("start scheduled job failed", zap.String("config_id", cfg.ID), zap.Error(err))
			continue
		}
		started++
	}

	if started > 0 {
		s.logger.Info("scheduler beat", zap.Int("jobs_started", started))
	}
	return started, nil
}

// hasActiveJob reports whether the source already has a non-terminal job.
func (s *Scheduler) hasActiveJob(ctx context.Context, configID string) (bool, error) {
	jobs, err := s.jobs.ListJobs(ctx, configID, "")
	if err != nil {
		return false, err
	}
	for _, job := range jobs {
		if !job.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Scheduler) startJob(ctx context.Context, cfg crawler.SourceConfig) error {
	job, err := s.jobs.CreateJob(ctx, crawler.Job{
		ConfigID:    cfg.ID,
		Status:      crawler.JobStatusPending,
		TriggeredBy: "scheduler",
		ScheduledAt: s.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if err := s.jobs.MarkQueued(ctx, job.ID); err != nil {
		return fmt.Errorf("mark queued: %w", err)
	}
	if err := s.queue.Enqueue(ctx, crawler.QueueItem{
		JobID:     job.ID,
		Submitted: s.clock.Now().Unix(),
	}); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}
