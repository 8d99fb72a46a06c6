package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
	"github.com/JakeFAU/leadsniffer/internal/metrics"
	qmemory "github.com/JakeFAU/leadsniffer/internal/queue/memory"
	"github.com/JakeFAU/leadsniffer/internal/scrape"
	smemory "github.com/JakeFAU/leadsniffer/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubParser struct{}

func (stubParser) Domain() string { return "example.com" }

func (stubParser) CanHandle(string) bool { return true }

func (stubParser) Parse(string, string) crawler.ExtractionResult {
	return crawler.ExtractionResult{}
}

type stubCrawler struct {
	scrape.Base
}

func (c stubCrawler) Parser() scrape.Parser      { return stubParser{} }
func (c stubCrawler) Headers() map[string]string { return nil }
func (c stubCrawler) FilterLinks(links []string, visited map[string]bool) []string {
	return scrape.FilterVisited(c, links, visited)
}

type stubRunner struct {
	stats crawler.RunStats
	err   error
	calls int
}

func (r *stubRunner) Run(context.Context, crawler.Job, scrape.Crawler) (crawler.RunStats, error) {
	r.calls++
	return r.stats, r.err
}

type fixture struct {
	worker  *Worker
	queue   *qmemory.Queue
	jobs    *smemory.JobStore
	configs *smemory.ConfigStore
	logs    *smemory.LogStore
	runner  *stubRunner
	clock   fixedClock
}

func newFixture(t *testing.T, runner *stubRunner, cfg Config) *fixture {
	t.Helper()
	clock := fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	reg := scrape.NewRegistry()
	reg.RegisterCrawler(crawler.SourceTypeCustom, func(c crawler.SourceConfig) scrape.Crawler {
		return stubCrawler{Base: scrape.Base{Cfg: c}}
	})

	f := &fixture{
		queue:   qmemory.NewQueue(8),
		jobs:    smemory.NewJobStore(&seqIDs{}, clock),
		configs: smemory.NewConfigStore(&seqIDs{}, clock),
		logs:    smemory.NewLogStore(),
		runner:  runner,
		clock:   clock,
	}
	f.worker = New(f.queue, f.jobs, f.configs, f.logs, reg, runner, clock, cfg, zap.NewNop())
	f.worker.sleep = func(context.Context, time.Duration) error { return nil }
	return f
}

func (f *fixture) createJob(t *testing.T, enabled bool, sourceType crawler.SourceType) crawler.Job {
	t.Helper()
	ctx := context.Background()
	cfg, err := f.configs.CreateConfig(ctx, crawler.SourceConfig{
		Domain:     "example.com",
		SourceType: sourceType,
		Enabled:    enabled,
		StartURLs:  []string{"https://example.com/"},
	})
	require.NoError(t, err)
	job, err := f.jobs.CreateJob(ctx, crawler.Job{ConfigID: cfg.ID, TriggeredBy: "test"})
	require.NoError(t, err)
	require.NoError(t, f.jobs.MarkQueued(ctx, job.ID))
	return job
}

func TestProcess_CompletesAndTouchesConfig(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{stats: crawler.RunStats{PagesCrawled: 2, PagesSuccessful: 2, LeadsFound: 1}}
	f := newFixture(t, runner, Config{MaxRetries: 2})
	ctx := context.Background()
	job := f.createJob(t, true, crawler.SourceTypeCustom)

	// The pipeline writes the URL log in real runs; seed it here so the
	// finalized stats blob has something to derive from.
	require.NoError(t, f.logs.Append(ctx, crawler.URLLogEntry{
		JobID: job.ID, URL: "https://example.com/", HTTPStatus: 200, DurationMs: 100, LeadsFound: 1,
	}))
	require.NoError(t, f.logs.Append(ctx, crawler.URLLogEntry{
		JobID: job.ID, URL: "https://example.com/a", HTTPStatus: 200, DurationMs: 200,
	}))

	f.worker.Process(ctx, crawler.QueueItem{JobID: job.ID})

	require.Equal(t, 1, runner.calls)
	got, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, got.Status)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.FinishedAt)
	require.Equal(t, 2, got.Stats.PagesCrawled, "stats derived from the URL log")
	require.Equal(t, 1, got.Stats.LeadsFound)

	cfg, err := f.configs.GetConfig(ctx, got.ConfigID)
	require.NoError(t, err)
	require.NotNil(t, cfg.LastCrawlAt, "successful crawl stamps the config")
}

func TestProcess_DisabledConfigFailsJob(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	f := newFixture(t, runner, Config{})
	ctx := context.Background()
	job := f.createJob(t, false, crawler.SourceTypeCustom)

	f.worker.Process(ctx, crawler.QueueItem{JobID: job.ID})

	require.Zero(t, runner.calls, "disabled sources never run")
	got, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, got.Status)
	require.Contains(t, got.ErrorMessage, "disabled")
}

func TestProcess_MissingCrawlerBindingIsFatal(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	f := newFixture(t, runner, Config{MaxRetries: 5})
	ctx := context.Background()
	job := f.createJob(t, true, crawler.SourceTypeMedium) // not registered in this fixture

	f.worker.Process(ctx, crawler.QueueItem{JobID: job.ID})

	require.Zero(t, runner.calls)
	got, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, got.Status)
	require.Contains(t, got.ErrorMessage, "no crawler registered")
}

func TestProcess_SkipsTerminalJob(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	f := newFixture(t, runner, Config{})
	ctx := context.Background()
	job := f.createJob(t, true, crawler.SourceTypeCustom)
	require.NoError(t, f.jobs.MarkStarted(ctx, job.ID, f.clock.Now()))
	require.NoError(t, f.jobs.MarkFinished(ctx, job.ID, crawler.JobStatusCancelled, crawler.JobStats{}, "", f.clock.Now()))

	f.worker.Process(ctx, crawler.QueueItem{JobID: job.ID})

	require.Zero(t, runner.calls)
	got, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCancelled, got.Status, "terminal status untouched")
}

func TestProcess_AllPagesFailedStillCompletes(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{stats: crawler.RunStats{
		PagesCrawled: 1,
		PagesFailed:  1,
		Errors:       []string{"https://example.com/: http status 404"},
	}}
	f := newFixture(t, runner, Config{MaxRetries: 2})
	ctx := context.Background()
	job := f.createJob(t, true, crawler.SourceTypeCustom)
	require.NoError(t, f.logs.Append(ctx, crawler.URLLogEntry{
		JobID: job.ID, URL: "https://example.com/", HTTPStatus: 404, DurationMs: 50, Error: "http status 404",
	}))

	f.worker.Process(ctx, crawler.QueueItem{JobID: job.ID})

	// The crawl loop ran to completion, so the job is done, not retried.
	require.Equal(t, 1, runner.calls)
	require.Zero(t, f.queue.Len())

	got, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, got.Status)
	require.Empty(t, got.ErrorMessage)
	require.Equal(t, 1, got.Stats.PagesFailed)
	require.Zero(t, got.Stats.PagesSuccessful)

	cfg, err := f.configs.GetConfig(ctx, got.ConfigID)
	require.NoError(t, err)
	require.NotNil(t, cfg.LastCrawlAt)
}

func TestProcess_RetriesThenFails(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{err: errors.New("append url log: connection refused")}
	f := newFixture(t, runner, Config{MaxRetries: 2})
	ctx := context.Background()
	job := f.createJob(t, true, crawler.SourceTypeCustom)

	f.worker.Process(ctx, crawler.QueueItem{JobID: job.ID})

	// First attempt re-enqueues instead of finishing.
	got, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusRunning, got.Status)

	item, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, job.ID, item.JobID)
	require.Equal(t, 1, item.Attempt)

	f.worker.Process(ctx, item)
	item, err = f.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, item.Attempt)

	// The final allowed attempt exhausts the budget.
	f.worker.Process(ctx, item)
	require.Equal(t, 3, runner.calls)
	require.Zero(t, f.queue.Len())

	got, err = f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, got.Status)
	require.Contains(t, got.ErrorMessage, "connection refused")
}

func TestProcess_CancelledRunFinalizesCancelled(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{err: context.Canceled, stats: crawler.RunStats{PagesCrawled: 1, PagesSuccessful: 1}}
	f := newFixture(t, runner, Config{MaxRetries: 2})
	ctx := context.Background()
	job := f.createJob(t, true, crawler.SourceTypeCustom)

	f.worker.Process(ctx, crawler.QueueItem{JobID: job.ID})

	got, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCancelled, got.Status)
	require.Zero(t, f.queue.Len(), "cancelled jobs are not retried")
}
