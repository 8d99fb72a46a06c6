// Package pipeline implements the breadth-first crawl loop: seed URLs,
// rate-gated fetches, parsing, lead upserts, and per-URL logging.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
	"github.com/JakeFAU/leadsniffer/internal/fetch"
	"github.com/JakeFAU/leadsniffer/internal/metrics"
	"github.com/JakeFAU/leadsniffer/internal/scrape"
)

// DefaultMaxPages bounds a crawl whose config does not set a page cap.
const DefaultMaxPages = 100

// Fetcher is the slice of fetch.Client the pipeline uses.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) fetch.Outcome
}

// Pipeline runs one crawl job against a source. It is safe for
// concurrent use; all per-job state lives in Run.
type Pipeline struct {
	fetcher Fetcher
	limiter crawler.RateLimiter
	leads   crawler.LeadStore
	logs    crawler.LogStore
	clock   crawler.Clock
	logger  *zap.Logger
}

// New constructs a Pipeline.
func New(
	fetcher Fetcher,
	limiter crawler.RateLimiter,
	leads crawler.LeadStore,
	logs crawler.LogStore,
	clock crawler.Clock,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		fetcher: fetcher,
		limiter: limiter,
		leads:   leads,
		logs:    logs,
		clock:   clock,
		logger:  logger,
	}
}

// Run crawls breadth-first from the source's start URLs until the
// frontier empties or the page cap is reached. Per-page failures are
// absorbed into the run stats; the only returned error is context
// cancellation, which unwinds the crawl immediately.
func (p *Pipeline) Run(ctx context.Context, job crawler.Job, sc scrape.Crawler) (crawler.RunStats, error) {
	cfg := sc.Config()
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	var stats crawler.RunStats
	visited := make(map[string]bool)
	queued := make(map[string]bool)
	frontier := append([]string(nil), sc.StartURLs()...)
	for _, u := range frontier {
		queued[u] = true
	}

	logger := p.logger.With(zap.String("job_id", job.ID), zap.String("domain", cfg.Domain))
	logger.Info("crawl started",
		zap.Int("start_urls", len(frontier)),
		zap.Int("max_pages", maxPages))

	for len(frontier) > 0 && stats.PagesCrawled < maxPages {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		url := frontier[0]
		frontier = frontier[1:]
		if visited[url] {
			continue
		}
		visited[url] = true

		if err := p.crawlPage(ctx, job.ID, sc, url, visited, &frontier, queued, &stats, logger); err != nil {
			return stats, err
		}
	}

	logger.Info("crawl finished",
		zap.Int("pages_crawled", stats.PagesCrawled),
		zap.Int("leads_found", stats.LeadsFound),
		zap.Int("errors", stats.ErrorCount()))
	return stats, nil
}

// crawlPage fetches, parses, and records a single URL. The returned
// error is non-nil only for context cancellation.
func (p *Pipeline) crawlPage(
	ctx context.Context,
	jobID string,
	sc scrape.Crawler,
	url string,
	visited map[string]bool,
	frontier *[]string,
	queued map[string]bool,
	stats *crawler.RunStats,
	logger *zap.Logger,
) error {
	cfg := sc.Config()

	wait, err := p.limiter.WaitIfNeeded(ctx, url, cfg.RequestsPerMinute)
	if err != nil {
		return err
	}
	if wait > 0 {
		logger.Debug("rate limited", zap.String("url", url), zap.Duration("wait", wait))
	}

	outcome := p.fetcher.Fetch(ctx, fetch.Request{URL: url, Headers: sc.Headers()})
	stats.PagesCrawled++

	entry := crawler.URLLogEntry{
		JobID:       jobID,
		URL:         url,
		HTTPStatus:  outcome.StatusCode,
		ContentType: outcome.ContentType(),
		FetchedAt:   p.clock.Now(),
		DurationMs:  outcome.Duration.Milliseconds(),
		RetryCount:  outcome.Retries,
	}
	metrics.ObservePage(cfg.Domain, outcome.StatusCode, outcome.Duration)

	if !outcome.OK() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stats.PagesFailed++
		entry.Error = fetchError(outcome)
		stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %s", url, entry.Error))
		logger.Warn("page fetch failed",
			zap.String("url", url),
			zap.Int("status", outcome.StatusCode),
			zap.String("error", entry.Error))
		p.appendLog(ctx, entry, logger)
		return nil
	}
	stats.PagesSuccessful++

	result := safeParse(sc.Parser(), outcome.Text(), url)
	for _, msg := range result.Errors {
		stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %s", url, msg))
	}
	if len(result.Errors) > 0 {
		entry.Error = result.Errors[0]
	}

	// Found counts what the parser extracted; created/updated track what
	// the store accepted.
	stats.LeadsFound += len(result.Leads)
	entry.LeadsFound = len(result.Leads)

	for _, candidate := range result.Leads {
		lead, created, err := p.leads.Upsert(ctx, candidate)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("upsert %s: %v", candidate.ProfileURL, err))
			metrics.ObserveLead(cfg.Domain, "error")
			logger.Warn("lead upsert failed",
				zap.String("profile_url", candidate.ProfileURL),
				zap.Error(err))
			continue
		}
		if created {
			stats.LeadsCreated++
			metrics.ObserveLead(cfg.Domain, "created")
		} else {
			stats.LeadsUpdated++
			metrics.ObserveLead(cfg.Domain, "updated")
		}
		logger.Debug("lead stored", zap.String("profile_url", lead.ProfileURL), zap.Bool("created", created))
	}

	for _, link := range sc.FilterLinks(result.Links, visited) {
		if queued[link] {
			continue
		}
		queued[link] = true
		*frontier = append(*frontier, link)
		stats.LinksDiscovered++
		entry.LinksDiscovered++
	}

	p.appendLog(ctx, entry, logger)
	return nil
}

func (p *Pipeline) appendLog(ctx context.Context, entry crawler.URLLogEntry, logger *zap.Logger) {
	if err := p.logs.Append(ctx, entry); err != nil {
		logger.Error("append url log failed", zap.String("url", entry.URL), zap.Error(err))
	}
}

// safeParse shields the crawl from parser panics on hostile markup.
func safeParse(parser scrape.Parser, body, url string) (result crawler.ExtractionResult) {
	defer func() {
		if r := recover(); r != nil {
			result.AddError(fmt.Sprintf("parser panic: %v", r))
		}
	}()
	return parser.Parse(body, url)
}

func fetchError(o fetch.Outcome) string {
	if o.Error != "" {
		return o.Error
	}
	return fmt.Sprintf("http status %d", o.StatusCode)
}
