package pipeline

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
	"github.com/JakeFAU/leadsniffer/internal/fetch"
	"github.com/JakeFAU/leadsniffer/internal/metrics"
	"github.com/JakeFAU/leadsniffer/internal/scrape"
	"github.com/JakeFAU/leadsniffer/internal/storage/memory"
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

// scriptedParser returns canned extraction results per URL.
type scriptedParser struct {
	results map[string]crawler.ExtractionResult
	panicOn string
}

func (p *scriptedParser) Domain() string        { return "example.com" }
func (p *scriptedParser) CanHandle(string) bool { return true }
func (p *scriptedParser) Parse(_ string, url string) crawler.ExtractionResult {
	if p.panicOn != "" && url == p.panicOn {
		panic("hostile markup")
	}
	return p.results[url]
}

type scriptedCrawler struct {
	scrape.Base
	parser *scriptedParser
}

func (c *scriptedCrawler) Parser() scrape.Parser      { return c.parser }
func (c *scriptedCrawler) Headers() map[string]string { return map[string]string{"Accept": "text/html"} }
func (c *scriptedCrawler) FilterLinks(links []string, visited map[string]bool) []string {
	return scrape.FilterVisited(c, links, visited)
}

func newScriptedCrawler(cfg crawler.SourceConfig, parser *scriptedParser) *scriptedCrawler {
	return &scriptedCrawler{Base: scrape.Base{Cfg: cfg}, parser: parser}
}

// stubFetcher serves canned outcomes; unknown URLs get an empty 200.
type stubFetcher struct {
	outcomes map[string]fetch.Outcome
	fetched  []string
}

func (f *stubFetcher) Fetch(_ context.Context, req fetch.Request) fetch.Outcome {
	f.fetched = append(f.fetched, req.URL)
	if o, ok := f.outcomes[req.URL]; ok {
		o.URL = req.URL
		return o
	}
	return fetch.Outcome{URL: req.URL, StatusCode: 200, Duration: 10 * time.Millisecond}
}

// stubLimiter records every gate call.
type stubLimiter struct {
	calls []string
	rpms  []int
}

func (l *stubLimiter) WaitIfNeeded(_ context.Context, url string, rpm int) (time.Duration, error) {
	l.calls = append(l.calls, url)
	l.rpms = append(l.rpms, rpm)
	return 0, nil
}

func newPipeline(fetcher Fetcher) (*Pipeline, *memory.LeadStore, *memory.LogStore) {
	clock := fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	leads := memory.NewLeadStore(&seqIDs{}, clock)
	logs := memory.NewLogStore()
	return New(fetcher, &stubLimiter{}, leads, logs, clock, zap.NewNop()), leads, logs
}

func lead(name, profile string) crawler.CandidateLead {
	return crawler.CandidateLead{Name: name, ProfileURL: profile, SourceDomain: "example.com"}
}

func TestRun_CrawlsDiscoveredLinks(t *testing.T) {
	t.Parallel()

	const start = "https://example.com/listing"
	pageA := "https://example.com/a"
	pageB := "https://example.com/b"

	parser := &scriptedParser{results: map[string]crawler.ExtractionResult{
		start: {Links: []string{pageA, pageB}},
		pageA: {Leads: []crawler.CandidateLead{lead("Alice", "https://example.com/@alice")}},
		pageB: {Leads: []crawler.CandidateLead{lead("Alice", "https://example.com/@alice")}},
	}}
	sc := newScriptedCrawler(crawler.SourceConfig{
		Domain:      "example.com",
		StartURLs:   []string{start},
		MaxPages:    10,
		FollowLinks: true,
	}, parser)

	fetcher := &stubFetcher{}
	p, leadStore, logStore := newPipeline(fetcher)

	stats, err := p.Run(context.Background(), crawler.Job{ID: "job-1"}, sc)
	require.NoError(t, err)

	require.Equal(t, 3, stats.PagesCrawled)
	require.Equal(t, 3, stats.PagesSuccessful)
	require.Zero(t, stats.PagesFailed)
	require.Equal(t, 2, stats.LinksDiscovered)
	require.Equal(t, 2, stats.LeadsFound)
	require.Equal(t, 1, stats.LeadsCreated, "same profile twice creates once")
	require.Equal(t, 1, stats.LeadsUpdated)

	require.Equal(t, []string{start, pageA, pageB}, fetcher.fetched, "breadth-first order")

	count, err := leadStore.CountLeads(context.Background(), "example.com")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	entries, err := logStore.ListForJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, entries, 3, "every fetched URL is logged")
	require.Equal(t, 2, entries[0].LinksDiscovered)

	derived, err := logStore.ComputeStats(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, stats.PagesCrawled, derived.PagesCrawled)
	require.Equal(t, stats.LeadsFound, derived.LeadsFound)
}

func TestRun_MaxPagesBoundsUnboundedGraph(t *testing.T) {
	t.Parallel()

	// Every page links to a fresh one, so only the cap stops the crawl.
	parser := &scriptedParser{results: map[string]crawler.ExtractionResult{}}
	fetcher := &stubFetcher{}
	root := "https://example.com/root"
	prev := root
	for i := 0; i < 50; i++ {
		next := fmt.Sprintf("https://example.com/chain%d", i)
		parser.results[prev] = crawler.ExtractionResult{Links: []string{next}}
		prev = next
	}

	sc := newScriptedCrawler(crawler.SourceConfig{
		Domain:      "example.com",
		StartURLs:   []string{root},
		MaxPages:    10,
		FollowLinks: true,
	}, parser)
	p, _, _ := newPipeline(fetcher)

	stats, err := p.Run(context.Background(), crawler.Job{ID: "job-1"}, sc)
	require.NoError(t, err)
	require.Equal(t, 10, stats.PagesCrawled)
	require.Len(t, fetcher.fetched, 10)
}

func TestRun_FailedFetchIsLoggedNotParsed(t *testing.T) {
	t.Parallel()

	const start = "https://example.com/down"
	parser := &scriptedParser{results: map[string]crawler.ExtractionResult{
		start: {Leads: []crawler.CandidateLead{lead("Ghost", "https://example.com/@ghost")}},
	}}
	fetcher := &stubFetcher{outcomes: map[string]fetch.Outcome{
		start: {StatusCode: 503, Retries: 3, Duration: time.Second},
	}}
	sc := newScriptedCrawler(crawler.SourceConfig{
		Domain:    "example.com",
		StartURLs: []string{start},
		MaxPages:  10,
	}, parser)

	p, leadStore, logStore := newPipeline(fetcher)
	stats, err := p.Run(context.Background(), crawler.Job{ID: "job-1"}, sc)
	require.NoError(t, err, "a failed page does not fail the run")

	require.Equal(t, 1, stats.PagesCrawled)
	require.Equal(t, 1, stats.PagesFailed)
	require.Zero(t, stats.LeadsFound, "failed pages are never parsed")
	require.Equal(t, 1, stats.ErrorCount())

	count, err := leadStore.CountLeads(context.Background(), "")
	require.NoError(t, err)
	require.Zero(t, count)

	entries, err := logStore.ListForJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 503, entries[0].HTTPStatus)
	require.Equal(t, 3, entries[0].RetryCount)
	require.Contains(t, entries[0].Error, "503")
}

// failingLeadStore rejects every upsert.
type failingLeadStore struct{}

func (failingLeadStore) Upsert(context.Context, crawler.CandidateLead) (crawler.Lead, bool, error) {
	return crawler.Lead{}, false, fmt.Errorf("unique constraint violated")
}

func (failingLeadStore) ListLeads(context.Context, string, int) ([]crawler.Lead, error) {
	return nil, nil
}

func (failingLeadStore) CountLeads(context.Context, string) (int, error) { return 0, nil }

func TestRun_FoundCountsParsedLeadsEvenWhenUpsertFails(t *testing.T) {
	t.Parallel()

	const start = "https://example.com/a"
	parser := &scriptedParser{results: map[string]crawler.ExtractionResult{
		start: {Leads: []crawler.CandidateLead{lead("Alice", "https://example.com/@alice")}},
	}}
	sc := newScriptedCrawler(crawler.SourceConfig{
		Domain:    "example.com",
		StartURLs: []string{start},
		MaxPages:  5,
	}, parser)

	clock := fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	logStore := memory.NewLogStore()
	p := New(&stubFetcher{}, &stubLimiter{}, failingLeadStore{}, logStore, clock, zap.NewNop())

	stats, err := p.Run(context.Background(), crawler.Job{ID: "job-1"}, sc)
	require.NoError(t, err)

	require.Equal(t, 1, stats.LeadsFound, "found tallies what the parser extracted")
	require.Zero(t, stats.LeadsCreated)
	require.Zero(t, stats.LeadsUpdated)
	require.Equal(t, 1, stats.ErrorCount())
	require.Contains(t, stats.Errors[0], "unique constraint")

	entries, err := logStore.ListForJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, 1, entries[0].LeadsFound)
}

func TestRun_VisitedAndQueuedAreNotRefetched(t *testing.T) {
	t.Parallel()

	const start = "https://example.com/a"
	pageB := "https://example.com/b"

	// Both pages link back to each other and to themselves.
	parser := &scriptedParser{results: map[string]crawler.ExtractionResult{
		start: {Links: []string{pageB, start, pageB}},
		pageB: {Links: []string{start, pageB}},
	}}
	sc := newScriptedCrawler(crawler.SourceConfig{
		Domain:      "example.com",
		StartURLs:   []string{start},
		MaxPages:    10,
		FollowLinks: true,
	}, parser)

	fetcher := &stubFetcher{}
	p, _, _ := newPipeline(fetcher)

	stats, err := p.Run(context.Background(), crawler.Job{ID: "job-1"}, sc)
	require.NoError(t, err)
	require.Equal(t, []string{start, pageB}, fetcher.fetched, "each URL fetched exactly once")
	require.Equal(t, 1, stats.LinksDiscovered, "re-queued and visited links are not counted again")
}

func TestRun_ParserPanicIsContained(t *testing.T) {
	t.Parallel()

	const start = "https://example.com/hostile"
	parser := &scriptedParser{results: map[string]crawler.ExtractionResult{}, panicOn: start}
	sc := newScriptedCrawler(crawler.SourceConfig{
		Domain:    "example.com",
		StartURLs: []string{start},
		MaxPages:  5,
	}, parser)

	p, _, logStore := newPipeline(&stubFetcher{})
	stats, err := p.Run(context.Background(), crawler.Job{ID: "job-1"}, sc)
	require.NoError(t, err)
	require.Equal(t, 1, stats.PagesSuccessful, "fetch succeeded even though parsing blew up")
	require.Equal(t, 1, stats.ErrorCount())
	require.Contains(t, stats.Errors[0], "parser panic")

	entries, err := logStore.ListForJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Contains(t, entries[0].Error, "parser panic")
}

func TestRun_RateGateSeesConfiguredBudget(t *testing.T) {
	t.Parallel()

	const start = "https://example.com/a"
	parser := &scriptedParser{results: map[string]crawler.ExtractionResult{}}
	sc := newScriptedCrawler(crawler.SourceConfig{
		Domain:            "example.com",
		StartURLs:         []string{start},
		RequestsPerMinute: 7,
		MaxPages:          5,
	}, parser)

	limiter := &stubLimiter{}
	clock := fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	p := New(&stubFetcher{}, limiter, memory.NewLeadStore(&seqIDs{}, clock), memory.NewLogStore(), clock, zap.NewNop())

	_, err := p.Run(context.Background(), crawler.Job{ID: "job-1"}, sc)
	require.NoError(t, err)
	require.Equal(t, []string{start}, limiter.calls, "every fetch passes the rate gate first")
	require.Equal(t, []int{7}, limiter.rpms)
}

func TestRun_ContextCancellationUnwinds(t *testing.T) {
	t.Parallel()

	const start = "https://example.com/a"
	sc := newScriptedCrawler(crawler.SourceConfig{
		Domain:    "example.com",
		StartURLs: []string{start},
		MaxPages:  5,
	}, &scriptedParser{})

	p, _, _ := newPipeline(&stubFetcher{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, crawler.Job{ID: "job-1"}, sc)
	require.ErrorIs(t, err, context.Canceled)
}
