package scrape

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
)

// Registry lookup failures. A missing binding is fatal for the job that
// needed it; nothing falls back to a default crawler.
var (
	ErrNoCrawler = errors.New("no crawler registered for source type")
	ErrNoParser  = errors.New("no parser registered for domain")
)

// CrawlerFactory builds a crawler bound to one source configuration.
type CrawlerFactory func(cfg crawler.SourceConfig) Crawler

// ParserFactory builds a fresh parser instance.
type ParserFactory func() Parser

// Registry binds source types to crawler factories and domains to parser
// factories. Registration is explicit; nothing self-registers via side
// effects. Re-registering a key replaces the previous binding.
type Registry struct {
	mu       sync.RWMutex
	crawlers map[crawler.SourceType]CrawlerFactory
	parsers  map[string]ParserFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		crawlers: make(map[crawler.SourceType]CrawlerFactory),
		parsers:  make(map[string]ParserFactory),
	}
}

// RegisterCrawler binds a source type to a crawler factory.
func (r *Registry) RegisterCrawler(st crawler.SourceType, f CrawlerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.crawlers[st] = f
}

// RegisterParser binds a domain to a parser factory.
func (r *Registry) RegisterParser(domain string, f ParserFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[domain] = f
}

// Crawler instantiates the crawler for the config's source type.
func (r *Registry) Crawler(cfg crawler.SourceConfig) (Crawler, error) {
	r.mu.RLock()
	factory, ok := r.crawlers[cfg.SourceType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoCrawler, cfg.SourceType)
	}
	return factory(cfg), nil
}

// Parser instantiates the parser bound to a domain.
func (r *Registry) Parser(domain string) (Parser, error) {
	r.mu.RLock()
	factory, ok := r.parsers[domain]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoParser, domain)
	}
	return factory(), nil
}

// SourceTypes lists the registered source types, sorted for stable output.
func (r *Registry) SourceTypes() []crawler.SourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]crawler.SourceType, 0, len(r.crawlers))
	for st := range r.crawlers {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Domains lists the registered parser domains, sorted for stable output.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.parsers))
	for d := range r.parsers {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
