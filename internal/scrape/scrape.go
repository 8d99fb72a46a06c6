// Package scrape defines the polymorphic extraction contracts: a Parser
// turns one fetched document into leads and follow links, and a Crawler
// wraps a source configuration with per-source URL generation and link
// filtering policy. Concrete variants live in subpackages and are bound
// through the Registry.
package scrape

import (
	"strings"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
)

// Parser extracts leads and follow links from one fetched document.
// Parse must not panic on malformed input; extraction errors are captured
// in the result and parsing continues best-effort.
type Parser interface {
	// Domain is the source domain this parser handles, e.g. "medium.com".
	Domain() string
	// Parse extracts leads and links from the document fetched at sourceURL.
	Parse(body string, sourceURL string) crawler.ExtractionResult
	// CanHandle is a cheap membership check for dynamic dispatch,
	// independent of the registry binding.
	CanHandle(url string) bool
}

// Crawler combines a SourceConfig with a Parser and the source-specific
// crawl policy. The pipeline only ever sees this interface.
type Crawler interface {
	Parser() Parser
	Config() crawler.SourceConfig

	// StartURLs returns the seed URLs for a job. Variants may synthesize
	// additional URLs from the config's filter parameters.
	StartURLs() []string
	// ShouldFollow decides whether a discovered URL is worth fetching.
	ShouldFollow(url string) bool
	// FilterLinks returns the candidates not yet visited that pass
	// ShouldFollow, preserving input order.
	FilterLinks(links []string, visited map[string]bool) []string
	// Headers returns source-specific headers merged into every fetch.
	Headers() map[string]string
}

// Base carries the default crawl policy over a SourceConfig. Variants
// embed it and override what differs.
type Base struct {
	Cfg crawler.SourceConfig
}

// Config returns the wrapped source configuration.
func (b Base) Config() crawler.SourceConfig { return b.Cfg }

// StartURLs returns the config's seed URLs.
func (b Base) StartURLs() []string { return b.Cfg.StartURLs }

// ShouldFollow follows links only when the config allows it and the URL
// stays on the source's domain.
func (b Base) ShouldFollow(url string) bool {
	if !b.Cfg.FollowLinks {
		return false
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(b.Cfg.Domain))
}

// FilterStrings reads a string-list value out of a config's filter map.
// Values decoded from JSON arrive as []any, so both shapes are accepted.
func FilterStrings(filters map[string]any, key string) []string {
	switch v := filters[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// FilterString reads a scalar string out of a config's filter map,
// falling back to def when absent or not a string.
func FilterString(filters map[string]any, key, def string) string {
	if s, ok := filters[key].(string); ok && s != "" {
		return s
	}
	return def
}

// FilterInt reads an integer out of a config's filter map. JSON numbers
// decode as float64, so that shape is accepted too.
func FilterInt(filters map[string]any, key string, def int) int {
	switch v := filters[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// FilterVisited applies a crawler's ShouldFollow policy to candidate
// links, dropping those already visited. Order is preserved; duplicate
// suppression beyond the visited set is the caller's business.
func FilterVisited(c Crawler, links []string, visited map[string]bool) []string {
	out := make([]string, 0, len(links))
	for _, link := range links {
		if visited[link] {
			continue
		}
		if c.ShouldFollow(link) {
			out = append(out, link)
		}
	}
	return out
}
