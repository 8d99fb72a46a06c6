// Package catalog wires the built-in crawlers and parsers into a
// registry. Binding lives here rather than in init funcs so startup
// states exactly which sources a process supports.
package catalog

import (
	"github.com/JakeFAU/leadsniffer/internal/crawler"
	"github.com/JakeFAU/leadsniffer/internal/scrape"
	"github.com/JakeFAU/leadsniffer/internal/scrape/medium"
	"github.com/JakeFAU/leadsniffer/internal/scrape/reddit"
)

// NewRegistry returns a registry with every built-in source bound.
func NewRegistry() *scrape.Registry {
	r := scrape.NewRegistry()
	Register(r)
	return r
}

// Register binds the built-in sources onto an existing registry.
func Register(r *scrape.Registry) {
	r.RegisterCrawler(crawler.SourceTypeMedium, func(cfg crawler.SourceConfig) scrape.Crawler {
		return medium.NewCrawler(cfg)
	})
	r.RegisterParser(medium.SourceDomain, func() scrape.Parser { return medium.NewParser() })

	r.RegisterCrawler(crawler.SourceTypeReddit, func(cfg crawler.SourceConfig) scrape.Crawler {
		return reddit.NewCrawler(cfg)
	})
	r.RegisterParser(reddit.SourceDomain, func() scrape.Parser { return reddit.NewParser() })
}
