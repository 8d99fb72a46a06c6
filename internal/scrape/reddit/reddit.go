// Package reddit extracts user leads from Reddit's public JSON listings.
// Appending .json to most Reddit URLs returns machine-readable data
// without authentication, so the crawler only ever follows JSON endpoints.
package reddit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
	"github.com/JakeFAU/leadsniffer/internal/scrape"
)

// SourceDomain is the domain the Reddit parser is bound to.
const SourceDomain = "reddit.com"

// Listing node kinds in Reddit's API.
const (
	kindPost    = "t3"
	kindComment = "t1"
)

// Parser walks Reddit listing JSON, pulling a lead from every post and
// comment author and a follow link into each post's comment thread.
type Parser struct{}

// NewParser returns a Reddit parser.
func NewParser() *Parser { return &Parser{} }

// Domain implements scrape.Parser.
func (p *Parser) Domain() string { return SourceDomain }

// CanHandle implements scrape.Parser.
func (p *Parser) CanHandle(u string) bool {
	return strings.Contains(strings.ToLower(u), SourceDomain)
}

// Parse implements scrape.Parser. Comment endpoints return an array of
// listings, subreddit endpoints a single one; both shapes are handled.
func (p *Parser) Parse(body string, sourceURL string) crawler.ExtractionResult {
	var res crawler.ExtractionResult

	var raw any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		res.AddError(fmt.Sprintf("json parse error: %v", err))
		return res
	}

	switch data := raw.(type) {
	case []any:
		for _, item := range data {
			if m, ok := item.(map[string]any); ok {
				if listing, ok := m["data"].(map[string]any); ok {
					extractListing(listing, &res)
				}
			}
		}
	case map[string]any:
		if listing, ok := data["data"].(map[string]any); ok {
			extractListing(listing, &res)
		}
	}
	return res
}

func extractListing(data map[string]any, res *crawler.ExtractionResult) {
	children, _ := data["children"].([]any)
	for _, c := range children {
		child, ok := c.(map[string]any)
		if !ok {
			continue
		}
		kind, _ := child["kind"].(string)
		childData, ok := child["data"].(map[string]any)
		if !ok {
			continue
		}

		switch kind {
		case kindPost:
			if lead, ok := leadFromPost(childData); ok {
				res.Leads = append(res.Leads, lead)
			}
			if permalink, _ := childData["permalink"].(string); permalink != "" {
				res.Links = append(res.Links, "https://www.reddit.com"+permalink+".json?limit=100")
			}
		case kindComment:
			if lead, ok := leadFromComment(childData); ok {
				res.Leads = append(res.Leads, lead)
			}
			if replies, ok := childData["replies"].(map[string]any); ok {
				if nested, ok := replies["data"].(map[string]any); ok {
					extractListing(nested, res)
				}
			}
		}
	}
}

func leadFromPost(data map[string]any) (crawler.CandidateLead, bool) {
	author, ok := usableAuthor(data)
	if !ok {
		return crawler.CandidateLead{}, false
	}
	title, _ := data["title"].(string)
	if len(title) > 200 {
		title = title[:200]
	}
	return crawler.CandidateLead{
		Name:         author,
		ProfileURL:   "https://www.reddit.com/user/" + author,
		SourceDomain: SourceDomain,
		Role:         "Reddit User",
		RawData: map[string]any{
			"subreddit":      data["subreddit"],
			"post_title":     title,
			"post_score":     data["score"],
			"post_id":        data["id"],
			"created_utc":    data["created_utc"],
			"is_post_author": true,
		},
	}, true
}

func leadFromComment(data map[string]any) (crawler.CandidateLead, bool) {
	author, ok := usableAuthor(data)
	if !ok {
		return crawler.CandidateLead{}, false
	}
	return crawler.CandidateLead{
		Name:         author,
		ProfileURL:   "https://www.reddit.com/user/" + author,
		SourceDomain: SourceDomain,
		Role:         "Reddit User",
		RawData: map[string]any{
			"subreddit":      data["subreddit"],
			"comment_score":  data["score"],
			"comment_id":     data["id"],
			"created_utc":    data["created_utc"],
			"is_post_author": false,
		},
	}, true
}

// usableAuthor filters out deleted accounts and the site-wide bot.
func usableAuthor(data map[string]any) (string, bool) {
	author, _ := data["author"].(string)
	switch author {
	case "", "[deleted]", "[removed]", "AutoModerator":
		return "", false
	}
	return author, true
}

// Crawler applies Reddit-specific crawl policy on top of the defaults.
type Crawler struct {
	scrape.Base
	parser *Parser
}

// NewCrawler binds a crawler to one source configuration.
func NewCrawler(cfg crawler.SourceConfig) *Crawler {
	return &Crawler{Base: scrape.Base{Cfg: cfg}, parser: NewParser()}
}

// Parser implements scrape.Crawler.
func (c *Crawler) Parser() scrape.Parser { return c.parser }

// Headers implements scrape.Crawler. Reddit throttles generic user
// agents, so a descriptive one is sent on every request.
func (c *Crawler) Headers() map[string]string {
	return map[string]string{
		"User-Agent": "LeadSniffer/1.0 (Lead Discovery Tool)",
		"Accept":     "application/json",
	}
}

// StartURLs converts the configured seeds to JSON endpoints and
// synthesizes a listing URL per subreddit named in the filters.
func (c *Crawler) StartURLs() []string {
	var urls []string
	seen := make(map[string]bool)
	for _, u := range c.Cfg.StartURLs {
		ju := ToJSONURL(u)
		if !seen[ju] {
			seen[ju] = true
			urls = append(urls, ju)
		}
	}

	sort := scrape.FilterString(c.Cfg.Filters, "sort", "hot")
	limit := scrape.FilterInt(c.Cfg.Filters, "limit", 25)
	for _, sub := range scrape.FilterStrings(c.Cfg.Filters, "subreddits") {
		u := fmt.Sprintf("https://www.reddit.com/r/%s/%s.json?limit=%d", sub, sort, limit)
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	return urls
}

// ToJSONURL rewrites a Reddit URL to its JSON endpoint, keeping any
// query string after the inserted suffix.
func ToJSONURL(u string) string {
	u = strings.TrimRight(u, "/")
	if strings.Contains(u, ".json") {
		return u
	}
	if base, params, ok := strings.Cut(u, "?"); ok {
		return base + ".json?" + params
	}
	return u + ".json"
}

// ShouldFollow implements scrape.Crawler. Only JSON endpoints are
// fetchable, and user profile pages add nothing beyond the username the
// listing already gave us.
func (c *Crawler) ShouldFollow(u string) bool {
	if !c.Base.ShouldFollow(u) {
		return false
	}
	if !strings.Contains(u, ".json") {
		return false
	}
	return !strings.Contains(u, "/user/")
}

// FilterLinks implements scrape.Crawler.
func (c *Crawler) FilterLinks(links []string, visited map[string]bool) []string {
	return scrape.FilterVisited(c, links, visited)
}
