// Package medium extracts author leads from Medium profile and article
// pages.
package medium

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
	"github.com/JakeFAU/leadsniffer/internal/scrape"
)

// SourceDomain is the domain the Medium parser is bound to.
const SourceDomain = "medium.com"

const (
	maxExternalLinks = 10
	maxTags          = 20
	maxFollowLinks   = 50
)

var followerRe = regexp.MustCompile(`([\d,\.]+[KkMm]?)\s*[Ff]ollowers`)

// Parser extracts leads from Medium HTML. Profile pages yield the profile
// owner; article pages yield the article author, falling back to JSON-LD
// structured data when the markup carries no author link.
type Parser struct{}

// NewParser returns a Medium parser.
func NewParser() *Parser { return &Parser{} }

// Domain implements scrape.Parser.
func (p *Parser) Domain() string { return SourceDomain }

// CanHandle implements scrape.Parser.
func (p *Parser) CanHandle(u string) bool {
	return strings.Contains(strings.ToLower(u), SourceDomain)
}

// Parse implements scrape.Parser.
func (p *Parser) Parse(body string, sourceURL string) crawler.ExtractionResult {
	var res crawler.ExtractionResult

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		res.AddError(fmt.Sprintf("parse html: %v", err))
		return res
	}

	if strings.Contains(sourceURL, "/@") || isProfilePage(doc) {
		if lead, ok := p.parseProfile(doc, sourceURL); ok {
			res.Leads = append(res.Leads, lead)
		}
	} else if lead, ok := p.parseArticleAuthor(doc, sourceURL); ok {
		res.Leads = append(res.Leads, lead)
	}

	res.Links = extractFollowLinks(doc, sourceURL)
	return res
}

func isProfilePage(doc *goquery.Document) bool {
	return doc.Find(`meta[property="og:type"]`).AttrOr("content", "") == "profile"
}

func (p *Parser) parseProfile(doc *goquery.Document, sourceURL string) (crawler.CandidateLead, bool) {
	name := extractName(doc)
	if name == "" {
		return crawler.CandidateLead{}, false
	}

	bio := extractBio(doc)
	role := bio
	if len(role) > 200 {
		role = role[:200]
	}

	raw := map[string]any{
		"bio":            bio,
		"external_links": extractExternalLinks(doc),
		"scraped_from":   sourceURL,
	}
	if count, ok := extractFollowerCount(doc); ok {
		raw["follower_count"] = count
	}

	return crawler.CandidateLead{
		Name:         name,
		ProfileURL:   crawler.NormalizeProfileURL(sourceURL),
		SourceDomain: SourceDomain,
		Role:         role,
		Tags:         extractTags(doc),
		RawData:      raw,
	}, true
}

func (p *Parser) parseArticleAuthor(doc *goquery.Document, sourceURL string) (crawler.CandidateLead, bool) {
	author := doc.Find(`a[data-testid="authorName"]`).First()
	if author.Length() == 0 {
		author = doc.Find(`a[rel="author"]`).First()
	}
	if author.Length() == 0 {
		return parseJSONLD(doc, sourceURL)
	}

	name := strings.TrimSpace(author.Text())
	href := author.AttrOr("href", "")
	if name == "" || href == "" {
		return crawler.CandidateLead{}, false
	}

	return crawler.CandidateLead{
		Name:         name,
		ProfileURL:   crawler.NormalizeProfileURL(resolveURL(sourceURL, href)),
		SourceDomain: SourceDomain,
		RawData:      map[string]any{"scraped_from": sourceURL},
	}, true
}

func parseJSONLD(doc *goquery.Document, sourceURL string) (crawler.CandidateLead, bool) {
	var lead crawler.CandidateLead
	var found bool

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data map[string]any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return true
		}
		author, ok := data["author"].(map[string]any)
		if !ok {
			return true
		}
		name, _ := author["name"].(string)
		if name == "" {
			return true
		}
		profileURL, _ := author["url"].(string)
		if profileURL == "" {
			profileURL = sourceURL
		}
		lead = crawler.CandidateLead{
			Name:         name,
			ProfileURL:   crawler.NormalizeProfileURL(profileURL),
			SourceDomain: SourceDomain,
			RawData:      map[string]any{"json_ld": data, "scraped_from": sourceURL},
		}
		found = true
		return false
	})
	return lead, found
}

func extractName(doc *goquery.Document) string {
	if title := doc.Find(`meta[property="og:title"]`).AttrOr("content", ""); title != "" {
		title = strings.ReplaceAll(title, " – Medium", "")
		title = strings.ReplaceAll(title, " - Medium", "")
		return strings.TrimSpace(title)
	}
	for _, tag := range []string{"h1", "h2"} {
		text := strings.TrimSpace(doc.Find(tag).First().Text())
		if text != "" && len(text) < 100 {
			return text
		}
	}
	return ""
}

func extractBio(doc *goquery.Document) string {
	if desc := doc.Find(`meta[name="description"]`).AttrOr("content", ""); desc != "" {
		return strings.TrimSpace(desc)
	}
	return strings.TrimSpace(doc.Find(`meta[property="og:description"]`).AttrOr("content", ""))
}

func extractFollowerCount(doc *goquery.Document) (int, bool) {
	m := followerRe.FindStringSubmatch(doc.Text())
	if m == nil {
		return 0, false
	}
	s := strings.ReplaceAll(m[1], ",", "")
	mult := 1.0
	switch {
	case strings.ContainsAny(s, "Kk"):
		mult = 1000
		s = strings.Trim(s, "Kk")
	case strings.ContainsAny(s, "Mm"):
		mult = 1000000
		s = strings.Trim(s, "Mm")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int(f * mult), true
}

// extractExternalLinks collects social and personal-site links off the
// profile, capped and deduplicated in first-seen order.
func extractExternalLinks(doc *goquery.Document) []string {
	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := s.AttrOr("href", "")
		social := strings.Contains(href, "twitter.com") ||
			strings.Contains(href, "linkedin.com") ||
			strings.Contains(href, "github.com")
		if !social && !(strings.HasPrefix(href, "http") && !strings.Contains(href, SourceDomain)) {
			return
		}
		if seen[href] || len(links) >= maxExternalLinks {
			return
		}
		seen[href] = true
		links = append(links, href)
	})
	return links
}

func extractTags(doc *goquery.Document) []string {
	seen := make(map[string]bool)
	var tags []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := s.AttrOr("href", "")
		if !strings.Contains(href, "/tag/") {
			return
		}
		tag := href[strings.LastIndex(href, "/tag/")+len("/tag/"):]
		if i := strings.IndexByte(tag, '?'); i >= 0 {
			tag = tag[:i]
		}
		tag = strings.Trim(tag, "/")
		if tag == "" || seen[tag] || len(tags) >= maxTags {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	})
	return tags
}

// extractFollowLinks returns on-site profile and tag links worth crawling
// next. Search, account, and fragment/query URLs are noise.
func extractFollowLinks(doc *goquery.Document, baseURL string) []string {
	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		full := resolveURL(baseURL, s.AttrOr("href", ""))
		if !strings.Contains(full, SourceDomain) {
			return
		}
		for _, skip := range []string{"/search", "/plans", "/signin", "/signup", "?", "#"} {
			if strings.Contains(full, skip) {
				return
			}
		}
		if !strings.Contains(full, "/@") && !strings.Contains(full, "/tag/") {
			return
		}
		if i := strings.IndexByte(full, '?'); i >= 0 {
			full = full[:i]
		}
		if seen[full] || len(links) >= maxFollowLinks {
			return
		}
		seen[full] = true
		links = append(links, full)
	})
	return links
}

func resolveURL(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

// Crawler applies Medium-specific crawl policy on top of the defaults.
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

// Headers implements scrape.Crawler.
func (c *Crawler) Headers() map[string]string {
	return map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
		"Cache-Control":   "no-cache",
		"Pragma":          "no-cache",
	}
}

// StartURLs returns the configured seeds plus a tag listing URL for each
// tag named in the config's filters.
func (c *Crawler) StartURLs() []string {
	urls := append([]string(nil), c.Cfg.StartURLs...)
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		seen[u] = true
	}
	for _, tag := range scrape.FilterStrings(c.Cfg.Filters, "tags") {
		tagURL := "https://medium.com/tag/" + tag
		if !seen[tagURL] {
			seen[tagURL] = true
			urls = append(urls, tagURL)
		}
	}
	return urls
}

// ShouldFollow implements scrape.Crawler. Profile and tag URLs are always
// worth a fetch; article URLs are followed unless they sit under a
// non-content path.
func (c *Crawler) ShouldFollow(u string) bool {
	if !c.Base.ShouldFollow(u) {
		return false
	}
	if strings.Contains(u, "/@") || strings.Contains(u, "/tag/") {
		return true
	}
	path := u
	if parsed, err := url.Parse(u); err == nil {
		path = parsed.Path
	}
	for _, skip := range []string{"/m/", "/plans", "/membership", "/about", "/help"} {
		if strings.Contains(path, skip) {
			return false
		}
	}
	return true
}

// FilterLinks implements scrape.Crawler.
func (c *Crawler) FilterLinks(links []string, visited map[string]bool) []string {
	return scrape.FilterVisited(c, links, visited)
}
