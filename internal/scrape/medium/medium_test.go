package medium

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
)

const profileHTML = `<!DOCTYPE html>
<html>
<head>
  <meta property="og:type" content="profile">
  <meta property="og:title" content="Jane Writer – Medium">
  <meta name="description" content="Platform engineer writing about Go and infrastructure.">
</head>
<body>
  <h1>Jane Writer</h1>
  <p>12.4K Followers</p>
  <a href="https://twitter.com/janewriter">Twitter</a>
  <a href="https://janewriter.dev">Website</a>
  <a href="/tag/golang">Go</a>
  <a href="/tag/devops?source=profile">DevOps</a>
  <a href="https://medium.com/@janewriter/some-post">A post</a>
  <a href="https://medium.com/search?q=go">Search</a>
  <a href="https://medium.com/plans">Upgrade</a>
</body>
</html>`

const articleHTML = `<!DOCTYPE html>
<html>
<head><meta property="og:title" content="Scaling Crawlers"></head>
<body>
  <a data-testid="authorName" href="/@janewriter?source=post_page">Jane Writer</a>
  <a href="https://medium.com/@otherperson/">Other Person</a>
  <a href="https://medium.com/tag/golang">golang</a>
</body>
</html>`

const jsonLDHTML = `<!DOCTYPE html>
<html>
<head>
<script type="application/ld+json">{"@type":"Article","author":{"name":"Sam Author","url":"https://medium.com/@samauthor"}}</script>
</head>
<body><h1>Some Article</h1></body>
</html>`

func TestParser_ProfilePage(t *testing.T) {
	t.Parallel()

	res := NewParser().Parse(profileHTML, "https://medium.com/@janewriter?source=home#top")
	require.Empty(t, res.Errors)
	require.Len(t, res.Leads, 1)

	lead := res.Leads[0]
	require.Equal(t, "Jane Writer", lead.Name)
	require.Equal(t, "https://medium.com/@janewriter", lead.ProfileURL)
	require.Equal(t, SourceDomain, lead.SourceDomain)
	require.Equal(t, "Platform engineer writing about Go and infrastructure.", lead.Role)
	require.ElementsMatch(t, []string{"golang", "devops"}, lead.Tags)
	require.Equal(t, 12400, lead.RawData["follower_count"])
	require.Contains(t, lead.RawData["external_links"], "https://twitter.com/janewriter")
	require.Contains(t, lead.RawData["external_links"], "https://janewriter.dev")

	// Search and plans links are noise; tag and profile links survive.
	require.Contains(t, res.Links, "https://medium.com/tag/golang")
	require.Contains(t, res.Links, "https://medium.com/@janewriter/some-post")
	require.NotContains(t, res.Links, "https://medium.com/search?q=go")
	require.NotContains(t, res.Links, "https://medium.com/plans")
}

func TestParser_ArticleAuthor(t *testing.T) {
	t.Parallel()

	res := NewParser().Parse(articleHTML, "https://medium.com/scaling-crawlers-abc123")
	require.Len(t, res.Leads, 1)

	lead := res.Leads[0]
	require.Equal(t, "Jane Writer", lead.Name)
	require.Equal(t, "https://medium.com/@janewriter", lead.ProfileURL)
	require.Equal(t, "https://medium.com/scaling-crawlers-abc123", lead.RawData["scraped_from"])
}

func TestParser_JSONLDFallback(t *testing.T) {
	t.Parallel()

	res := NewParser().Parse(jsonLDHTML, "https://medium.com/some-article")
	require.Len(t, res.Leads, 1)
	require.Equal(t, "Sam Author", res.Leads[0].Name)
	require.Equal(t, "https://medium.com/@samauthor", res.Leads[0].ProfileURL)
}

func TestParser_NoAuthorYieldsNoLead(t *testing.T) {
	t.Parallel()

	res := NewParser().Parse("<html><body><p>nothing here</p></body></html>", "https://medium.com/x")
	require.Empty(t, res.Leads)
	require.Empty(t, res.Errors)
}

func TestCrawler_StartURLsSynthesizeTags(t *testing.T) {
	t.Parallel()

	c := NewCrawler(crawler.SourceConfig{
		Domain:    SourceDomain,
		StartURLs: []string{"https://medium.com/tag/golang"},
		Filters:   map[string]any{"tags": []any{"golang", "kubernetes"}},
	})

	// The seed already covers golang, so only kubernetes is added.
	require.Equal(t, []string{
		"https://medium.com/tag/golang",
		"https://medium.com/tag/kubernetes",
	}, c.StartURLs())
}

func TestCrawler_ShouldFollow(t *testing.T) {
	t.Parallel()

	c := NewCrawler(crawler.SourceConfig{Domain: SourceDomain, FollowLinks: true})

	require.True(t, c.ShouldFollow("https://medium.com/@someone"))
	require.True(t, c.ShouldFollow("https://medium.com/tag/golang"))
	require.True(t, c.ShouldFollow("https://medium.com/long-article-slug-123"))
	require.False(t, c.ShouldFollow("https://medium.com/plans"))
	require.False(t, c.ShouldFollow("https://medium.com/m/signin"))
	require.False(t, c.ShouldFollow("https://example.com/@someone"))
}

func TestCrawler_Headers(t *testing.T) {
	t.Parallel()

	h := NewCrawler(crawler.SourceConfig{}).Headers()
	require.Contains(t, h["Accept"], "text/html")
	require.Equal(t, "no-cache", h["Cache-Control"])
}
