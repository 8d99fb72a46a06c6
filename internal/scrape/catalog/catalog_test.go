package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
	"github.com/JakeFAU/leadsniffer/internal/scrape"
)

func TestNewRegistry_BuiltinsBound(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	require.Equal(t, []crawler.SourceType{crawler.SourceTypeMedium, crawler.SourceTypeReddit}, r.SourceTypes())
	require.Equal(t, []string{"medium.com", "reddit.com"}, r.Domains())

	c, err := r.Crawler(crawler.SourceConfig{SourceType: crawler.SourceTypeReddit, Domain: "reddit.com"})
	require.NoError(t, err)
	require.Equal(t, "reddit.com", c.Parser().Domain())

	p, err := r.Parser("medium.com")
	require.NoError(t, err)
	require.True(t, p.CanHandle("https://medium.com/@someone"))

	_, err = r.Crawler(crawler.SourceConfig{SourceType: crawler.SourceTypeCustom})
	require.ErrorIs(t, err, scrape.ErrNoCrawler)
}
