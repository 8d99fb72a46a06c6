package reddit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
)

const subredditListing = `{
  "kind": "Listing",
  "data": {
    "after": "t3_next",
    "children": [
      {"kind": "t3", "data": {
        "author": "gopher_dev",
        "title": "Show r/golang: my crawler",
        "score": 42,
        "id": "abc1",
        "subreddit": "golang",
        "created_utc": 1717000000,
        "permalink": "/r/golang/comments/abc1/show_rgolang_my_crawler/"
      }},
      {"kind": "t3", "data": {
        "author": "[deleted]",
        "title": "gone",
        "permalink": "/r/golang/comments/abc2/gone/"
      }},
      {"kind": "t3", "data": {
        "author": "AutoModerator",
        "title": "weekly thread"
      }}
    ]
  }
}`

const commentThread = `[
  {"kind": "Listing", "data": {"children": [
    {"kind": "t3", "data": {"author": "gopher_dev", "title": "post", "id": "abc1", "subreddit": "golang"}}
  ]}},
  {"kind": "Listing", "data": {"children": [
    {"kind": "t1", "data": {
      "author": "commenter_one",
      "score": 7,
      "id": "c1",
      "subreddit": "golang",
      "replies": {"kind": "Listing", "data": {"children": [
        {"kind": "t1", "data": {"author": "nested_replier", "score": 2, "id": "c2", "subreddit": "golang", "replies": ""}}
      ]}}
    }},
    {"kind": "t1", "data": {"author": "[removed]", "id": "c3", "replies": ""}}
  ]}}
]`

func TestParser_SubredditListing(t *testing.T) {
	t.Parallel()

	res := NewParser().Parse(subredditListing, "https://www.reddit.com/r/golang/hot.json?limit=25")
	require.Empty(t, res.Errors)
	require.Len(t, res.Leads, 1, "deleted and bot authors are skipped")

	lead := res.Leads[0]
	require.Equal(t, "gopher_dev", lead.Name)
	require.Equal(t, "https://www.reddit.com/user/gopher_dev", lead.ProfileURL)
	require.Equal(t, SourceDomain, lead.SourceDomain)
	require.Equal(t, "Reddit User", lead.Role)
	require.Equal(t, "golang", lead.RawData["subreddit"])
	require.Equal(t, true, lead.RawData["is_post_author"])

	// Every post with a permalink contributes a comment-thread link.
	require.Equal(t, []string{
		"https://www.reddit.com/r/golang/comments/abc1/show_rgolang_my_crawler/.json?limit=100",
		"https://www.reddit.com/r/golang/comments/abc2/gone/.json?limit=100",
	}, res.Links)
}

func TestParser_CommentThreadRecursesReplies(t *testing.T) {
	t.Parallel()

	res := NewParser().Parse(commentThread, "https://www.reddit.com/r/golang/comments/abc1.json")
	require.Empty(t, res.Errors)

	names := make([]string, 0, len(res.Leads))
	for _, l := range res.Leads {
		names = append(names, l.Name)
	}
	require.Equal(t, []string{"gopher_dev", "commenter_one", "nested_replier"}, names)
	require.Equal(t, false, res.Leads[1].RawData["is_post_author"])
}

func TestParser_MalformedJSON(t *testing.T) {
	t.Parallel()

	res := NewParser().Parse("<html>not json</html>", "https://www.reddit.com/r/golang.json")
	require.Empty(t, res.Leads)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0], "json parse error")
}

func TestCrawler_StartURLs(t *testing.T) {
	t.Parallel()

	c := NewCrawler(crawler.SourceConfig{
		Domain:    SourceDomain,
		StartURLs: []string{"https://www.reddit.com/r/programming/"},
		Filters: map[string]any{
			"subreddits": []any{"golang", "devops"},
			"sort":       "new",
			"limit":      float64(50),
		},
	})

	require.Equal(t, []string{
		"https://www.reddit.com/r/programming.json",
		"https://www.reddit.com/r/golang/new.json?limit=50",
		"https://www.reddit.com/r/devops/new.json?limit=50",
	}, c.StartURLs())
}

func TestToJSONURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://www.reddit.com/r/golang/":            "https://www.reddit.com/r/golang.json",
		"https://www.reddit.com/r/golang?limit=10":    "https://www.reddit.com/r/golang.json?limit=10",
		"https://www.reddit.com/r/golang/hot.json":    "https://www.reddit.com/r/golang/hot.json",
		"https://www.reddit.com/r/go/top.json?t=week": "https://www.reddit.com/r/go/top.json?t=week",
	}
	for in, want := range cases {
		require.Equal(t, want, ToJSONURL(in), in)
	}
}

func TestCrawler_ShouldFollow(t *testing.T) {
	t.Parallel()

	c := NewCrawler(crawler.SourceConfig{Domain: SourceDomain, FollowLinks: true})

	require.True(t, c.ShouldFollow("https://www.reddit.com/r/golang/comments/abc1/post/.json?limit=100"))
	require.False(t, c.ShouldFollow("https://www.reddit.com/r/golang/comments/abc1/post/"), "non-JSON URLs are not fetchable")
	require.False(t, c.ShouldFollow("https://www.reddit.com/user/gopher_dev/.json"))
	require.False(t, c.ShouldFollow("https://example.com/feed.json"))
}

func TestCrawler_Headers(t *testing.T) {
	t.Parallel()

	h := NewCrawler(crawler.SourceConfig{}).Headers()
	require.Contains(t, h["User-Agent"], "LeadSniffer")
	require.Equal(t, "application/json", h["Accept"])
}
