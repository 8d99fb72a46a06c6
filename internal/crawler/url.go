package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// Domain extracts the lowercased host from a URL. An unparseable URL
// yields an empty string; callers treat that as "unknown".
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// NormalizeURL standardizes a URL to avoid duplicate queue entries.
// It lowercases the scheme and host, removes default ports and fragments,
// and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// NormalizeProfileURL canonicalizes a profile URL for use as a lead's
// natural key: query and fragment are dropped and the trailing slash is
// trimmed so the same profile never keys two rows.
func NormalizeProfileURL(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	return strings.TrimRight(rawURL, "/")
}
