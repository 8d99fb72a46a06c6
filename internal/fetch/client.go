// Package fetch implements the single-request HTTP layer used by the crawl
// pipeline: retries with exponential backoff, user-agent rotation, and an
// optional round-robin proxy pool. It knows nothing about crawling
// semantics; callers decide what to fetch and what to do with the result.
package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadsniffer/internal/metrics"
)

// userAgents is the rotation pool. Index 0 doubles as the fixed default
// when rotation is disabled.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// Config controls Client behavior.
type Config struct {
	Timeout         time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	RetryBackoff    float64
	RotateUserAgent bool
	Proxies         []string
	VerifySSL       bool
	FollowRedirects bool
	MaxRedirects    int
	DefaultHeaders  map[string]string
}

// DefaultConfig returns the polite-scraping defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		RetryDelay:      time.Second,
		RetryBackoff:    2.0,
		RotateUserAgent: true,
		VerifySSL:       true,
		FollowRedirects: true,
		MaxRedirects:    10,
	}
}

// Request captures everything needed for one fetch.
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Params  map[string]string
	Body    []byte
}

// Outcome is the normalized fetch result. A StatusCode of zero together
// with a non-empty Error means the request never produced a response,
// even after retries.
type Outcome struct {
	URL        string
	StatusCode int
	Body       []byte
	Headers    http.Header
	Duration   time.Duration
	Error      string
	Retries    int
}

// OK reports whether a usable response was obtained.
func (o Outcome) OK() bool {
	return o.StatusCode >= 200 && o.StatusCode < 400
}

// Text returns the response body as a string.
func (o Outcome) Text() string {
	return string(o.Body)
}

// ContentType returns the media type without parameters.
func (o Outcome) ContentType() string {
	ct := o.Headers.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// Client performs HTTP requests with retry and rotation policies.
// Fetch never returns an error; failures are folded into the Outcome so
// the pipeline can treat every fetch uniformly.
type Client struct {
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	proxyIndex int

	// sleep is swapped out in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryBackoff < 1 {
		cfg.RetryBackoff = 2.0
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Get fetches a URL with the GET method.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) Outcome {
	return c.Fetch(ctx, Request{URL: rawURL, Method: http.MethodGet, Headers: headers})
}

// Fetch executes the request, retrying on transport failures, 5xx, and
// 429 responses. Other 4xx responses are returned as-is without retry.
func (c *Client) Fetch(ctx context.Context, req Request) Outcome {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	attempt := 0
	lastErr := ""
	var lastDuration time.Duration

	for {
		outcome, err := c.doAttempt(ctx, req)
		lastDuration = outcome.Duration
		if err == nil {
			if !c.shouldRetry(outcome.StatusCode, attempt) {
				outcome.Retries = attempt
				return outcome
			}
			lastErr = fmt.Sprintf("status %d", outcome.StatusCode)
		} else {
			lastErr = err.Error()
			if attempt >= c.cfg.MaxRetries {
				break
			}
		}

		attempt++
		delay := c.backoffDelay(attempt)
		c.logger.Warn("retrying fetch",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", c.cfg.MaxRetries),
			zap.Duration("delay", delay),
			zap.String("reason", lastErr),
		)
		metrics.ObserveFetchRetry()
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err.Error()
			break
		}
	}

	return Outcome{
		URL:      req.URL,
		Headers:  http.Header{},
		Duration: lastDuration,
		Error:    lastErr,
		Retries:  attempt,
	}
}

// shouldRetry mirrors the retry predicate: transport failures are handled
// by the caller; here only server errors and rate limiting qualify.
func (c *Client) shouldRetry(statusCode, attempt int) bool {
	if attempt >= c.cfg.MaxRetries {
		return false
	}
	return statusCode >= 500 || statusCode == http.StatusTooManyRequests
}

// backoffDelay computes the sleep before retry k (k >= 1).
func (c *Client) backoffDelay(k int) time.Duration {
	delay := float64(c.cfg.RetryDelay)
	for i := 1; i < k; i++ {
		delay *= c.cfg.RetryBackoff
	}
	return time.Duration(delay)
}

func (c *Client) doAttempt(ctx context.Context, req Request) (Outcome, error) {
	target, err := buildURL(req.URL, req.Params)
	if err != nil {
		return Outcome{URL: req.URL}, fmt.Errorf("build url: %w", err)
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return Outcome{URL: req.URL}, fmt.Errorf("build request: %w", err)
	}
	c.applyHeaders(httpReq, req.Headers)

	client, err := c.httpClient()
	if err != nil {
		return Outcome{URL: req.URL}, err
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		return Outcome{URL: req.URL, Duration: duration}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{URL: req.URL, Duration: time.Since(start)}, fmt.Errorf("read body: %w", err)
	}

	return Outcome{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       data,
		Headers:    resp.Header.Clone(),
		Duration:   time.Since(start),
	}, nil
}

// applyHeaders layers baseline headers, the user agent, configured
// defaults, and finally caller overrides. Later writes win.
func (c *Client) applyHeaders(req *http.Request, extra map[string]string) {
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	if c.cfg.RotateUserAgent {
		req.Header.Set("User-Agent", userAgents[rand.IntN(len(userAgents))])
	} else {
		req.Header.Set("User-Agent", userAgents[0])
	}

	for k, v := range c.cfg.DefaultHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}
}

// nextProxy returns the next proxy URL in rotation, or nil when no pool
// is configured.
func (c *Client) nextProxy() (*url.URL, error) {
	if len(c.cfg.Proxies) == 0 {
		return nil, nil
	}
	c.mu.Lock()
	raw := c.cfg.Proxies[c.proxyIndex%len(c.cfg.Proxies)]
	c.proxyIndex++
	c.mu.Unlock()

	proxyURL, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse proxy %q: %w", raw, err)
	}
	return proxyURL, nil
}

// httpClient builds the http.Client for one attempt so each attempt can
// use a different proxy from the pool.
func (c *Client) httpClient() (*http.Client, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !c.cfg.VerifySSL}, //nolint:gosec // operator-controlled knob
	}
	proxyURL, err := c.nextProxy()
	if err != nil {
		return nil, err
	}
	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Timeout:   c.cfg.Timeout,
		Transport: transport,
	}
	if !c.cfg.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else {
		maxRedirects := c.cfg.MaxRedirects
		client.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		}
	}
	return client, nil
}

func buildURL(rawURL string, params map[string]string) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
