// Package jina is a small client for the Jina Reader and Search APIs. Search
// finds a school's website when a record has none; Reader renders pages that
// refuse plain HTTP clients.
package jina

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the Jina operations.
type Client interface {
	// Read renders targetURL and returns its text content.
	Read(ctx context.Context, targetURL string) (*ReadResponse, error)
	// Search runs a web search.
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)
}

// ReadResponse is the Reader API envelope.
type ReadResponse struct {
	Code int      `json:"code"`
	Data ReadData `json:"data"`
}

// ReadData holds a rendered page.
type ReadData struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// SearchResponse is the Search API envelope.
type SearchResponse struct {
	Code int            `json:"code"`
	Data []SearchResult `json:"data"`
}

// SearchResult is one hit.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Content     string `json:"content,omitempty"`
}

// SearchOption configures a search request.
type SearchOption func(*searchOpts)

type searchOpts struct {
	site    string
	country string
	count   int
}

// WithSiteFilter restricts results to one domain.
func WithSiteFilter(domain string) SearchOption {
	return func(o *searchOpts) { o.site = domain }
}

// WithCountry biases results to a country code such as "GB".
func WithCountry(code string) SearchOption {
	return func(o *searchOpts) { o.country = code }
}

// WithCount caps the number of results.
func WithCount(n int) SearchOption {
	return func(o *searchOpts) { o.count = n }
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets the Reader base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.readBase = strings.TrimRight(u, "/") }
}

// WithSearchBaseURL sets the Search base URL.
func WithSearchBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.searchBase = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithMaxAttempts sets how many times a throttled or failing request is
// tried.
func WithMaxAttempts(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the first retry delay; later delays double.
func WithBackoff(d time.Duration) Option {
	return func(c *httpClient) { c.backoff = d }
}

type httpClient struct {
	apiKey      string
	readBase    string
	searchBase  string
	http        *http.Client
	maxAttempts int
	backoff     time.Duration
}

// NewClient creates a Jina client. An empty apiKey sends anonymous requests,
// which Jina serves at a lower rate.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:      apiKey,
		readBase:    "https://r.jina.ai",
		searchBase:  "https://s.jina.ai",
		maxAttempts: 3,
		backoff:     time.Second,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// do sends req, retrying transport errors and retryable statuses. A
// Retry-After header longer than the current backoff is honoured.
func (c *httpClient) do(ctx context.Context, req *http.Request) ([]byte, int, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	wait := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
		} else {
			body, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if readErr != nil {
				return nil, resp.StatusCode, eris.Wrap(readErr, "jina: read body")
			}
			if !retryableStatus(resp.StatusCode) {
				return body, resp.StatusCode, nil
			}
			lastErr = eris.Errorf("jina: status %d: %s", resp.StatusCode, truncate(body, 200))
			if ra := retryAfter(resp.Header.Get("Retry-After")); ra > wait {
				wait = ra
			}
		}
		if attempt == c.maxAttempts {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, 0, ctx.Err()
		case <-timer.C:
		}
		wait *= 2
	}
	return nil, 0, lastErr
}

func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

func (c *httpClient) Read(ctx context.Context, targetURL string) (*ReadResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.readBase+"/"+targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: create read request")
	}
	req.Header.Set("X-Return-Format", "text")

	body, status, err := c.do(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(err, "jina: read %s", targetURL)
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("jina: read %s: status %d", targetURL, status)
	}

	var out ReadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "jina: decode read response")
	}
	return &out, nil
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	so := &searchOpts{}
	for _, opt := range opts {
		opt(so)
	}

	params := url.Values{}
	if so.site != "" {
		params.Set("site", so.site)
	}
	if so.country != "" {
		params.Set("gl", so.country)
	}
	if so.count > 0 {
		params.Set("count", strconv.Itoa(so.count))
	}
	reqURL := c.searchBase + "/" + url.PathEscape(query)
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: create search request")
	}

	body, status, err := c.do(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "jina: search")
	}
	// 422 means the query had no results.
	if status == http.StatusUnprocessableEntity {
		return &SearchResponse{Code: status}, nil
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("jina: search: status %d: %s", status, truncate(body, 200))
	}

	var out SearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "jina: decode search response")
	}
	return &out, nil
}
