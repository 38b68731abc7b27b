// Package githubforge implements the Forge Client port against GitHub's
// REST API: typed requests, bearer auth, ETag-conditional GETs, rate-limit
// tracking, and retry with exponential backoff and jitter.
package githubforge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/imq-dev/imq/internal/port/forgeclient"
)

const (
	defaultAPIVersion = "2022-11-28"
	defaultUserAgent  = "imqd/1.0"
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 8 * time.Second
	rateLimitWarnThreshold = 100
)

// Config configures the GitHub Forge Client adapter.
type Config struct {
	BaseURL     string
	Token       string
	APIVersion  string
	UserAgent   string
	MaxAttempts uint64
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Client is the GitHub-backed implementation of forgeclient.Client.
type Client struct {
	cfg Config
	hc  *http.Client

	etagMu sync.Mutex
	etags  map[string]string

	rateMu    sync.Mutex
	remaining int
	resetAt   int64
}

var _ forgeclient.Client = (*Client)(nil)

// New builds a Client. Token must carry a valid GitHub prefix; callers
// validate that at config-load time, not here.
func New(cfg Config, hc *http.Client) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		cfg:       cfg,
		hc:        hc,
		etags:     make(map[string]string),
		remaining: -1,
	}
}

// Do executes ep with retry, ETag caching, and rate-limit tracking.
func (c *Client) Do(ctx context.Context, ep forgeclient.Endpoint) (*forgeclient.Response, error) {
	path := fmt.Sprintf(ep.PathTemplate, ep.PathArgs...)
	url := c.cfg.BaseURL + path

	var bodyBytes []byte
	if ep.Body != nil {
		b, err := json.Marshal(ep.Body)
		if err != nil {
			return nil, forgeclient.Decode(err)
		}
		bodyBytes = b
	}

	backoff := retry.NewExponential(c.cfg.BaseDelay)
	backoff = retry.WithMaxRetries(c.cfg.MaxAttempts-1, backoff)
	backoff = retry.WithCappedDuration(c.cfg.MaxDelay, backoff)
	backoff = retry.WithJitterPercent(20, backoff)

	var resp *forgeclient.Response
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		r, err := c.doOnce(ctx, ep, path, url, bodyBytes)
		if err != nil {
			if forgeclient.Retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		if attempt >= int(c.cfg.MaxAttempts) {
			return nil, forgeclient.AllAttemptsFailed(err)
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) doOnce(ctx context.Context, ep forgeclient.Endpoint, path, url string, body []byte) (*forgeclient.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, string(ep.Method), url, reader)
	if err != nil {
		return nil, forgeclient.Network(err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("X-GitHub-Api-Version", c.cfg.APIVersion)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if ep.UseETag {
		c.etagMu.Lock()
		etag := c.etags[path]
		c.etagMu.Unlock()
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
	}

	httpResp, err := c.hc.Do(req)
	if err != nil {
		return nil, forgeclient.Network(err)
	}
	defer httpResp.Body.Close()

	c.trackRateLimit(httpResp.Header)

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, forgeclient.Decode(err)
	}

	if etag := httpResp.Header.Get("ETag"); etag != "" && httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		c.etagMu.Lock()
		c.etags[path] = etag
		c.etagMu.Unlock()
	}

	switch httpResp.StatusCode {
	case http.StatusNotModified:
		return &forgeclient.Response{StatusCode: httpResp.StatusCode, NotModified: true}, nil
	case http.StatusUnauthorized:
		return nil, forgeclient.Unauthorized()
	case http.StatusForbidden:
		if strings.Contains(strings.ToLower(string(respBody)), "rate limit") {
			return nil, forgeclient.RateLimitExceeded()
		}
		return nil, forgeclient.Forbidden()
	case http.StatusNotFound:
		return nil, forgeclient.NotFound()
	case http.StatusUnprocessableEntity:
		return nil, forgeclient.ValidationFailed(string(respBody))
	}

	if httpResp.StatusCode >= 400 {
		return nil, forgeclient.HTTP(httpResp.StatusCode, string(respBody))
	}

	return &forgeclient.Response{
		StatusCode:    httpResp.StatusCode,
		Body:          respBody,
		ETag:          httpResp.Header.Get("ETag"),
		RateRemaining: c.remaining,
		RateReset:     c.resetAt,
	}, nil
}

func (c *Client) trackRateLimit(h http.Header) {
	remStr := h.Get("X-RateLimit-Remaining")
	resetStr := h.Get("X-RateLimit-Reset")
	if remStr == "" {
		return
	}
	remaining, err := strconv.Atoi(remStr)
	if err != nil {
		return
	}
	resetAt, _ := strconv.ParseInt(resetStr, 10, 64)

	c.rateMu.Lock()
	c.remaining = remaining
	c.resetAt = resetAt
	c.rateMu.Unlock()

	if remaining < rateLimitWarnThreshold {
		slog.Warn("forge rate limit low", "remaining", remaining, "reset_at", resetAt)
	}
}

// RateRemaining returns the last observed X-RateLimit-Remaining value, or -1
// if no response has been observed yet.
func (c *Client) RateRemaining() int {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()
	return c.remaining
}
