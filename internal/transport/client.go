// Package transport is the shared HTTP client for every upstream (forecast,
// market and order webhook). It applies a per-request timeout, a token
// bucket rate limit and bounded exponential backoff with jitter on 429, 5xx
// and transport errors. Business code above it never retries.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultTimeout      = 15 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 500 * time.Millisecond
	DefaultRateLimit    = 10.0 // requests per second
	DefaultBurst        = 5

	maxBodyBytes = 8 << 20
)

// StatusError is a non-2xx response from an upstream.
type StatusError struct {
	StatusCode int
	Message    string
	Body       []byte
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: %s returned %d: %s", e.URL, e.StatusCode, e.Message)
}

// Retryable reports whether the status should trigger a retry.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client performs JSON requests against one base URL.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	limiter      *rate.Limiter
	maxRetries   int
	retryBackoff time.Duration
	headers      http.Header
	logger       *slog.Logger
	name         string
	onFailure    func(source string)
}

// Option configures the client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRetries sets the retry count and initial backoff.
func WithRetries(maxRetries int, backoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		if backoff > 0 {
			c.retryBackoff = backoff
		}
	}
}

// WithRateLimit sets the token bucket. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithName labels the upstream in logs and failure callbacks.
func WithName(name string) Option {
	return func(c *Client) {
		c.name = name
	}
}

// WithFailureHook registers fn, called once per request that finally fails.
func WithFailureHook(fn func(source string)) Option {
	return func(c *Client) {
		c.onFailure = fn
	}
}

// New creates a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:      rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultBurst),
		maxRetries:   DefaultMaxRetries,
		retryBackoff: DefaultRetryBackoff,
		headers:      make(http.Header),
		logger:       slog.Default(),
		name:         "upstream",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetJSON issues a GET and decodes the JSON response into result.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.doWithRetry(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		c.failed()
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// PostJSON encodes payload, POSTs it and decodes the response into result
// when result is non-nil.
func (c *Client) PostJSON(ctx context.Context, path string, payload, result any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	body, err := c.doWithRetry(ctx, http.MethodPost, path, nil, raw)
	if err != nil {
		return err
	}
	if result == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		c.failed()
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
			URL:        c.baseURL + path,
		}
	}
	return body, nil
}

func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			c.logger.Debug("retrying request",
				"upstream", c.name,
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)
			select {
			case <-ctx.Done():
				c.failed()
				return nil, ctx.Err()
			case <-time.After(jitter):
			}
			backoff *= 2
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				c.failed()
				return nil, fmt.Errorf("rate limiter: %w", err)
			}
		}

		body, err := c.doRequest(ctx, method, path, query, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !retryable(ctx, err) {
			c.failed()
			return nil, err
		}
	}

	c.failed()
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// retryable treats 429/5xx and transport errors as transient. Client errors
// and a cancelled context are final.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

func (c *Client) failed() {
	if c.onFailure != nil {
		c.onFailure(c.name)
	}
}
