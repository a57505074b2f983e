// Package httpclient provides the pooled, retrying HTTP client shared by
// every REST client in this module (work package, upload, download, and
// well-known-value services).
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/ghga-de/ghga-connector/internal/config"
	"github.com/ghga-de/ghga-connector/internal/constants"
	"github.com/ghga-de/ghga-connector/internal/ghgaerrors"
	"github.com/ghga-de/ghga-connector/internal/logging"
)

// Client wraps http.Client with connection pooling, HTTP/2 support,
// classified retry with exponential backoff, and an optional response
// cache for idempotent GETs.
type Client struct {
	httpClient *http.Client
	retry      RetryPolicy
	cache      *ResponseCache
	logger     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithCache attaches a response cache to the client.
func WithCache(cache *ResponseCache) Option {
	return func(c *Client) { c.cache = cache }
}

// New builds a Client tuned with the pooled transport this module uses
// for every outbound request, configured from cfg's retry settings.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Client, error) {
	transport := &http.Transport{
		Proxy: ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   constants.HTTPDialTimeout,
			KeepAlive: constants.HTTPDialKeepAlive,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("configuring http2 transport: %w", err)
	}

	c := &Client{
		httpClient: &http.Client{Transport: transport},
		retry:      NewRetryPolicy(cfg.MaxRetries, cfg.ExponentialBackoffMax, cfg.RetryStatusCodes),
		logger:     logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Do executes req, retrying on transient failures and classified status
// codes per the client's retry policy. A cache hit on a GET request
// short-circuits the round trip entirely.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)

	if c.cache != nil && req.Method == http.MethodGet {
		if resp, ok := c.cache.Get(req); ok {
			return resp, nil
		}
	}

	resp, err := ExecuteWithRetry(ctx, c.retry, c.logger, func() (*http.Response, error) {
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, err
	}

	if c.cache != nil && req.Method == http.MethodGet && resp.StatusCode == http.StatusOK {
		c.cache.Store(req, resp)
	}

	return resp, nil
}

// Get issues a GET request against url.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.Do(ctx, req)
}

// PostJSON issues a POST request with a JSON body.
func (c *Client) PostJSON(ctx context.Context, url string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.Do(ctx, req)
}

// PatchJSON issues a PATCH request with a JSON body.
func (c *Client) PatchJSON(ctx context.Context, url string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPatch, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.Do(ctx, req)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.Do(ctx, req)
}

// StreamTo issues a GET for the given byte range and copies the response
// body to w, used for range-based multipart downloads from presigned URLs.
func (c *Client) StreamTo(ctx context.Context, url string, start, end int64, w io.Writer) (int64, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := c.Do(ctx, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return 0, &ghgaerrors.UnauthorizedAPICallError{URL: url}
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, &ghgaerrors.BadResponseCodeError{URL: url, StatusCode: resp.StatusCode, Body: string(body)}
	}

	return io.Copy(w, resp.Body)
}

// Raw returns the underlying *http.Client, for callers (e.g. the S3
// presigned-URL PUT path) that need one-off control over the request.
func (c *Client) Raw() *http.Client {
	return c.httpClient
}

// SetTimeout sets a default timeout for operations using the client.
func (c *Client) SetTimeout(d time.Duration) {
	c.httpClient.Timeout = d
}
