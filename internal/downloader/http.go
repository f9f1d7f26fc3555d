package downloader

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const defaultUserAgent = "m3u8-downloader/1.0"

// HTTPConfig configures the shared HTTP client.
type HTTPConfig struct {
	UserAgent       string
	PlaylistTimeout time.Duration
	KeyTimeout      time.Duration
	SegmentTimeout  time.Duration
	// MaxConnsPerHost should be at least the segment worker count so the pool
	// is not starved by the connection limit.
	MaxConnsPerHost int
}

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.PlaylistTimeout <= 0 {
		c.PlaylistTimeout = 15 * time.Second
	}
	if c.KeyTimeout <= 0 {
		c.KeyTimeout = 15 * time.Second
	}
	if c.SegmentTimeout <= 0 {
		c.SegmentTimeout = 30 * time.Second
	}
	if c.MaxConnsPerHost <= 0 {
		c.MaxConnsPerHost = 16
	}
	return c
}

// Client issues every request of one acquisition. Playlist and key requests
// go through the retrying transport; segment requests do not, the segment
// fetcher owns their retry budget. Both share one connection pool.
type Client struct {
	transport *http.Transport
	meta      *http.Client
	segments  *http.Client
	config    HTTPConfig
}

// NewClient builds a client with its own connection pool.
func NewClient(config HTTPConfig) *Client {
	config = config.withDefaults()
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: config.MaxConnsPerHost,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		IdleConnTimeout:       90 * time.Second,
	}
	return newClientWithTransport(transport, config, defaultRetryConfig)
}

func newClientWithTransport(transport *http.Transport, config HTTPConfig, retry retryConfig) *Client {
	base := &consistentTransport{base: transport, userAgent: config.UserAgent}
	return &Client{
		transport: transport,
		meta:      &http.Client{Transport: newRetryTransport(base, retry)},
		segments:  &http.Client{Transport: base},
		config:    config,
	}
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.transport.CloseIdleConnections()
}

// FetchText downloads a playlist. The returned URL is the final request URL
// after redirects and is the base for resolving relative references.
func (c *Client) FetchText(ctx context.Context, rawURL string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.PlaylistTimeout)
	defer cancel()
	body, finalURL, err := get(ctx, c.meta, rawURL)
	if err != nil {
		return "", "", err
	}
	return string(body), finalURL, nil
}

// FetchKey downloads raw key material. It satisfies hls.KeyFetcher.
func (c *Client) FetchKey(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.KeyTimeout)
	defer cancel()
	body, _, err := get(ctx, c.meta, rawURL)
	return body, err
}

// FetchSegment downloads one segment body in a single attempt.
func (c *Client) FetchSegment(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.SegmentTimeout)
	defer cancel()
	body, _, err := get(ctx, c.segments, rawURL)
	return body, err
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

func get(ctx context.Context, client *http.Client, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading body: %w", err)
	}
	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return body, finalURL, nil
}

type consistentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *consistentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	needsUA := req.Header.Get("User-Agent") == ""
	needsAccept := req.Header.Get("Accept") == ""
	if needsUA || needsAccept {
		// RoundTrippers must not modify the caller's request.
		req = req.Clone(req.Context())
		if needsUA {
			req.Header.Set("User-Agent", t.userAgent)
		}
		if needsAccept {
			req.Header.Set("Accept", "*/*")
		}
	}
	return t.base.RoundTrip(req)
}
