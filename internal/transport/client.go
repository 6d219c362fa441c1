// Package transport is the HTTP capability the executor dispatches through.
// It owns URL building, query encoding, auth headers and body reading; the
// executor only sees method, path, query, status code and body.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Request is a fully resolved step request
type Request struct {
	Method string
	Path   string
	Query  map[string]string
}

// Response is what came back from the API. Body is nil when the response
// had no content.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client issues requests for the executor
type Client interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Config configures an HTTPClient
type Config struct {
	BaseURL      string
	Headers      map[string]string
	MaxBodyBytes int64
	UserAgent    string
}

// DefaultMaxBodyBytes caps how much of a response body is read
const DefaultMaxBodyBytes int64 = 10 << 20

// HTTPClient is the net/http implementation of Client
type HTTPClient struct {
	config     Config
	base       *url.URL
	httpClient *http.Client
}

// NewHTTPClient creates a client rooted at cfg.BaseURL. Timeouts are applied
// per request through the context, so the underlying client has none.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL %s: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL %s must use http or https", cfg.BaseURL)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "stepflow"
	}

	return &HTTPClient{
		config:     cfg,
		base:       base,
		httpClient: &http.Client{},
	}, nil
}

// URL builds the absolute URL for a request. Escapes already present in the
// path are kept as sent.
func (c *HTTPClient) URL(req Request) string {
	path, rawQuery, _ := strings.Cut(req.Path, "?")

	u := *c.base
	joined := strings.TrimSuffix(c.base.EscapedPath(), "/") + "/" + strings.TrimPrefix(path, "/")
	if decoded, err := url.PathUnescape(joined); err == nil {
		u.Path, u.RawPath = decoded, joined
	} else {
		u.Path, u.RawPath = joined, ""
	}

	query := u.Query()
	if inline, err := url.ParseQuery(rawQuery); err == nil {
		for k, vs := range inline {
			for _, v := range vs {
				query.Add(k, v)
			}
		}
	}
	for k, v := range req.Query {
		query.Set(k, v)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// Do sends the request. Only connectivity problems are returned as errors;
// any HTTP status is a valid response.
func (c *HTTPClient) Do(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.URL(req), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s %s: %w", req.Method, req.Path, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, c.config.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > c.config.MaxBodyBytes {
		return nil, fmt.Errorf("response body exceeds %d bytes", c.config.MaxBodyBytes)
	}
	if len(body) == 0 {
		body = nil
	}

	return &Response{StatusCode: httpResp.StatusCode, Body: body}, nil
}

// ClientFunc adapts a function to Client
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Do calls f
func (f ClientFunc) Do(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
