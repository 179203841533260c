// Package upstream talks to the TV server: raw and JSON fetches, conditional
// manifest fetches, and the tune-to-channel handshake.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// ErrNotModified is returned by FetchConditional when the server answers 304.
var ErrNotModified = errors.New("upstream: 304 not modified")

// ErrEmptyResponse is returned by FetchJSON when the body holds no JSON value.
var ErrEmptyResponse = errors.New("upstream: empty response")

// StatusError reports a non-200 response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s: unexpected status %d", e.URL, e.Code)
}

// Validators are the cache validators of a previous successful fetch.
type Validators struct {
	ETag         string
	LastModified string
}

// Result is the body and validators of a successful conditional fetch.
type Result struct {
	Body       []byte
	Validators Validators
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	// Timeout bounds every request. Defaults to 10s.
	Timeout time.Duration
	// Headers are added to every request.
	Headers map[string]string
	// RateLimit caps requests per second; 0 disables limiting.
	RateLimit float64
	// HTTPClient overrides the underlying client (Timeout is then ignored).
	HTTPClient *http.Client
}

// Client performs GET requests against the upstream server. It is safe for
// concurrent use.
type Client struct {
	http    *http.Client
	headers map[string]string
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewClient returns a Client configured by opts.
func NewClient(opts Options, log *slog.Logger) *Client {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	c := &Client{http: hc, headers: opts.Headers, log: log}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return c
}

// CloseIdleConnections closes idle keep-alive connections of the underlying
// transport.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}

func (c *Client) get(ctx context.Context, rawURL string, prev Validators) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if prev.ETag != "" {
		req.Header.Set("If-None-Match", prev.ETag)
	}
	if prev.LastModified != "" {
		req.Header.Set("If-Modified-Since", prev.LastModified)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", rawURL, err)
	}
	return resp, nil
}

// FetchRaw returns the body of a GET on rawURL.
func (c *Client) FetchRaw(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.get(ctx, rawURL, Validators{})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: read body: %w", rawURL, err)
	}
	return body, nil
}

// FetchConditional issues a GET carrying prev as If-None-Match /
// If-Modified-Since. It returns ErrNotModified on 304.
func (c *Client) FetchConditional(ctx context.Context, rawURL string, prev Validators) (*Result, error) {
	resp, err := c.get(ctx, rawURL, prev)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: read body: %w", rawURL, err)
	}
	return &Result{
		Body: body,
		Validators: Validators{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		},
	}, nil
}

// FetchJSON decodes the JSON body of a GET on rawURL with params appended to
// the query string into v.
func (c *Client) FetchJSON(ctx context.Context, rawURL string, params url.Values, v any) error {
	if len(params) > 0 {
		u, err := url.Parse(rawURL)
		if err != nil {
			return fmt.Errorf("upstream: parse url: %w", err)
		}
		q := u.Query()
		for k, vals := range params {
			for _, val := range vals {
				q.Add(k, val)
			}
		}
		u.RawQuery = q.Encode()
		rawURL = u.String()
	}

	resp, err := c.get(ctx, rawURL, Validators{})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyResponse
		}
		return fmt.Errorf("upstream %s: decode: %w", rawURL, err)
	}
	return nil
}
