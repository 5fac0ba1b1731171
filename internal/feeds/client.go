// Package feeds holds the transport helpers vendor backends share: a retrying
// rate-limited HTTP client, a paginator, and file/charset utilities.
package feeds

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"gemfeed/internal/config"
)

const maxAttempts = 5

// StatusError is returned for a non-2xx response once retries are exhausted
// or the status is not retryable.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("feed request %s: status=%d body=%s", e.URL, e.Status, body)
}

// Request is replayable: the body is kept as bytes so every attempt can
// rebuild it.
type Request struct {
	Method   string
	URL      string
	Header   http.Header
	Body     []byte
	Username string
	Password string
}

type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	sleep      func(context.Context, time.Duration) error
}

func NewClient(cfg config.Config) *Client {
	limit := rate.Inf
	if cfg.HTTPRateLimitRPS > 0 {
		limit = rate.Limit(cfg.HTTPRateLimitRPS)
	}
	return &Client{
		httpClient: &http.Client{Timeout: time.Duration(cfg.HTTPTimeoutMs) * time.Millisecond},
		limiter:    rate.NewLimiter(limit, 1),
		sleep:      Sleep,
	}
}

// WithHTTPClient swaps the underlying transport, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Header: header})
}

func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values) ([]byte, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.Do(ctx, Request{Method: http.MethodPost, URL: rawURL, Header: header, Body: []byte(form.Encode())})
}

func (c *Client) Do(ctx context.Context, r Request) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, bytes.NewReader(r.Body))
		if err != nil {
			return nil, err
		}
		for k, vals := range r.Header {
			for _, v := range vals {
				req.Header.Add(k, v)
			}
		}
		if r.Username != "" {
			req.SetBasicAuth(r.Username, r.Password)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			statusErr := &StatusError{URL: redact(r.URL), Status: resp.StatusCode, Body: string(body)}
			if isRetryableStatus(resp.StatusCode) && attempt < maxAttempts {
				lastErr = statusErr
				if err := c.backoff(ctx, attempt); err != nil {
					return nil, err
				}
				continue
			}
			return nil, statusErr
		}
		return body, nil
	}

	if lastErr == nil {
		lastErr = errors.New("feed request failed")
	}
	return nil, lastErr
}

// Exists issues a HEAD request and reports whether the URL resolves.
func (c *Client) Exists(ctx context.Context, rawURL string) bool {
	if err := c.limiter.Wait(ctx); err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

func (c *Client) backoff(ctx context.Context, attempt int) error {
	return c.sleep(ctx, time.Duration(250*(1<<(attempt-1))+rand.Intn(100))*time.Millisecond)
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// redact drops query strings, which carry tickets and keys for several vendors.
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
