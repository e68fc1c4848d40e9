// Package httpclient is a small retrying HTTP client used by pkg/llm to talk
// to OpenAI-compatible chat-completion backends. It parses the Retry-After
// and X-Ratelimit-Remaining-Requests headers those backends commonly return
// and reports Retry-After on the returned error; the wait between attempts
// is exponential backoff with jitter and does not take Retry-After into
// account.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// RetryableError wraps a failed HTTP attempt that the caller may retry.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("httpclient: %s (status %d, retry after %v)", e.Message, e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("httpclient: %s (status %d)", e.Message, e.StatusCode)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether the underlying status warrants another
// attempt (429 and 5xx).
func (e *RetryableError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// RateLimitInfo is parsed from a backend's rate-limit response headers.
type RateLimitInfo struct {
	RetryAfter    time.Duration
	RemainingReqs int
	HasRemaining  bool
}

// ParseOpenAIHeaders reads OpenAI-style rate limit headers.
func ParseOpenAIHeaders(h http.Header) RateLimitInfo {
	var info RateLimitInfo
	if v := h.Get("Retry-After"); v != "" {
		var secs int
		if _, err := fmt.Sscanf(v, "%d", &secs); err == nil {
			info.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	if v := h.Get("X-Ratelimit-Remaining-Requests"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			info.RemainingReqs = n
			info.HasRemaining = true
		}
	}
	return info
}

// Config controls retry policy.
type Config struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig returns sane defaults: 3 retries, 200ms base backoff capped
// at 5s, 60s per-request timeout.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second, RequestTimeout: 60 * time.Second}
}

// Client wraps *http.Client with exponential-backoff-with-jitter retries on
// 429/5xx responses and transport errors.
type Client struct {
	http   *http.Client
	config Config
}

// New constructs a Client over a fresh http.Client that uses
// http.DefaultTransport and config.RequestTimeout as its timeout.
func New(config Config) *Client {
	return &Client{
		http:   &http.Client{Timeout: config.RequestTimeout},
		config: config,
	}
}

// Do performs req, retrying on transport failure or a retryable status per
// c.config. The final response body is returned un-closed for the caller to
// read and close.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("httpclient: read request body: %w", err)
		}
		req.Body.Close()
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateDelay(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
		resp, err := c.http.Do(req.WithContext(ctx))
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 400 {
			info := ParseOpenAIHeaders(resp.Header)
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			rerr := &RetryableError{StatusCode: resp.StatusCode, Message: string(body), RetryAfter: info.RetryAfter}
			if !rerr.IsRetryable() || attempt == c.config.MaxRetries {
				return nil, rerr
			}
			lastErr = rerr
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("httpclient: exhausted %d retries: %w", c.config.MaxRetries, lastErr)
}

func (c *Client) calculateDelay(attempt int) time.Duration {
	delay := c.config.BaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > c.config.MaxDelay {
		delay = c.config.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay/2 + jitter
}
