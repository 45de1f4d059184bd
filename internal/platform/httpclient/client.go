// Package httpclient provides the rate-limited, retrying HTTP client
// every registry adapter is built on (§4.1), grounded on the
// functional-options client pattern used for third-party API clients
// throughout the example pack.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/globaltrial/registry-pipeline/internal/platform/logger"
	"github.com/globaltrial/registry-pipeline/internal/platform/ratelimit"
	"github.com/globaltrial/registry-pipeline/internal/registries"
)

const DefaultTimeout = 30 * time.Second

// Client is a registry-scoped HTTP client: every Do call acquires a
// token from the registry's rate-limit bucket first, then retries
// transient failures with exponential backoff.
type Client struct {
	registry string
	http     *http.Client
	limiter  *ratelimit.Registry
	log      *logger.Logger
	retry    RetryPolicy
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

func New(registry string, limiter *ratelimit.Registry, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		registry: registry,
		http:     &http.Client{Timeout: DefaultTimeout},
		limiter:  limiter,
		log:      log.With("component", "httpclient", "registry", registry),
		retry:    DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do performs req after acquiring a rate-limit token, retrying on 429
// and 5xx/connection errors per §4.1. On 429 it halves the registry's
// effective budget and honors Retry-After when present. Exhausting the
// retry budget returns ErrRegistryUnavailable.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastStatus int

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if err := c.limiter.Acquire(ctx, c.registry); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			if !isRetryableNetErr(err) || attempt == c.retry.MaxAttempts {
				return nil, &registries.ErrRegistryUnavailable{Registry: c.registry, LastStatus: lastStatus}
			}
			c.sleep(ctx, ComputeBackoff(c.retry, attempt))
			continue
		}

		lastStatus = resp.StatusCode
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			c.limiter.Halve(c.registry)
			delay := retryAfterDelay(resp, ComputeBackoff(c.retry, attempt))
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if attempt == c.retry.MaxAttempts {
				return nil, &registries.ErrRegistryUnavailable{Registry: c.registry, LastStatus: lastStatus}
			}
			c.sleep(ctx, delay)
			continue
		case resp.StatusCode >= 500:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if attempt == c.retry.MaxAttempts {
				return nil, &registries.ErrRegistryUnavailable{Registry: c.registry, LastStatus: lastStatus}
			}
			c.sleep(ctx, ComputeBackoff(c.retry, attempt))
			continue
		default:
			return resp, nil
		}
	}
	return nil, &registries.ErrRegistryUnavailable{Registry: c.registry, LastStatus: lastStatus}
}

func (c *Client) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func isRetryableNetErr(err error) bool {
	var netErr net.Error
	if ok := asNetError(err, &netErr); ok {
		return netErr.Timeout()
	}
	return true
}

func asNetError(err error, target *net.Error) bool {
	ne, ok := err.(net.Error)
	if ok {
		*target = ne
	}
	return ok
}

func retryAfterDelay(resp *http.Response, fallback time.Duration) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(raw); err == nil {
		return time.Until(when)
	}
	return fallback
}

// Get is a convenience wrapper building a GET request with query
// parameters already encoded.
func (c *Client) Get(ctx context.Context, rawURL string, query url.Values) (*http.Response, error) {
	u := rawURL
	if len(query) > 0 {
		u = rawURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return c.Do(ctx, req)
}
