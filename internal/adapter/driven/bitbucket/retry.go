package bitbucket

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/branchpanel/internal/domain/port/driven"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
	maxBackoffDelay   = time.Minute
)

// RetryingClient performs GET requests with bounded retries. Only 429
// responses and transport failures are retried; every other non-2xx status is
// returned immediately as a *driven.HTTPError.
type RetryingClient struct {
	http       *http.Client
	tracker    *RateLimitTracker
	maxRetries int
	baseDelay  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewRetryingClient creates a RetryingClient that reports response headers to
// tracker. A nil httpClient uses http.DefaultClient.
func NewRetryingClient(httpClient *http.Client, tracker *RateLimitTracker) *RetryingClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RetryingClient{
		http:       httpClient,
		tracker:    tracker,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		sleep:      sleepContext,
	}
}

// Get fetches url and returns the response body. A logical call makes at most
// maxRetries+1 attempts, and all attempts share one exponential schedule
// (baseDelay, 2*baseDelay, 4*baseDelay...). A Retry-After header on a 429
// replaces the scheduled delay for that attempt.
func (c *RetryingClient) Get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	schedule := c.newSchedule()

	for attempt := 0; ; attempt++ {
		if err := c.tracker.CheckAndWait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build request for %s: %w", url, err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		delay := schedule.NextBackOff()

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt >= c.maxRetries {
				return nil, &driven.NetworkError{Err: err}
			}
			slog.Warn("network error, retrying",
				"url", url,
				"attempt", attempt+1,
				"max_retries", c.maxRetries,
				"delay", delay,
				"error", err,
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		c.tracker.Update(resp.Header)

		if resp.StatusCode == http.StatusTooManyRequests {
			discard(resp)
			if attempt >= c.maxRetries {
				return nil, driven.ErrRateLimitExceeded
			}
			if d, ok := retryAfter(resp.Header); ok {
				delay = d
			}
			slog.Warn("rate limited, retrying",
				"url", url,
				"attempt", attempt+1,
				"max_retries", c.maxRetries,
				"delay", delay,
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			discard(resp)
			return nil, &driven.HTTPError{
				StatusCode: resp.StatusCode,
				Status:     http.StatusText(resp.StatusCode),
			}
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body from %s: %w", url, err)
		}
		return body, nil
	}
}

// newSchedule returns a jitter-free exponential schedule for one logical call.
func (c *RetryingClient) newSchedule() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = maxBackoffDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// retryAfter parses a Retry-After header expressed in whole seconds.
func retryAfter(h http.Header) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// discard drains and closes a response body so the connection can be reused.
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
