// Package bitbucket implements the BitbucketClient port against the
// Bitbucket Cloud 2.0 REST API.
package bitbucket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gregjones/httpcache"
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/branchpanel/internal/domain/model"
	"github.com/ericfisherdev/branchpanel/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.BitbucketClient   = (*Client)(nil)
	_ driven.CommitDater       = (*Client)(nil)
	_ driven.RateLimitReporter = (*Client)(nil)
)

const (
	pageLen            = 100
	defaultConcurrency = 8
	requestTimeout     = 30 * time.Second
)

// Client reads repositories and branches of one Bitbucket workspace.
// It performs no caching of its own.
type Client struct {
	http        *RetryingClient
	tracker     *RateLimitTracker
	baseURL     string
	workspace   string
	token       string
	concurrency int
}

// NewClient creates a Bitbucket client for baseURL with the following
// transport stack:
//  1. RateLimitTracker (header-driven quota estimate)
//  2. RetryingClient (429/network retry with exponential backoff)
//  3. httpcache (ETag revalidation), when cached is set
//
// Requests whose context carries driven.WithCacheBypass skip the httpcache layer.
func NewClient(baseURL, workspace, token string, cached bool) (*Client, error) {
	return NewClientWithHTTPClient(NewHTTPClient(cached), baseURL, workspace, token)
}

// NewHTTPClient returns the http.Client used under the retrying layer. With
// cached set, responses are stored in memory and revalidated with ETags.
func NewHTTPClient(cached bool) *http.Client {
	if !cached {
		return &http.Client{Timeout: requestTimeout}
	}
	client := httpcache.NewMemoryCacheTransport().Client()
	client.Timeout = requestTimeout
	return client
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// Tests use it to point the client at an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, workspace, token string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parsing base URL: %q is not absolute", baseURL)
	}

	tracker := NewRateLimitTracker()

	return &Client{
		http:        NewRetryingClient(httpClient, tracker),
		tracker:     tracker,
		baseURL:     strings.TrimRight(u.String(), "/"),
		workspace:   workspace,
		token:       token,
		concurrency: defaultConcurrency,
	}, nil
}

// WithRetryPolicy overrides the retry bound and the base backoff delay.
func (c *Client) WithRetryPolicy(maxRetries int, baseDelay time.Duration) *Client {
	c.http.maxRetries = maxRetries
	c.http.baseDelay = baseDelay
	return c
}

// WithConcurrency bounds the number of in-flight requests in GetAllBranches.
// n <= 0 removes the bound.
func (c *Client) WithConcurrency(n int) *Client {
	c.concurrency = n
	return c
}

// IsConfigured reports whether both the workspace and the token are set.
func (c *Client) IsConfigured() bool {
	return c.workspace != "" && c.token != ""
}

// Workspace returns the configured workspace identifier.
func (c *Client) Workspace() string {
	return c.workspace
}

// GetRepositories returns the first page of repositories in the workspace.
func (c *Client) GetRepositories(ctx context.Context) ([]model.Repository, error) {
	if !c.IsConfigured() {
		return nil, driven.ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/repositories/%s?pagelen=%d", c.baseURL, url.PathEscape(c.workspace), pageLen)

	var resp page[repositoryJSON]
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("listing repositories for %s: %w", c.workspace, err)
	}

	repos := make([]model.Repository, 0, len(resp.Values))
	for _, r := range resp.Values {
		repos = append(repos, mapRepository(r))
	}

	c.logCall("repositories", len(repos))

	return repos, nil
}

// GetBranches returns the first page of branches of the repository with the
// given slug.
func (c *Client) GetBranches(ctx context.Context, repoSlug string) ([]model.Branch, error) {
	if !c.IsConfigured() {
		return nil, driven.ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/repositories/%s/%s/refs/branches?pagelen=%d",
		c.baseURL, url.PathEscape(c.workspace), url.PathEscape(repoSlug), pageLen)

	var resp page[branchJSON]
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("listing branches for %s: %w", repoSlug, err)
	}

	branches := make([]model.Branch, 0, len(resp.Values))
	for _, b := range resp.Values {
		branches = append(branches, mapBranch(b, repoSlug))
	}

	c.logCall(repoSlug+"/branches", len(branches))

	return branches, nil
}

// GetAllBranches fetches the branches of every repository concurrently and
// returns them keyed by repository name. A repository whose fetch fails is
// logged and mapped to an empty slice; the aggregate never fails.
func (c *Client) GetAllBranches(ctx context.Context, repos []model.Repository) map[string][]model.Branch {
	var (
		mu     sync.Mutex
		result = make(map[string][]model.Branch, len(repos))
	)

	g, gctx := errgroup.WithContext(ctx)
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}

	for _, repo := range repos {
		g.Go(func() error {
			branches, err := c.GetBranches(gctx, repo.Slug)
			if err != nil {
				slog.Error("failed to fetch branches", "repo", repo.Name, "error", err)
				branches = []model.Branch{}
			}

			mu.Lock()
			result[repo.Name] = branches
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return result
}

// LatestCommitDate asks Bitbucket for the newest commit on the branch and
// returns its date. It is the remote source for staleness checks.
func (c *Client) LatestCommitDate(ctx context.Context, branch model.Branch) (time.Time, error) {
	if !c.IsConfigured() {
		return time.Time{}, driven.ErrNotConfigured
	}
	if branch.RepositorySlug == "" {
		return time.Time{}, fmt.Errorf("branch %q has no repository slug", branch.Name)
	}

	endpoint := fmt.Sprintf("%s/repositories/%s/%s/commits/%s?pagelen=1",
		c.baseURL, url.PathEscape(c.workspace), url.PathEscape(branch.RepositorySlug), url.PathEscape(branch.Name))

	var resp page[commitJSON]
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return time.Time{}, fmt.Errorf("fetching latest commit for %s@%s: %w", branch.RepositorySlug, branch.Name, err)
	}
	if len(resp.Values) == 0 {
		return time.Time{}, fmt.Errorf("no commits on %s@%s", branch.RepositorySlug, branch.Name)
	}

	date, err := time.Parse(time.RFC3339, resp.Values[0].Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing commit date %q: %w", resp.Values[0].Date, err)
	}
	return date, nil
}

// RateLimitStatus returns a copy of the current rate-limit estimate.
func (c *Client) RateLimitStatus() model.RateLimitInfo {
	return c.tracker.Status()
}

// IsNearRateLimit reports whether requests are close to being throttled.
func (c *Client) IsNearRateLimit() bool {
	return c.tracker.IsNearLimit()
}

// TimeUntilReset returns the time left in the current rate-limit window.
func (c *Client) TimeUntilReset() time.Duration {
	return c.tracker.TimeUntilReset()
}

// getJSON performs an authenticated GET and decodes the body into v.
func (c *Client) getJSON(ctx context.Context, endpoint string, v any) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	header.Set("Accept", "application/json")
	if driven.CacheBypassed(ctx) {
		// httpcache forwards no-cache requests unconditionally.
		header.Set("Cache-Control", "no-cache")
	}

	body, err := c.http.Get(ctx, endpoint, header)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// logCall logs the rate limit estimate after each call.
func (c *Client) logCall(endpoint string, count int) {
	status := c.tracker.Status()

	slog.Debug("bitbucket api call",
		"endpoint", endpoint,
		"count", count,
		"rate_remaining", status.Remaining,
		"rate_limit", status.Limit,
		"near_limit", status.NearLimit,
	)

	if status.NearLimit {
		slog.Warn("bitbucket rate limit low",
			"remaining", status.Remaining,
			"reset_in", time.Until(status.ResetTime).Round(time.Second),
		)
	}
}
