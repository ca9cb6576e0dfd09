package driven

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/branchpanel/internal/domain/model"
)

// Sentinel errors returned by BitbucketClient implementations.
var (
	// ErrNotConfigured indicates the workspace or access token is missing.
	// It is fatal to any fetch and is never retried.
	ErrNotConfigured = errors.New("bitbucket configuration not set: configure workspace and access token")

	// ErrRateLimitExceeded indicates the API kept answering 429 after all retries.
	ErrRateLimitExceeded = errors.New("rate limit exceeded: maximum retries reached")
)

type cacheBypassKey struct{}

// WithCacheBypass marks ctx so that clients skip every response cache they
// hold and ask the remote API directly.
func WithCacheBypass(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheBypassKey{}, true)
}

// CacheBypassed reports whether ctx was marked by WithCacheBypass.
func CacheBypassed(ctx context.Context) bool {
	v, _ := ctx.Value(cacheBypassKey{}).(bool)
	return v
}

// HTTPError is returned for non-success responses other than 429. These are
// surfaced immediately without retry.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// NetworkError wraps a transport failure that persisted after all retries.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err came from a condition that may clear up on
// a later attempt (network failure, rate limiting, 5xx), as opposed to a
// configuration or client error.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) || errors.Is(err, ErrRateLimitExceeded) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	return false
}

// BitbucketClient defines the driven port for reading a Bitbucket workspace.
// Implementations translate API payloads into domain records and hold no cache.
type BitbucketClient interface {
	// IsConfigured reports whether a workspace and access token are set.
	IsConfigured() bool
	// GetRepositories returns the first page of repositories in the workspace.
	GetRepositories(ctx context.Context) ([]model.Repository, error)
	// GetBranches returns the first page of branches of one repository.
	GetBranches(ctx context.Context, repoSlug string) ([]model.Branch, error)
}

// CommitDater resolves the date of the latest commit on a branch.
type CommitDater interface {
	LatestCommitDate(ctx context.Context, branch model.Branch) (time.Time, error)
}

// RateLimitReporter exposes the client's current rate-limit estimate.
type RateLimitReporter interface {
	RateLimitStatus() model.RateLimitInfo
	IsNearRateLimit() bool
	TimeUntilReset() time.Duration
}
