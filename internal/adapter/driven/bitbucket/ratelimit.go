package bitbucket

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/branchpanel/internal/domain/model"
)

const (
	defaultRateLimit  = 1000
	rateLimitWindow   = time.Hour
	nearLimitCooldown = 2 * time.Second
	// nearLimitFloor is the estimated remaining count below which requests are
	// delayed by nearLimitCooldown while the API reports near-limit.
	nearLimitFloor = 10
	// lowRemainingThreshold marks the estimate as low for IsNearLimit.
	lowRemainingThreshold = 50
)

// RateLimitTracker keeps a rolling estimate of the Bitbucket request quota
// from response headers. Bitbucket only exposes the ceiling and a near-limit
// flag, so the remaining count is a heuristic. One tracker is shared by every
// request a Client makes.
type RateLimitTracker struct {
	mu    sync.Mutex
	info  model.RateLimitInfo
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimitTracker creates a tracker seeded with the default authenticated
// quota and a reset one hour from now.
func NewRateLimitTracker() *RateLimitTracker {
	t := &RateLimitTracker{
		now:   time.Now,
		sleep: sleepContext,
	}
	t.info = model.RateLimitInfo{
		Limit:     defaultRateLimit,
		Remaining: defaultRateLimit,
		ResetTime: t.now().Add(rateLimitWindow),
		Resource:  "api",
	}
	return t
}

// Update refreshes the estimate from X-RateLimit-Limit, X-RateLimit-Resource
// and X-RateLimit-NearLimit. Missing headers leave the matching field as is.
// Every update pushes the reset time one window into the future.
func (t *RateLimitTracker) Update(h http.Header) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if v := h.Get("X-RateLimit-Limit"); v != "" {
		if limit, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			t.info.Limit = limit
		}
	}
	if v := h.Get("X-RateLimit-Resource"); v != "" {
		t.info.Resource = strings.ReplaceAll(v, `"`, "")
	}
	if v := h.Get("X-RateLimit-NearLimit"); v != "" {
		t.info.NearLimit = strings.EqualFold(strings.TrimSpace(v), "true")
	}

	if t.info.NearLimit {
		t.info.Remaining = t.info.Limit * 2 / 10
	} else {
		t.info.Remaining = t.info.Limit * 8 / 10
	}

	t.info.ResetTime = t.now().Add(rateLimitWindow)
}

// CheckAndWait resets the estimate once the window has passed and, when the
// API reported near-limit with few requests left, delays the caller by a fixed
// cooldown. It is advisory and does not guarantee a 429 is avoided.
func (t *RateLimitTracker) CheckAndWait(ctx context.Context) error {
	t.mu.Lock()
	now := t.now()
	if !now.Before(t.info.ResetTime) {
		t.info.Remaining = t.info.Limit
		t.info.NearLimit = false
		t.info.ResetTime = now.Add(rateLimitWindow)
	}
	throttle := t.info.NearLimit && t.info.Remaining < nearLimitFloor
	remaining := t.info.Remaining
	t.mu.Unlock()

	if !throttle {
		return nil
	}

	slog.Warn("approaching bitbucket rate limit, delaying request",
		"remaining", remaining,
		"delay", nearLimitCooldown,
	)
	return t.sleep(ctx, nearLimitCooldown)
}

// Status returns a copy of the current estimate.
func (t *RateLimitTracker) Status() model.RateLimitInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info
}

// IsNearLimit reports whether the API flagged near-limit or the estimate is low.
func (t *RateLimitTracker) IsNearLimit() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info.NearLimit || t.info.Remaining < lowRemainingThreshold
}

// TimeUntilReset returns how long until the current window resets, never negative.
func (t *RateLimitTracker) TimeUntilReset() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return max(0, t.info.ResetTime.Sub(t.now()))
}

// sleepContext blocks for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
