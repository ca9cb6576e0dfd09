package application

import (
	"context"
	"log/slog"
	"time"
)

// loadRequest asks the loop for a snapshot. refresh forces a cache-bypassing
// reload; otherwise the current snapshot is reused when there is one.
type loadRequest struct {
	refresh bool
	done    chan loadResult
}

type loadResult struct {
	snap *Snapshot
	err  error
}

// PollService keeps the branch snapshot warm by fetching on an interval and
// serializes on-demand loads and manual refreshes through the same loop, so
// they never race a scheduled fetch.
type PollService struct {
	branches *BranchService
	interval time.Duration
	requests chan loadRequest
}

// NewPollService creates a PollService. interval <= 0 disables scheduled
// fetches; manual refreshes still run.
func NewPollService(branches *BranchService, interval time.Duration) *PollService {
	return &PollService{
		branches: branches,
		interval: interval,
		requests: make(chan loadRequest),
	}
}

// Start runs an immediate fetch, then fetches on the configured interval and
// serves refresh requests. Scheduled fetches go through the cache, so they
// only reach the API once entries have expired. Start blocks until the
// context is canceled.
func (s *PollService) Start(ctx context.Context) {
	if _, err := s.branches.Fetch(ctx); err != nil {
		slog.Error("initial fetch failed", "error", err)
	}

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("poll service stopped")
			return
		case <-tick:
			if _, err := s.branches.Fetch(ctx); err != nil {
				slog.Error("scheduled fetch failed", "error", err)
			}
		case req := <-s.requests:
			var res loadResult
			if req.refresh {
				res.snap, res.err = s.branches.Refresh(ctx)
			} else {
				res.snap, res.err = s.branches.Load(ctx)
			}
			req.done <- res
		}
	}
}

// Load asks the poll loop for the current snapshot, fetching one when none
// exists yet. It blocks until the loop answers or ctx is canceled.
func (s *PollService) Load(ctx context.Context) (*Snapshot, error) {
	return s.send(ctx, false)
}

// Refresh asks the poll loop to clear the cache and reload everything. It
// blocks until the refresh completes or ctx is canceled.
func (s *PollService) Refresh(ctx context.Context) (*Snapshot, error) {
	return s.send(ctx, true)
}

func (s *PollService) send(ctx context.Context, refresh bool) (*Snapshot, error) {
	done := make(chan loadResult, 1)

	select {
	case s.requests <- loadRequest{refresh: refresh, done: done}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-done:
		return res.snap, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
