// Package httphandler is the HTTP driving adapter that serves the branch API.
package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/branchpanel/internal/application"
	"github.com/ericfisherdev/branchpanel/internal/domain/model"
	"github.com/ericfisherdev/branchpanel/internal/domain/port/driven"
)

// Loader produces snapshots: Load returns the current one, fetching it on
// first use; Refresh reloads bypassing every cache.
type Loader interface {
	Load(ctx context.Context) (*application.Snapshot, error)
	Refresh(ctx context.Context) (*application.Snapshot, error)
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	branchSvc    *application.BranchService
	loader       Loader
	staleness    *application.StalenessEvaluator
	rates        driven.RateLimitReporter
	staleDays    int
	configSource string
	logger       *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. A nil loader
// loads through branchSvc directly; rates may be nil when no client is
// configured.
func NewHandler(
	branchSvc *application.BranchService,
	loader Loader,
	staleness *application.StalenessEvaluator,
	rates driven.RateLimitReporter,
	staleDays int,
	configSource string,
	logger *slog.Logger,
) *Handler {
	if loader == nil {
		loader = branchSvc
	}
	return &Handler{
		branchSvc:    branchSvc,
		loader:       loader,
		staleness:    staleness,
		rates:        rates,
		staleDays:    staleDays,
		configSource: configSource,
		logger:       logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with request id, logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/repositories", h.ListRepositories)
	mux.HandleFunc("GET /api/v1/repositories/{name}/branches", h.ListRepositoryBranches)
	mux.HandleFunc("GET /api/v1/branches", h.ListBranches)
	mux.HandleFunc("GET /api/v1/grouped", h.Grouped)
	mux.HandleFunc("POST /api/v1/refresh", h.Refresh)
	mux.HandleFunc("GET /api/v1/status", h.Status)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = requestIDMiddleware(wrapped)

	return wrapped
}

// snapshot returns the current snapshot, running a first fetch when none exists.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) (*application.Snapshot, bool) {
	if snap := h.branchSvc.Current(); snap != nil {
		return snap, true
	}

	snap, err := h.loader.Load(r.Context())
	if err != nil {
		h.writeLoadError(w, "failed to load branches", err)
		return nil, false
	}
	return snap, true
}

// writeLoadError maps a load failure to a response: 503 when the client is
// not configured, 502 for upstream failures. Transient upstream failures carry
// a Retry-After hint from the rate-limit window.
func (h *Handler) writeLoadError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, driven.ErrNotConfigured) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	h.logger.Error(msg, "error", err, "retryable", driven.IsRetryable(err))
	if driven.IsRetryable(err) {
		w.Header().Set("Retry-After", strconv.Itoa(h.retryAfterSeconds(err)))
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

// retryAfterSeconds suggests a client back-off: the time left in the rate
// limit window after a rate-limit failure, otherwise a short fixed delay.
func (h *Handler) retryAfterSeconds(err error) int {
	const fallback = 5
	if h.rates == nil || !errors.Is(err, driven.ErrRateLimitExceeded) {
		return fallback
	}
	if secs := int(h.rates.TimeUntilReset() / time.Second); secs > 0 {
		return secs
	}
	return fallback
}

// ListRepositories returns the workspace repositories with their branch
// counts, filtered by ?q= and ordered by ?sort=name|branches.
func (h *Handler) ListRepositories(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}

	counts := snap.BranchCounts()
	repos := application.FilterRepositories(snap.Repositories, r.URL.Query().Get("q"))
	repos = application.SortRepositories(repos, counts, application.ParseRepoSortKey(r.URL.Query().Get("sort")))

	resp := make([]RepositoryResponse, 0, len(repos))
	for _, repo := range repos {
		resp = append(resp, NewRepositoryResponse(repo, counts[repo.Name]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListBranches returns every branch across the workspace, newest commit first,
// filtered by ?q= on branch, author or repository name.
func (h *Handler) ListBranches(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}

	branches := application.FilterBranches(snap.FlatBranches(), r.URL.Query().Get("q"), true)
	branches = slices.Clone(branches)
	slices.SortStableFunc(branches, func(a, b model.Branch) int {
		return strings.Compare(b.Target.Date, a.Target.Date)
	})

	stale := h.staleness.StaleFlags(r.Context(), branches, h.staleDays)
	writeJSON(w, http.StatusOK, NewBranchResponses(branches, stale))
}

// ListRepositoryBranches returns one repository's branches grouped by
// contributor, largest group first, branches in display order.
func (h *Handler) ListRepositoryBranches(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}

	name := r.PathValue("name")
	repoBranches, found := snap.Branches[name]
	if !found {
		writeError(w, http.StatusNotFound, "repository not found")
		return
	}

	filtered := application.FilterBranches(repoBranches, r.URL.Query().Get("q"), false)
	byAuthor := make(map[string][]model.Branch)
	for _, b := range filtered {
		byAuthor[b.AuthorName()] = append(byAuthor[b.AuthorName()], b)
	}

	groups := application.ContributorGroups(byAuthor)
	contributors := make([]ContributorGroupResponse, 0, len(groups))
	for _, g := range groups {
		stale := h.staleness.StaleFlags(r.Context(), g.Branches, h.staleDays)
		contributors = append(contributors, NewContributorGroupResponse(g, stale))
	}

	writeJSON(w, http.StatusOK, RepositoryBranchesResponse{
		Repository:   name,
		BranchCount:  len(filtered),
		Contributors: contributors,
	})
}

// Grouped returns the repository -> contributor -> branches map of the
// current snapshot. Branches within each group are in display order.
func (h *Handler) Grouped(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}

	resp := make(map[string]map[string][]BranchResponse, len(snap.Grouped))
	for repo, byAuthor := range snap.Grouped {
		authors := make(map[string][]BranchResponse, len(byAuthor))
		for author, branches := range byAuthor {
			authors[author] = NewBranchResponses(application.SortBranches(branches), nil)
		}
		resp[repo] = authors
	}

	writeJSON(w, http.StatusOK, resp)
}

// Refresh clears the cache and reloads everything from the API.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	snap, err := h.loader.Refresh(r.Context())
	if err != nil {
		h.writeLoadError(w, "refresh failed", err)
		return
	}

	writeJSON(w, http.StatusOK, RefreshResponse{
		Repositories: len(snap.Repositories),
		Branches:     len(snap.FlatBranches()),
		FetchedAt:    formatTime(snap.FetchedAt),
	})
}

// Status returns the loader state and the rate-limit estimate.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	status := h.branchSvc.Status()

	resp := StatusResponse{
		Loading:      status.Loading,
		Error:        status.Error,
		Configured:   status.Configured,
		ConfigSource: h.configSource,
		Workspace:    h.branchSvc.Workspace(),
		FetchedAt:    formatTime(status.FetchedAt),
	}

	if h.rates != nil {
		info := NewRateLimitResponse(h.rates.RateLimitStatus())
		resp.RateLimit = &info
		resp.NearRateLimit = h.rates.IsNearRateLimit()
		resp.SecondsUntilReset = int64(h.rates.TimeUntilReset() / time.Second)
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}
