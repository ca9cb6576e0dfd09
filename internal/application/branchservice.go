// Package application contains use-case orchestration services.
package application

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/branchpanel/internal/domain/model"
	"github.com/ericfisherdev/branchpanel/internal/domain/port/driven"
)

const defaultFetchConcurrency = 8

// Snapshot is the result of one full fetch cycle. It is replaced, never
// patched, by the next cycle.
type Snapshot struct {
	Repositories []model.Repository
	// Branches maps repository name to its branches.
	Branches  map[string][]model.Branch
	Grouped   model.GroupedBranches
	FetchedAt time.Time
}

// BranchCounts returns the number of branches per repository name.
func (s *Snapshot) BranchCounts() map[string]int {
	counts := make(map[string]int, len(s.Branches))
	for name, branches := range s.Branches {
		counts[name] = len(branches)
	}
	return counts
}

// FlatBranches returns every branch of the snapshot, repositories in name order.
func (s *Snapshot) FlatBranches() []model.Branch {
	return Flatten(s.Branches)
}

// LoadStatus is the loading/error pair exposed to presentation code.
type LoadStatus struct {
	Loading    bool
	Error      string
	Configured bool
	FetchedAt  time.Time
}

// BranchService loads repositories and branches through the cache, fanning
// branch fetches out across repositories. One repository failing to load
// yields an empty branch list for it rather than failing the whole load.
type BranchService struct {
	client      driven.BitbucketClient
	cache       *Cache
	workspace   string
	concurrency int

	mu       sync.RWMutex
	snapshot *Snapshot
	inflight int
	lastErr  error
	now      func() time.Time
}

// NewBranchService creates a BranchService. concurrency bounds in-flight
// branch fetches; <= 0 uses the default.
func NewBranchService(client driven.BitbucketClient, cache *Cache, workspace string, concurrency int) *BranchService {
	if concurrency <= 0 {
		concurrency = defaultFetchConcurrency
	}
	return &BranchService{
		client:      client,
		cache:       cache,
		workspace:   workspace,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// LoadRepositories returns the workspace's repositories, from cache when fresh.
func (s *BranchService) LoadRepositories(ctx context.Context) ([]model.Repository, error) {
	key := CacheKey(s.workspace, ResourceRepositories)

	if repos, ok := CacheGet[[]model.Repository](ctx, s.cache, key); ok {
		slog.Debug("cache hit", "key", key, "count", len(repos))
		return repos, nil
	}

	repos, err := s.client.GetRepositories(ctx)
	if err != nil {
		return nil, err
	}

	CacheSet(ctx, s.cache, key, repos)
	return repos, nil
}

// LoadBranches returns one repository's branches, from cache when fresh.
func (s *BranchService) LoadBranches(ctx context.Context, repoSlug string) ([]model.Branch, error) {
	key := CacheKey(s.workspace, BranchesResource(repoSlug))

	if branches, ok := CacheGet[[]model.Branch](ctx, s.cache, key); ok {
		slog.Debug("cache hit", "key", key, "count", len(branches))
		return branches, nil
	}

	branches, err := s.client.GetBranches(ctx, repoSlug)
	if err != nil {
		return nil, err
	}

	CacheSet(ctx, s.cache, key, branches)
	return branches, nil
}

// LoadAll prunes expired cache entries once, then loads every repository's
// branches concurrently. The result is keyed by repository name. Per-repository
// failures are logged and mapped to an empty slice; only cancellation of ctx
// is returned as an error.
func (s *BranchService) LoadAll(ctx context.Context, repos []model.Repository) (map[string][]model.Branch, error) {
	if n := s.cache.ClearExpired(ctx, CachePrefix(s.workspace)); n > 0 {
		slog.Debug("pruned expired cache entries", "count", n)
	}

	var (
		mu     sync.Mutex
		result = make(map[string][]model.Branch, len(repos))
		failed int
	)

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for _, repo := range repos {
		g.Go(func() error {
			branches, err := s.LoadBranches(ctx, repo.Slug)
			if err != nil {
				slog.Error("failed to load branches", "repo", repo.Name, "error", err)
				branches = []model.Branch{}
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
			}
			result[repo.Name] = branches
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if failed > 0 {
		slog.Warn("some repositories failed to load", "failed", failed, "repos", len(repos))
	}

	return result, nil
}

// Fetch runs a full load cycle: repositories, then all branches, then the
// contributor grouping. On success the snapshot replaces the current one; on
// failure the previous snapshot is kept and the error is recorded in Status.
func (s *BranchService) Fetch(ctx context.Context) (*Snapshot, error) {
	s.begin()

	snap, err := s.fetch(ctx)

	s.finish(snap, err)
	return snap, err
}

// Load returns the current snapshot, running a Fetch when there is none yet.
func (s *BranchService) Load(ctx context.Context) (*Snapshot, error) {
	if snap := s.Current(); snap != nil {
		return snap, nil
	}
	return s.Fetch(ctx)
}

// Refresh clears every cached entry of the workspace and runs a full load, so
// every repository and branch list is fetched from the API again. The load
// context carries driven.WithCacheBypass so transport-level caches are
// skipped as well.
func (s *BranchService) Refresh(ctx context.Context) (*Snapshot, error) {
	n := s.cache.ClearAll(ctx, CachePrefix(s.workspace))
	slog.Info("cache cleared for refresh", "workspace", s.workspace, "entries", n)

	return s.Fetch(driven.WithCacheBypass(ctx))
}

// Current returns the last successful snapshot, or nil before the first one.
func (s *BranchService) Current() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Status returns the loading/error state of the service.
func (s *BranchService) Status() LoadStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := LoadStatus{
		Loading:    s.inflight > 0,
		Configured: s.client.IsConfigured(),
	}
	if s.lastErr != nil {
		status.Error = s.lastErr.Error()
	}
	if s.snapshot != nil {
		status.FetchedAt = s.snapshot.FetchedAt
	}
	return status
}

// Workspace returns the workspace the service loads.
func (s *BranchService) Workspace() string {
	return s.workspace
}

func (s *BranchService) fetch(ctx context.Context) (*Snapshot, error) {
	start := s.now()

	repos, err := s.LoadRepositories(ctx)
	if err != nil {
		return nil, err
	}

	branches, err := s.LoadAll(ctx, repos)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Repositories: repos,
		Branches:     branches,
		Grouped:      GroupByContributor(branches),
		FetchedAt:    s.now(),
	}

	slog.Info("fetch complete",
		"workspace", s.workspace,
		"repos", len(repos),
		"branches", len(snap.FlatBranches()),
		"duration", s.now().Sub(start).Round(time.Millisecond),
	)

	return snap, nil
}

func (s *BranchService) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight++
}

func (s *BranchService) finish(snap *Snapshot, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inflight--
	s.lastErr = err
	if err == nil {
		s.snapshot = snap
	}
}

// GroupByContributor builds the repository -> contributor -> branches map.
// Branches keep their input order within each contributor.
func GroupByContributor(branches map[string][]model.Branch) model.GroupedBranches {
	grouped := make(model.GroupedBranches, len(branches))

	for repoName, repoBranches := range branches {
		byAuthor := make(map[string][]model.Branch)
		for _, b := range repoBranches {
			author := b.AuthorName()
			byAuthor[author] = append(byAuthor[author], b)
		}
		grouped[repoName] = byAuthor
	}

	return grouped
}

// Flatten concatenates per-repository branch lists, repositories in name order.
func Flatten(branches map[string][]model.Branch) []model.Branch {
	names := make([]string, 0, len(branches))
	total := 0
	for name, bs := range branches {
		names = append(names, name)
		total += len(bs)
	}
	slices.Sort(names)

	flat := make([]model.Branch, 0, total)
	for _, name := range names {
		flat = append(flat, branches[name]...)
	}
	return flat
}
