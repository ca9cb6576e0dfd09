package httphandler_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/branchpanel/internal/adapter/driven/memory"
	httphandler "github.com/ericfisherdev/branchpanel/internal/adapter/driving/http"
	"github.com/ericfisherdev/branchpanel/internal/application"
	"github.com/ericfisherdev/branchpanel/internal/domain/model"
	"github.com/ericfisherdev/branchpanel/internal/domain/port/driven"
)

// --- Mock implementations ---

type mockClient struct {
	mu         sync.Mutex
	configured bool
	repos      []model.Repository
	branches   map[string][]model.Branch
	err        error
	calls      int
}

func (m *mockClient) IsConfigured() bool { return m.configured }

func (m *mockClient) GetRepositories(_ context.Context) ([]model.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if !m.configured {
		return nil, driven.ErrNotConfigured
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.repos, nil
}

func (m *mockClient) GetBranches(_ context.Context, slug string) ([]model.Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.branches[slug], nil
}

type mockRates struct{}

func (mockRates) RateLimitStatus() model.RateLimitInfo {
	return model.RateLimitInfo{Limit: 1000, Remaining: 200, Resource: "api", NearLimit: true}
}
func (mockRates) IsNearRateLimit() bool { return true }
func (mockRates) TimeUntilReset() time.Duration { return 90 * time.Second }

func daysAgo(days int) string {
	return time.Now().AddDate(0, 0, -days).UTC().Format(time.RFC3339)
}

func fixtureClient() *mockClient {
	alice := model.CommitAuthor{User: &model.User{DisplayName: "Alice"}}
	bob := model.CommitAuthor{Raw: "Bob"}
	mk := func(repo, slug, name string, age int, author model.CommitAuthor) model.Branch {
		return model.Branch{
			Name:           name,
			RepositorySlug: slug,
			Target:         model.Commit{Hash: name + "-sha", Date: daysAgo(age), RepositoryName: repo, Author: author},
			Links:          model.BranchLinks{HTML: "https://bitbucket.org/acme/" + slug + "/branch/" + name},
		}
	}

	return &mockClient{
		configured: true,
		repos: []model.Repository{
			{Name: "web", Slug: "web", FullName: "acme/web"},
			{Name: "api", Slug: "api", FullName: "acme/api"},
		},
		branches: map[string][]model.Branch{
			"web": {
				mk("web", "web", "master", 400, alice),
				mk("web", "web", "feature/old", 90, bob),
				mk("web", "web", "feature/new", 1, bob),
				mk("web", "web", "v1.2", 500, alice),
			},
			"api": {
				mk("api", "api", "develop", 3, alice),
			},
		},
	}
}

func setupMux(client *mockClient, rates driven.RateLimitReporter) http.Handler {
	cache := application.NewCache(memory.NewStore(), time.Minute)
	svc := application.NewBranchService(client, cache, "acme", 4)
	h := httphandler.NewHandler(svc, nil, application.NewStalenessEvaluator(nil), rates, 30, "environment", slog.Default())
	return httphandler.NewServeMux(h, slog.Default())
}

func serve(mux http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	err := json.NewDecoder(rec.Body).Decode(v)
	require.NoError(t, err)
}

// --- Tests ---

func TestListRepositories(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		wantNames []string
	}{
		{"default name order", "/api/v1/repositories", []string{"api", "web"}},
		{"branch count order", "/api/v1/repositories?sort=branches", []string{"web", "api"}},
		{"filtered", "/api/v1/repositories?q=WE", []string{"web"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(setupMux(fixtureClient(), nil), http.MethodGet, tt.target)

			assert.Equal(t, http.StatusOK, rec.Code)

			var resp []httphandler.RepositoryResponse
			decodeJSON(t, rec, &resp)
			got := make([]string, len(resp))
			for i, r := range resp {
				got[i] = r.Name
			}
			assert.Equal(t, tt.wantNames, got)
		})
	}
}

func TestListRepositories_BranchCount(t *testing.T) {
	rec := serve(setupMux(fixtureClient(), nil), http.MethodGet, "/api/v1/repositories?sort=branches")

	var resp []httphandler.RepositoryResponse
	decodeJSON(t, rec, &resp)
	require.Len(t, resp, 2)
	assert.Equal(t, 4, resp[0].BranchCount)
	assert.Equal(t, "acme/web", resp[0].FullName)
}

func TestListBranches(t *testing.T) {
	rec := serve(setupMux(fixtureClient(), nil), http.MethodGet, "/api/v1/branches")

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp []httphandler.BranchResponse
	decodeJSON(t, rec, &resp)
	require.Len(t, resp, 5)

	order := make([]string, len(resp))
	stale := map[string]bool{}
	for i, b := range resp {
		order[i] = b.Name
		stale[b.Name] = b.Stale
	}
	assert.Equal(t, []string{"feature/new", "develop", "feature/old", "master", "v1.2"}, order)
	assert.True(t, stale["feature/old"])
	assert.False(t, stale["feature/new"])
	assert.False(t, stale["master"])
	assert.False(t, stale["v1.2"])

	assert.Equal(t, "Bob", resp[0].Author)
	assert.Equal(t, "web", resp[0].Repository)
	assert.Equal(t, "integration", resp[0].Class)
	assert.Equal(t, "version", resp[4].Class)
}

func TestListBranches_FilterMatchesRepository(t *testing.T) {
	rec := serve(setupMux(fixtureClient(), nil), http.MethodGet, "/api/v1/branches?q=api")

	var resp []httphandler.BranchResponse
	decodeJSON(t, rec, &resp)
	require.Len(t, resp, 1)
	assert.Equal(t, "develop", resp[0].Name)
}

func TestListRepositoryBranches(t *testing.T) {
	rec := serve(setupMux(fixtureClient(), nil), http.MethodGet, "/api/v1/repositories/web/branches")

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp httphandler.RepositoryBranchesResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "web", resp.Repository)
	assert.Equal(t, 4, resp.BranchCount)
	require.Len(t, resp.Contributors, 2)

	// Equal counts tie-break on author name.
	assert.Equal(t, "Alice", resp.Contributors[0].Author)
	assert.Equal(t, "master", resp.Contributors[0].Branches[0].Name)
	assert.Equal(t, "v1.2", resp.Contributors[0].Branches[1].Name)

	assert.Equal(t, "Bob", resp.Contributors[1].Author)
	assert.Equal(t, "feature/new", resp.Contributors[1].Branches[0].Name)
	assert.True(t, resp.Contributors[1].Branches[1].Stale)
}

func TestListRepositoryBranches_NotFound(t *testing.T) {
	rec := serve(setupMux(fixtureClient(), nil), http.MethodGet, "/api/v1/repositories/nope/branches")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGrouped(t *testing.T) {
	rec := serve(setupMux(fixtureClient(), nil), http.MethodGet, "/api/v1/grouped")

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]map[string][]httphandler.BranchResponse
	decodeJSON(t, rec, &resp)
	assert.Len(t, resp["web"]["Bob"], 2)
	assert.Len(t, resp["web"]["Alice"], 2)
	assert.Len(t, resp["api"]["Alice"], 1)
}

func TestRefresh(t *testing.T) {
	client := fixtureClient()
	mux := setupMux(client, nil)

	rec := serve(mux, http.MethodPost, "/api/v1/refresh")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp httphandler.RefreshResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, 2, resp.Repositories)
	assert.Equal(t, 5, resp.Branches)
	assert.NotEmpty(t, resp.FetchedAt)

	before := client.calls
	serve(mux, http.MethodPost, "/api/v1/refresh")
	assert.Equal(t, before*2, client.calls)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name       string
		client     *mockClient
		wantStatus int
	}{
		{
			name:       "not configured",
			client:     &mockClient{},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "upstream failure",
			client:     &mockClient{configured: true, err: &driven.HTTPError{StatusCode: 500, Status: "Internal Server Error"}},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "rate limited",
			client:     &mockClient{configured: true, err: driven.ErrRateLimitExceeded},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := setupMux(tt.client, nil)

			for _, target := range []string{"/api/v1/repositories", "/api/v1/branches", "/api/v1/grouped"} {
				rec := serve(mux, http.MethodGet, target)
				assert.Equal(t, tt.wantStatus, rec.Code, target)

				var resp map[string]string
				decodeJSON(t, rec, &resp)
				assert.NotEmpty(t, resp["error"])
			}

			rec := serve(mux, http.MethodPost, "/api/v1/refresh")
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestLoadErrors_RetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		rates driven.RateLimitReporter
		want  string
	}{
		{"rate limited uses reset window", driven.ErrRateLimitExceeded, mockRates{}, "90"},
		{"rate limited without reporter", driven.ErrRateLimitExceeded, nil, "5"},
		{"server error", &driven.HTTPError{StatusCode: 503, Status: "Service Unavailable"}, mockRates{}, "5"},
		{"client error has no hint", &driven.HTTPError{StatusCode: 403, Status: "Forbidden"}, mockRates{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := setupMux(&mockClient{configured: true, err: tt.err}, tt.rates)

			rec := serve(mux, http.MethodGet, "/api/v1/repositories")

			assert.Equal(t, http.StatusBadGateway, rec.Code)
			assert.Equal(t, tt.want, rec.Header().Get("Retry-After"))
		})
	}
}

func TestStatus(t *testing.T) {
	mux := setupMux(fixtureClient(), mockRates{})
	serve(mux, http.MethodPost, "/api/v1/refresh")

	rec := serve(mux, http.MethodGet, "/api/v1/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(),
		`"rate_limit":{"limit":1000,"remaining":200,"reset_time":"","resource":"api","near_limit":true}`)

	var resp httphandler.StatusResponse
	decodeJSON(t, rec, &resp)
	assert.False(t, resp.Loading)
	assert.Empty(t, resp.Error)
	assert.True(t, resp.Configured)
	assert.Equal(t, "environment", resp.ConfigSource)
	assert.Equal(t, "acme", resp.Workspace)
	assert.NotEmpty(t, resp.FetchedAt)
	require.NotNil(t, resp.RateLimit)
	assert.Equal(t, 1000, resp.RateLimit.Limit)
	assert.True(t, resp.NearRateLimit)
	assert.Equal(t, int64(90), resp.SecondsUntilReset)
}

func TestStatus_NoRateReporter(t *testing.T) {
	rec := serve(setupMux(&mockClient{}, nil), http.MethodGet, "/api/v1/status")

	var resp httphandler.StatusResponse
	decodeJSON(t, rec, &resp)
	assert.False(t, resp.Configured)
	assert.Nil(t, resp.RateLimit)
}

func TestHealth(t *testing.T) {
	rec := serve(setupMux(&mockClient{}, nil), http.MethodGet, "/api/v1/health")

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, resp["time"])
}

func TestRequestID(t *testing.T) {
	mux := setupMux(&mockClient{}, nil)

	rec := serve(mux, http.MethodGet, "/api/v1/health")
	assert.Len(t, rec.Header().Get("X-Request-Id"), 36)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-Id"))
}

func TestRefresh_ThroughPollService(t *testing.T) {
	client := fixtureClient()
	cache := application.NewCache(memory.NewStore(), time.Minute)
	svc := application.NewBranchService(client, cache, "acme", 4)
	poller := application.NewPollService(svc, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		poller.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	h := httphandler.NewHandler(svc, poller, application.NewStalenessEvaluator(nil), nil, 30, "environment", slog.Default())
	rec := serve(httphandler.NewServeMux(h, slog.Default()), http.MethodPost, "/api/v1/refresh")

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp httphandler.RefreshResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, 5, resp.Branches)
}

// countingLoader delegates to a BranchService and counts calls.
type countingLoader struct {
	svc      *application.BranchService
	loads    int
	refreshes int
}

func (l *countingLoader) Load(ctx context.Context) (*application.Snapshot, error) {
	l.loads++
	return l.svc.Load(ctx)
}

func (l *countingLoader) Refresh(ctx context.Context) (*application.Snapshot, error) {
	l.refreshes++
	return l.svc.Refresh(ctx)
}

func TestColdRequest_LoadsThroughLoader(t *testing.T) {
	client := fixtureClient()
	cache := application.NewCache(memory.NewStore(), time.Minute)
	svc := application.NewBranchService(client, cache, "acme", 4)
	loader := &countingLoader{svc: svc}

	h := httphandler.NewHandler(svc, loader, application.NewStalenessEvaluator(nil), nil, 30, "environment", slog.Default())
	mux := httphandler.NewServeMux(h, slog.Default())

	rec := serve(mux, http.MethodGet, "/api/v1/repositories")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, loader.loads)

	// Once a snapshot exists, reads are served without asking the loader.
	rec = serve(mux, http.MethodGet, "/api/v1/branches")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, loader.loads)

	rec = serve(mux, http.MethodPost, "/api/v1/refresh")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, loader.refreshes)
}
