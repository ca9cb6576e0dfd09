package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/branchpanel/internal/application"
	"github.com/ericfisherdev/branchpanel/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// RepositoryResponse is the JSON representation of a repository.
type RepositoryResponse struct {
	Name            string `json:"name"`
	Slug            string `json:"slug"`
	FullName        string `json:"full_name"`
	Description     string `json:"description"`
	DescriptionHTML string `json:"description_html"`
	IsPrivate       bool   `json:"is_private"`
	MainBranch      string `json:"main_branch"`
	Project         string `json:"project"`
	URL             string `json:"url"`
	UpdatedOn       string `json:"updated_on"`
	BranchCount     int    `json:"branch_count"`
}

// BranchResponse is the JSON representation of a branch head.
type BranchResponse struct {
	Name           string `json:"name"`
	Repository     string `json:"repository"`
	RepositorySlug string `json:"repository_slug"`
	Author         string `json:"author"`
	CommitHash     string `json:"commit_hash"`
	CommitDate     string `json:"commit_date"`
	CommitURL      string `json:"commit_url"`
	URL            string `json:"url"`
	Class          string `json:"class"`
	Stale          bool   `json:"stale"`
}

// ContributorGroupResponse is one contributor's branches within a repository.
type ContributorGroupResponse struct {
	Author      string           `json:"author"`
	BranchCount int              `json:"branch_count"`
	Branches    []BranchResponse `json:"branches"`
}

// RepositoryBranchesResponse lists a repository's branches by contributor.
type RepositoryBranchesResponse struct {
	Repository   string                     `json:"repository"`
	BranchCount  int                        `json:"branch_count"`
	Contributors []ContributorGroupResponse `json:"contributors"`
}

// RefreshResponse summarizes the snapshot produced by a refresh.
type RefreshResponse struct {
	Repositories int    `json:"repositories"`
	Branches     int    `json:"branches"`
	FetchedAt    string `json:"fetched_at"`
}

// StatusResponse is the JSON representation of the loader state.
type StatusResponse struct {
	Loading           bool               `json:"loading"`
	Error             string             `json:"error,omitempty"`
	Configured        bool               `json:"configured"`
	ConfigSource      string             `json:"config_source"`
	Workspace         string             `json:"workspace"`
	FetchedAt         string             `json:"fetched_at,omitempty"`
	RateLimit         *RateLimitResponse `json:"rate_limit,omitempty"`
	NearRateLimit     bool               `json:"near_rate_limit"`
	SecondsUntilReset int64              `json:"seconds_until_reset"`
}

// RateLimitResponse is the JSON representation of the rate-limit estimate.
type RateLimitResponse struct {
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	ResetTime string `json:"reset_time"`
	Resource  string `json:"resource"`
	NearLimit bool   `json:"near_limit"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// NewRepositoryResponse converts a domain Repository to its JSON representation.
func NewRepositoryResponse(repo model.Repository, branchCount int) RepositoryResponse {
	return RepositoryResponse{
		Name:            repo.Name,
		Slug:            repo.Slug,
		FullName:        repo.FullName,
		Description:     repo.Description,
		DescriptionHTML: renderDescription(repo.Description),
		IsPrivate:       repo.IsPrivate,
		MainBranch:      repo.MainBranch,
		Project:         repo.Project.Name,
		URL:             repo.Links.HTML,
		UpdatedOn:       repo.UpdatedOn,
		BranchCount:     branchCount,
	}
}

// NewBranchResponse converts a domain Branch to its JSON representation.
func NewBranchResponse(b model.Branch, stale bool) BranchResponse {
	return BranchResponse{
		Name:           b.Name,
		Repository:     b.Target.RepositoryName,
		RepositorySlug: b.RepositorySlug,
		Author:         b.AuthorName(),
		CommitHash:     b.Target.Hash,
		CommitDate:     b.Target.Date,
		CommitURL:      b.Target.HTMLURL,
		URL:            b.Links.HTML,
		Class:          application.ClassifyBranch(b.Name).String(),
		Stale:          stale,
	}
}

// NewBranchResponses converts branches paired with their stale flags. Missing
// flags count as not stale.
func NewBranchResponses(branches []model.Branch, stale []bool) []BranchResponse {
	resp := make([]BranchResponse, 0, len(branches))
	for i, b := range branches {
		resp = append(resp, NewBranchResponse(b, i < len(stale) && stale[i]))
	}
	return resp
}

// NewContributorGroupResponse converts a contributor group; stale pairs with
// g.Branches.
func NewContributorGroupResponse(g application.ContributorGroup, stale []bool) ContributorGroupResponse {
	return ContributorGroupResponse{
		Author:      g.Author,
		BranchCount: len(g.Branches),
		Branches:    NewBranchResponses(g.Branches, stale),
	}
}

// NewRateLimitResponse converts the rate-limit estimate.
func NewRateLimitResponse(info model.RateLimitInfo) RateLimitResponse {
	return RateLimitResponse{
		Limit:     info.Limit,
		Remaining: info.Remaining,
		ResetTime: formatTime(info.ResetTime),
		Resource:  info.Resource,
		NearLimit: info.NearLimit,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
