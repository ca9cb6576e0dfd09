package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/ericfisherdev/branchpanel/internal/application"
	"github.com/ericfisherdev/branchpanel/internal/domain/model"
)

func renderRepositories(w io.Writer, repos []model.Repository, counts map[string]int) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Repository", "Branches", "Main Branch", "Project", "Updated"})
	for _, r := range repos {
		table.Append([]string{
			r.Name,
			strconv.Itoa(counts[r.Name]),
			r.MainBranch,
			r.Project.Name,
			shortDate(r.UpdatedOn),
		})
	}
	table.Render()
}

// renderBranches prints one row per branch. stale may be nil or shorter than
// branches; missing flags print as not stale.
func renderBranches(w io.Writer, branches []model.Branch, stale []bool) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Repository", "Branch", "Author", "Last Commit", "Stale"})
	for i, b := range branches {
		table.Append([]string{
			b.Target.RepositoryName,
			b.Name,
			b.AuthorName(),
			shortDate(b.Target.Date),
			staleMark(i < len(stale) && stale[i]),
		})
	}
	table.Render()
}

func renderContributor(w io.Writer, g application.ContributorGroup, stale []bool) {
	fmt.Fprintf(w, "\n%s (%d)\n", g.Author, len(g.Branches))

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Branch", "Class", "Last Commit", "Stale"})
	for i, b := range g.Branches {
		table.Append([]string{
			b.Name,
			application.ClassifyBranch(b.Name).String(),
			shortDate(b.Target.Date),
			staleMark(i < len(stale) && stale[i]),
		})
	}
	table.Render()
}

func renderRateLimit(w io.Writer, info model.RateLimitInfo) {
	fmt.Fprintf(w, "Rate limit: ~%d of %d remaining (%s), resets %s\n",
		info.Remaining, info.Limit, info.Resource, info.ResetTime.Local().Format(time.Kitchen))
}

// shortDate trims an ISO-8601 timestamp to its date, leaving other text as is.
func shortDate(s string) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.UTC().Format(time.DateOnly)
}

func staleMark(stale bool) string {
	if stale {
		return "yes"
	}
	return ""
}
