package application

import (
	"cmp"
	"regexp"
	"slices"
	"strings"

	"github.com/ericfisherdev/branchpanel/internal/domain/model"
)

// BranchClass is the display tier of a branch name. Lower classes sort first.
type BranchClass int

const (
	// ClassPrimary is the primary branch ("master").
	ClassPrimary BranchClass = iota
	// ClassIntegration covers develop* and every other non-version branch.
	ClassIntegration
	// ClassVersion covers version and release branches.
	ClassVersion
)

// primaryBranch is the only name placed in ClassPrimary. "main" is exempt from
// staleness but sorts with ordinary branches.
const primaryBranch = "master"

var (
	// versionSortPattern decides ClassVersion. It is stricter than the
	// staleness exemption pattern: nested versions/<name>/v<ver> paths do not
	// match here.
	versionSortPattern = regexp.MustCompile(`^(v|versions/|release/)?\d+(\.\d+)*(-[\w\d]+)?$`)

	// versionNumberPattern extracts the first dotted numeric sequence.
	versionNumberPattern = regexp.MustCompile(`(\d+(\.\d+)*)(-[\w\d]+)?`)
)

// String returns a human-readable name for the class.
func (c BranchClass) String() string {
	switch c {
	case ClassPrimary:
		return "primary"
	case ClassIntegration:
		return "integration"
	case ClassVersion:
		return "version"
	default:
		return "unknown"
	}
}

// ClassifyBranch assigns the display class of a branch name.
func ClassifyBranch(name string) BranchClass {
	switch {
	case versionSortPattern.MatchString(name):
		return ClassVersion
	case name == primaryBranch:
		return ClassPrimary
	default:
		return ClassIntegration
	}
}

// SortBranches returns a copy of branches in display order: primary first,
// then integration and feature branches newest commit first, then version
// branches in ascending version order. Ties keep their input order.
func SortBranches(branches []model.Branch) []model.Branch {
	sorted := slices.Clone(branches)
	slices.SortStableFunc(sorted, CompareBranches)
	return sorted
}

// CompareBranches is the comparison used by SortBranches.
func CompareBranches(a, b model.Branch) int {
	classA, classB := ClassifyBranch(a.Name), ClassifyBranch(b.Name)
	if classA != classB {
		return cmp.Compare(classA, classB)
	}

	if classA == ClassVersion {
		va, vb := extractVersion(a.Name), extractVersion(b.Name)
		if va != "" && vb != "" {
			if c := compareVersions(va, vb); c != 0 {
				return c
			}
		}
		return strings.Compare(a.Name, b.Name)
	}

	// ISO-8601 dates in one offset order correctly as text; newest first.
	return strings.Compare(b.Target.Date, a.Target.Date)
}

// extractVersion returns the first dotted numeric sequence in name, or "".
func extractVersion(name string) string {
	m := versionNumberPattern.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	return m[1]
}

// compareVersions compares dotted numeric versions component-wise. Missing
// trailing components count as zero, so "2" equals "2.0".
func compareVersions(a, b string) int {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	for i := range max(len(pa), len(pb)) {
		na, nb := "0", "0"
		if i < len(pa) {
			na = pa[i]
		}
		if i < len(pb) {
			nb = pb[i]
		}
		if c := compareNumeric(na, nb); c != 0 {
			return c
		}
	}
	return 0
}

// compareNumeric compares two unsigned decimal strings of any length.
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if c := cmp.Compare(len(a), len(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// ContributorGroup is one contributor's branches within a repository.
type ContributorGroup struct {
	Author   string
	Branches []model.Branch
}

// ContributorGroups orders a repository's contributor map by branch count,
// largest first, with author name as the tie-break. Each group's branches are
// in SortBranches order.
func ContributorGroups(byAuthor map[string][]model.Branch) []ContributorGroup {
	groups := make([]ContributorGroup, 0, len(byAuthor))
	for author, branches := range byAuthor {
		groups = append(groups, ContributorGroup{Author: author, Branches: SortBranches(branches)})
	}

	slices.SortFunc(groups, func(a, b ContributorGroup) int {
		if c := cmp.Compare(len(b.Branches), len(a.Branches)); c != 0 {
			return c
		}
		return strings.Compare(a.Author, b.Author)
	})
	return groups
}

// RepoSortKey selects the repository list ordering.
type RepoSortKey string

const (
	// SortByName orders repositories alphabetically, case-insensitively.
	SortByName RepoSortKey = "name"
	// SortByBranchCount orders repositories by branch count, largest first.
	SortByBranchCount RepoSortKey = "branches"
)

// ParseRepoSortKey maps a query value to a RepoSortKey, defaulting to SortByName.
func ParseRepoSortKey(s string) RepoSortKey {
	if RepoSortKey(strings.ToLower(s)) == SortByBranchCount {
		return SortByBranchCount
	}
	return SortByName
}

// SortRepositories returns a copy of repos ordered by key. counts maps
// repository name to branch count; missing names count as zero.
func SortRepositories(repos []model.Repository, counts map[string]int, key RepoSortKey) []model.Repository {
	sorted := slices.Clone(repos)

	byName := func(a, b model.Repository) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	}

	if key == SortByBranchCount {
		slices.SortStableFunc(sorted, func(a, b model.Repository) int {
			if c := cmp.Compare(counts[b.Name], counts[a.Name]); c != 0 {
				return c
			}
			return byName(a, b)
		})
		return sorted
	}

	slices.SortStableFunc(sorted, byName)
	return sorted
}

// FilterBranches keeps branches whose name or author contains term, case
// insensitively. includeRepository also matches the repository name. An empty
// term keeps everything.
func FilterBranches(branches []model.Branch, term string, includeRepository bool) []model.Branch {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return branches
	}

	filtered := make([]model.Branch, 0, len(branches))
	for _, b := range branches {
		switch {
		case strings.Contains(strings.ToLower(b.Name), term),
			strings.Contains(strings.ToLower(b.AuthorName()), term),
			includeRepository && strings.Contains(strings.ToLower(b.Target.RepositoryName), term):
			filtered = append(filtered, b)
		}
	}
	return filtered
}

// FilterRepositories keeps repositories whose name contains term, case insensitively.
func FilterRepositories(repos []model.Repository, term string) []model.Repository {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return repos
	}

	filtered := make([]model.Repository, 0, len(repos))
	for _, r := range repos {
		if strings.Contains(strings.ToLower(r.Name), term) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
