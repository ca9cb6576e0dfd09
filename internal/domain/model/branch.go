package model

import "time"

// UnknownAuthor is the contributor name used when a commit carries neither a
// linked user nor a raw author string.
const UnknownAuthor = "Unknown"

// Branch is a snapshot of a branch head as returned by Bitbucket. Branch names
// are unique within a repository.
type Branch struct {
	Name           string
	RepositorySlug string
	Target         Commit
	Links          BranchLinks
}

// BranchLinks holds the hrefs Bitbucket returns for a branch.
type BranchLinks struct {
	HTML              string
	Self              string
	Commits           string
	PullRequestCreate string
}

// Commit describes the commit a branch points at. Date is kept as the
// ISO-8601 string Bitbucket returns so it can be ordered textually.
type Commit struct {
	Hash           string
	Date           string
	RepositoryName string
	Author         CommitAuthor
	HTMLURL        string
}

// CommitAuthor is the author of a commit. User is nil when Bitbucket could not
// link the raw author string to an account.
type CommitAuthor struct {
	Raw  string
	User *User
}

// User is a Bitbucket account reference.
type User struct {
	DisplayName string
	UUID        string
	AccountID   string
	AvatarURL   string
}

// AuthorName returns the display name used to group a branch by contributor:
// the linked user's display name, then the raw author string, then UnknownAuthor.
func (b Branch) AuthorName() string {
	if b.Target.Author.User != nil && b.Target.Author.User.DisplayName != "" {
		return b.Target.Author.User.DisplayName
	}
	if b.Target.Author.Raw != "" {
		return b.Target.Author.Raw
	}
	return UnknownAuthor
}

// CommittedAt parses the target commit date.
func (b Branch) CommittedAt() (time.Time, error) {
	return time.Parse(time.RFC3339, b.Target.Date)
}

// GroupedBranches maps repository name to contributor display name to the
// branches last committed by that contributor. It is rebuilt on every fetch.
type GroupedBranches map[string]map[string][]Branch
