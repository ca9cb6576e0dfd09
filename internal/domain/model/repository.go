package model

// Repository represents a Bitbucket repository in the configured workspace.
// Repositories are immutable snapshots replaced wholesale on every fetch.
type Repository struct {
	UUID        string
	Name        string
	Slug        string
	FullName    string
	Description string
	IsPrivate   bool
	CreatedOn   string
	UpdatedOn   string
	MainBranch  string
	Project     ProjectRef
	Links       RepositoryLinks
}

// ProjectRef identifies the Bitbucket project that owns a repository.
type ProjectRef struct {
	Key  string
	Name string
}

// RepositoryLinks holds the hrefs Bitbucket returns for a repository.
type RepositoryLinks struct {
	HTML   string
	Self   string
	Avatar string
}
