package bitbucket

import "github.com/ericfisherdev/branchpanel/internal/domain/model"

// page is the envelope Bitbucket wraps every list response in.
type page[T any] struct {
	Values  []T    `json:"values"`
	PageLen int    `json:"pagelen"`
	Next    string `json:"next"`
}

type href struct {
	Href string `json:"href"`
}

type repositoryJSON struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"is_private"`
	CreatedOn   string `json:"created_on"`
	UpdatedOn   string `json:"updated_on"`
	MainBranch  *struct {
		Name string `json:"name"`
	} `json:"mainbranch"`
	Project *struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"project"`
	Links struct {
		HTML   href `json:"html"`
		Self   href `json:"self"`
		Avatar href `json:"avatar"`
	} `json:"links"`
}

type userJSON struct {
	DisplayName string `json:"display_name"`
	UUID        string `json:"uuid"`
	AccountID   string `json:"account_id"`
	Links       struct {
		Avatar href `json:"avatar"`
	} `json:"links"`
}

type commitJSON struct {
	Hash       string `json:"hash"`
	Date       string `json:"date"`
	Repository struct {
		Name string `json:"name"`
	} `json:"repository"`
	Author struct {
		Raw  string    `json:"raw"`
		User *userJSON `json:"user"`
	} `json:"author"`
	Links struct {
		HTML href `json:"html"`
	} `json:"links"`
}

type branchJSON struct {
	Name   string     `json:"name"`
	Target commitJSON `json:"target"`
	Links  struct {
		Self              href `json:"self"`
		Commits           href `json:"commits"`
		HTML              href `json:"html"`
		PullRequestCreate href `json:"pullrequest_create"`
	} `json:"links"`
}

// mapRepository converts a Bitbucket repository payload to a domain Repository.
func mapRepository(r repositoryJSON) model.Repository {
	repo := model.Repository{
		UUID:        r.UUID,
		Name:        r.Name,
		Slug:        r.Slug,
		FullName:    r.FullName,
		Description: r.Description,
		IsPrivate:   r.IsPrivate,
		CreatedOn:   r.CreatedOn,
		UpdatedOn:   r.UpdatedOn,
		Links: model.RepositoryLinks{
			HTML:   r.Links.HTML.Href,
			Self:   r.Links.Self.Href,
			Avatar: r.Links.Avatar.Href,
		},
	}
	if r.MainBranch != nil {
		repo.MainBranch = r.MainBranch.Name
	}
	if r.Project != nil {
		repo.Project = model.ProjectRef{Key: r.Project.Key, Name: r.Project.Name}
	}
	return repo
}

// mapBranch converts a Bitbucket branch payload to a domain Branch. repoSlug is
// the slug the branch was requested under; Bitbucket only embeds the name.
func mapBranch(b branchJSON, repoSlug string) model.Branch {
	var user *model.User
	if u := b.Target.Author.User; u != nil {
		user = &model.User{
			DisplayName: u.DisplayName,
			UUID:        u.UUID,
			AccountID:   u.AccountID,
			AvatarURL:   u.Links.Avatar.Href,
		}
	}

	return model.Branch{
		Name:           b.Name,
		RepositorySlug: repoSlug,
		Target: model.Commit{
			Hash:           b.Target.Hash,
			Date:           b.Target.Date,
			RepositoryName: b.Target.Repository.Name,
			Author: model.CommitAuthor{
				Raw:  b.Target.Author.Raw,
				User: user,
			},
			HTMLURL: b.Target.Links.HTML.Href,
		},
		Links: model.BranchLinks{
			HTML:              b.Links.HTML.Href,
			Self:              b.Links.Self.Href,
			Commits:           b.Links.Commits.Href,
			PullRequestCreate: b.Links.PullRequestCreate.Href,
		},
	}
}
