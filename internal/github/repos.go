package github

import (
	"context"
	"fmt"
)

// Repository is the subset of repository data recorded on connect.
type Repository struct {
	ID       int64
	Owner    string
	Name     string
	FullName string
	URL      string
}

// GetRepository looks up owner/repo.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*Repository, error) {
	r, resp, err := c.gh.Repositories.Get(ctx, owner, repo)
	c.observe(resp)
	if err != nil {
		return nil, classify(fmt.Sprintf("getting repository %s/%s", owner, repo), resp, err)
	}
	return &Repository{
		ID:       r.GetID(),
		Owner:    r.GetOwner().GetLogin(),
		Name:     r.GetName(),
		FullName: r.GetFullName(),
		URL:      r.GetHTMLURL(),
	}, nil
}
