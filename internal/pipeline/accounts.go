package pipeline

import (
	"context"
	"fmt"

	"github.com/jacklau/codereviewer/internal/store"
)

// UserInput registers or updates a user. Empty credentials clear the stored
// ones.
type UserInput struct {
	Login       string
	GitHubToken string
	APIKey      string
	GoodRules   []string
	BadRules    []string
}

// RegisterUser encrypts the user's credentials and stores the user.
func (p *Pipeline) RegisterUser(in UserInput) (*store.User, error) {
	if in.Login == "" {
		return nil, fmt.Errorf("login is required")
	}
	token, err := p.deps.Box.Encrypt(in.GitHubToken)
	if err != nil {
		return nil, fmt.Errorf("encrypting github token: %w", err)
	}
	key, err := p.deps.Box.Encrypt(in.APIKey)
	if err != nil {
		return nil, fmt.Errorf("encrypting api key: %w", err)
	}
	return p.deps.Store.UpsertUser(&store.User{
		Login:                in.Login,
		EncryptedGitHubToken: token,
		EncryptedAPIKey:      key,
		GoodRules:            in.GoodRules,
		BadRules:             in.BadRules,
	})
}

// ConnectRepository records owner/repo for userID after checking the user can
// see it on GitHub, then enqueues indexing of its codebase.
func (p *Pipeline) ConnectRepository(ctx context.Context, userID int64, owner, repo string) (*store.Repository, error) {
	u, err := p.deps.Store.GetUser(userID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	gh, err := p.githubFor(u)
	if err != nil {
		return nil, err
	}
	info, err := gh.GetRepository(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	saved, err := p.deps.Store.UpsertRepository(&store.Repository{
		UserID:   userID,
		GitHubID: info.ID,
		Owner:    owner,
		Name:     repo,
		FullName: info.FullName,
		URL:      info.URL,
	})
	if err != nil {
		return nil, err
	}
	if _, err := p.deps.Engine.Send(ctx, EventRepositoryConnected, RepositoryConnected{
		Owner:  owner,
		Repo:   repo,
		UserID: userID,
	}); err != nil {
		return nil, fmt.Errorf("requesting indexing: %w", err)
	}
	p.deps.Logger.Info("repository connected", "repo", saved.FullName, "user", userID)
	return saved, nil
}

// ListReviews returns the review history of owner/repo, newest first.
func (p *Pipeline) ListReviews(owner, repo string, limit int) ([]store.Review, error) {
	r, err := p.deps.Store.GetRepositoryByOwnerName(owner, repo)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", owner, repo, err)
	}
	return p.deps.Store.ListReviews(r.ID, limit)
}
