package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jacklau/codereviewer/internal/store"
)

// PullRequestEvent is the part of a GitHub pull_request delivery the
// dispatcher needs.
type PullRequestEvent struct {
	Action string
	Owner  string
	Repo   string
	Number int
	Title  string
}

// CommentEvent is the part of a GitHub issue_comment delivery the dispatcher
// needs.
type CommentEvent struct {
	Action        string
	Owner         string
	Repo          string
	Number        int
	IsPullRequest bool
	CommentID     int64
	User          string
	UserType      string
	Body          string
}

// HandlePullRequest enqueues a review for opened and synchronized pull
// requests. Deliveries for unknown repositories or owners without
// credentials are logged and dropped; it reports whether a review was
// enqueued.
func (p *Pipeline) HandlePullRequest(ctx context.Context, ev PullRequestEvent) (bool, error) {
	if ev.Action != "opened" && ev.Action != "synchronize" {
		return false, nil
	}
	logger := p.deps.Logger.With("repo", ev.Owner+"/"+ev.Repo, "pr", ev.Number, "action", ev.Action)

	u, ok, err := p.repositoryOwner(logger, ev.Owner, ev.Repo)
	if !ok || err != nil {
		return false, err
	}

	ids, err := p.deps.Engine.Send(ctx, EventReviewRequested, ReviewRequested{
		Owner:    ev.Owner,
		Repo:     ev.Repo,
		PRNumber: ev.Number,
		UserID:   u.ID,
		Title:    ev.Title,
	})
	if err != nil {
		return false, err
	}
	logger.Info("review enqueued", "runs", ids)
	return true, nil
}

// HandleIssueComment enqueues a mention response for new PR comments that
// mention the bot. Comments from bots are ignored.
func (p *Pipeline) HandleIssueComment(ctx context.Context, ev CommentEvent) (bool, error) {
	if ev.Action != "created" || !ev.IsPullRequest || ev.UserType == "Bot" || !HasMention(ev.Body) {
		return false, nil
	}
	logger := p.deps.Logger.With("repo", ev.Owner+"/"+ev.Repo, "pr", ev.Number, "comment_user", ev.User)

	u, ok, err := p.repositoryOwner(logger, ev.Owner, ev.Repo)
	if !ok || err != nil {
		return false, err
	}

	ids, err := p.deps.Engine.Send(ctx, EventMentionRequested, MentionRequested{
		Owner:       ev.Owner,
		Repo:        ev.Repo,
		PRNumber:    ev.Number,
		UserID:      u.ID,
		Query:       StripMention(ev.Body),
		CommentUser: ev.User,
		CommentID:   ev.CommentID,
	})
	if err != nil {
		return false, err
	}
	logger.Info("mention enqueued", "runs", ids)
	return true, nil
}

// repositoryOwner resolves the user who connected owner/repo and checks that
// they hold both credentials a run needs. ok is false when the delivery
// should be dropped.
func (p *Pipeline) repositoryOwner(logger *slog.Logger, owner, repo string) (*store.User, bool, error) {
	r, err := p.deps.Store.GetRepositoryByOwnerName(owner, repo)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("repository not connected, dropping webhook")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	u, err := p.deps.Store.GetUser(r.UserID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("repository owner not found, dropping webhook", "user", r.UserID)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if u.EncryptedAPIKey == "" {
		logger.Warn("no API key configured, dropping webhook", "user", u.ID)
		return nil, false, nil
	}
	if !p.deps.GitHub.AppMode() && u.EncryptedGitHubToken == "" {
		logger.Warn("no GitHub credential, dropping webhook", "user", u.ID)
		return nil, false, nil
	}
	return u, true, nil
}
