package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/jacklau/codereviewer/internal/github"
	"github.com/jacklau/codereviewer/internal/prompt"
	"github.com/jacklau/codereviewer/internal/retrieval"
	"github.com/jacklau/codereviewer/internal/store"
	"github.com/jacklau/codereviewer/internal/workflow"
)

// FailedFetchTitle is the title of the review row written when a review
// could not be requested at all.
const FailedFetchTitle = "Failed to Fetch PR"

// ErrRepositoryNotConnected is returned for repositories nobody connected.
var ErrRepositoryNotConnected = errors.New("repository not connected")

// retrievedContext is the combined code and issue context for one prompt.
type retrievedContext struct {
	Code   []string                 `json:"code"`
	Issues []retrieval.IssueContext `json:"issues"`
}

// ReviewOutput is the stored output of a generate-review run.
type ReviewOutput struct {
	Success  bool  `json:"success"`
	ReviewID int64 `json:"reviewId,omitempty"`
}

func (p *Pipeline) generateReview(ctx context.Context, run *workflow.Run) (any, error) {
	var req ReviewRequested
	if err := run.Decode(&req); err != nil {
		return nil, err
	}
	return p.review(ctx, run, req)
}

// review runs the review steps for req inside run. The mention responder
// reuses it for re-review requests.
func (p *Pipeline) review(ctx context.Context, run *workflow.Run, req ReviewRequested) (*ReviewOutput, error) {
	logger := run.Logger().With("repo", req.Owner+"/"+req.Repo, "pr", req.PRNumber, "user", req.UserID)

	u, err := p.user(req.UserID)
	if err != nil {
		return nil, err
	}

	pr, err := workflow.Step(ctx, run, "fetch-pr-data", func(ctx context.Context) (*github.PullRequest, error) {
		gh, err := p.githubFor(u)
		if err != nil {
			return nil, err
		}
		pr, err := gh.GetPullRequestDiff(ctx, req.Owner, req.Repo, req.PRNumber)
		return pr, githubErr(err)
	})
	if err != nil {
		return nil, err
	}

	rc, err := workflow.Step(ctx, run, "retrieve-context", func(ctx context.Context) (*retrievedContext, error) {
		query := pr.Title + "\n" + pr.Description
		return p.retrieve(ctx, u, req.Owner+"/"+req.Repo, query, p.deps.Options.CodeTopK, p.deps.Options.IssueTopK)
	})
	if err != nil {
		return nil, err
	}

	text, err := workflow.Step(ctx, run, "generate-review", func(ctx context.Context) (string, error) {
		llm, err := p.completerFor(u)
		if err != nil {
			return "", err
		}
		in, err := prompt.BuildReview(prompt.ReviewInput{
			Title:       pr.Title,
			Description: pr.Description,
			Diff:        pr.Diff,
			MaxDiff:     p.deps.Options.MaxDiffChars,
			CodeContext: rc.Code,
			Issues:      rc.Issues,
			GoodRules:   u.GoodRules,
			BadRules:    u.BadRules,
		})
		if err != nil {
			return "", workflow.Permanent(err)
		}
		return llm.Complete(ctx, in)
	})
	if err != nil {
		return nil, err
	}

	if _, err := workflow.Step(ctx, run, "post-comment", func(ctx context.Context) (bool, error) {
		gh, err := p.githubFor(u)
		if err != nil {
			return false, err
		}
		return true, gh.PostReviewComment(ctx, req.Owner, req.Repo, req.PRNumber, text)
	}); err != nil {
		return nil, err
	}

	reviewID, err := workflow.Step(ctx, run, "save-review", func(ctx context.Context) (int64, error) {
		repo, err := p.deps.Store.GetRepositoryByOwnerName(req.Owner, req.Repo)
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn("repository not connected, review not saved")
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		r, err := p.deps.Store.UpsertReviewByRun(&store.Review{
			RunID:        run.ID,
			RepositoryID: repo.ID,
			PRNumber:     req.PRNumber,
			PRTitle:      pr.Title,
			PRURL:        prURL(req.Owner, req.Repo, req.PRNumber),
			Review:       text,
			Status:       store.ReviewCompleted,
		})
		if err != nil {
			return 0, err
		}
		return r.ID, nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("review posted", "review_id", reviewID, "issues", len(rc.Issues), "code_snippets", len(rc.Code))
	return &ReviewOutput{Success: true, ReviewID: reviewID}, nil
}

// retrieve fetches code and issue context for query in parallel.
func (p *Pipeline) retrieve(ctx context.Context, u *store.User, repoKey, query string, codeK, issueK int) (*retrievedContext, error) {
	emb, err := p.embedderFor(u)
	if err != nil {
		return nil, err
	}

	var rc retrievedContext
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		code, err := p.deps.Retriever.RetrieveCodeContext(gctx, emb, query, repoKey, codeK)
		if err != nil {
			return err
		}
		rc.Code = code
		return nil
	})
	g.Go(func() error {
		found, err := p.deps.Retriever.RetrieveIssueContext(gctx, emb, query, u.ID, retrieval.IssueFilters{}, issueK)
		if err != nil {
			return err
		}
		rc.Issues = found
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &rc, nil
}

// reviewFailed records the failed review so it shows up in history.
func (p *Pipeline) reviewFailed(ctx context.Context, run *workflow.Run, cause error) {
	var req ReviewRequested
	if err := run.Decode(&req); err != nil {
		return
	}
	p.saveFailedReview(run.Logger(), run.ID, req, cause)
}

func (p *Pipeline) saveFailedReview(logger *slog.Logger, runID string, req ReviewRequested, cause error) {
	repo, err := p.deps.Store.GetRepositoryByOwnerName(req.Owner, req.Repo)
	if err != nil {
		logger.Warn("cannot record failed review", "error", err)
		return
	}
	title := req.Title
	if title == "" {
		title = FailedFetchTitle
	}
	r := &store.Review{
		RunID:        runID,
		RepositoryID: repo.ID,
		PRNumber:     req.PRNumber,
		PRTitle:      title,
		PRURL:        prURL(req.Owner, req.Repo, req.PRNumber),
		Review:       "Error: " + cause.Error(),
		Status:       store.ReviewFailed,
	}
	if runID != "" {
		_, err = p.deps.Store.UpsertReviewByRun(r)
	} else {
		_, err = p.deps.Store.CreateReview(r)
	}
	if err != nil {
		logger.Warn("recording failed review", "error", err)
	}
}

// RequestReview enqueues a review of owner/repo#number on behalf of userID.
// Rate-limited callers get a *ratelimit.Error and nothing is recorded. Any
// other failure after the repository is known leaves a failed review row.
func (p *Pipeline) RequestReview(ctx context.Context, userID int64, owner, repo string, number int) ([]string, error) {
	if p.deps.ReviewLimit != nil {
		if err := p.deps.ReviewLimit.Allow(strconv.FormatInt(userID, 10)); err != nil {
			return nil, err
		}
	}

	if _, err := p.deps.Store.GetRepositoryByOwnerName(owner, repo); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%s/%s: %w", owner, repo, ErrRepositoryNotConnected)
		}
		return nil, err
	}

	req := ReviewRequested{Owner: owner, Repo: repo, PRNumber: number, UserID: userID}
	ids, err := p.requestReview(ctx, &req)
	if err != nil {
		req.Title = FailedFetchTitle
		p.saveFailedReview(p.deps.Logger, "", req, err)
		return nil, err
	}
	p.deps.Logger.Info("review requested", "repo", owner+"/"+repo, "pr", number, "runs", ids)
	return ids, nil
}

func (p *Pipeline) requestReview(ctx context.Context, req *ReviewRequested) ([]string, error) {
	u, err := p.deps.Store.GetUser(req.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if _, err := p.apiKey(u); err != nil {
		return nil, err
	}
	gh, err := p.githubFor(u)
	if err != nil {
		return nil, err
	}
	pr, err := gh.GetPullRequestDiff(ctx, req.Owner, req.Repo, req.PRNumber)
	if err != nil {
		return nil, err
	}
	req.Title = pr.Title
	return p.deps.Engine.Send(ctx, EventReviewRequested, req)
}
