package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/jacklau/codereviewer/internal/github"
	"github.com/jacklau/codereviewer/internal/prompt"
	"github.com/jacklau/codereviewer/internal/workflow"
)

// Intent is what a mention asks for.
type Intent int

const (
	IntentQuestion Intent = iota
	IntentReReview
)

func (i Intent) String() string {
	if i == IntentReReview {
		return "re-review"
	}
	return "question"
}

const reReviewAck = "I'll review this PR again with the latest changes. This may take a moment..."

var mentionPattern = regexp.MustCompile(`(?i)@codereviewer(ai)?\b`)

// reReviewPattern matches text that is, or opens with, a review keyword. The
// match is a plain prefix, so "reviewing" counts. Leading courtesy words are
// allowed.
var reReviewPattern = regexp.MustCompile(`(?i)^(?:(?:please|pls|kindly|can you|could you|would you)[\s,]+)*` +
	`(?:review the changes|review changes|review again|review this|check again|analyze again|re-review|rereview|review|analyze)`)

// HasMention reports whether body mentions the bot.
func HasMention(body string) bool {
	return mentionPattern.MatchString(body)
}

// StripMention removes every bot mention from body and trims the rest.
func StripMention(body string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(body, ""))
}

// ClassifyIntent decides whether text (with the mention stripped) asks for a
// new review or poses a question.
func ClassifyIntent(text string) Intent {
	if reReviewPattern.MatchString(strings.TrimSpace(text)) {
		return IntentReReview
	}
	return IntentQuestion
}

// MentionOutput is the stored output of a handle-pr-mention run.
type MentionOutput struct {
	Success bool   `json:"success"`
	Intent  string `json:"intent"`
}

// prContext is the PR state a mention answer is built from.
type prContext struct {
	PR       *github.PullRequest `json:"pr"`
	Comments []github.Comment    `json:"comments"`
}

func (p *Pipeline) handleMention(ctx context.Context, run *workflow.Run) (any, error) {
	var req MentionRequested
	if err := run.Decode(&req); err != nil {
		return nil, err
	}
	logger := run.Logger().With("repo", req.Owner+"/"+req.Repo, "pr", req.PRNumber, "user", req.UserID)

	u, err := p.user(req.UserID)
	if err != nil {
		return nil, err
	}

	intent := ClassifyIntent(req.Query)
	logger.Debug("mention classified", "intent", intent.String())

	if intent == IntentReReview {
		if _, err := workflow.Step(ctx, run, "acknowledge", func(ctx context.Context) (bool, error) {
			gh, err := p.githubFor(u)
			if err != nil {
				return false, err
			}
			return true, gh.ReplyToComment(ctx, req.Owner, req.Repo, req.PRNumber, reReviewAck, req.CommentUser)
		}); err != nil {
			return nil, err
		}
		if _, err := p.review(ctx, run, ReviewRequested{
			Owner:    req.Owner,
			Repo:     req.Repo,
			PRNumber: req.PRNumber,
			UserID:   req.UserID,
		}); err != nil {
			return nil, err
		}
		return &MentionOutput{Success: true, Intent: intent.String()}, nil
	}

	pc, err := workflow.Step(ctx, run, "fetch-pr-context", func(ctx context.Context) (*prContext, error) {
		gh, err := p.githubFor(u)
		if err != nil {
			return nil, err
		}
		pr, err := gh.GetPullRequestDiff(ctx, req.Owner, req.Repo, req.PRNumber)
		if err != nil {
			return nil, githubErr(err)
		}
		comments, err := gh.GetPRComments(ctx, req.Owner, req.Repo, req.PRNumber)
		if err != nil {
			return nil, githubErr(err)
		}
		return &prContext{PR: pr, Comments: comments}, nil
	})
	if err != nil {
		return nil, err
	}

	rc, err := workflow.Step(ctx, run, "retrieve-context", func(ctx context.Context) (*retrievedContext, error) {
		query := req.Query + "\n" + pc.PR.Title
		k := p.deps.Options.MentionTopK
		return p.retrieve(ctx, u, req.Owner+"/"+req.Repo, query, k, k)
	})
	if err != nil {
		return nil, err
	}

	answer, err := workflow.Step(ctx, run, "generate-response", func(ctx context.Context) (string, error) {
		llm, err := p.completerFor(u)
		if err != nil {
			return "", err
		}
		in, err := prompt.BuildMention(prompt.MentionInput{
			Title:       pc.PR.Title,
			Description: pc.PR.Description,
			Diff:        pc.PR.Diff,
			MaxDiff:     p.deps.Options.MentionDiffChars,
			CodeContext: rc.Code,
			Issues:      rc.Issues,
			Comments:    pc.Comments,
			CommentUser: req.CommentUser,
			Question:    req.Query,
		})
		if err != nil {
			return "", workflow.Permanent(err)
		}
		text, err := llm.Complete(ctx, in)
		if err != nil {
			return "", err
		}
		return text + prompt.Citations(rc.Issues), nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := workflow.Step(ctx, run, "post-response", func(ctx context.Context) (bool, error) {
		gh, err := p.githubFor(u)
		if err != nil {
			return false, err
		}
		return true, gh.ReplyToComment(ctx, req.Owner, req.Repo, req.PRNumber, answer, req.CommentUser)
	}); err != nil {
		return nil, err
	}

	logger.Info("mention answered", "issues", len(rc.Issues))
	return &MentionOutput{Success: true, Intent: intent.String()}, nil
}
