package github

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v60/github"
)

// maxFileBytes bounds the blobs fetched for indexing.
const maxFileBytes = 512 * 1024

// Client is the GitHub collaborator used by the review and indexing workflows.
type Client struct {
	gh     *gogithub.Client
	logger *slog.Logger
}

// NewClient wraps an authenticated go-github client.
func NewClient(gh *gogithub.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{gh: gh, logger: logger}
}

// observe logs when the remaining quota is running low.
func (c *Client) observe(resp *gogithub.Response) {
	if quotaLow(resp) {
		c.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second))
	}
}

// GetPullRequestDiff returns the PR's title, description and unified diff.
func (c *Client) GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	pr, resp, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	c.observe(resp)
	if err != nil {
		return nil, classify(fmt.Sprintf("getting pull request %s/%s#%d", owner, repo, number), resp, err)
	}

	diff, resp, err := c.gh.PullRequests.GetRaw(ctx, owner, repo, number, gogithub.RawOptions{Type: gogithub.Diff})
	c.observe(resp)
	if err != nil {
		return nil, classify(fmt.Sprintf("getting diff for %s/%s#%d", owner, repo, number), resp, err)
	}

	return &PullRequest{
		Title:       pr.GetTitle(),
		Description: pr.GetBody(),
		Diff:        diff,
		HeadSHA:     pr.GetHead().GetSHA(),
	}, nil
}

// GetRepoFileContents walks the default branch tree and returns every text
// file under dir (all files when dir is empty). Binary extensions and blobs
// larger than maxFileBytes are skipped; a blob that fails to download is
// logged and skipped.
func (c *Client) GetRepoFileContents(ctx context.Context, owner, repo, dir string) ([]File, error) {
	r, resp, err := c.gh.Repositories.Get(ctx, owner, repo)
	c.observe(resp)
	if err != nil {
		return nil, classify(fmt.Sprintf("getting repository %s/%s", owner, repo), resp, err)
	}
	branch := r.GetDefaultBranch()
	if branch == "" {
		branch = "HEAD"
	}

	tree, resp, err := c.gh.Git.GetTree(ctx, owner, repo, branch, true)
	c.observe(resp)
	if err != nil {
		return nil, classify(fmt.Sprintf("getting tree for %s/%s@%s", owner, repo, branch), resp, err)
	}
	if tree.GetTruncated() {
		c.logger.Warn("repository tree truncated by github", "repo", owner+"/"+repo)
	}

	prefix := strings.Trim(dir, "/")
	if prefix != "" {
		prefix += "/"
	}

	var files []File
	for _, entry := range tree.Entries {
		p := entry.GetPath()
		if entry.GetType() != "blob" || !strings.HasPrefix(p, prefix) || IsBinaryPath(p) {
			continue
		}
		if entry.GetSize() > maxFileBytes {
			c.logger.Debug("skipping large file", "path", p, "size", entry.GetSize())
			continue
		}

		if err := ctx.Err(); err != nil {
			return files, err
		}
		blob, resp, err := c.gh.Git.GetBlobRaw(ctx, owner, repo, entry.GetSHA())
		c.observe(resp)
		if err != nil {
			c.logger.Warn("fetching file failed", "path", p, "error", classify("get blob", resp, err))
			continue
		}
		files = append(files, File{Path: p, Content: string(blob)})
	}
	return files, nil
}

// PostReviewComment posts body as a conversation comment on the PR.
func (c *Client) PostReviewComment(ctx context.Context, owner, repo string, number int, body string) error {
	_, resp, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &gogithub.IssueComment{
		Body: gogithub.String(body),
	})
	c.observe(resp)
	if err != nil {
		return classify(fmt.Sprintf("commenting on %s/%s#%d", owner, repo, number), resp, err)
	}
	return nil
}

// ReplyToComment posts body on the PR addressed to user.
func (c *Client) ReplyToComment(ctx context.Context, owner, repo string, number int, body, user string) error {
	if user != "" {
		body = "@" + user + " " + body
	}
	return c.PostReviewComment(ctx, owner, repo, number, body)
}

// GetPRComments returns the PR's conversation comments, oldest first.
func (c *Client) GetPRComments(ctx context.Context, owner, repo string, number int) ([]Comment, error) {
	opts := &gogithub.IssueListCommentsOptions{
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}

	var comments []Comment
	for {
		page, resp, err := c.gh.Issues.ListComments(ctx, owner, repo, number, opts)
		c.observe(resp)
		if err != nil {
			return nil, classify(fmt.Sprintf("listing comments on %s/%s#%d", owner, repo, number), resp, err)
		}
		for _, ic := range page {
			comments = append(comments, Comment{User: ic.GetUser().GetLogin(), Body: ic.GetBody()})
		}
		if resp.NextPage == 0 {
			return comments, nil
		}
		opts.Page = resp.NextPage
	}
}
