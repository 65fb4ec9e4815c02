// Package pipeline wires the review, mention, indexing and issue-sync
// workflows onto the workflow engine and exposes the entry points that
// enqueue them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jacklau/codereviewer/internal/crypto"
	"github.com/jacklau/codereviewer/internal/github"
	"github.com/jacklau/codereviewer/internal/indexer"
	"github.com/jacklau/codereviewer/internal/issues"
	"github.com/jacklau/codereviewer/internal/provider"
	"github.com/jacklau/codereviewer/internal/ratelimit"
	"github.com/jacklau/codereviewer/internal/retrieval"
	"github.com/jacklau/codereviewer/internal/store"
	"github.com/jacklau/codereviewer/internal/vectorstore"
	"github.com/jacklau/codereviewer/internal/workflow"
)

// Configuration failures. Each wraps workflow.ErrConfiguration so the engine
// never retries them.
var (
	ErrIntegrationNotFound     = fmt.Errorf("%w: integration not found", workflow.ErrConfiguration)
	ErrAPIKeyMissing           = fmt.Errorf("%w: LLM API key not configured", workflow.ErrConfiguration)
	ErrGitHubCredentialMissing = fmt.Errorf("%w: GitHub credential not found", workflow.ErrConfiguration)
)

// GitHub is the GitHub collaborator used by the workflows.
type GitHub interface {
	GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error)
	GetRepoFileContents(ctx context.Context, owner, repo, dir string) ([]github.File, error)
	PostReviewComment(ctx context.Context, owner, repo string, number int, body string) error
	ReplyToComment(ctx context.Context, owner, repo string, number int, body, user string) error
	GetPRComments(ctx context.Context, owner, repo string, number int) ([]github.Comment, error)
	GetRepository(ctx context.Context, owner, repo string) (*github.Repository, error)
}

// GitHubClients hands out GitHub clients for a user token.
type GitHubClients interface {
	For(token string) (GitHub, error)
	AppMode() bool
}

type factoryClients struct{ f *github.Factory }

func (c factoryClients) For(token string) (GitHub, error) { return c.f.For(token) }
func (c factoryClients) AppMode() bool                    { return c.f.AppMode() }

// FromFactory adapts a github.Factory.
func FromFactory(f *github.Factory) GitHubClients {
	return factoryClients{f: f}
}

// Providers builds model clients bound to a user's API key.
type Providers interface {
	Embedder(apiKey string) (provider.Embedder, error)
	Completer(apiKey string) (provider.Completer, error)
}

// WorkspaceLookup is implemented by trackers that can describe the
// workspace a token belongs to.
type WorkspaceLookup interface {
	GetWorkspace(ctx context.Context) (*issues.Workspace, error)
}

// TrackerFactory builds an issue tracker client for an integration.
type TrackerFactory func(provider, token string, meta store.IntegrationMetadata) (issues.Pager, error)

// DefaultTrackers returns a TrackerFactory for the real Linear and Jira APIs.
func DefaultTrackers(timeout time.Duration, logger *slog.Logger) TrackerFactory {
	return func(name, token string, meta store.IntegrationMetadata) (issues.Pager, error) {
		switch issues.Source(name) {
		case issues.SourceLinear:
			return issues.NewLinearClient(token, timeout), nil
		case issues.SourceJira:
			if meta.CloudURL == "" {
				return nil, workflow.Permanent(fmt.Errorf("jira integration has no cloud url"))
			}
			return issues.NewJiraClient(meta.CloudURL, meta.Email, token, timeout, logger), nil
		}
		return nil, workflow.Permanent(fmt.Errorf("unsupported provider %q", name))
	}
}

// Options tunes the workflows.
type Options struct {
	ReviewConcurrency int
	SyncConcurrency   int
	SyncInterval      time.Duration
	MaxDiffChars      int
	MentionDiffChars  int
	MaxIssuesPerSync  int
	CodeTopK          int
	IssueTopK         int
	MentionTopK       int
}

func (o *Options) applyDefaults() {
	if o.ReviewConcurrency <= 0 {
		o.ReviewConcurrency = 5
	}
	if o.SyncConcurrency <= 0 {
		o.SyncConcurrency = 2
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = 6 * time.Hour
	}
	if o.MaxDiffChars <= 0 {
		o.MaxDiffChars = 30000
	}
	if o.MentionDiffChars <= 0 {
		o.MentionDiffChars = 10000
	}
	if o.MaxIssuesPerSync <= 0 {
		o.MaxIssuesPerSync = 1000
	}
	if o.CodeTopK <= 0 {
		o.CodeTopK = 5
	}
	if o.IssueTopK <= 0 {
		o.IssueTopK = 10
	}
	if o.MentionTopK <= 0 {
		o.MentionTopK = 5
	}
}

// Deps holds the dependencies for the Pipeline.
type Deps struct {
	Store       *store.DB
	Vectors     vectorstore.Store
	Engine      *workflow.Engine
	GitHub      GitHubClients
	Providers   Providers
	Trackers    TrackerFactory
	Box         *crypto.Box
	Retriever   *retrieval.Retriever
	CodeIndex   *indexer.CodeIndexer
	IssueIndex  *indexer.IssueIndexer
	ReviewLimit *ratelimit.Limiter
	Options     Options
	Logger      *slog.Logger
}

// Pipeline owns the workflow functions and their entry points.
type Pipeline struct {
	deps Deps
}

// New creates a Pipeline. Missing indexers and the retriever are built from
// Store and Vectors.
func New(deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Options.applyDefaults()
	if deps.Retriever == nil {
		deps.Retriever = retrieval.New(deps.Vectors, deps.Store, retrieval.DefaultWeights(), deps.Logger)
	}
	if deps.CodeIndex == nil {
		deps.CodeIndex = indexer.NewCodeIndexer(deps.Vectors, deps.Logger)
	}
	if deps.IssueIndex == nil {
		deps.IssueIndex = indexer.NewIssueIndexer(deps.Store, deps.Vectors, deps.Logger)
	}
	return &Pipeline{deps: deps}
}

// Register adds every workflow function to the engine.
func (p *Pipeline) Register() error {
	return p.deps.Engine.Register(p.Functions()...)
}

// Functions returns the workflow functions served by this pipeline.
func (p *Pipeline) Functions() []workflow.Function {
	o := p.deps.Options
	return []workflow.Function{
		{ID: "index-repo", Event: EventRepositoryConnected, Concurrency: o.SyncConcurrency, Handler: p.indexRepo},
		{ID: "generate-review", Event: EventReviewRequested, Concurrency: o.ReviewConcurrency, Handler: p.generateReview, OnFailure: p.reviewFailed},
		{ID: "handle-pr-mention", Event: EventMentionRequested, Concurrency: o.ReviewConcurrency, Handler: p.handleMention},
		{ID: "sync-all-issues", Event: EventIntegrationSync, Concurrency: o.SyncConcurrency, Handler: p.syncAllIssues},
		{ID: "sync-issue", Event: EventIssueSync, Concurrency: o.ReviewConcurrency, Handler: p.syncIssue},
		{ID: "scheduled-integration-sync", Event: EventScheduledSync, Concurrency: 1, Every: o.SyncInterval, Handler: p.scheduledSync},
	}
}

// user loads a user. A missing user is permanent.
func (p *Pipeline) user(id int64) (*store.User, error) {
	u, err := p.deps.Store.GetUser(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, workflow.Permanent(fmt.Errorf("user %d: %w", id, err))
	}
	return u, err
}

// githubFor returns a GitHub client acting for u.
func (p *Pipeline) githubFor(u *store.User) (GitHub, error) {
	token := ""
	if !p.deps.GitHub.AppMode() {
		if u.EncryptedGitHubToken == "" {
			return nil, fmt.Errorf("user %d: %w", u.ID, ErrGitHubCredentialMissing)
		}
		var err error
		token, err = p.deps.Box.Decrypt(u.EncryptedGitHubToken)
		if err != nil {
			return nil, workflow.Permanent(fmt.Errorf("decrypting github token for user %d: %w", u.ID, err))
		}
	}
	gh, err := p.deps.GitHub.For(token)
	if errors.Is(err, github.ErrNoCredential) {
		return nil, fmt.Errorf("user %d: %w", u.ID, ErrGitHubCredentialMissing)
	}
	return gh, err
}

// apiKey decrypts u's LLM API key.
func (p *Pipeline) apiKey(u *store.User) (string, error) {
	if u.EncryptedAPIKey == "" {
		return "", fmt.Errorf("user %d: %w", u.ID, ErrAPIKeyMissing)
	}
	key, err := p.deps.Box.Decrypt(u.EncryptedAPIKey)
	if err != nil {
		return "", workflow.Permanent(fmt.Errorf("decrypting api key for user %d: %w", u.ID, err))
	}
	return key, nil
}

// embedderFor resolves u's API key and builds an embedder with it.
func (p *Pipeline) embedderFor(u *store.User) (provider.Embedder, error) {
	key, err := p.apiKey(u)
	if err != nil {
		return nil, err
	}
	emb, err := p.deps.Providers.Embedder(key)
	if err != nil {
		return nil, workflow.Permanent(err)
	}
	return emb, nil
}

// completerFor resolves u's API key and builds a completer with it.
func (p *Pipeline) completerFor(u *store.User) (provider.Completer, error) {
	key, err := p.apiKey(u)
	if err != nil {
		return nil, err
	}
	c, err := p.deps.Providers.Completer(key)
	if err != nil {
		return nil, workflow.Permanent(err)
	}
	return c, nil
}

// githubErr stops step retries for GitHub failures a repeat cannot fix.
func githubErr(err error) error {
	if err != nil && !github.Retryable(err) {
		return workflow.Permanent(err)
	}
	return err
}

func prURL(owner, repo string, number int) string {
	return fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, repo, number)
}
