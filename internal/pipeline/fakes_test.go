package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jacklau/codereviewer/internal/crypto"
	"github.com/jacklau/codereviewer/internal/github"
	"github.com/jacklau/codereviewer/internal/issues"
	"github.com/jacklau/codereviewer/internal/provider"
	"github.com/jacklau/codereviewer/internal/ratelimit"
	"github.com/jacklau/codereviewer/internal/store"
	"github.com/jacklau/codereviewer/internal/vectorstore"
	"github.com/jacklau/codereviewer/internal/workflow"
)

// fakeEmbedder returns the same unit vector for every text.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCompleter struct {
	mu      sync.Mutex
	reply   string
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.reply, nil
}

func (f *fakeCompleter) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type fakeProviders struct {
	emb  *fakeEmbedder
	llm  *fakeCompleter
	mu   sync.Mutex
	keys []string
}

func (f *fakeProviders) Embedder(apiKey string) (provider.Embedder, error) {
	f.mu.Lock()
	f.keys = append(f.keys, apiKey)
	f.mu.Unlock()
	return f.emb, nil
}

func (f *fakeProviders) Completer(apiKey string) (provider.Completer, error) {
	f.mu.Lock()
	f.keys = append(f.keys, apiKey)
	f.mu.Unlock()
	return f.llm, nil
}

type reply struct {
	Body string
	User string
}

type fakeGitHub struct {
	mu       sync.Mutex
	pr       *github.PullRequest
	prErr    error
	prCalls  int
	files    []github.File
	comments []github.Comment
	posted   []string
	replies  []reply
}

func (f *fakeGitHub) GetPullRequestDiff(context.Context, string, string, int) (*github.PullRequest, error) {
	f.mu.Lock()
	f.prCalls++
	f.mu.Unlock()
	if f.prErr != nil {
		return nil, f.prErr
	}
	return f.pr, nil
}

func (f *fakeGitHub) GetRepoFileContents(context.Context, string, string, string) ([]github.File, error) {
	return f.files, nil
}

func (f *fakeGitHub) PostReviewComment(_ context.Context, _, _ string, _ int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, body)
	return nil
}

func (f *fakeGitHub) ReplyToComment(_ context.Context, _, _ string, _ int, body, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, reply{Body: body, User: user})
	return nil
}

func (f *fakeGitHub) GetPRComments(context.Context, string, string, int) ([]github.Comment, error) {
	return f.comments, nil
}

func (f *fakeGitHub) GetRepository(_ context.Context, owner, repo string) (*github.Repository, error) {
	return &github.Repository{
		ID:       99,
		Owner:    owner,
		Name:     repo,
		FullName: owner + "/" + repo,
		URL:      "https://github.com/" + owner + "/" + repo,
	}, nil
}

func (f *fakeGitHub) snapshot() ([]string, []reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posted...), append([]reply(nil), f.replies...)
}

type fakeClients struct {
	gh     *fakeGitHub
	app    bool
	mu     sync.Mutex
	tokens []string
}

func (f *fakeClients) For(token string) (GitHub, error) {
	f.mu.Lock()
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()
	if token == "" && !f.app {
		return nil, github.ErrNoCredential
	}
	return f.gh, nil
}

func (f *fakeClients) AppMode() bool { return f.app }

// fakeTracker serves a fixed list of issues in pages of two.
type fakeTracker struct {
	source      issues.Source
	items       []issues.NormalizedIssue
	projects    []issues.Project
	projectsErr error
	workspace   *issues.Workspace
}

func (f *fakeTracker) Source() issues.Source { return f.source }

func (f *fakeTracker) GetProjects(context.Context) ([]issues.Project, error) {
	return f.projects, f.projectsErr
}

func (f *fakeTracker) ListIssues(_ context.Context, cont string, _ issues.Filters) (*issues.Page, error) {
	start := 0
	if cont != "" {
		start = len(cont)
	}
	end := min(start+2, len(f.items))
	page := &issues.Page{Items: f.items[start:end]}
	if end < len(f.items) {
		page.Continuation = strings.Repeat("x", end)
	}
	return page, nil
}

func (f *fakeTracker) GetIssue(_ context.Context, id string) (*issues.NormalizedIssue, error) {
	for i := range f.items {
		if f.items[i].ExternalID == id {
			return &f.items[i], nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeTracker) GetWorkspace(context.Context) (*issues.Workspace, error) {
	if f.workspace == nil {
		return nil, errors.New("unauthorized")
	}
	return f.workspace, nil
}

type trackerCall struct {
	Provider string
	Token    string
	Meta     store.IntegrationMetadata
}

type harness struct {
	db        *store.DB
	vectors   *vectorstore.SQLite
	engine    *workflow.Engine
	box       *crypto.Box
	gh        *fakeGitHub
	clients   *fakeClients
	providers *fakeProviders
	trackers  map[string]*fakeTracker
	mu        sync.Mutex
	calls     []trackerCall
	p         *Pipeline
}

func newHarness(t *testing.T, limit *ratelimit.Limiter) *harness {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	vectors, err := vectorstore.NewSQLite(db.Conn(), nil)
	if err != nil {
		t.Fatalf("creating vector store: %v", err)
	}
	engine, err := workflow.New(db.Conn(), workflow.Options{
		StepAttempts: 2,
		StepBackoff:  time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	box, err := crypto.NewBox("test-secret")
	if err != nil {
		t.Fatalf("creating box: %v", err)
	}

	h := &harness{
		db:      db,
		vectors: vectors,
		engine:  engine,
		box:     box,
		gh: &fakeGitHub{pr: &github.PullRequest{
			Title:       "Add retry to uploader",
			Description: "Fixes flaky uploads",
			Diff:        "diff --git a/upload.go b/upload.go\n+retry()",
		}},
		providers: &fakeProviders{emb: &fakeEmbedder{}, llm: &fakeCompleter{reply: "## Walkthrough\nLooks good."}},
		trackers:  map[string]*fakeTracker{},
	}
	h.clients = &fakeClients{gh: h.gh}

	h.p = New(Deps{
		Store:     db,
		Vectors:   vectors,
		Engine:    engine,
		GitHub:    h.clients,
		Providers: h.providers,
		Trackers: func(name, token string, meta store.IntegrationMetadata) (issues.Pager, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.calls = append(h.calls, trackerCall{Provider: name, Token: token, Meta: meta})
			tr, ok := h.trackers[name]
			if !ok {
				return nil, errors.New("no tracker")
			}
			return tr, nil
		},
		Box:         box,
		ReviewLimit: limit,
	})
	if err := h.p.Register(); err != nil {
		t.Fatalf("registering functions: %v", err)
	}
	return h
}

func (h *harness) trackerCalls() []trackerCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]trackerCall(nil), h.calls...)
}

// start runs the engine until the test ends.
func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// addUser stores a user with the given plaintext credentials.
func (h *harness) addUser(t *testing.T, login, token, apiKey string) *store.User {
	t.Helper()
	u, err := h.p.RegisterUser(UserInput{Login: login, GitHubToken: token, APIKey: apiKey})
	if err != nil {
		t.Fatalf("registering user: %v", err)
	}
	return u
}

func (h *harness) addRepo(t *testing.T, userID int64, owner, name string) *store.Repository {
	t.Helper()
	r, err := h.db.UpsertRepository(&store.Repository{UserID: userID, Owner: owner, Name: name})
	if err != nil {
		t.Fatalf("adding repository: %v", err)
	}
	return r
}

func (h *harness) addIntegration(t *testing.T, userID int64, provider, token string, meta store.IntegrationMetadata) {
	t.Helper()
	enc, err := h.box.Encrypt(token)
	if err != nil {
		t.Fatalf("encrypting: %v", err)
	}
	if _, err := h.db.UpsertIntegration(&store.Integration{
		UserID: userID, Provider: provider, AccessToken: enc, Metadata: meta,
	}); err != nil {
		t.Fatalf("adding integration: %v", err)
	}
}

// send enqueues event and waits for every run it created to finish.
func (h *harness) send(t *testing.T, event string, payload any) []workflow.RunRecord {
	t.Helper()
	ids, err := h.engine.Send(context.Background(), event, payload)
	if err != nil {
		t.Fatalf("sending %s: %v", event, err)
	}
	return h.wait(t, ids)
}

func (h *harness) wait(t *testing.T, ids []string) []workflow.RunRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	out := make([]workflow.RunRecord, 0, len(ids))
	for _, id := range ids {
		for {
			rec, err := h.engine.GetRun(id)
			if err != nil {
				t.Fatalf("getting run %s: %v", id, err)
			}
			if rec.Status == workflow.StatusCompleted || rec.Status == workflow.StatusFailed {
				out = append(out, *rec)
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("run %s still %s at step %q", id, rec.Status, rec.CurrentStep)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
	return out
}

func sampleIssues() []issues.NormalizedIssue {
	now := time.Now().UTC()
	return []issues.NormalizedIssue{
		{ExternalID: "ENG-1", Source: issues.SourceLinear, SourceURL: "https://linear.app/acme/issue/ENG-1", Title: "Uploads fail on slow networks", Status: "In Progress", Priority: issues.PriorityHigh, Labels: []string{"bug"}, SourceUpdatedAt: now},
		{ExternalID: "ENG-2", Source: issues.SourceLinear, Title: "Add upload metrics", Status: "Todo", Priority: issues.PriorityLow, Labels: []string{}, SourceUpdatedAt: now.Add(-48 * time.Hour)},
		{ExternalID: "ENG-3", Source: issues.SourceLinear, Title: "Document retries", Status: "Done", Priority: issues.PriorityNone, Labels: []string{}},
	}
}
