package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacklau/codereviewer/internal/github"
	"github.com/jacklau/codereviewer/internal/indexer"
	"github.com/jacklau/codereviewer/internal/issues"
	"github.com/jacklau/codereviewer/internal/store"
	"github.com/jacklau/codereviewer/internal/workflow"
)

// IndexOutput is the stored output of an index-repo run.
type IndexOutput struct {
	Success      bool `json:"success"`
	FilesIndexed int  `json:"filesIndexed"`
}

func (p *Pipeline) indexRepo(ctx context.Context, run *workflow.Run) (any, error) {
	var req RepositoryConnected
	if err := run.Decode(&req); err != nil {
		return nil, err
	}
	repoKey := req.Owner + "/" + req.Repo

	u, err := p.user(req.UserID)
	if err != nil {
		return nil, err
	}

	files, err := workflow.Step(ctx, run, "fetch-files", func(ctx context.Context) ([]github.File, error) {
		gh, err := p.githubFor(u)
		if err != nil {
			return nil, err
		}
		files, err := gh.GetRepoFileContents(ctx, req.Owner, req.Repo, "")
		return files, githubErr(err)
	})
	if err != nil {
		return nil, err
	}

	n, err := workflow.Step(ctx, run, "index-codebase", func(ctx context.Context) (int, error) {
		emb, err := p.embedderFor(u)
		if err != nil {
			return 0, err
		}
		return p.deps.CodeIndex.Index(ctx, emb, repoKey, files)
	})
	if err != nil {
		return nil, err
	}

	run.Logger().Info("repository indexed", "repo", repoKey, "files", len(files), "indexed", n)
	return &IndexOutput{Success: true, FilesIndexed: n}, nil
}

// SyncOutput is the stored output of a sync-all-issues run.
type SyncOutput struct {
	Success bool `json:"success"`
	indexer.SyncResult
}

func (p *Pipeline) syncAllIssues(ctx context.Context, run *workflow.Run) (any, error) {
	var req IntegrationSync
	if err := run.Decode(&req); err != nil {
		return nil, err
	}
	logger := run.Logger().With("user", req.UserID, "provider", req.Provider)

	if _, err := workflow.Step(ctx, run, "check-integration", func(ctx context.Context) (bool, error) {
		_, err := p.integration(req.UserID, req.Provider)
		return err == nil, err
	}); err != nil {
		return nil, err
	}

	u, err := p.user(req.UserID)
	if err != nil {
		return nil, err
	}

	if _, err := workflow.Step(ctx, run, "check-api-key", func(ctx context.Context) (bool, error) {
		_, err := p.apiKey(u)
		return err == nil, err
	}); err != nil {
		return nil, err
	}

	list, err := workflow.Step(ctx, run, "fetch-issues", func(ctx context.Context) ([]issues.NormalizedIssue, error) {
		in, err := p.integration(req.UserID, req.Provider)
		if err != nil {
			return nil, err
		}
		tracker, err := p.tracker(in)
		if err != nil {
			return nil, err
		}
		filters := issues.Filters{ProjectKeys: in.Metadata.ProjectKeys}
		return issues.CollectAll(ctx, tracker, filters, p.deps.Options.MaxIssuesPerSync)
	})
	if err != nil {
		return nil, err
	}

	res, err := workflow.Step(ctx, run, "store-and-embed", func(ctx context.Context) (*indexer.SyncResult, error) {
		emb, err := p.embedderFor(u)
		if err != nil {
			return nil, err
		}
		return p.deps.IssueIndex.Sync(ctx, emb, req.UserID, list)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("issues synced", "fetched", res.Fetched, "embedded", res.Embedded, "skipped", res.Skipped, "failed", res.Failed)
	return &SyncOutput{Success: true, SyncResult: *res}, nil
}

// IssueOutput is the stored output of a sync-issue run.
type IssueOutput struct {
	Success  bool `json:"success"`
	Embedded bool `json:"embedded"`
}

func (p *Pipeline) syncIssue(ctx context.Context, run *workflow.Run) (any, error) {
	var req IssueSync
	if err := run.Decode(&req); err != nil {
		return nil, err
	}
	source, ok := issues.ParseSource(req.Source)
	if !ok {
		return nil, workflow.Permanent(fmt.Errorf("unknown issue source %q", req.Source))
	}

	issue, err := workflow.Step(ctx, run, "fetch-issue", func(ctx context.Context) (*store.Issue, error) {
		is, err := p.deps.Store.GetIssueByExternalID(req.UserID, source, req.IssueID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, workflow.Permanent(fmt.Errorf("issue %s/%s: %w", source, req.IssueID, err))
		}
		return is, err
	})
	if err != nil {
		return nil, err
	}

	u, err := p.user(req.UserID)
	if err != nil {
		return nil, err
	}

	embedded, err := workflow.Step(ctx, run, "embed-issue", func(ctx context.Context) (bool, error) {
		emb, err := p.embedderFor(u)
		if err != nil {
			return false, err
		}
		return p.deps.IssueIndex.Embed(ctx, emb, issue)
	})
	if err != nil {
		return nil, err
	}
	return &IssueOutput{Success: true, Embedded: embedded}, nil
}

// ScheduledOutput is the stored output of a scheduled-integration-sync run.
type ScheduledOutput struct {
	Success            bool `json:"success"`
	SyncedIntegrations int  `json:"syncedIntegrations"`
}

func (p *Pipeline) scheduledSync(ctx context.Context, run *workflow.Run) (any, error) {
	pairs, err := workflow.Step(ctx, run, "fetch-users-with-integrations", func(ctx context.Context) ([]IntegrationSync, error) {
		all, err := p.deps.Store.ListIntegrations()
		if err != nil {
			return nil, err
		}
		return groupByUser(all), nil
	})
	if err != nil {
		return nil, err
	}

	for _, pair := range pairs {
		step := fmt.Sprintf("sync-%d-%s", pair.UserID, pair.Provider)
		if _, err := run.SendEvent(ctx, step, EventIntegrationSync, pair); err != nil {
			return nil, err
		}
	}

	run.Logger().Info("scheduled sync dispatched", "integrations", len(pairs))
	return &ScheduledOutput{Success: true, SyncedIntegrations: len(pairs)}, nil
}

// groupByUser returns one sync request per (user, provider), users in first
// seen order.
func groupByUser(all []store.Integration) []IntegrationSync {
	byUser := make(map[int64][]string)
	var order []int64
	for _, in := range all {
		if _, ok := byUser[in.UserID]; !ok {
			order = append(order, in.UserID)
		}
		byUser[in.UserID] = append(byUser[in.UserID], in.Provider)
	}

	var out []IntegrationSync
	for _, userID := range order {
		for _, provider := range byUser[userID] {
			out = append(out, IntegrationSync{UserID: userID, Provider: provider})
		}
	}
	return out
}

// integration loads the (user, provider) integration.
func (p *Pipeline) integration(userID int64, provider string) (*store.Integration, error) {
	in, err := p.deps.Store.GetIntegration(userID, provider)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("user %d, %s: %w", userID, provider, ErrIntegrationNotFound)
	}
	return in, err
}

// tracker decrypts the integration token and builds its client.
func (p *Pipeline) tracker(in *store.Integration) (issues.Pager, error) {
	token, err := p.deps.Box.Decrypt(in.AccessToken)
	if err != nil {
		return nil, workflow.Permanent(fmt.Errorf("decrypting %s token: %w", in.Provider, err))
	}
	return p.deps.Trackers(in.Provider, token, in.Metadata)
}
