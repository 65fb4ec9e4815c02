package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jacklau/codereviewer/internal/issues"
	"github.com/jacklau/codereviewer/internal/retrieval"
	"github.com/jacklau/codereviewer/internal/store"
	"github.com/jacklau/codereviewer/internal/vectorstore"
)

// ErrInvalidJiraURL is returned for Jira URLs outside Atlassian Cloud.
var ErrInvalidJiraURL = errors.New("invalid Jira Cloud URL, expected https://<site>.atlassian.net")

// JiraConnection is what a user supplies to connect Jira Cloud.
type JiraConnection struct {
	CloudURL    string
	Email       string
	APIToken    string
	ProjectKeys []string
}

// ConnectLinear validates apiKey against Linear, stores it encrypted with the
// workspace it belongs to, and starts an initial sync.
func (p *Pipeline) ConnectLinear(ctx context.Context, userID int64, apiKey string) (*store.Integration, error) {
	if _, err := p.deps.Store.GetUser(userID); err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	tracker, err := p.deps.Trackers(string(issues.SourceLinear), apiKey, store.IntegrationMetadata{})
	if err != nil {
		return nil, err
	}
	lookup, ok := tracker.(WorkspaceLookup)
	if !ok {
		return nil, fmt.Errorf("linear tracker cannot describe its workspace")
	}
	ws, err := lookup.GetWorkspace(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Linear: %w", err)
	}

	return p.saveIntegration(ctx, &store.Integration{
		UserID:        userID,
		Provider:      string(issues.SourceLinear),
		WorkspaceID:   ws.ID,
		WorkspaceName: ws.Name,
	}, apiKey)
}

// ConnectJira validates the Jira Cloud credentials by listing projects,
// stores them encrypted, and starts an initial sync. When the project list
// cannot be fetched the connection still succeeds if project keys were given.
func (p *Pipeline) ConnectJira(ctx context.Context, userID int64, conn JiraConnection) (*store.Integration, error) {
	cloudURL := strings.TrimRight(strings.TrimSpace(conn.CloudURL), "/")
	if !strings.Contains(cloudURL, "atlassian.net") {
		return nil, ErrInvalidJiraURL
	}
	if _, err := p.deps.Store.GetUser(userID); err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	meta := store.IntegrationMetadata{Email: conn.Email, CloudURL: cloudURL, ProjectKeys: conn.ProjectKeys}
	tracker, err := p.deps.Trackers(string(issues.SourceJira), conn.APIToken, meta)
	if err != nil {
		return nil, err
	}
	projects, err := tracker.GetProjects(ctx)
	if err != nil {
		if len(conn.ProjectKeys) == 0 {
			return nil, fmt.Errorf("failed to connect to Jira: %w", err)
		}
		p.deps.Logger.Warn("listing Jira projects failed, using given project keys", "error", err)
	}
	if len(meta.ProjectKeys) == 0 {
		for _, pr := range projects {
			meta.ProjectKeys = append(meta.ProjectKeys, pr.Key)
		}
	}

	workspace := strings.TrimSuffix(strings.TrimPrefix(cloudURL, "https://"), ".atlassian.net")
	return p.saveIntegration(ctx, &store.Integration{
		UserID:        userID,
		Provider:      string(issues.SourceJira),
		WorkspaceID:   workspace,
		WorkspaceName: cloudURL,
		Metadata:      meta,
	}, conn.APIToken)
}

func (p *Pipeline) saveIntegration(ctx context.Context, in *store.Integration, token string) (*store.Integration, error) {
	enc, err := p.deps.Box.Encrypt(token)
	if err != nil {
		return nil, fmt.Errorf("encrypting %s token: %w", in.Provider, err)
	}
	in.AccessToken = enc

	saved, err := p.deps.Store.UpsertIntegration(in)
	if err != nil {
		return nil, err
	}
	if _, err := p.deps.Engine.Send(ctx, EventIntegrationSync, IntegrationSync{UserID: in.UserID, Provider: in.Provider}); err != nil {
		return nil, fmt.Errorf("requesting initial sync: %w", err)
	}
	p.deps.Logger.Info("integration connected", "user", in.UserID, "provider", in.Provider, "workspace", in.WorkspaceName)
	return saved, nil
}

// Disconnect removes the integration with its issues and their vectors.
// Disconnecting an integration that does not exist succeeds.
func (p *Pipeline) Disconnect(ctx context.Context, userID int64, provider string) (bool, error) {
	existed, err := p.deps.Store.DeleteIntegration(userID, provider)
	if err != nil {
		return false, err
	}
	n, err := p.deps.Vectors.Delete(ctx, vectorstore.NamespaceIssues, vectorstore.Filter{
		vectorstore.Eq(retrieval.MetaUserID, strconv.FormatInt(userID, 10)),
		vectorstore.Eq(retrieval.MetaSource, provider),
	})
	if err != nil {
		return existed, fmt.Errorf("deleting %s issue vectors: %w", provider, err)
	}
	p.deps.Logger.Info("integration disconnected", "user", userID, "provider", provider, "existed", existed, "vectors", n)
	return existed, nil
}

// RequestSync enqueues a bulk sync of an existing integration.
func (p *Pipeline) RequestSync(ctx context.Context, userID int64, provider string) ([]string, error) {
	if _, err := p.integration(userID, provider); err != nil {
		return nil, err
	}
	return p.deps.Engine.Send(ctx, EventIntegrationSync, IntegrationSync{UserID: userID, Provider: provider})
}

// HandleIssueWebhook stores the issue carried by a tracker webhook and
// enqueues its embedding. It reports false for payloads that carry no issue.
func (p *Pipeline) HandleIssueWebhook(ctx context.Context, userID int64, provider string, body []byte) (bool, error) {
	in, err := p.integration(userID, provider)
	if err != nil {
		return false, err
	}

	var ni *issues.NormalizedIssue
	switch issues.Source(provider) {
	case issues.SourceLinear:
		ni, err = issues.ParseLinearWebhook(body)
	case issues.SourceJira:
		ni, err = issues.ParseJiraWebhook(body, in.Metadata.CloudURL)
	default:
		return false, fmt.Errorf("unsupported provider %q", provider)
	}
	if err != nil || ni == nil {
		return false, err
	}

	if _, err := p.deps.Store.UpsertIssue(userID, ni); err != nil {
		return false, err
	}
	if _, err := p.deps.Engine.Send(ctx, EventIssueSync, IssueSync{
		IssueID: ni.ExternalID,
		Source:  string(ni.Source),
		UserID:  userID,
	}); err != nil {
		return false, err
	}
	p.deps.Logger.Debug("issue webhook stored", "user", userID, "provider", provider, "issue", ni.ExternalID)
	return true, nil
}
