package issues

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	linearAPIURL   = "https://api.linear.app/graphql"
	linearPageSize = 50
)

// linearPriorities maps Linear's ordinal priority onto the canonical levels.
var linearPriorities = map[int]Priority{
	0: PriorityNone,
	1: PriorityUrgent,
	2: PriorityHigh,
	3: PriorityMedium,
	4: PriorityLow,
}

const linearIssueFields = `
	id
	identifier
	title
	description
	url
	state { name }
	priority
	assignee { name email }
	labels { nodes { name } }
	team { key name }
	createdAt
	updatedAt`

// LinearClient reads issues from the Linear GraphQL API.
type LinearClient struct {
	client   *http.Client
	token    string
	endpoint string
}

// NewLinearClient creates a client authenticated with a Linear API key.
func NewLinearClient(token string, timeout time.Duration) *LinearClient {
	return &LinearClient{
		client:   newHTTPClient(timeout),
		token:    token,
		endpoint: linearAPIURL,
	}
}

// Source implements Pager.
func (c *LinearClient) Source() Source { return SourceLinear }

type linearIssue struct {
	ID          string `json:"id"`
	Identifier  string `json:"identifier"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	State       *struct {
		Name string `json:"name"`
	} `json:"state"`
	Priority int `json:"priority"`
	Assignee *struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"assignee"`
	Labels linearLabels `json:"labels"`
	Team   *struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"team"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type linearLabel struct {
	Name string `json:"name"`
}

// linearLabels holds label names. The GraphQL API nests them under
// {"nodes": [...]} while webhook payloads send a bare array.
type linearLabels []string

func (l *linearLabels) UnmarshalJSON(b []byte) error {
	*l = nil
	var conn struct {
		Nodes []linearLabel `json:"nodes"`
	}
	if err := json.Unmarshal(b, &conn); err == nil {
		l.add(conn.Nodes)
		return nil
	}
	var list []linearLabel
	if err := json.Unmarshal(b, &list); err == nil {
		l.add(list)
	}
	return nil
}

func (l *linearLabels) add(labels []linearLabel) {
	for _, label := range labels {
		if label.Name != "" {
			*l = append(*l, label.Name)
		}
	}
}

type graphQLError struct {
	Message string `json:"message"`
}

func (c *LinearClient) query(ctx context.Context, query string, vars map[string]any, out any) error {
	var resp struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	header := http.Header{"Authorization": {c.token}}
	body := map[string]any{"query": query, "variables": vars}
	if err := doJSON(ctx, c.client, "Linear", http.MethodPost, c.endpoint, header, body, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			msgs[i] = e.Message
		}
		return fmt.Errorf("Linear GraphQL error: %s", strings.Join(msgs, "; "))
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return fmt.Errorf("Linear: %w", ErrEmptyResponse)
	}
	return json.Unmarshal(resp.Data, out)
}

// Workspace identifies the Linear organization a key belongs to.
type Workspace struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GetWorkspace returns the organization for the API key. It doubles as the
// credential check when an integration is connected.
func (c *LinearClient) GetWorkspace(ctx context.Context) (*Workspace, error) {
	var data struct {
		Organization Workspace `json:"organization"`
	}
	if err := c.query(ctx, `query { organization { id name } }`, nil, &data); err != nil {
		return nil, fmt.Errorf("fetching Linear workspace: %w", err)
	}
	return &data.Organization, nil
}

// GetProjects returns the workspace's teams. Linear teams play the role of
// projects: their keys prefix issue identifiers.
func (c *LinearClient) GetProjects(ctx context.Context) ([]Project, error) {
	var data struct {
		Teams struct {
			Nodes []Project `json:"nodes"`
		} `json:"teams"`
	}
	if err := c.query(ctx, `query { teams { nodes { id key name } } }`, nil, &data); err != nil {
		return nil, fmt.Errorf("fetching Linear teams: %w", err)
	}
	return data.Teams.Nodes, nil
}

// ListIssues returns one page of issues. continuation is the previous page's
// endCursor.
func (c *LinearClient) ListIssues(ctx context.Context, continuation string, filters Filters) (*Page, error) {
	q := `query Issues($first: Int!, $after: String, $filter: IssueFilter) {
  issues(first: $first, after: $after, filter: $filter) {
    nodes {` + linearIssueFields + `
    }
    pageInfo { hasNextPage endCursor }
  }
}`
	vars := map[string]any{"first": linearPageSize}
	if continuation != "" {
		vars["after"] = continuation
	}
	filter := map[string]any{}
	if len(filters.ProjectKeys) > 0 {
		filter["team"] = map[string]any{"key": map[string]any{"in": filters.ProjectKeys}}
	}
	if !filters.UpdatedAfter.IsZero() {
		filter["updatedAt"] = map[string]any{"gte": filters.UpdatedAfter.UTC().Format(time.RFC3339)}
	}
	if len(filter) > 0 {
		vars["filter"] = filter
	}

	var data struct {
		Issues struct {
			Nodes    []linearIssue `json:"nodes"`
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
		} `json:"issues"`
	}
	if err := c.query(ctx, q, vars, &data); err != nil {
		return nil, fmt.Errorf("listing Linear issues: %w", err)
	}

	page := &Page{Items: make([]NormalizedIssue, 0, len(data.Issues.Nodes))}
	for _, raw := range data.Issues.Nodes {
		page.Items = append(page.Items, normalizeLinearIssue(raw))
	}
	if data.Issues.PageInfo.HasNextPage {
		page.Continuation = data.Issues.PageInfo.EndCursor
	}
	return page, nil
}

// GetIssue fetches a single issue by id or identifier.
func (c *LinearClient) GetIssue(ctx context.Context, id string) (*NormalizedIssue, error) {
	q := `query Issue($id: String!) {
  issue(id: $id) {` + linearIssueFields + `
  }
}`
	var data struct {
		Issue *linearIssue `json:"issue"`
	}
	if err := c.query(ctx, q, map[string]any{"id": id}, &data); err != nil {
		return nil, fmt.Errorf("fetching Linear issue %s: %w", id, err)
	}
	if data.Issue == nil {
		return nil, fmt.Errorf("Linear issue %s: %w", id, ErrEmptyResponse)
	}
	issue := normalizeLinearIssue(*data.Issue)
	return &issue, nil
}

func normalizeLinearIssue(raw linearIssue) NormalizedIssue {
	n := NormalizedIssue{
		ExternalID:      raw.ID,
		Source:          SourceLinear,
		SourceURL:       raw.URL,
		Title:           raw.Title,
		Description:     raw.Description,
		Priority:        PriorityNone,
		Labels:          []string{},
		IssueType:       "issue",
		SourceCreatedAt: parseTime(raw.CreatedAt),
		SourceUpdatedAt: parseTime(raw.UpdatedAt),
	}
	if p, ok := linearPriorities[raw.Priority]; ok {
		n.Priority = p
	}
	if raw.Team != nil {
		n.ProjectKey = raw.Team.Key
		n.ProjectName = raw.Team.Name
	}
	if raw.State != nil {
		n.Status = raw.State.Name
	}
	if raw.Assignee != nil {
		n.Assignee = raw.Assignee.Name
	}
	n.Labels = append(n.Labels, raw.Labels...)
	return n
}

// ParseLinearWebhook extracts the issue from a Linear webhook body. Events
// about anything other than issues return nil without error.
func ParseLinearWebhook(body []byte) (*NormalizedIssue, error) {
	var payload struct {
		Action string          `json:"action"`
		Type   string          `json:"type"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding Linear webhook: %w", err)
	}
	if payload.Type != "Issue" || len(payload.Data) == 0 {
		return nil, nil
	}

	var raw linearIssue
	if err := json.Unmarshal(payload.Data, &raw); err != nil {
		return nil, fmt.Errorf("decoding Linear webhook issue: %w", err)
	}
	if raw.ID == "" {
		return nil, nil
	}
	issue := normalizeLinearIssue(raw)
	return &issue, nil
}
