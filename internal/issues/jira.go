package issues

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	jiraPageSize = 50

	// FallbackJQL bounds a listing when the account has no resolvable
	// projects. Jira rejects unbounded searches.
	FallbackJQL = "updated >= -30d ORDER BY updated DESC"
)

var jiraFields = []string{
	"summary", "description", "status", "priority", "assignee",
	"labels", "issuetype", "project", "created", "updated",
}

// JiraClient reads issues from the Jira Cloud REST API (v3) using basic
// email + API token authentication.
type JiraClient struct {
	client  *http.Client
	baseURL string
	auth    string
	logger  *slog.Logger
}

// NewJiraClient creates a client for the site at baseURL
// (e.g. https://acme.atlassian.net).
func NewJiraClient(baseURL, email, token string, timeout time.Duration, logger *slog.Logger) *JiraClient {
	if logger == nil {
		logger = slog.Default()
	}
	creds := base64.StdEncoding.EncodeToString([]byte(email + ":" + token))
	return &JiraClient{
		client:  newHTTPClient(timeout),
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    "Basic " + creds,
		logger:  logger,
	}
}

// Source implements Pager.
func (c *JiraClient) Source() Source { return SourceJira }

func (c *JiraClient) do(ctx context.Context, method, endpoint string, in, out any) error {
	header := http.Header{"Authorization": {c.auth}}
	return doJSON(ctx, c.client, "Jira", method, c.baseURL+"/rest/api/3"+endpoint, header, in, out)
}

// GetProjects lists the account's projects, falling back from the paginated
// search endpoint to the plain list endpoint.
func (c *JiraClient) GetProjects(ctx context.Context) ([]Project, error) {
	var search struct {
		Values []Project `json:"values"`
	}
	err := c.do(ctx, http.MethodGet, "/project/search?maxResults=50", nil, &search)
	if err == nil {
		return search.Values, nil
	}
	c.logger.Warn("jira project search failed, trying list endpoint", "error", err)

	var list []Project
	if fallbackErr := c.do(ctx, http.MethodGet, "/project", nil, &list); fallbackErr != nil {
		c.logger.Warn("jira project list failed", "error", fallbackErr)
		return nil, fmt.Errorf("fetching Jira projects: %w", err)
	}
	return list, nil
}

// BuildJQL returns a bounded query for the given project keys.
func BuildJQL(projectKeys []string, updatedAfter time.Time) string {
	var clauses []string
	if len(projectKeys) > 0 {
		clauses = append(clauses, "project IN ("+strings.Join(projectKeys, ",")+")")
	}
	if !updatedAfter.IsZero() {
		clauses = append(clauses, fmt.Sprintf("updated >= %q", updatedAfter.UTC().Format("2006-01-02 15:04")))
	}
	if len(clauses) == 0 {
		return FallbackJQL
	}
	return strings.Join(clauses, " AND ") + " ORDER BY updated DESC"
}

func (c *JiraClient) resolveJQL(ctx context.Context, filters Filters) (string, error) {
	if len(filters.ProjectKeys) > 0 {
		return BuildJQL(filters.ProjectKeys, filters.UpdatedAfter), nil
	}
	projects, err := c.GetProjects(ctx)
	if err != nil {
		return "", err
	}
	if len(projects) == 0 {
		return FallbackJQL, nil
	}
	keys := make([]string, len(projects))
	for i, p := range projects {
		keys[i] = p.Key
	}
	return BuildJQL(keys, filters.UpdatedAfter), nil
}

type jiraIssue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Self   string `json:"self"`
	Fields struct {
		Summary     string          `json:"summary"`
		Description json.RawMessage `json:"description"`
		Status      *struct {
			Name string `json:"name"`
		} `json:"status"`
		Priority *struct {
			Name string `json:"name"`
		} `json:"priority"`
		Assignee *struct {
			DisplayName  string `json:"displayName"`
			EmailAddress string `json:"emailAddress"`
		} `json:"assignee"`
		Labels    []string `json:"labels"`
		IssueType *struct {
			Name string `json:"name"`
		} `json:"issuetype"`
		Project *struct {
			Key  string `json:"key"`
			Name string `json:"name"`
		} `json:"project"`
		Created string `json:"created"`
		Updated string `json:"updated"`
	} `json:"fields"`
}

// jiraCursor is the continuation handed back to callers. It keeps the query
// resolved for the first page so later pages skip the project lookup.
type jiraCursor struct {
	JQL   string `json:"jql"`
	Token string `json:"token"`
}

func (cur jiraCursor) encode() string {
	b, _ := json.Marshal(cur)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeJiraCursor(s string) (jiraCursor, bool) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return jiraCursor{}, false
	}
	var cur jiraCursor
	if err := json.Unmarshal(b, &cur); err != nil || cur.JQL == "" || cur.Token == "" {
		return jiraCursor{}, false
	}
	return cur, true
}

// ListIssues returns one page of issues via the enhanced /search/jql API.
// The query is resolved once, on the first page, and carried in the
// returned continuation. A bare nextPageToken is also accepted.
func (c *JiraClient) ListIssues(ctx context.Context, continuation string, filters Filters) (*Page, error) {
	cur, ok := decodeJiraCursor(continuation)
	if !ok {
		jql, err := c.resolveJQL(ctx, filters)
		if err != nil {
			return nil, fmt.Errorf("listing Jira issues: %w", err)
		}
		cur = jiraCursor{JQL: jql, Token: continuation}
	}

	req := map[string]any{
		"jql":        cur.JQL,
		"maxResults": jiraPageSize,
		"fields":     jiraFields,
	}
	if cur.Token != "" {
		req["nextPageToken"] = cur.Token
	}

	var resp struct {
		Issues        []jiraIssue `json:"issues"`
		IsLast        bool        `json:"isLast"`
		NextPageToken string      `json:"nextPageToken"`
	}
	if err := c.do(ctx, http.MethodPost, "/search/jql", req, &resp); err != nil {
		return nil, fmt.Errorf("listing Jira issues: %w", err)
	}

	page := &Page{Items: make([]NormalizedIssue, 0, len(resp.Issues))}
	for _, raw := range resp.Issues {
		page.Items = append(page.Items, c.normalize(raw))
	}
	if !resp.IsLast && resp.NextPageToken != "" {
		page.Continuation = jiraCursor{JQL: cur.JQL, Token: resp.NextPageToken}.encode()
	}
	return page, nil
}

// GetIssue fetches a single issue by id or key.
func (c *JiraClient) GetIssue(ctx context.Context, id string) (*NormalizedIssue, error) {
	var raw jiraIssue
	if err := c.do(ctx, http.MethodGet, "/issue/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, fmt.Errorf("fetching Jira issue %s: %w", id, err)
	}
	issue := c.normalize(raw)
	return &issue, nil
}

func (c *JiraClient) normalize(raw jiraIssue) NormalizedIssue {
	return normalizeJiraIssue(raw, c.baseURL)
}

func normalizeJiraIssue(raw jiraIssue, baseURL string) NormalizedIssue {
	f := raw.Fields
	n := NormalizedIssue{
		ExternalID:      raw.ID,
		Source:          SourceJira,
		SourceURL:       baseURL + "/browse/" + raw.Key,
		Title:           f.Summary,
		Description:     FlattenADF(f.Description),
		Priority:        PriorityNone,
		Labels:          nonNilLabels(f.Labels),
		SourceCreatedAt: parseTime(f.Created),
		SourceUpdatedAt: parseTime(f.Updated),
	}
	if f.Project != nil {
		n.ProjectKey = f.Project.Key
		n.ProjectName = f.Project.Name
	}
	if f.Status != nil {
		n.Status = f.Status.Name
	}
	if f.Priority != nil {
		n.Priority = NormalizePriority(f.Priority.Name)
	}
	if f.Assignee != nil {
		n.Assignee = f.Assignee.DisplayName
	}
	if f.IssueType != nil {
		n.IssueType = strings.ToLower(f.IssueType.Name)
	}
	return n
}

type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

// FlattenADF turns a Jira description into plain text. Plain strings pass
// through; Atlassian Document Format is reduced to its leaf text nodes in
// document order, one line per top-level block. Anything unparseable
// yields "".
func FlattenADF(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}

	lines := make([]string, 0, len(doc.Content))
	for _, block := range doc.Content {
		var b strings.Builder
		collectText(block, &b)
		lines = append(lines, b.String())
	}
	return strings.Join(lines, "\n")
}

func collectText(n adfNode, b *strings.Builder) {
	if len(n.Content) == 0 {
		b.WriteString(n.Text)
		return
	}
	for _, child := range n.Content {
		collectText(child, b)
	}
}

// ParseJiraWebhook extracts the issue from a Jira webhook body. baseURL is
// the site URL used to build the browse link; when empty it is derived
// from the issue's self link. Payloads without an issue return nil.
func ParseJiraWebhook(body []byte, baseURL string) (*NormalizedIssue, error) {
	var payload struct {
		WebhookEvent string     `json:"webhookEvent"`
		Issue        *jiraIssue `json:"issue"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding Jira webhook: %w", err)
	}
	if payload.Issue == nil || payload.Issue.ID == "" {
		return nil, nil
	}

	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		if u, err := url.Parse(payload.Issue.Self); err == nil && u.Host != "" {
			base = u.Scheme + "://" + u.Host
		}
	}
	issue := normalizeJiraIssue(*payload.Issue, base)
	return &issue, nil
}
