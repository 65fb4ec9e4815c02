package issues

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func newTestLinearClient(t *testing.T, handler http.HandlerFunc) *LinearClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewLinearClient("lin_api_test", time.Second)
	c.endpoint = srv.URL
	return c
}

func TestLinearListIssuesPaginates(t *testing.T) {
	var calls int
	c := newTestLinearClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "lin_api_test" {
			t.Errorf("expected raw api key in Authorization, got %q", got)
		}
		var req graphQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
			return
		}
		calls++
		w.Header().Set("Content-Type", "application/json")
		if req.Variables["after"] == nil {
			w.Write([]byte(`{"data":{"issues":{"nodes":[
				{"id":"a1","identifier":"ENG-1","title":"Login fails","url":"https://linear.app/acme/issue/ENG-1","priority":1,
				 "state":{"name":"In Progress"},"team":{"key":"ENG","name":"Engineering"},
				 "labels":{"nodes":[{"name":"bug"},{"name":"auth"}]},
				 "assignee":{"name":"Sam","email":"sam@example.com"},
				 "createdAt":"2024-01-01T00:00:00.000Z","updatedAt":"2024-01-02T00:00:00.000Z"}
			],"pageInfo":{"hasNextPage":true,"endCursor":"cur-1"}}}}`))
			return
		}
		if req.Variables["after"] != "cur-1" {
			t.Errorf("expected cursor cur-1, got %v", req.Variables["after"])
		}
		w.Write([]byte(`{"data":{"issues":{"nodes":[
			{"id":"a2","title":"Docs","url":"https://linear.app/acme/issue/ENG-2","priority":9,"createdAt":"","updatedAt":""}
		],"pageInfo":{"hasNextPage":false,"endCursor":"cur-2"}}}}`))
	})

	all, err := CollectAll(context.Background(), c, Filters{}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 requests, got %d", calls)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(all))
	}

	want := NormalizedIssue{
		ExternalID:      "a1",
		Source:          SourceLinear,
		SourceURL:       "https://linear.app/acme/issue/ENG-1",
		ProjectKey:      "ENG",
		ProjectName:     "Engineering",
		Title:           "Login fails",
		Status:          "In Progress",
		Priority:        PriorityUrgent,
		Assignee:        "Sam",
		Labels:          []string{"bug", "auth"},
		IssueType:       "issue",
		SourceCreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		SourceUpdatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, all[0]); diff != "" {
		t.Errorf("first issue mismatch (-want +got):\n%s", diff)
	}

	second := all[1]
	if second.Priority != PriorityNone {
		t.Errorf("expected unknown ordinal to map to none, got %q", second.Priority)
	}
	if second.Labels == nil {
		t.Error("expected non-nil labels")
	}
	if !second.SourceUpdatedAt.IsZero() {
		t.Errorf("expected zero update time, got %v", second.SourceUpdatedAt)
	}
}

func TestLinearPriorityTable(t *testing.T) {
	tests := []struct {
		ordinal int
		want    Priority
	}{
		{0, PriorityNone},
		{1, PriorityUrgent},
		{2, PriorityHigh},
		{3, PriorityMedium},
		{4, PriorityLow},
		{7, PriorityNone},
	}
	for _, tt := range tests {
		got := normalizeLinearIssue(linearIssue{ID: "x", Priority: tt.ordinal}).Priority
		if got != tt.want {
			t.Errorf("priority %d: expected %q, got %q", tt.ordinal, tt.want, got)
		}
	}
}

func TestLinearFiltersSentAsVariables(t *testing.T) {
	c := newTestLinearClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		json.NewDecoder(r.Body).Decode(&req)
		filter, ok := req.Variables["filter"].(map[string]any)
		if !ok {
			t.Errorf("expected filter variable, got %v", req.Variables)
			return
		}
		team := filter["team"].(map[string]any)["key"].(map[string]any)["in"].([]any)
		if len(team) != 1 || team[0] != "ENG" {
			t.Errorf("unexpected team filter: %v", team)
		}
		w.Write([]byte(`{"data":{"issues":{"nodes":[],"pageInfo":{"hasNextPage":false}}}}`))
	})

	page, err := c.ListIssues(context.Background(), "", Filters{ProjectKeys: []string{"ENG"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Continuation != "" {
		t.Errorf("expected empty continuation, got %q", page.Continuation)
	}
}

func TestLinearGraphQLErrors(t *testing.T) {
	c := newTestLinearClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"Authentication required"}]}`))
	})

	_, err := c.GetWorkspace(context.Background())
	if err == nil || !strings.Contains(err.Error(), "Authentication required") {
		t.Errorf("expected graphql error, got %v", err)
	}
}

func TestLinearUnauthorized(t *testing.T) {
	c := newTestLinearClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.GetProjects(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestLinearGetWorkspaceAndTeams(t *testing.T) {
	c := newTestLinearClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		json.NewDecoder(r.Body).Decode(&req)
		if strings.Contains(req.Query, "organization") {
			w.Write([]byte(`{"data":{"organization":{"id":"org-1","name":"Acme"}}}`))
			return
		}
		w.Write([]byte(`{"data":{"teams":{"nodes":[{"id":"t1","key":"ENG","name":"Engineering"}]}}}`))
	})

	ws, err := c.GetWorkspace(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ws.ID != "org-1" || ws.Name != "Acme" {
		t.Errorf("unexpected workspace: %+v", ws)
	}

	teams, err := c.GetProjects(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]Project{{ID: "t1", Key: "ENG", Name: "Engineering"}}, teams); diff != "" {
		t.Errorf("teams mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLinearWebhook(t *testing.T) {
	t.Run("issue event", func(t *testing.T) {
		body := []byte(`{"action":"update","type":"Issue","data":{"id":"a9","title":"Crash","url":"https://linear.app/x/ENG-9","priority":2,"team":{"key":"ENG","name":"Eng"}}}`)
		issue, err := ParseLinearWebhook(body)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if issue == nil {
			t.Fatal("expected issue")
		}
		if issue.Priority != PriorityHigh || issue.ProjectKey != "ENG" || issue.SourceURL != "https://linear.app/x/ENG-9" {
			t.Errorf("unexpected issue: %+v", issue)
		}
		if issue.Labels == nil || issue.Status != "" || issue.Assignee != "" {
			t.Errorf("expected nil-safe defaults, got %+v", issue)
		}
	})

	t.Run("label shapes", func(t *testing.T) {
		tests := []struct {
			name   string
			labels string
			want   []string
		}{
			{"webhook array", `[{"id":"l1","name":"bug","color":"#f00"},{"id":"l2","name":"auth"}]`, []string{"bug", "auth"}},
			{"graphql connection", `{"nodes":[{"name":"bug"}]}`, []string{"bug"}},
			{"null", `null`, []string{}},
			{"unexpected", `"bug"`, []string{}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				body := []byte(`{"action":"create","type":"Issue","data":{"id":"a1","title":"Crash","labels":` + tt.labels + `}}`)
				issue, err := ParseLinearWebhook(body)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if diff := cmp.Diff(tt.want, issue.Labels); diff != "" {
					t.Errorf("labels mismatch (-want +got):\n%s", diff)
				}
			})
		}
	})

	t.Run("comment event ignored", func(t *testing.T) {
		issue, err := ParseLinearWebhook([]byte(`{"action":"create","type":"Comment","data":{"id":"c1"}}`))
		if err != nil || issue != nil {
			t.Errorf("expected nil issue and nil error, got %+v, %v", issue, err)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		if _, err := ParseLinearWebhook([]byte(`{`)); err == nil {
			t.Error("expected decode error")
		}
	})
}
