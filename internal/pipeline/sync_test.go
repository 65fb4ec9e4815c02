package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jacklau/codereviewer/internal/issues"
	"github.com/jacklau/codereviewer/internal/store"
	"github.com/jacklau/codereviewer/internal/vectorstore"
	"github.com/jacklau/codereviewer/internal/workflow"
)

func issueVectors(t *testing.T, h *harness, userID int64) int {
	t.Helper()
	matches, err := h.vectors.Query(context.Background(), vectorstore.NamespaceIssues, []float32{1, 0, 0}, 100,
		vectorstore.Filter{vectorstore.Eq("userId", strconv.FormatInt(userID, 10))})
	if err != nil {
		t.Fatalf("querying vectors: %v", err)
	}
	return len(matches)
}

func TestSyncAllIssuesStoresAndEmbeds(t *testing.T) {
	h := newHarness(t, nil)
	u := h.addUser(t, "alice", "gh-token", "sk-test")
	h.addIntegration(t, u.ID, "linear", "lin_api_key", store.IntegrationMetadata{})
	h.trackers["linear"] = &fakeTracker{source: issues.SourceLinear, items: sampleIssues()}
	h.start(t)

	runs := h.send(t, EventIntegrationSync, IntegrationSync{UserID: u.ID, Provider: "linear"})
	if runs[0].Status != workflow.StatusCompleted {
		t.Fatalf("expected completed run, got %s: %s", runs[0].Status, runs[0].LastError)
	}

	var out SyncOutput
	if err := json.Unmarshal(runs[0].Output, &out); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if !out.Success || out.Fetched != 3 || out.Embedded != 3 {
		t.Errorf("unexpected output: %s", runs[0].Output)
	}

	rows, err := h.db.ListIssues(u.ID, issues.SourceLinear)
	if err != nil {
		t.Fatalf("listing issues: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("expected 3 stored issues, got %d", len(rows))
	}
	if n := issueVectors(t, h, u.ID); n != 3 {
		t.Errorf("expected 3 issue vectors, got %d", n)
	}

	calls := h.trackerCalls()
	if len(calls) == 0 || calls[0].Token != "lin_api_key" {
		t.Errorf("expected decrypted tracker token, got %+v", calls)
	}

	// A second sync with no upstream changes embeds nothing new.
	runs = h.send(t, EventIntegrationSync, IntegrationSync{UserID: u.ID, Provider: "linear"})
	out = SyncOutput{}
	if err := json.Unmarshal(runs[0].Output, &out); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if out.Embedded != 0 || out.Skipped != 3 {
		t.Errorf("expected unchanged issues skipped, got %s", runs[0].Output)
	}
	if n := issueVectors(t, h, u.ID); n != 3 {
		t.Errorf("expected vectors to be overwritten, got %d", n)
	}
}

func TestSyncAllIssuesWithoutIntegrationFails(t *testing.T) {
	h := newHarness(t, nil)
	u := h.addUser(t, "bob", "gh-token", "sk-test")
	h.start(t)

	runs := h.send(t, EventIntegrationSync, IntegrationSync{UserID: u.ID, Provider: "jira"})
	if runs[0].Status != workflow.StatusFailed {
		t.Fatalf("expected failed run, got %s", runs[0].Status)
	}
	if !strings.Contains(runs[0].LastError, "integration not found") {
		t.Errorf("unexpected error: %q", runs[0].LastError)
	}
	if len(h.trackerCalls()) != 0 {
		t.Error("tracker must not be contacted")
	}
}

func TestSyncIssueEmbedsStoredIssue(t *testing.T) {
	h := newHarness(t, nil)
	u := h.addUser(t, "carol", "gh-token", "sk-test")
	ni := sampleIssues()[0]
	if _, err := h.db.UpsertIssue(u.ID, &ni); err != nil {
		t.Fatalf("storing issue: %v", err)
	}
	h.start(t)

	runs := h.send(t, EventIssueSync, IssueSync{IssueID: "ENG-1", Source: "linear", UserID: u.ID})
	if runs[0].Status != workflow.StatusCompleted {
		t.Fatalf("expected completed run, got %s: %s", runs[0].Status, runs[0].LastError)
	}
	stored, err := h.db.GetIssueByExternalID(u.ID, issues.SourceLinear, "ENG-1")
	if err != nil {
		t.Fatalf("loading issue: %v", err)
	}
	if !stored.Embedded {
		t.Error("expected issue marked embedded")
	}

	runs = h.send(t, EventIssueSync, IssueSync{IssueID: "ENG-404", Source: "linear", UserID: u.ID})
	if runs[0].Status != workflow.StatusFailed || runs[0].Attempts != 1 {
		t.Errorf("missing issue should fail without retry, got %+v", runs[0])
	}
}

func TestScheduledSyncFansOut(t *testing.T) {
	h := newHarness(t, nil)
	a := h.addUser(t, "alice", "gh-token", "sk-test")
	b := h.addUser(t, "bob", "gh-token", "sk-test")
	h.addIntegration(t, a.ID, "linear", "k1", store.IntegrationMetadata{})
	h.addIntegration(t, a.ID, "jira", "k2", store.IntegrationMetadata{CloudURL: "https://acme.atlassian.net"})
	h.addIntegration(t, b.ID, "linear", "k3", store.IntegrationMetadata{})
	h.trackers["linear"] = &fakeTracker{source: issues.SourceLinear}
	h.trackers["jira"] = &fakeTracker{source: issues.SourceJira}
	h.start(t)

	runs := h.send(t, EventScheduledSync, map[string]string{"at": "2024-06-01T00:00:00Z"})
	if runs[0].Status != workflow.StatusCompleted {
		t.Fatalf("expected completed run, got %s: %s", runs[0].Status, runs[0].LastError)
	}
	var out ScheduledOutput
	if err := json.Unmarshal(runs[0].Output, &out); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if out.SyncedIntegrations != 3 {
		t.Errorf("expected 3 syncs dispatched, got %d", out.SyncedIntegrations)
	}

	all, err := h.engine.ListRuns("", 50)
	if err != nil {
		t.Fatalf("listing runs: %v", err)
	}
	var syncs []IntegrationSync
	for _, r := range all {
		if r.FunctionID != "sync-all-issues" {
			continue
		}
		var p IntegrationSync
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			t.Fatalf("decoding payload: %v", err)
		}
		syncs = append(syncs, p)
	}
	if len(syncs) != 3 {
		t.Errorf("expected 3 sync runs, got %d", len(syncs))
	}
}

func TestGroupByUser(t *testing.T) {
	got := groupByUser([]store.Integration{
		{UserID: 2, Provider: "linear"},
		{UserID: 1, Provider: "jira"},
		{UserID: 2, Provider: "jira"},
	})
	want := []IntegrationSync{
		{UserID: 2, Provider: "linear"},
		{UserID: 2, Provider: "jira"},
		{UserID: 1, Provider: "jira"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("groupByUser mismatch (-want +got):\n%s", diff)
	}
}

func TestConnectLinear(t *testing.T) {
	h := newHarness(t, nil)
	u := h.addUser(t, "alice", "gh-token", "sk-test")
	h.trackers["linear"] = &fakeTracker{source: issues.SourceLinear, workspace: &issues.Workspace{ID: "org-1", Name: "Acme"}}

	in, err := h.p.ConnectLinear(context.Background(), u.ID, "lin_api_secret")
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	if in.WorkspaceID != "org-1" || in.WorkspaceName != "Acme" {
		t.Errorf("unexpected workspace: %+v", in)
	}
	if in.AccessToken == "lin_api_secret" {
		t.Error("token stored in plaintext")
	}
	if plain, err := h.box.Decrypt(in.AccessToken); err != nil || plain != "lin_api_secret" {
		t.Errorf("decrypting stored token: %q, %v", plain, err)
	}

	runs, _ := h.engine.ListRuns(workflow.StatusPending, 10)
	if len(runs) != 1 || runs[0].FunctionID != "sync-all-issues" {
		t.Errorf("expected initial sync enqueued, got %+v", runs)
	}
	if strings.Contains(string(runs[0].Payload), "lin_api_secret") {
		t.Error("payload must not carry the token")
	}
}

func TestConnectLinearInvalidKey(t *testing.T) {
	h := newHarness(t, nil)
	u := h.addUser(t, "alice", "gh-token", "sk-test")
	h.trackers["linear"] = &fakeTracker{source: issues.SourceLinear}

	if _, err := h.p.ConnectLinear(context.Background(), u.ID, "bad"); err == nil {
		t.Fatal("expected error for rejected key")
	}
	if _, err := h.db.GetIntegration(u.ID, "linear"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("integration must not be stored, got %v", err)
	}
}

func TestConnectJira(t *testing.T) {
	tests := []struct {
		name     string
		conn     JiraConnection
		projects []issues.Project
		listErr  error
		wantErr  bool
		wantKeys []string
	}{
		{
			name:    "non atlassian url",
			conn:    JiraConnection{CloudURL: "https://jira.example.com", Email: "a@b.c", APIToken: "t"},
			wantErr: true,
		},
		{
			name:     "projects fetched",
			conn:     JiraConnection{CloudURL: "https://acme.atlassian.net/", Email: "a@b.c", APIToken: "t"},
			projects: []issues.Project{{Key: "ENG"}, {Key: "OPS"}},
			wantKeys: []string{"ENG", "OPS"},
		},
		{
			name:     "listing fails with given keys",
			conn:     JiraConnection{CloudURL: "https://acme.atlassian.net", Email: "a@b.c", APIToken: "t", ProjectKeys: []string{"WEB"}},
			listErr:  errors.New("403"),
			wantKeys: []string{"WEB"},
		},
		{
			name:    "listing fails without keys",
			conn:    JiraConnection{CloudURL: "https://acme.atlassian.net", Email: "a@b.c", APIToken: "t"},
			listErr: errors.New("401"),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			u := h.addUser(t, "alice", "gh-token", "sk-test")
			h.trackers["jira"] = &fakeTracker{source: issues.SourceJira, projects: tt.projects, projectsErr: tt.listErr}

			in, err := h.p.ConnectJira(context.Background(), u.ID, tt.conn)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("connecting: %v", err)
			}
			want := store.IntegrationMetadata{Email: "a@b.c", CloudURL: "https://acme.atlassian.net", ProjectKeys: tt.wantKeys}
			if diff := cmp.Diff(want, in.Metadata); diff != "" {
				t.Errorf("metadata mismatch (-want +got):\n%s", diff)
			}
			if in.WorkspaceID != "acme" || in.WorkspaceName != "https://acme.atlassian.net" {
				t.Errorf("unexpected workspace: %q %q", in.WorkspaceID, in.WorkspaceName)
			}
		})
	}
}

func TestDisconnectCascades(t *testing.T) {
	h := newHarness(t, nil)
	u := h.addUser(t, "alice", "gh-token", "sk-test")
	h.addIntegration(t, u.ID, "linear", "k", store.IntegrationMetadata{})
	if _, err := h.p.deps.IssueIndex.Sync(context.Background(), h.providers.emb, u.ID, sampleIssues()); err != nil {
		t.Fatalf("seeding issues: %v", err)
	}
	ctx := context.Background()

	existed, err := h.p.Disconnect(ctx, u.ID, "linear")
	if err != nil || !existed {
		t.Fatalf("disconnect: existed=%v err=%v", existed, err)
	}
	if rows, _ := h.db.ListIssues(u.ID, issues.SourceLinear); len(rows) != 0 {
		t.Errorf("expected issues removed, got %d", len(rows))
	}
	if n := issueVectors(t, h, u.ID); n != 0 {
		t.Errorf("expected vectors removed, got %d", n)
	}

	existed, err = h.p.Disconnect(ctx, u.ID, "linear")
	if err != nil || existed {
		t.Errorf("second disconnect should be a no-op, got existed=%v err=%v", existed, err)
	}
}

func TestHandleIssueWebhook(t *testing.T) {
	h := newHarness(t, nil)
	u := h.addUser(t, "alice", "gh-token", "sk-test")
	ctx := context.Background()

	body := []byte(`{"action":"update","type":"Issue","data":{"id":"abc","identifier":"ENG-9","title":"Crash on save","url":"https://linear.app/acme/issue/ENG-9","priority":1}}`)

	if _, err := h.p.HandleIssueWebhook(ctx, u.ID, "linear", body); !errors.Is(err, ErrIntegrationNotFound) {
		t.Fatalf("expected ErrIntegrationNotFound, got %v", err)
	}

	h.addIntegration(t, u.ID, "linear", "k", store.IntegrationMetadata{})
	ok, err := h.p.HandleIssueWebhook(ctx, u.ID, "linear", body)
	if err != nil || !ok {
		t.Fatalf("handling webhook: ok=%v err=%v", ok, err)
	}
	rows, _ := h.db.ListIssues(u.ID, issues.SourceLinear)
	if len(rows) != 1 || rows[0].Title != "Crash on save" || rows[0].Priority != issues.PriorityUrgent {
		t.Errorf("unexpected stored issues: %+v", rows)
	}

	runs, _ := h.engine.ListRuns(workflow.StatusPending, 10)
	if len(runs) != 1 || runs[0].FunctionID != "sync-issue" {
		t.Errorf("expected sync-issue run, got %+v", runs)
	}

	ok, err = h.p.HandleIssueWebhook(ctx, u.ID, "linear", []byte(`{"action":"create","type":"Comment","data":{"id":"c1"}}`))
	if err != nil || ok {
		t.Errorf("non-issue payload should be ignored, got ok=%v err=%v", ok, err)
	}
}
