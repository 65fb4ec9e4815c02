package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jacklau/codereviewer/internal/workflow"
)

func pendingRuns(t *testing.T, h *harness) []workflow.RunRecord {
	t.Helper()
	runs, err := h.engine.ListRuns(workflow.StatusPending, 50)
	if err != nil {
		t.Fatalf("listing runs: %v", err)
	}
	return runs
}

func TestHandlePullRequest(t *testing.T) {
	h := newHarness(t, nil)
	u := h.addUser(t, "alice", "gh-token", "sk-test")
	h.addRepo(t, u.ID, "acme", "api")
	ctx := context.Background()

	for _, action := range []string{"closed", "labeled", "edited"} {
		ok, err := h.p.HandlePullRequest(ctx, PullRequestEvent{Action: action, Owner: "acme", Repo: "api", Number: 1})
		if err != nil || ok {
			t.Errorf("action %q should be ignored, got ok=%v err=%v", action, ok, err)
		}
	}

	ok, err := h.p.HandlePullRequest(ctx, PullRequestEvent{Action: "opened", Owner: "acme", Repo: "api", Number: 8, Title: "Fix"})
	if err != nil || !ok {
		t.Fatalf("opened: ok=%v err=%v", ok, err)
	}
	runs := pendingRuns(t, h)
	if len(runs) != 1 || runs[0].FunctionID != "generate-review" {
		t.Fatalf("expected generate-review run, got %+v", runs)
	}
	var p ReviewRequested
	if err := json.Unmarshal(runs[0].Payload, &p); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	want := ReviewRequested{Owner: "acme", Repo: "api", PRNumber: 8, UserID: u.ID, Title: "Fix"}
	if p != want {
		t.Errorf("payload = %+v, want %+v", p, want)
	}
}

func TestHandlePullRequestDropsWithoutCredentials(t *testing.T) {
	h := newHarness(t, nil)
	noKey := h.addUser(t, "nokey", "gh-token", "")
	noToken := h.addUser(t, "notoken", "", "sk-test")
	h.addRepo(t, noKey.ID, "acme", "one")
	h.addRepo(t, noToken.ID, "acme", "two")
	ctx := context.Background()

	for _, repo := range []string{"one", "two", "unknown"} {
		ok, err := h.p.HandlePullRequest(ctx, PullRequestEvent{Action: "synchronize", Owner: "acme", Repo: repo, Number: 1})
		if err != nil || ok {
			t.Errorf("%s: expected drop, got ok=%v err=%v", repo, ok, err)
		}
	}
	if runs := pendingRuns(t, h); len(runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs))
	}
}

func TestHandleIssueComment(t *testing.T) {
	h := newHarness(t, nil)
	u := h.addUser(t, "alice", "gh-token", "sk-test")
	h.addRepo(t, u.ID, "acme", "api")
	ctx := context.Background()

	base := CommentEvent{
		Action: "created", Owner: "acme", Repo: "api", Number: 4,
		IsPullRequest: true, CommentID: 77, User: "bob", UserType: "User",
		Body: "@codereviewer what does this do?",
	}

	ignored := map[string]func(CommentEvent) CommentEvent{
		"edited":      func(e CommentEvent) CommentEvent { e.Action = "edited"; return e },
		"plain issue": func(e CommentEvent) CommentEvent { e.IsPullRequest = false; return e },
		"bot":         func(e CommentEvent) CommentEvent { e.UserType = "Bot"; return e },
		"no mention":  func(e CommentEvent) CommentEvent { e.Body = "what does this do?"; return e },
	}
	for name, mutate := range ignored {
		ok, err := h.p.HandleIssueComment(ctx, mutate(base))
		if err != nil || ok {
			t.Errorf("%s: expected ignore, got ok=%v err=%v", name, ok, err)
		}
	}

	ok, err := h.p.HandleIssueComment(ctx, base)
	if err != nil || !ok {
		t.Fatalf("expected mention enqueued, got ok=%v err=%v", ok, err)
	}
	runs := pendingRuns(t, h)
	if len(runs) != 1 || runs[0].FunctionID != "handle-pr-mention" {
		t.Fatalf("expected handle-pr-mention run, got %+v", runs)
	}
	var p MentionRequested
	if err := json.Unmarshal(runs[0].Payload, &p); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if p.Query != "what does this do?" || p.CommentUser != "bob" || p.CommentID != 77 || p.UserID != u.ID {
		t.Errorf("unexpected payload: %+v", p)
	}
}
