package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/jacklau/codereviewer/internal/github"
	"github.com/jacklau/codereviewer/internal/issues"
	"github.com/jacklau/codereviewer/internal/retrieval"
)

func sampleIssues() []retrieval.IssueContext {
	return []retrieval.IssueContext{
		{
			Issue: issues.NormalizedIssue{
				ExternalID: "ENG-12",
				Source:     issues.SourceLinear,
				SourceURL:  "https://linear.app/acme/issue/ENG-12",
				ProjectKey: "ENG",
				Title:      "Login fails on Safari",
				Status:     "In Progress",
				Priority:   issues.PriorityHigh,
				Labels:     []string{"bug", "auth"},
			},
			Score:   0.875,
			Snippet: "Users report a blank screen.",
		},
		{
			Issue: issues.NormalizedIssue{
				ExternalID: "OPS-3",
				Source:     issues.SourceJira,
				Title:      "Rotate keys",
				Labels:     []string{},
			},
			Score: 0.5,
		},
	}
}

func TestIssueContextBlockEmpty(t *testing.T) {
	got, err := IssueContextBlock(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != NoIssuesFound {
		t.Errorf("expected %q, got %q", NoIssuesFound, got)
	}
}

func TestIssueContextBlockFormatsIssues(t *testing.T) {
	got, err := IssueContextBlock(sampleIssues())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"## Related Issues from Connected Integrations",
		"### Issue 1 [LINEAR] (Relevance: 87.5%)",
		"- **ID**: ENG-12",
		"- **Project**: ENG (N/A)",
		"- **Status**: In Progress",
		"- **Priority**: high",
		"- **Assignee**: Unassigned",
		"- **Type**: Issue",
		"- **Labels**: bug, auth",
		"- **URL**: https://linear.app/acme/issue/ENG-12",
		"**Content:**\nUsers report a blank screen.",
		"### Issue 2 [JIRA] (Relevance: 50.0%)",
		"- **Status**: Unknown",
		"- **Labels**: None",
		"\n\n---\n\n### Issue 2",
		"*Use these issues as context when responding. Reference issue IDs when applicable.*",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("block missing %q\n%s", want, got)
		}
	}
	if strings.Count(got, "- **URL**") != 1 {
		t.Errorf("URL line must only appear for issues with a source URL")
	}
}

func TestBuildReviewIncludesContext(t *testing.T) {
	got, err := BuildReview(ReviewInput{
		Title:       "Add login retry",
		Diff:        "+retry()",
		CodeContext: []string{"File: auth.go\npackage auth", "File: main.go\npackage main"},
		Issues:      sampleIssues(),
	})
	if err != nil {
		t.Fatalf("BuildReview returned error: %v", err)
	}

	for _, want := range []string{
		"PR Title: Add login retry",
		"PR Description: No description provided",
		"File: auth.go\npackage auth\n\nFile: main.go\npackage main",
		"### Issue 1 [LINEAR]",
		"```diff\n+retry()\n```",
		"**Walkthrough**",
		"**Related Issues**",
		"**Sequence Diagram**",
		"**Summary**",
		"**Strengths**",
		"**Issues**",
		"**Suggestions**",
		"**Roast**",
		"Format your response in markdown.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(got, "Custom Review Rules") {
		t.Error("rules block rendered without any rules")
	}
}

func TestBuildReviewRules(t *testing.T) {
	got, err := BuildReview(ReviewInput{
		Title:     "x",
		Diff:      "d",
		GoodRules: []string{"Use early returns", "  "},
		BadRules:  []string{"Global state"},
	})
	if err != nil {
		t.Fatalf("BuildReview returned error: %v", err)
	}

	want := "**Custom Review Rules:**\nPlease follow these GOOD practices:\n- Use early returns\nPlease avoid these BAD practices:\n- Global state\n\nJudge the code based on these rules."
	if !strings.Contains(got, want) {
		t.Errorf("rules block not rendered as expected:\n%s", got)
	}
	if !strings.Contains(got, NoIssuesFound) {
		t.Error("expected no-issues sentence when no issues are given")
	}
}

func TestBuildReviewTruncatesDiff(t *testing.T) {
	got, err := BuildReview(ReviewInput{Title: "x", Diff: strings.Repeat("a", 100), MaxDiff: 10})
	if err != nil {
		t.Fatalf("BuildReview returned error: %v", err)
	}
	if !strings.Contains(got, strings.Repeat("a", 10)+diffTruncatedMarker) {
		t.Error("diff was not truncated")
	}
	if strings.Contains(got, strings.Repeat("a", 11)) {
		t.Error("diff longer than the limit")
	}
}

func TestTruncateDiff(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"under limit", "abc", 10, "abc"},
		{"disabled", "abcdef", 0, "abcdef"},
		{"cut", "abcdef", 3, "abc" + diffTruncatedMarker},
		{"rune boundary", "aé", 2, "a" + diffTruncatedMarker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateDiff(tt.in, tt.max); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestBuildMention(t *testing.T) {
	var comments []github.Comment
	for i := 0; i < 12; i++ {
		comments = append(comments, github.Comment{User: fmt.Sprintf("user%d", i), Body: fmt.Sprintf("comment %d", i)})
	}

	got, err := BuildMention(MentionInput{
		Title:       "Add cache",
		Description: "Speeds up reads",
		Diff:        "+cache",
		Comments:    comments,
		CommentUser: "octocat",
		Question:    "is this thread safe?",
	})
	if err != nil {
		t.Fatalf("BuildMention returned error: %v", err)
	}

	for _, want := range []string{
		"**Title**: Add cache",
		"**Description**: Speeds up reads",
		"No additional code context found.",
		NoIssuesFound,
		"@user2: comment 2",
		"@user11: comment 11",
		"@octocat asked: is this thread safe?",
		"Respond directly to the user's question:",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(got, "@user1: comment 1\n") || strings.Contains(got, "@user0:") {
		t.Error("expected only the last ten comments")
	}
}

func TestBuildMentionNoComments(t *testing.T) {
	got, err := BuildMention(MentionInput{Title: "t", CodeContext: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("BuildMention returned error: %v", err)
	}
	if !strings.Contains(got, "No previous comments.") {
		t.Error("expected fallback when there are no comments")
	}
	if !strings.Contains(got, "a\n\n---\n\nb") {
		t.Error("expected code context joined by separators")
	}
}

func TestCitations(t *testing.T) {
	if got := Citations(nil); got != "" {
		t.Errorf("expected empty footer, got %q", got)
	}

	ctxs := sampleIssues()
	ctxs = append(ctxs, ctxs[1], ctxs[1])
	got := Citations(ctxs)

	if !strings.HasPrefix(got, "\n\n<details>\n<summary>📋 Related Issues</summary>") {
		t.Errorf("unexpected footer prefix: %q", got)
	}
	if !strings.HasSuffix(got, "\n</details>") {
		t.Errorf("unexpected footer suffix: %q", got)
	}
	if !strings.Contains(got, "- [LINEAR] [ENG-12](https://linear.app/acme/issue/ENG-12): Login fails on Safari") {
		t.Errorf("expected linked citation, got %q", got)
	}
	if !strings.Contains(got, "- [JIRA] OPS-3: Rotate keys") {
		t.Errorf("expected plain citation, got %q", got)
	}
	if n := strings.Count(got, "- ["); n != maxCitations {
		t.Errorf("expected %d citations, got %d", maxCitations, n)
	}
}
