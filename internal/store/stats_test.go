package store

import (
	"testing"

	"github.com/jacklau/codereviewer/internal/issues"
)

func TestGetRepoStats_Empty(t *testing.T) {
	db := setupTestDB(t)
	u := createUser(t, db, "owner")

	repo, err := db.UpsertRepository(&Repository{UserID: u.ID, Owner: "owner", Name: "repo"})
	if err != nil {
		t.Fatalf("creating repo: %v", err)
	}

	stats, err := db.GetRepoStats(repo.ID)
	if err != nil {
		t.Fatalf("getting stats: %v", err)
	}

	if stats.ReviewCount != 0 {
		t.Errorf("expected 0 reviews, got %d", stats.ReviewCount)
	}
	if stats.Repo.Owner != "owner" {
		t.Errorf("expected owner 'owner', got %q", stats.Repo.Owner)
	}
}

func TestGetRepoStats_WithData(t *testing.T) {
	db := setupTestDB(t)
	u := createUser(t, db, "org")
	repo, _ := db.UpsertRepository(&Repository{UserID: u.ID, Owner: "org", Name: "myrepo"})

	statuses := []string{ReviewCompleted, ReviewCompleted, ReviewFailed, ReviewPending}
	for i, s := range statuses {
		_, err := db.CreateReview(&Review{
			RepositoryID: repo.ID,
			PRNumber:     i + 1,
			PRTitle:      "pr",
			PRURL:        "url",
			Status:       s,
		})
		if err != nil {
			t.Fatalf("creating review: %v", err)
		}
	}

	stats, err := db.GetRepoStats(repo.ID)
	if err != nil {
		t.Fatalf("getting stats: %v", err)
	}
	if stats.ReviewCount != 4 {
		t.Errorf("expected 4 reviews, got %d", stats.ReviewCount)
	}
	if stats.CompletedCount != 2 || stats.FailedCount != 1 || stats.PendingCount != 1 {
		t.Errorf("unexpected counts: %+v", stats)
	}
}

func TestGetAllRepoStats(t *testing.T) {
	db := setupTestDB(t)
	u := createUser(t, db, "org")

	db.UpsertRepository(&Repository{UserID: u.ID, Owner: "org", Name: "a"})
	db.UpsertRepository(&Repository{UserID: u.ID, Owner: "org", Name: "b"})

	all, err := db.GetAllRepoStats()
	if err != nil {
		t.Fatalf("getting all stats: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 repo stats, got %d", len(all))
	}
	if all[0].Repo.Name != "a" || all[1].Repo.Name != "b" {
		t.Errorf("unexpected ordering: %s, %s", all[0].Repo.Name, all[1].Repo.Name)
	}
}

func TestGetRepoStats_InvalidRepo(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.GetRepoStats(9999); err == nil {
		t.Error("expected error for nonexistent repo")
	}
}

func TestGetIntegrationStats(t *testing.T) {
	db := setupTestDB(t)
	u := createUser(t, db, "org")

	db.UpsertIntegration(&Integration{UserID: u.ID, Provider: "linear", AccessToken: "enc"})
	db.UpsertIntegration(&Integration{UserID: u.ID, Provider: "jira", AccessToken: "enc"})

	id, _ := db.UpsertIssue(u.ID, &issues.NormalizedIssue{ExternalID: "L-1", Source: issues.SourceLinear, Title: "a"})
	db.UpsertIssue(u.ID, &issues.NormalizedIssue{ExternalID: "L-2", Source: issues.SourceLinear, Title: "b"})
	db.MarkIssueEmbedded(id, "h")

	stats, err := db.GetIntegrationStats()
	if err != nil {
		t.Fatalf("GetIntegrationStats failed: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 integrations, got %d", len(stats))
	}
	// Ordered by provider name: jira, linear.
	if stats[0].Provider != "jira" || stats[0].IssueCount != 0 {
		t.Errorf("unexpected jira stats: %+v", stats[0])
	}
	if stats[1].IssueCount != 2 || stats[1].EmbeddedCount != 1 {
		t.Errorf("unexpected linear stats: %+v", stats[1])
	}
}
