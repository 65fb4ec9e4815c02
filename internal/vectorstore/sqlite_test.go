package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	_ "modernc.org/sqlite"
)

func setupStore(t *testing.T) *SQLite {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLite(db, nil)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	return s
}

func ids(matches []Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.ID
	}
	return out
}

func TestUpsertAndQueryRanksBySimilarity(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	s.Upsert(ctx, NamespaceCode, "r:a.go", []float32{1, 0}, map[string]string{"repo": "r", "path": "a.go"})
	s.Upsert(ctx, NamespaceCode, "r:b.go", []float32{0.7, 0.7}, map[string]string{"repo": "r", "path": "b.go"})
	s.Upsert(ctx, NamespaceCode, "r:c.go", []float32{-1, 0}, map[string]string{"repo": "r", "path": "c.go"})

	got, err := s.Query(ctx, NamespaceCode, []float32{1, 0}, 10, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if diff := cmp.Diff([]string{"r:a.go", "r:b.go", "r:c.go"}, ids(got)); diff != "" {
		t.Errorf("ranking mismatch (-want +got):\n%s", diff)
	}
	if got[2].Score != 0 {
		t.Errorf("expected negative similarity clamped to 0, got %f", got[2].Score)
	}
	if got[0].Metadata["path"] != "a.go" {
		t.Errorf("expected metadata round trip, got %v", got[0].Metadata)
	}
}

func TestUpsertOverwritesByID(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	s.Upsert(ctx, NamespaceIssues, "issue-1", []float32{1, 0}, map[string]string{"title": "old"})
	s.Upsert(ctx, NamespaceIssues, "issue-1", []float32{0, 1}, map[string]string{"title": "new"})

	got, _ := s.Query(ctx, NamespaceIssues, []float32{0, 1}, 10, nil)
	if len(got) != 1 {
		t.Fatalf("expected a single row, got %d", len(got))
	}
	if got[0].Metadata["title"] != "new" || got[0].Score < 0.99 {
		t.Errorf("expected overwritten row, got %+v", got[0])
	}
}

func TestQueryTopKAndNamespaces(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		s.Upsert(ctx, NamespaceCode, id, []float32{1, 1}, nil)
	}
	s.Upsert(ctx, NamespaceIssues, "issue-1", []float32{1, 1}, nil)

	got, _ := s.Query(ctx, NamespaceCode, []float32{1, 1}, 2, nil)
	if len(got) != 2 {
		t.Errorf("expected topK=2 results, got %d", len(got))
	}
	for _, m := range got {
		if m.ID == "issue-1" {
			t.Error("issues namespace leaked into code query")
		}
	}

	none, err := s.Query(ctx, NamespaceCode, []float32{1, 1}, 0, nil)
	if err != nil || len(none) != 0 {
		t.Errorf("expected no results for topK=0, got %v (%v)", none, err)
	}
}

func TestQueryFilters(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	s.Upsert(ctx, NamespaceIssues, "issue-1", []float32{1}, map[string]string{"userId": "1", "source": "linear"})
	s.Upsert(ctx, NamespaceIssues, "issue-2", []float32{1}, map[string]string{"userId": "1", "source": "jira"})
	s.Upsert(ctx, NamespaceIssues, "issue-3", []float32{1}, map[string]string{"userId": "2", "source": "jira"})

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"eq", Filter{Eq("userId", "1")}, []string{"issue-1", "issue-2"}},
		{"conjunction", Filter{Eq("userId", "1"), Eq("source", "jira")}, []string{"issue-2"}},
		{"in", Filter{In("source", "linear", "jira"), Eq("userId", "1")}, []string{"issue-1", "issue-2"}},
		{"empty in", Filter{In("source")}, []string{}},
		{"missing field", Filter{Eq("assignee", "bob")}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(ctx, NamespaceIssues, []float32{1}, 10, tt.filter)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
				t.Errorf("filter mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFilterRejectsUnsafeFieldNames(t *testing.T) {
	s := setupStore(t)
	_, err := s.Query(context.Background(), NamespaceIssues, []float32{1}, 1, Filter{Eq("x') OR 1=1 --", "y")})
	if err == nil {
		t.Fatal("expected invalid field error")
	}
}

func TestDelete(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	s.Upsert(ctx, NamespaceIssues, "issue-1", []float32{1}, map[string]string{"userId": "1", "source": "linear"})
	s.Upsert(ctx, NamespaceIssues, "issue-2", []float32{1}, map[string]string{"userId": "1", "source": "jira"})

	n, err := s.Delete(ctx, NamespaceIssues, Filter{Eq("userId", "1"), Eq("source", "jira")})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted row, got %d", n)
	}

	got, _ := s.Query(ctx, NamespaceIssues, []float32{1}, 10, nil)
	if diff := cmp.Diff([]string{"issue-1"}, ids(got)); diff != "" {
		t.Errorf("remaining rows mismatch (-want +got):\n%s", diff)
	}
}

func TestSkipsMismatchedDimensions(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	s.Upsert(ctx, NamespaceCode, "old", []float32{1, 0, 0}, nil)
	s.Upsert(ctx, NamespaceCode, "new", []float32{1, 0}, nil)

	got, err := s.Query(ctx, NamespaceCode, []float32{1, 0}, 10, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if diff := cmp.Diff([]string{"new"}, ids(got)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestClosedDatabaseIsUnavailable(t *testing.T) {
	db, _ := sql.Open("sqlite", ":memory:")
	s, err := NewSQLite(db, nil)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	db.Close()

	err = s.Upsert(context.Background(), NamespaceCode, "a", []float32{1}, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
