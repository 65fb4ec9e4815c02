// Package retrieval finds code snippets and tracker issues relevant to a
// pull request or question.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/jacklau/codereviewer/internal/issues"
	"github.com/jacklau/codereviewer/internal/provider"
	"github.com/jacklau/codereviewer/internal/store"
	"github.com/jacklau/codereviewer/internal/vectorstore"
)

// MaxSnippetChars bounds IssueContext.Snippet.
const MaxSnippetChars = 500

// Metadata keys written by the indexers and read back here.
const (
	MetaUserID     = "userId"
	MetaSource     = "source"
	MetaProjectKey = "projectKey"
	MetaStatus     = "status"
	MetaAssignee   = "assignee"
	MetaIssueID    = "issueId"
	MetaContent    = "content"
	MetaRepo       = "repo"
	MetaPath       = "path"
)

// IssueContext is a ranked issue with the text that matched.
type IssueContext struct {
	Issue   issues.NormalizedIssue `json:"issue"`
	Score   float64                `json:"score"`
	Snippet string                 `json:"snippet"`
}

// IssueFilters narrows issue retrieval. Each non-empty list is an "in" predicate.
type IssueFilters struct {
	Sources     []string
	ProjectKeys []string
	Statuses    []string
	Assignees   []string
}

// IssueRows loads stored issues by internal id.
type IssueRows interface {
	GetIssuesByIDs(ids []int64) (map[int64]*store.Issue, error)
}

// Retriever runs embed-then-query retrieval over the vector store.
type Retriever struct {
	vectors vectorstore.Store
	rows    IssueRows
	weights Weights
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a Retriever.
func New(vectors vectorstore.Store, rows IssueRows, weights Weights, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		vectors: vectors,
		rows:    rows,
		weights: weights,
		now:     time.Now,
		logger:  logger,
	}
}

// RetrieveIssueContext returns at most topK issues for query, best first.
// Vector candidates are over-fetched twice, re-ranked by fused score, and
// dropped when their stored row no longer exists.
func (r *Retriever) RetrieveIssueContext(ctx context.Context, emb provider.Embedder, query string, userID int64, filters IssueFilters, topK int) ([]IssueContext, error) {
	if topK <= 0 {
		topK = 10
	}

	vec, err := emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding issue query: %w", err)
	}

	filter := vectorstore.Filter{vectorstore.Eq(MetaUserID, strconv.FormatInt(userID, 10))}
	for _, p := range []struct {
		field  string
		values []string
	}{
		{MetaSource, filters.Sources},
		{MetaProjectKey, filters.ProjectKeys},
		{MetaStatus, filters.Statuses},
		{MetaAssignee, filters.Assignees},
	} {
		if len(p.values) > 0 {
			filter = append(filter, vectorstore.In(p.field, p.values...))
		}
	}

	matches, err := r.vectors.Query(ctx, vectorstore.NamespaceIssues, vec, topK*2, filter)
	if err != nil {
		return nil, fmt.Errorf("querying issue vectors: %w", err)
	}
	if len(matches) == 0 {
		return []IssueContext{}, nil
	}

	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		if id, err := strconv.ParseInt(m.Metadata[MetaIssueID], 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	rows, err := r.rows.GetIssuesByIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("loading candidate issues: %w", err)
	}

	now := r.now()
	results := make([]IssueContext, 0, len(matches))
	for _, m := range matches {
		id, _ := strconv.ParseInt(m.Metadata[MetaIssueID], 10, 64)
		row, ok := rows[id]
		if !ok || row.UserID != userID {
			r.logger.Debug("dropping issue candidate without row", "vector_id", m.ID)
			continue
		}
		results = append(results, IssueContext{
			Issue:   row.NormalizedIssue,
			Score:   r.weights.Fuse(float64(m.Score), row.SourceUpdatedAt, now, row.Priority),
			Snippet: truncate(m.Metadata[MetaContent], MaxSnippetChars),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// RetrieveCodeContext returns the content of the topK code chunks most
// similar to query within repoKey ("owner/repo"). No re-ranking is applied.
func (r *Retriever) RetrieveCodeContext(ctx context.Context, emb provider.Embedder, query, repoKey string, topK int) ([]string, error) {
	if topK <= 0 {
		topK = 5
	}

	vec, err := emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding code query: %w", err)
	}

	matches, err := r.vectors.Query(ctx, vectorstore.NamespaceCode, vec, topK, vectorstore.Filter{vectorstore.Eq(MetaRepo, repoKey)})
	if err != nil {
		return nil, fmt.Errorf("querying code vectors: %w", err)
	}

	snippets := make([]string, 0, len(matches))
	for _, m := range matches {
		content := m.Metadata[MetaContent]
		if content == "" {
			continue
		}
		if p := m.Metadata[MetaPath]; p != "" {
			content = "File: " + p + "\n" + content
		}
		snippets = append(snippets, content)
	}
	return snippets, nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
