package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jacklau/codereviewer/internal/issues"
	"github.com/jacklau/codereviewer/internal/provider"
	"github.com/jacklau/codereviewer/internal/retrieval"
	"github.com/jacklau/codereviewer/internal/store"
	"github.com/jacklau/codereviewer/internal/vectorstore"
)

// MaxContentChars bounds the issue text kept in vector metadata.
const MaxContentChars = 8000

// IssueStore is the subset of store.DB used by the issue indexer.
type IssueStore interface {
	UpsertIssue(userID int64, ni *issues.NormalizedIssue) (int64, error)
	GetIssue(id int64) (*store.Issue, error)
	MarkIssueEmbedded(id int64, contentHash string) error
}

// IssueIndexer stores tracker issues and embeds them into the issues
// namespace.
type IssueIndexer struct {
	rows    IssueStore
	vectors vectorstore.Store
	logger  *slog.Logger
}

// SyncResult counts what one sync did.
type SyncResult struct {
	Fetched  int `json:"issuesCount"`
	Embedded int `json:"embedded"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// NewIssueIndexer creates an IssueIndexer.
func NewIssueIndexer(rows IssueStore, vectors vectorstore.Store, logger *slog.Logger) *IssueIndexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &IssueIndexer{rows: rows, vectors: vectors, logger: logger}
}

// Sync upserts every issue for userID and embeds the ones whose content
// changed. A failure on one issue is logged and counted; the rest still sync.
func (x *IssueIndexer) Sync(ctx context.Context, emb provider.Embedder, userID int64, list []issues.NormalizedIssue) (*SyncResult, error) {
	res := &SyncResult{Fetched: len(list)}
	for i := range list {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ni := &list[i]
		id, err := x.rows.UpsertIssue(userID, ni)
		if err != nil {
			x.logger.Warn("storing issue failed", "user", userID, "source", ni.Source, "issue", ni.ExternalID, "error", err)
			res.Failed++
			continue
		}
		row, err := x.rows.GetIssue(id)
		if err != nil {
			x.logger.Warn("reloading issue failed", "user", userID, "issue", ni.ExternalID, "error", err)
			res.Failed++
			continue
		}

		embedded, err := x.Embed(ctx, emb, row)
		switch {
		case err != nil:
			x.logger.Warn("embedding issue failed", "user", userID, "source", ni.Source, "issue", ni.ExternalID, "error", err)
			res.Failed++
		case embedded:
			res.Embedded++
		default:
			res.Skipped++
		}
	}

	x.logger.Info("synced issues",
		"user", userID,
		"fetched", res.Fetched,
		"embedded", res.Embedded,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, nil
}

// Embed writes the vector for a stored issue and marks it embedded. It
// returns false without calling the embedder when the issue is already
// embedded with identical content. The embedded flag is only set after the
// vector row exists. If the flag cannot be set for an issue that had no
// vector before, the new vector is removed again.
func (x *IssueIndexer) Embed(ctx context.Context, emb provider.Embedder, is *store.Issue) (bool, error) {
	text := EmbedText(&is.NormalizedIssue)
	if strings.TrimSpace(text) == "" {
		return false, nil
	}
	hash := ContentHash(text)
	if is.Embedded && is.ContentHash == hash {
		return false, nil
	}

	vec, err := emb.Embed(ctx, text)
	if err != nil {
		return false, fmt.Errorf("embedding issue %s: %w", is.ExternalID, err)
	}
	if err := x.vectors.Upsert(ctx, vectorstore.NamespaceIssues, VectorID(is.ID), vec, issueMetadata(is, text)); err != nil {
		return false, fmt.Errorf("upserting issue %s: %w", is.ExternalID, err)
	}
	if err := x.rows.MarkIssueEmbedded(is.ID, hash); err != nil {
		if !is.Embedded {
			x.dropVector(ctx, is)
		}
		return false, fmt.Errorf("marking issue %s embedded: %w", is.ExternalID, err)
	}
	return true, nil
}

func (x *IssueIndexer) dropVector(ctx context.Context, is *store.Issue) {
	_, err := x.vectors.Delete(ctx, vectorstore.NamespaceIssues, vectorstore.Filter{
		vectorstore.Eq(retrieval.MetaUserID, strconv.FormatInt(is.UserID, 10)),
		vectorstore.Eq(retrieval.MetaIssueID, strconv.FormatInt(is.ID, 10)),
	})
	if err != nil {
		x.logger.Warn("removing unmarked issue vector failed", "issue", is.ExternalID, "error", err)
	}
}

// VectorID is the vector row id for an issue's internal ID.
func VectorID(id int64) string {
	return "issue-" + strconv.FormatInt(id, 10)
}

// EmbedText serializes the fields that matter for retrieval, one per line in
// a fixed order. Empty fields are left out.
func EmbedText(ni *issues.NormalizedIssue) string {
	var lines []string
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, label+": "+value)
		}
	}
	add("Title", ni.Title)
	add("Description", ni.Description)
	add("Project", ni.ProjectKey)
	add("Project Name", ni.ProjectName)
	add("Status", ni.Status)
	add("Priority", string(ni.Priority))
	add("Assignee", ni.Assignee)
	add("Labels", strings.Join(ni.Labels, ", "))
	add("Type", ni.IssueType)
	return strings.Join(lines, "\n")
}

// ContentHash fingerprints embed text so unchanged issues are not re-embedded.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func issueMetadata(is *store.Issue, text string) map[string]string {
	content := text
	if r := []rune(content); len(r) > MaxContentChars {
		content = string(r[:MaxContentChars])
	}
	return map[string]string{
		retrieval.MetaUserID:     strconv.FormatInt(is.UserID, 10),
		retrieval.MetaSource:     string(is.Source),
		retrieval.MetaProjectKey: is.ProjectKey,
		retrieval.MetaStatus:     is.Status,
		retrieval.MetaAssignee:   is.Assignee,
		retrieval.MetaIssueID:    strconv.FormatInt(is.ID, 10),
		retrieval.MetaContent:    content,
		"externalId":             is.ExternalID,
		"title":                  is.Title,
		"url":                    is.SourceURL,
	}
}
