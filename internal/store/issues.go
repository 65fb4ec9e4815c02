package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jacklau/codereviewer/internal/issues"
)

// Issue is a synced tracker issue owned by a user. Embedded is true only
// while a matching vector row exists in the issues namespace.
type Issue struct {
	issues.NormalizedIssue

	ID          int64
	UserID      int64
	ContentHash string
	Embedded    bool
	EmbeddedAt  *time.Time
	UpdatedAt   time.Time
}

const issueColumns = `id, user_id, source, external_id, source_url, project_key, project_name,
	title, description, status, priority, assignee, labels, issue_type,
	source_created_at, source_updated_at, content_hash, embedded, embedded_at, updated_at`

// UpsertIssue inserts or updates the issue keyed by (source, external_id,
// user_id) and returns its internal ID. The embedding state is left alone.
func (d *DB) UpsertIssue(userID int64, ni *issues.NormalizedIssue) (int64, error) {
	labels := ni.Labels
	if labels == nil {
		labels = []string{}
	}
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return 0, fmt.Errorf("marshaling labels: %w", err)
	}
	priority := ni.Priority
	if priority == "" {
		priority = issues.PriorityNone
	}

	_, err = d.db.Exec(`
		INSERT INTO issues (user_id, source, external_id, source_url, project_key, project_name,
			title, description, status, priority, assignee, labels, issue_type,
			source_created_at, source_updated_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, external_id, user_id) DO UPDATE SET
			source_url = excluded.source_url,
			project_key = excluded.project_key,
			project_name = excluded.project_name,
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			priority = excluded.priority,
			assignee = excluded.assignee,
			labels = excluded.labels,
			issue_type = excluded.issue_type,
			source_created_at = excluded.source_created_at,
			source_updated_at = excluded.source_updated_at,
			updated_at = excluded.updated_at`,
		userID, string(ni.Source), ni.ExternalID, nullStr(ni.SourceURL),
		nullStr(ni.ProjectKey), nullStr(ni.ProjectName), ni.Title, nullStr(ni.Description),
		nullStr(ni.Status), string(priority), nullStr(ni.Assignee), string(labelsJSON),
		nullStr(ni.IssueType), formatTime(ni.SourceCreatedAt), formatTime(ni.SourceUpdatedAt), now(),
	)
	if err != nil {
		return 0, fmt.Errorf("upserting issue: %w", err)
	}

	var id int64
	err = d.db.QueryRow(
		`SELECT id FROM issues WHERE source = ? AND external_id = ? AND user_id = ?`,
		string(ni.Source), ni.ExternalID, userID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("reading issue id: %w", err)
	}
	return id, nil
}

// GetIssue retrieves an issue by internal ID.
func (d *DB) GetIssue(id int64) (*Issue, error) {
	row := d.db.QueryRow(`SELECT `+issueColumns+` FROM issues WHERE id = ?`, id)
	return scanIssue(row)
}

// GetIssueByExternalID retrieves a user's issue by its tracker key.
func (d *DB) GetIssueByExternalID(userID int64, source issues.Source, externalID string) (*Issue, error) {
	row := d.db.QueryRow(
		`SELECT `+issueColumns+` FROM issues WHERE user_id = ? AND source = ? AND external_id = ?`,
		userID, string(source), externalID,
	)
	return scanIssue(row)
}

// GetIssuesByIDs returns the issues with the given internal IDs keyed by ID.
// IDs with no row are absent from the map.
func (d *DB) GetIssuesByIDs(ids []int64) (map[int64]*Issue, error) {
	out := make(map[int64]*Issue, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := d.db.Query(`SELECT `+issueColumns+` FROM issues WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying issues: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out[issue.ID] = issue
	}
	return out, rows.Err()
}

// ListIssues returns a user's issues from one source ordered by ID.
func (d *DB) ListIssues(userID int64, source issues.Source) ([]Issue, error) {
	rows, err := d.db.Query(
		`SELECT `+issueColumns+` FROM issues WHERE user_id = ? AND source = ? ORDER BY id`,
		userID, string(source),
	)
	if err != nil {
		return nil, fmt.Errorf("listing issues: %w", err)
	}
	defer rows.Close()

	var out []Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *issue)
	}
	return out, rows.Err()
}

// MarkIssueEmbedded records that the issue's vector was written for content
// with the given hash.
func (d *DB) MarkIssueEmbedded(id int64, contentHash string) error {
	_, err := d.db.Exec(
		`UPDATE issues SET embedded = 1, embedded_at = ?, content_hash = ? WHERE id = ?`,
		now(), contentHash, id,
	)
	if err != nil {
		return fmt.Errorf("marking issue embedded: %w", err)
	}
	return nil
}

func scanIssue(row rowScanner) (*Issue, error) {
	var is Issue
	var sourceURL, projectKey, projectName, description, status, assignee sql.NullString
	var labels, issueType, createdAt, updatedAt, contentHash, embeddedAt sql.NullString
	var source, priority, rowUpdated string
	var embedded int

	err := row.Scan(
		&is.ID, &is.UserID, &source, &is.ExternalID, &sourceURL, &projectKey, &projectName,
		&is.Title, &description, &status, &priority, &assignee, &labels, &issueType,
		&createdAt, &updatedAt, &contentHash, &embedded, &embeddedAt, &rowUpdated,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning issue: %w", notFound(err))
	}

	is.Source = issues.Source(source)
	is.SourceURL = sourceURL.String
	is.ProjectKey = projectKey.String
	is.ProjectName = projectName.String
	is.Description = description.String
	is.Status = status.String
	is.Priority = issues.Priority(priority)
	is.Assignee = assignee.String
	is.IssueType = issueType.String
	is.SourceCreatedAt = parseTime(createdAt)
	is.SourceUpdatedAt = parseTime(updatedAt)
	is.ContentHash = contentHash.String
	is.Embedded = embedded == 1
	if embeddedAt.Valid {
		t := parseTime(embeddedAt)
		is.EmbeddedAt = &t
	}
	is.UpdatedAt, _ = time.Parse(time.RFC3339, rowUpdated)

	is.Labels = []string{}
	if labels.Valid && labels.String != "" {
		_ = json.Unmarshal([]byte(labels.String), &is.Labels)
	}

	return &is, nil
}
