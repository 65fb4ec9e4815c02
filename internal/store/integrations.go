package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// IntegrationMetadata holds provider-specific connection settings.
type IntegrationMetadata struct {
	Email       string   `json:"email,omitempty"`
	CloudURL    string   `json:"cloudUrl,omitempty"`
	ProjectKeys []string `json:"projectKeys,omitempty"`
}

// Integration is a user's connection to an issue tracker. AccessToken is
// stored encrypted.
type Integration struct {
	ID            int64
	UserID        int64
	Provider      string
	AccessToken   string
	WorkspaceID   string
	WorkspaceName string
	Metadata      IntegrationMetadata
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const integrationColumns = `id, user_id, provider, access_token, workspace_id, workspace_name, metadata, created_at, updated_at`

// UpsertIntegration creates the (user, provider) integration or updates it
// in place on reconnect.
func (d *DB) UpsertIntegration(in *Integration) (*Integration, error) {
	meta, err := json.Marshal(in.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshaling integration metadata: %w", err)
	}

	_, err = d.db.Exec(`
		INSERT INTO integrations (user_id, provider, access_token, workspace_id, workspace_name, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			workspace_id = excluded.workspace_id,
			workspace_name = excluded.workspace_name,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		in.UserID, in.Provider, in.AccessToken,
		nullStr(in.WorkspaceID), nullStr(in.WorkspaceName), string(meta), now(),
	)
	if err != nil {
		return nil, fmt.Errorf("upserting integration: %w", err)
	}
	return d.GetIntegration(in.UserID, in.Provider)
}

// GetIntegration retrieves the integration for (userID, provider).
func (d *DB) GetIntegration(userID int64, provider string) (*Integration, error) {
	row := d.db.QueryRow(
		`SELECT `+integrationColumns+` FROM integrations WHERE user_id = ? AND provider = ?`,
		userID, provider,
	)
	return scanIntegration(row)
}

// ListIntegrations returns every integration ordered by user then provider.
func (d *DB) ListIntegrations() ([]Integration, error) {
	rows, err := d.db.Query(
		`SELECT ` + integrationColumns + ` FROM integrations ORDER BY user_id, provider`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing integrations: %w", err)
	}
	defer rows.Close()

	var out []Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

// DeleteIntegration removes the integration and every issue row synced
// through it. It reports whether an integration existed.
func (d *DB) DeleteIntegration(userID int64, provider string) (bool, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return false, fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM integrations WHERE user_id = ? AND provider = ?`, userID, provider)
	if err != nil {
		return false, fmt.Errorf("deleting integration: %w", err)
	}
	n, _ := res.RowsAffected()

	if _, err := tx.Exec(`DELETE FROM issues WHERE user_id = ? AND source = ?`, userID, provider); err != nil {
		return false, fmt.Errorf("deleting integration issues: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing delete: %w", err)
	}
	return n > 0, nil
}

func scanIntegration(row rowScanner) (*Integration, error) {
	var in Integration
	var workspaceID, workspaceName, meta sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&in.ID, &in.UserID, &in.Provider, &in.AccessToken,
		&workspaceID, &workspaceName, &meta, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning integration: %w", notFound(err))
	}

	in.WorkspaceID = workspaceID.String
	in.WorkspaceName = workspaceName.String
	if meta.Valid && meta.String != "" {
		_ = json.Unmarshal([]byte(meta.String), &in.Metadata)
	}
	in.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	in.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &in, nil
}
