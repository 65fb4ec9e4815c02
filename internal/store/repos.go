package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Repository is a GitHub repository connected by a user.
type Repository struct {
	ID        int64
	UserID    int64
	GitHubID  int64
	Owner     string
	Name      string
	FullName  string
	URL       string
	CreatedAt time.Time
}

const repoColumns = `id, user_id, github_id, owner, name, full_name, url, created_at`

// UpsertRepository records a connected repository. Reconnecting an existing
// owner/name moves it to the new user.
func (d *DB) UpsertRepository(r *Repository) (*Repository, error) {
	fullName := r.FullName
	if fullName == "" {
		fullName = r.Owner + "/" + r.Name
	}
	url := r.URL
	if url == "" {
		url = "https://github.com/" + fullName
	}

	_, err := d.db.Exec(`
		INSERT INTO repositories (user_id, github_id, owner, name, full_name, url)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner, name) DO UPDATE SET
			user_id = excluded.user_id,
			github_id = excluded.github_id,
			full_name = excluded.full_name,
			url = excluded.url`,
		r.UserID, r.GitHubID, r.Owner, r.Name, fullName, url,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting repository: %w", err)
	}
	return d.GetRepositoryByOwnerName(r.Owner, r.Name)
}

// GetRepository retrieves a repository by its ID.
func (d *DB) GetRepository(id int64) (*Repository, error) {
	row := d.db.QueryRow(`SELECT `+repoColumns+` FROM repositories WHERE id = ?`, id)
	return scanRepo(row)
}

// GetRepositoryByOwnerName retrieves a repository by owner and name.
func (d *DB) GetRepositoryByOwnerName(owner, name string) (*Repository, error) {
	row := d.db.QueryRow(
		`SELECT `+repoColumns+` FROM repositories WHERE owner = ? AND name = ?`,
		owner, name,
	)
	return scanRepo(row)
}

// ListRepositories returns all connected repositories, or only those of
// userID when it is non-zero.
func (d *DB) ListRepositories(userID int64) ([]Repository, error) {
	query := `SELECT ` + repoColumns + ` FROM repositories`
	var args []any
	if userID != 0 {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY id`

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	defer rows.Close()

	var repos []Repository
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *r)
	}
	return repos, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepo(row rowScanner) (*Repository, error) {
	var r Repository
	var githubID sql.NullInt64
	var url sql.NullString
	var createdAt string

	err := row.Scan(&r.ID, &r.UserID, &githubID, &r.Owner, &r.Name, &r.FullName, &url, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scanning repository: %w", notFound(err))
	}

	r.GitHubID = githubID.Int64
	r.URL = url.String
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return &r, nil
}
