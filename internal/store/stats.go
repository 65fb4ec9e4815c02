package store

import "fmt"

// RepoStats holds aggregate review statistics for a single repository.
type RepoStats struct {
	Repo           Repository
	ReviewCount    int
	CompletedCount int
	FailedCount    int
	PendingCount   int
}

// IntegrationStats holds sync statistics for one integration.
type IntegrationStats struct {
	UserID        int64
	Provider      string
	IssueCount    int
	EmbeddedCount int
}

// GetRepoStats returns aggregate statistics for a single repository.
func (d *DB) GetRepoStats(repoID int64) (*RepoStats, error) {
	repo, err := d.GetRepository(repoID)
	if err != nil {
		return nil, fmt.Errorf("getting repository: %w", err)
	}

	stats := &RepoStats{Repo: *repo}

	rows, err := d.db.Query(
		`SELECT status, COUNT(*) FROM reviews WHERE repository_id = ? GROUP BY status`, repoID,
	)
	if err != nil {
		return nil, fmt.Errorf("counting reviews: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning review counts: %w", err)
		}
		stats.ReviewCount += n
		switch status {
		case ReviewCompleted:
			stats.CompletedCount = n
		case ReviewFailed:
			stats.FailedCount = n
		case ReviewPending:
			stats.PendingCount = n
		}
	}
	return stats, rows.Err()
}

// GetAllRepoStats returns statistics for all connected repositories.
func (d *DB) GetAllRepoStats() ([]RepoStats, error) {
	repos, err := d.ListRepositories(0)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}

	var results []RepoStats
	for _, repo := range repos {
		stats, err := d.GetRepoStats(repo.ID)
		if err != nil {
			return nil, fmt.Errorf("getting stats for %s: %w", repo.FullName, err)
		}
		results = append(results, *stats)
	}

	return results, nil
}

// GetIntegrationStats returns issue counts for every integration.
func (d *DB) GetIntegrationStats() ([]IntegrationStats, error) {
	rows, err := d.db.Query(`
		SELECT i.user_id, i.provider,
		       COUNT(s.id),
		       COALESCE(SUM(s.embedded), 0)
		FROM integrations i
		LEFT JOIN issues s ON s.user_id = i.user_id AND s.source = i.provider
		GROUP BY i.user_id, i.provider
		ORDER BY i.user_id, i.provider`)
	if err != nil {
		return nil, fmt.Errorf("counting integration issues: %w", err)
	}
	defer rows.Close()

	var out []IntegrationStats
	for rows.Next() {
		var s IntegrationStats
		if err := rows.Scan(&s.UserID, &s.Provider, &s.IssueCount, &s.EmbeddedCount); err != nil {
			return nil, fmt.Errorf("scanning integration stats: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
