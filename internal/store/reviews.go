package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Review statuses.
const (
	ReviewPending   = "pending"
	ReviewCompleted = "completed"
	ReviewFailed    = "failed"
)

// Review is the persisted outcome of one review attempt. RunID links the
// row to the workflow run that produced it; rows written before any run was
// enqueued have no RunID.
type Review struct {
	ID           int64
	RunID        string
	RepositoryID int64
	PRNumber     int
	PRTitle      string
	PRURL        string
	Review       string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const reviewColumns = `id, run_id, repository_id, pr_number, pr_title, pr_url, review, status, created_at, updated_at`

// CreateReview inserts a new review row and returns it with its ID set.
func (d *DB) CreateReview(r *Review) (*Review, error) {
	res, err := d.db.Exec(`
		INSERT INTO reviews (run_id, repository_id, pr_number, pr_title, pr_url, review, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullStr(r.RunID), r.RepositoryID, r.PRNumber, r.PRTitle, r.PRURL,
		nullStr(r.Review), r.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("creating review: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting review id: %w", err)
	}
	return d.GetReview(id)
}

// UpsertReviewByRun writes the review row owned by r.RunID, creating it on
// first use. Re-running a workflow step therefore updates one row instead of
// appending another.
func (d *DB) UpsertReviewByRun(r *Review) (*Review, error) {
	if r.RunID == "" {
		return nil, fmt.Errorf("upserting review: run id is required")
	}
	_, err := d.db.Exec(`
		INSERT INTO reviews (run_id, repository_id, pr_number, pr_title, pr_url, review, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			pr_title = excluded.pr_title,
			pr_url = excluded.pr_url,
			review = excluded.review,
			status = excluded.status,
			updated_at = ?`,
		r.RunID, r.RepositoryID, r.PRNumber, r.PRTitle, r.PRURL,
		nullStr(r.Review), r.Status, now(),
	)
	if err != nil {
		return nil, fmt.Errorf("upserting review: %w", err)
	}
	return d.GetReviewByRun(r.RunID)
}

// GetReview retrieves a review by ID.
func (d *DB) GetReview(id int64) (*Review, error) {
	row := d.db.QueryRow(`SELECT `+reviewColumns+` FROM reviews WHERE id = ?`, id)
	return scanReview(row)
}

// GetReviewByRun retrieves the review written by a workflow run.
func (d *DB) GetReviewByRun(runID string) (*Review, error) {
	row := d.db.QueryRow(`SELECT `+reviewColumns+` FROM reviews WHERE run_id = ?`, runID)
	return scanReview(row)
}

// ListReviews returns a repository's reviews, newest first. limit <= 0
// returns every row.
func (d *DB) ListReviews(repositoryID int64, limit int) ([]Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE repository_id = ? ORDER BY id DESC`
	args := []any{repositoryID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing reviews: %w", err)
	}
	defer rows.Close()

	var out []Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanReview(row rowScanner) (*Review, error) {
	var r Review
	var runID, review sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&r.ID, &runID, &r.RepositoryID, &r.PRNumber, &r.PRTitle, &r.PRURL,
		&review, &r.Status, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning review: %w", notFound(err))
	}

	r.RunID = runID.String
	r.Review = review.String
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &r, nil
}
