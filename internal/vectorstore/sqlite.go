package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// SQLite is a Store kept in a table of the application database. Queries
// scan the namespace and rank rows by cosine similarity in process.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite creates the vectors table if needed and returns the adapter.
func NewSQLite(db *sql.DB, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS vectors (
		namespace TEXT NOT NULL,
		id TEXT NOT NULL,
		vector BLOB NOT NULL,
		metadata TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
		PRIMARY KEY (namespace, id)
	)`)
	if err != nil {
		return nil, fmt.Errorf("%w: creating vectors table: %v", ErrUnavailable, err)
	}
	return &SQLite{db: db, logger: logger}, nil
}

// Upsert implements Store.
func (s *SQLite) Upsert(ctx context.Context, ns Namespace, id string, vector []float32, metadata map[string]string) error {
	if len(vector) == 0 {
		return fmt.Errorf("upserting %s/%s: empty vector", ns, id)
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vectors (namespace, id, vector, metadata)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, id) DO UPDATE SET
			vector = excluded.vector,
			metadata = excluded.metadata,
			updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`,
		string(ns), id, EncodeVector(vector), string(meta),
	)
	if err != nil {
		return fmt.Errorf("%w: upserting %s/%s: %v", ErrUnavailable, ns, id, err)
	}
	return nil
}

// Query implements Store.
func (s *SQLite) Query(ctx context.Context, ns Namespace, vector []float32, topK int, filter Filter) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	where, args, err := compileFilter(ns, filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, vector, metadata FROM vectors WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying %s: %v", ErrUnavailable, ns, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var id, meta string
		var blob []byte
		if err := rows.Scan(&id, &blob, &meta); err != nil {
			return nil, fmt.Errorf("%w: scanning vector row: %v", ErrUnavailable, err)
		}

		score, err := CosineSimilarity(vector, DecodeVector(blob))
		if err != nil {
			s.logger.Debug("skipping vector with different dimensions", "namespace", ns, "id", id, "error", err)
			continue
		}

		m := Match{ID: id, Score: clampScore(score)}
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			s.logger.Warn("skipping vector with unreadable metadata", "namespace", ns, "id", id, "error", err)
			continue
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating %s: %v", ErrUnavailable, ns, err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Delete implements Store.
func (s *SQLite) Delete(ctx context.Context, ns Namespace, filter Filter) (int64, error) {
	where, args, err := compileFilter(ns, filter)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM vectors WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: deleting from %s: %v", ErrUnavailable, ns, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// compileFilter turns a namespace and filter into a WHERE clause. Field
// names are validated before being spliced into the JSON path.
func compileFilter(ns Namespace, filter Filter) (string, []any, error) {
	if err := validateFilter(filter); err != nil {
		return "", nil, err
	}

	clauses := []string{"namespace = ?"}
	args := []any{string(ns)}
	for _, p := range filter {
		path := "json_extract(metadata, '$." + p.Field + "')"
		switch len(p.Values) {
		case 0:
			clauses = append(clauses, "0")
		case 1:
			clauses = append(clauses, path+" = ?")
			args = append(args, p.Values[0])
		default:
			clauses = append(clauses, path+" IN ("+strings.TrimSuffix(strings.Repeat("?,", len(p.Values)), ",")+")")
			for _, v := range p.Values {
				args = append(args, v)
			}
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

var _ Store = (*SQLite)(nil)
