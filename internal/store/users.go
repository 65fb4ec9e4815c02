package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// User is an account that owns repositories and integrations. Credentials
// are stored encrypted; callers decrypt them with the crypto box.
type User struct {
	ID                   int64
	Login                string
	EncryptedGitHubToken string
	EncryptedAPIKey      string
	GoodRules            []string
	BadRules             []string
	CreatedAt            time.Time
}

const userColumns = `id, login, github_token, api_key, good_rules, bad_rules, created_at`

// UpsertUser inserts a user or updates the stored credentials and rules of
// the user with the same login.
func (d *DB) UpsertUser(u *User) (*User, error) {
	good, err := json.Marshal(rulesOrEmpty(u.GoodRules))
	if err != nil {
		return nil, fmt.Errorf("marshaling good rules: %w", err)
	}
	bad, err := json.Marshal(rulesOrEmpty(u.BadRules))
	if err != nil {
		return nil, fmt.Errorf("marshaling bad rules: %w", err)
	}

	_, err = d.db.Exec(`
		INSERT INTO users (login, github_token, api_key, good_rules, bad_rules)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(login) DO UPDATE SET
			github_token = excluded.github_token,
			api_key = excluded.api_key,
			good_rules = excluded.good_rules,
			bad_rules = excluded.bad_rules`,
		u.Login, nullStr(u.EncryptedGitHubToken), nullStr(u.EncryptedAPIKey),
		string(good), string(bad),
	)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	return d.GetUserByLogin(u.Login)
}

// GetUser retrieves a user by ID.
func (d *DB) GetUser(id int64) (*User, error) {
	row := d.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByLogin retrieves a user by GitHub login.
func (d *DB) GetUserByLogin(login string) (*User, error) {
	row := d.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE login = ?`, login)
	return scanUser(row)
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var token, apiKey, good, bad sql.NullString
	var createdAt string

	if err := row.Scan(&u.ID, &u.Login, &token, &apiKey, &good, &bad, &createdAt); err != nil {
		return nil, fmt.Errorf("scanning user: %w", notFound(err))
	}

	u.EncryptedGitHubToken = token.String
	u.EncryptedAPIKey = apiKey.String
	if good.Valid && good.String != "" {
		_ = json.Unmarshal([]byte(good.String), &u.GoodRules)
	}
	if bad.Valid && bad.String != "" {
		_ = json.Unmarshal([]byte(bad.String), &u.BadRules)
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return &u, nil
}

func rulesOrEmpty(rules []string) []string {
	if rules == nil {
		return []string{}
	}
	return rules
}
