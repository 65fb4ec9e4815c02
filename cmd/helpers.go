package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jacklau/codereviewer/internal/store"
)

// parseRepoArg splits an "owner/repo" string and returns owner and repo.
func parseRepoArg(repoArg string) (owner, repo string, err error) {
	parts := strings.SplitN(repoArg, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || strings.Contains(parts[1], "/") {
		return "", "", fmt.Errorf("invalid repo format: expected owner/repo, got %q", repoArg)
	}
	return parts[0], parts[1], nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}

// lookupUser resolves a --user flag by login.
func lookupUser(db *store.DB, login string) (*store.User, error) {
	if login == "" {
		return nil, fmt.Errorf("--user is required")
	}
	u, err := db.GetUserByLogin(login)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("user %q not found; register it with 'codereviewer user add'", login)
	}
	return u, err
}
