package github

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	gogithub "github.com/google/go-github/v60/github"
)

// ErrNoCredential is returned by Factory.For when user-token mode has no
// token to authenticate with.
var ErrNoCredential = errors.New("github credential is required")

// AppConfig identifies a GitHub App installation.
type AppConfig struct {
	AppID          string
	InstallationID string
	PrivateKey     string
	PrivateKeyPath string
}

// NewAppClient creates a GitHub API client authenticated as a GitHub App
// installation. ghinstallation handles JWT signing and token refresh.
//
// PrivateKey may be raw PEM or base64-encoded PEM. When it is empty the key
// is read from PrivateKeyPath.
func NewAppClient(cfg AppConfig, timeout time.Duration) (*gogithub.Client, error) {
	appID, err := strconv.ParseInt(cfg.AppID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing app id %q: %w", cfg.AppID, err)
	}
	installationID, err := strconv.ParseInt(cfg.InstallationID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing installation id %q: %w", cfg.InstallationID, err)
	}

	key, err := resolvePrivateKey([]byte(cfg.PrivateKey), cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("resolving private key: %w", err)
	}

	transport, err := ghinstallation.New(http.DefaultTransport, appID, installationID, key)
	if err != nil {
		return nil, fmt.Errorf("creating installation transport: %w", err)
	}

	return gogithub.NewClient(&http.Client{Transport: transport, Timeout: timeout}), nil
}

// NewTokenClient creates a GitHub API client authenticated with a user's
// OAuth or personal access token.
func NewTokenClient(token string, timeout time.Duration) *gogithub.Client {
	return gogithub.NewClient(&http.Client{Timeout: timeout}).WithAuthToken(token)
}

// resolvePrivateKey returns PEM bytes from a raw or base64 key, or from a file.
func resolvePrivateKey(key []byte, keyPath string) ([]byte, error) {
	if s := strings.TrimSpace(string(key)); s != "" {
		if strings.HasPrefix(s, "-----BEGIN") {
			return []byte(s), nil
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			decoded, err = base64.URLEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("private key is neither PEM nor valid base64: %w", err)
			}
		}
		return decoded, nil
	}

	if keyPath != "" {
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("reading private key file %s: %w", keyPath, err)
		}
		return data, nil
	}

	return nil, fmt.Errorf("no private key provided: set private_key or private_key_path")
}

// Factory hands out Clients. In app mode every Client shares the
// installation client and user tokens are ignored.
type Factory struct {
	app     *gogithub.Client
	timeout time.Duration
	baseURL string
	logger  *slog.Logger
}

// NewFactory creates a Factory. app may be nil for per-user token mode.
func NewFactory(app *gogithub.Client, timeout time.Duration, logger *slog.Logger) *Factory {
	return &Factory{app: app, timeout: timeout, logger: logger}
}

// WithBaseURL points token clients at another API root (GitHub Enterprise or tests).
func (f *Factory) WithBaseURL(u string) *Factory {
	f.baseURL = strings.TrimRight(u, "/") + "/"
	return f
}

// AppMode reports whether calls are made as a GitHub App installation.
func (f *Factory) AppMode() bool { return f.app != nil }

// For returns a Client acting with token, or as the App installation.
func (f *Factory) For(token string) (*Client, error) {
	if f.app != nil {
		return NewClient(f.app, f.logger), nil
	}
	if token == "" {
		return nil, ErrNoCredential
	}
	gh := NewTokenClient(token, f.timeout)
	if f.baseURL != "" {
		u, err := gh.BaseURL.Parse(f.baseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing github base url: %w", err)
		}
		gh.BaseURL = u
	}
	return NewClient(gh, f.logger), nil
}
