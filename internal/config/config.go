package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	GitHub    GitHubConfig    `yaml:"github"`
	Providers ProvidersConfig `yaml:"providers"`
	Security  SecurityConfig  `yaml:"security"`
	Store     StoreConfig     `yaml:"store"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Limits    LimitsConfig    `yaml:"limits"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Notify    NotifyConfig    `yaml:"notify"`

	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// ServerConfig holds HTTP ingress settings.
type ServerConfig struct {
	Addr                string `yaml:"addr"`
	WebhookSecret       string `yaml:"webhook_secret"`
	LinearWebhookSecret string `yaml:"linear_webhook_secret"`
	JiraWebhookSecret   string `yaml:"jira_webhook_secret"`
}

// GitHubConfig holds GitHub authentication settings. With Auth "user" (the
// default) each user's stored OAuth token is used; with "app" every call is
// made as the configured GitHub App installation.
type GitHubConfig struct {
	Auth           string `yaml:"auth"`
	AppID          string `yaml:"app_id"`
	InstallationID string `yaml:"installation_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
	PrivateKey     string `yaml:"private_key"`
}

// ProviderConfig holds settings for a single provider (embedding or LLM).
// API keys are per user and never live in the config file.
type ProviderConfig struct {
	Type  string `yaml:"type"`
	Model string `yaml:"model"`
	URL   string `yaml:"url"`
}

// ProvidersConfig groups embedding and LLM provider configs.
type ProvidersConfig struct {
	Embedding ProviderConfig `yaml:"embedding"`
	LLM       ProviderConfig `yaml:"llm"`
}

// SecurityConfig holds the secret used to encrypt stored credentials.
type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

// StoreConfig holds storage settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// WorkflowConfig controls the background workflow engine.
type WorkflowConfig struct {
	ReviewConcurrency int    `yaml:"review_concurrency"`
	SyncConcurrency   int    `yaml:"sync_concurrency"`
	StepAttempts      int    `yaml:"step_attempts"`
	PollIntervalRaw   string `yaml:"poll_interval"`
	SyncIntervalRaw   string `yaml:"sync_interval"`
}

// LimitsConfig bounds request rates and prompt sizes.
type LimitsConfig struct {
	PRReviewsPerMinute int `yaml:"pr_reviews_per_minute"`
	MaxDiffChars       int `yaml:"max_diff_chars"`
	MentionDiffChars   int `yaml:"mention_diff_chars"`
	MaxIssuesPerSync   int `yaml:"max_issues_per_sync"`
}

// RetrievalConfig holds the issue re-ranking weights.
type RetrievalConfig struct {
	VectorWeight      float64 `yaml:"vector_weight"`
	RecencyWeight     float64 `yaml:"recency_weight"`
	PriorityWeight    float64 `yaml:"priority_weight"`
	RecencyWindowRaw  string  `yaml:"recency_window"`
	CodeContextTopK   int     `yaml:"code_context_top_k"`
	IssueContextTopK  int     `yaml:"issue_context_top_k"`
	MentionContextTop int     `yaml:"mention_context_top_k"`
}

// NotifyConfig holds failure-alert webhook URLs.
type NotifyConfig struct {
	SlackWebhook   string `yaml:"slack_webhook"`
	DiscordWebhook string `yaml:"discord_webhook"`
}

// RequestTimeout returns the timeout applied to each external call.
func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeoutRaw)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// PollInterval returns how often idle workers look for queued runs.
func (w WorkflowConfig) PollInterval() time.Duration {
	d, err := time.ParseDuration(w.PollIntervalRaw)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// SyncInterval returns the scheduled integration sync period.
func (w WorkflowConfig) SyncInterval() time.Duration {
	d, err := time.ParseDuration(w.SyncIntervalRaw)
	if err != nil || d <= 0 {
		return 6 * time.Hour
	}
	return d
}

// RecencyWindow returns the age at which an issue's recency score reaches zero.
func (r RetrievalConfig) RecencyWindow() time.Duration {
	d, err := time.ParseDuration(r.RecencyWindowRaw)
	if err != nil || d <= 0 {
		return 30 * 24 * time.Hour
	}
	return d
}

// envVarPattern matches ${VAR} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} placeholders with environment variable values.
// Returns an error if any referenced variable is not set.
func expandEnvVars(data []byte) ([]byte, error) {
	var missing []string

	result := envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		val, ok := os.LookupEnv(string(varName))
		if !ok {
			missing = append(missing, string(varName))
			return match
		}
		return []byte(val)
	})

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return result, nil
}

// Load reads and parses a config file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses config from raw YAML bytes, expanding env vars and validating.
func Parse(data []byte) (*Config, error) {
	expanded, err := expandEnvVars(data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.GitHub.Auth == "" {
		cfg.GitHub.Auth = "user"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.codereviewer/codereviewer.db"
	}
	if cfg.Workflow.ReviewConcurrency == 0 {
		cfg.Workflow.ReviewConcurrency = 5
	}
	if cfg.Workflow.SyncConcurrency == 0 {
		cfg.Workflow.SyncConcurrency = 2
	}
	if cfg.Workflow.StepAttempts == 0 {
		cfg.Workflow.StepAttempts = 3
	}
	if cfg.Workflow.PollIntervalRaw == "" {
		cfg.Workflow.PollIntervalRaw = "2s"
	}
	if cfg.Workflow.SyncIntervalRaw == "" {
		cfg.Workflow.SyncIntervalRaw = "6h"
	}
	if cfg.Limits.PRReviewsPerMinute == 0 {
		cfg.Limits.PRReviewsPerMinute = 5
	}
	if cfg.Limits.MaxDiffChars == 0 {
		cfg.Limits.MaxDiffChars = 30000
	}
	if cfg.Limits.MentionDiffChars == 0 {
		cfg.Limits.MentionDiffChars = 10000
	}
	if cfg.Limits.MaxIssuesPerSync == 0 {
		cfg.Limits.MaxIssuesPerSync = 1000
	}
	if cfg.Retrieval.VectorWeight == 0 && cfg.Retrieval.RecencyWeight == 0 && cfg.Retrieval.PriorityWeight == 0 {
		cfg.Retrieval.VectorWeight = 0.6
		cfg.Retrieval.RecencyWeight = 0.25
		cfg.Retrieval.PriorityWeight = 0.15
	}
	if cfg.Retrieval.RecencyWindowRaw == "" {
		cfg.Retrieval.RecencyWindowRaw = "720h"
	}
	if cfg.Retrieval.CodeContextTopK == 0 {
		cfg.Retrieval.CodeContextTopK = 5
	}
	if cfg.Retrieval.IssueContextTopK == 0 {
		cfg.Retrieval.IssueContextTopK = 5
	}
	if cfg.Retrieval.MentionContextTop == 0 {
		cfg.Retrieval.MentionContextTop = 5
	}
	if cfg.Providers.Embedding.Type == "" {
		cfg.Providers.Embedding.Type = "gemini"
	}
	if cfg.Providers.LLM.Type == "" {
		cfg.Providers.LLM.Type = "gemini"
	}
	if cfg.RequestTimeoutRaw == "" {
		cfg.RequestTimeoutRaw = "30s"
	}
}

func validate(cfg *Config) error {
	if cfg.Security.EncryptionKey == "" {
		return fmt.Errorf("security.encryption_key is required")
	}

	if cfg.GitHub.Auth != "user" && cfg.GitHub.Auth != "app" {
		return fmt.Errorf("github.auth must be \"user\" or \"app\", got %q", cfg.GitHub.Auth)
	}
	if cfg.GitHub.Auth == "app" {
		if cfg.GitHub.AppID == "" || cfg.GitHub.InstallationID == "" {
			return fmt.Errorf("github.app_id and github.installation_id are required for app auth")
		}
		if cfg.GitHub.PrivateKey == "" && cfg.GitHub.PrivateKeyPath == "" {
			return fmt.Errorf("github.private_key or github.private_key_path is required for app auth")
		}
	}

	for name, raw := range map[string]string{
		"workflow.poll_interval":   cfg.Workflow.PollIntervalRaw,
		"workflow.sync_interval":   cfg.Workflow.SyncIntervalRaw,
		"retrieval.recency_window": cfg.Retrieval.RecencyWindowRaw,
		"request_timeout":          cfg.RequestTimeoutRaw,
	} {
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
	}

	if cfg.Workflow.ReviewConcurrency < 0 || cfg.Workflow.SyncConcurrency < 0 {
		return fmt.Errorf("workflow concurrency must be positive")
	}

	weights := []float64{cfg.Retrieval.VectorWeight, cfg.Retrieval.RecencyWeight, cfg.Retrieval.PriorityWeight}
	for _, w := range weights {
		if w < 0 || w > 1 {
			return fmt.Errorf("retrieval weights must be between 0 and 1, got %f", w)
		}
	}

	validEmbedTypes := map[string]bool{"openai": true, "ollama": true, "gemini": true}
	if !validEmbedTypes[cfg.Providers.Embedding.Type] {
		return fmt.Errorf("unsupported embedding provider type: %s", cfg.Providers.Embedding.Type)
	}

	validLLMTypes := map[string]bool{"openai": true, "ollama": true, "anthropic": true, "gemini": true}
	if !validLLMTypes[cfg.Providers.LLM.Type] {
		return fmt.Errorf("unsupported LLM provider type: %s", cfg.Providers.LLM.Type)
	}

	return nil
}
