package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	gogithub "github.com/google/go-github/v60/github"
	"github.com/spf13/cobra"

	"github.com/jacklau/codereviewer/internal/config"
	"github.com/jacklau/codereviewer/internal/crypto"
	"github.com/jacklau/codereviewer/internal/github"
	"github.com/jacklau/codereviewer/internal/notify"
	"github.com/jacklau/codereviewer/internal/pipeline"
	"github.com/jacklau/codereviewer/internal/provider"
	"github.com/jacklau/codereviewer/internal/ratelimit"
	"github.com/jacklau/codereviewer/internal/retrieval"
	"github.com/jacklau/codereviewer/internal/store"
	"github.com/jacklau/codereviewer/internal/vectorstore"
	"github.com/jacklau/codereviewer/internal/workflow"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "codereviewer",
	Short: "AI code reviews for GitHub pull requests, grounded in your code and issues",
	Long: `CodeReviewer listens for GitHub pull request webhooks and posts AI-written
reviews. Reviews are grounded in an embedding index of the repository and of
issues synced from Linear or Jira. Mention @codereviewer on a pull request to
ask a question or request a fresh review.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default %s)", defaultConfigPath()))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codereviewer/config.yaml"
	}
	return home + "/.codereviewer/config.yaml"
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = defaultConfigPath()
	}
	return config.Load(path)
}

// components holds initialized components for use by subcommands.
type components struct {
	Config   *config.Config
	Store    *store.DB
	Engine   *workflow.Engine
	Pipeline *pipeline.Pipeline
	Logger   *slog.Logger
}

// Close releases the database.
func (c *components) Close() error {
	return c.Store.Close()
}

// initComponents opens the store and wires the workflow engine and pipeline.
// Commands that only enqueue work share the same wiring as serve so that
// every event they send has a registered function.
func initComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	timeout := cfg.RequestTimeout()

	path := expandHome(cfg.Store.Path)
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	c := &components{Config: cfg, Store: db, Logger: logger}

	fail := func(err error) (*components, error) {
		db.Close()
		return nil, err
	}

	box, err := crypto.NewBox(cfg.Security.EncryptionKey)
	if err != nil {
		return fail(fmt.Errorf("creating credential box: %w", err))
	}

	vectors, err := vectorstore.NewSQLite(db.Conn(), logger)
	if err != nil {
		return fail(fmt.Errorf("opening vector store: %w", err))
	}

	engine, err := workflow.New(db.Conn(), workflow.Options{
		StepAttempts: cfg.Workflow.StepAttempts,
		PollInterval: cfg.Workflow.PollInterval(),
		Alerter:      notify.New(cfg.Notify.SlackWebhook, cfg.Notify.DiscordWebhook, logger),
		Logger:       logger,
	})
	if err != nil {
		return fail(fmt.Errorf("creating workflow engine: %w", err))
	}
	c.Engine = engine

	var app *gogithub.Client
	if cfg.GitHub.Auth == "app" {
		app, err = github.NewAppClient(github.AppConfig{
			AppID:          cfg.GitHub.AppID,
			InstallationID: cfg.GitHub.InstallationID,
			PrivateKey:     cfg.GitHub.PrivateKey,
			PrivateKeyPath: cfg.GitHub.PrivateKeyPath,
		}, timeout)
		if err != nil {
			return fail(fmt.Errorf("creating GitHub app client: %w", err))
		}
	}

	providers := provider.NewFactory(
		provider.EmbedderConfig{
			Type:  cfg.Providers.Embedding.Type,
			Model: cfg.Providers.Embedding.Model,
			URL:   cfg.Providers.Embedding.URL,
		},
		provider.CompleterConfig{
			Type:  cfg.Providers.LLM.Type,
			Model: cfg.Providers.LLM.Model,
			URL:   cfg.Providers.LLM.URL,
		},
		timeout,
	)

	weights := retrieval.Weights{
		Vector:   cfg.Retrieval.VectorWeight,
		Recency:  cfg.Retrieval.RecencyWeight,
		Priority: cfg.Retrieval.PriorityWeight,
		Window:   cfg.Retrieval.RecencyWindow(),
	}

	c.Pipeline = pipeline.New(pipeline.Deps{
		Store:       db,
		Vectors:     vectors,
		Engine:      engine,
		GitHub:      pipeline.FromFactory(github.NewFactory(app, timeout, logger)),
		Providers:   providers,
		Trackers:    pipeline.DefaultTrackers(timeout, logger),
		Box:         box,
		Retriever:   retrieval.New(vectors, db, weights, logger),
		ReviewLimit: ratelimit.New(cfg.Limits.PRReviewsPerMinute, time.Minute),
		Options: pipeline.Options{
			ReviewConcurrency: cfg.Workflow.ReviewConcurrency,
			SyncConcurrency:   cfg.Workflow.SyncConcurrency,
			SyncInterval:      cfg.Workflow.SyncInterval(),
			MaxDiffChars:      cfg.Limits.MaxDiffChars,
			MentionDiffChars:  cfg.Limits.MentionDiffChars,
			MaxIssuesPerSync:  cfg.Limits.MaxIssuesPerSync,
			CodeTopK:          cfg.Retrieval.CodeContextTopK,
			IssueTopK:         cfg.Retrieval.IssueContextTopK,
			MentionTopK:       cfg.Retrieval.MentionContextTop,
		},
		Logger: logger,
	})
	if err := c.Pipeline.Register(); err != nil {
		return fail(fmt.Errorf("registering workflows: %w", err))
	}

	return c, nil
}

// setup loads config and components for a subcommand.
func setup() (*components, error) {
	logger := setupLogger()
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	c, err := initComponents(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing components: %w", err)
	}
	return c, nil
}
