package cmd

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactive setup for CodeReviewer configuration",
	Long:  `Creates a default configuration file with guided prompts.`,
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Welcome to CodeReviewer setup!")
	fmt.Fprintln(out, "This will create a configuration file for you.")
	fmt.Fprintln(out)

	configPath := cfgFile
	if configPath == "" {
		configPath = defaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(out, "Config file already exists at %s\n", configPath)
		fmt.Fprint(out, "Overwrite? [y/N]: ")
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	ask := func(prompt, def string) string {
		fmt.Fprint(out, prompt)
		v, _ := reader.ReadString('\n')
		v = strings.TrimSpace(v)
		if v == "" {
			return def
		}
		return v
	}

	appID := ask("GitHub App ID (or press Enter to use per-user tokens): ", "")
	keyPath := ""
	if appID != "" {
		keyPath = ask("GitHub App private key path: ", "")
	}
	embedProvider := ask("Embedding provider (gemini/openai/ollama) [gemini]: ", "gemini")
	llmProvider := ask("LLM provider (gemini/openai/anthropic/ollama) [gemini]: ", "gemini")
	slackURL := ask("Slack webhook URL for failure alerts (or press Enter to skip): ", "")
	discordURL := ask("Discord webhook URL for failure alerts (or press Enter to skip): ", "")

	secret, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating encryption key: %w", err)
	}

	config := buildConfigYAML(appID, keyPath, embedProvider, llmProvider, slackURL, discordURL, secret)

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(config), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", configPath)
	fmt.Fprintln(out, "Keep security.encryption_key stable: stored credentials cannot be read without it.")
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func buildConfigYAML(appID, keyPath, embedProvider, llmProvider, slackURL, discordURL, secret string) string {
	var b strings.Builder

	b.WriteString("# CodeReviewer configuration\n")
	b.WriteString("# See documentation for all available options.\n\n")

	b.WriteString("server:\n")
	b.WriteString("  addr: \":8080\"\n")
	b.WriteString("  # webhook_secret: your-github-webhook-secret\n")
	b.WriteString("  # linear_webhook_secret: ...\n")
	b.WriteString("  # jira_webhook_secret: ...\n")
	b.WriteString("\n")

	b.WriteString("github:\n")
	if appID != "" {
		b.WriteString("  auth: app\n")
		b.WriteString(fmt.Sprintf("  app_id: %s\n", appID))
		b.WriteString("  installation_id: YOUR_INSTALLATION_ID\n")
		if keyPath != "" {
			b.WriteString(fmt.Sprintf("  private_key_path: %s\n", keyPath))
		} else {
			b.WriteString("  # private_key_path: /path/to/private-key.pem\n")
		}
	} else {
		b.WriteString("  auth: user\n")
	}
	b.WriteString("\n")

	b.WriteString("# API keys are stored per user with 'codereviewer user add'.\n")
	b.WriteString("providers:\n")
	b.WriteString("  embedding:\n")
	b.WriteString(fmt.Sprintf("    type: %s\n", embedProvider))
	b.WriteString(fmt.Sprintf("    model: %s\n", embeddingModelDefault(embedProvider)))
	if embedProvider == "ollama" {
		b.WriteString("    url: http://localhost:11434\n")
	}
	b.WriteString("  llm:\n")
	b.WriteString(fmt.Sprintf("    type: %s\n", llmProvider))
	b.WriteString(fmt.Sprintf("    model: %s\n", llmModelDefault(llmProvider)))
	if llmProvider == "ollama" {
		b.WriteString("    url: http://localhost:11434\n")
	}
	b.WriteString("\n")

	b.WriteString("security:\n")
	b.WriteString(fmt.Sprintf("  encryption_key: %s\n", secret))
	b.WriteString("\n")

	b.WriteString("notify:\n")
	if slackURL != "" {
		b.WriteString(fmt.Sprintf("  slack_webhook: %s\n", slackURL))
	} else {
		b.WriteString("  # slack_webhook: https://hooks.slack.com/services/...\n")
	}
	if discordURL != "" {
		b.WriteString(fmt.Sprintf("  discord_webhook: %s\n", discordURL))
	} else {
		b.WriteString("  # discord_webhook: https://discord.com/api/webhooks/...\n")
	}
	b.WriteString("\n")

	b.WriteString("workflow:\n")
	b.WriteString("  review_concurrency: 5\n")
	b.WriteString("  sync_concurrency: 2\n")
	b.WriteString("  step_attempts: 3\n")
	b.WriteString("  sync_interval: 6h\n")
	b.WriteString("\n")

	b.WriteString("limits:\n")
	b.WriteString("  pr_reviews_per_minute: 5\n")
	b.WriteString("  max_diff_chars: 30000\n")
	b.WriteString("\n")

	b.WriteString("retrieval:\n")
	b.WriteString("  vector_weight: 0.6\n")
	b.WriteString("  recency_weight: 0.25\n")
	b.WriteString("  priority_weight: 0.15\n")
	b.WriteString("  recency_window: 720h\n")
	b.WriteString("\n")

	b.WriteString("request_timeout: 30s\n")
	b.WriteString("\n")

	b.WriteString("store:\n")
	b.WriteString("  path: ~/.codereviewer/codereviewer.db\n")

	return b.String()
}

// embeddingModelDefault returns the default embedding model for a provider type.
func embeddingModelDefault(provider string) string {
	switch provider {
	case "openai":
		return "text-embedding-3-small"
	case "ollama":
		return "nomic-embed-text"
	default: // gemini
		return "text-embedding-004"
	}
}

// llmModelDefault returns the default completion model for a provider type.
func llmModelDefault(provider string) string {
	switch provider {
	case "openai":
		return "gpt-4o-mini"
	case "anthropic":
		return "claude-sonnet-4-20250514"
	case "ollama":
		return "llama3.1:8b"
	default: // gemini
		return "gemini-2.0-flash"
	}
}
