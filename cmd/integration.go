package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacklau/codereviewer/internal/pipeline"
	"github.com/jacklau/codereviewer/internal/store"
)

var (
	integrationUser string

	linearAPIKey string

	jiraURL      string
	jiraEmail    string
	jiraToken    string
	jiraProjects []string
)

var integrationCmd = &cobra.Command{
	Use:   "integration",
	Short: "Connect, sync and disconnect Linear or Jira",
}

var integrationConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect an issue tracker",
}

var connectLinearCmd = &cobra.Command{
	Use:   "linear",
	Short: "Connect Linear with a personal API key",
	Args:  cobra.NoArgs,
	RunE:  runConnectLinear,
}

var connectJiraCmd = &cobra.Command{
	Use:   "jira",
	Short: "Connect Jira Cloud with an email and API token",
	Long: `Connect a Jira Cloud site. Only *.atlassian.net sites are supported.
Without --project every project visible to the account is synced.`,
	Args: cobra.NoArgs,
	RunE: runConnectJira,
}

var integrationSyncCmd = &cobra.Command{
	Use:   "sync <linear|jira>",
	Short: "Queue a full issue sync",
	Args:  cobra.ExactArgs(1),
	RunE:  runIntegrationSync,
}

var integrationDisconnectCmd = &cobra.Command{
	Use:   "disconnect <linear|jira>",
	Short: "Remove an integration with its issues and embeddings",
	Args:  cobra.ExactArgs(1),
	RunE:  runIntegrationDisconnect,
}

func init() {
	integrationCmd.PersistentFlags().StringVar(&integrationUser, "user", "", "login of the owning user")

	connectLinearCmd.Flags().StringVar(&linearAPIKey, "api-key", "", "Linear API key (default $LINEAR_API_KEY)")

	connectJiraCmd.Flags().StringVar(&jiraURL, "url", "", "Jira Cloud URL, e.g. https://acme.atlassian.net")
	connectJiraCmd.Flags().StringVar(&jiraEmail, "email", "", "Atlassian account email")
	connectJiraCmd.Flags().StringVar(&jiraToken, "api-token", "", "Atlassian API token (default $JIRA_API_TOKEN)")
	connectJiraCmd.Flags().StringSliceVar(&jiraProjects, "project", nil, "project keys to sync (repeatable)")

	integrationConnectCmd.AddCommand(connectLinearCmd, connectJiraCmd)
	integrationCmd.AddCommand(integrationConnectCmd, integrationSyncCmd, integrationDisconnectCmd)
	rootCmd.AddCommand(integrationCmd)
}

func runConnectLinear(cmd *cobra.Command, args []string) error {
	key := linearAPIKey
	if key == "" {
		key = os.Getenv("LINEAR_API_KEY")
	}
	if key == "" {
		return fmt.Errorf("--api-key or LINEAR_API_KEY is required")
	}

	c, err := setup()
	if err != nil {
		return err
	}
	defer c.Close()

	u, err := lookupUser(c.Store, integrationUser)
	if err != nil {
		return err
	}
	in, err := c.Pipeline.ConnectLinear(context.Background(), u.ID, key)
	if err != nil {
		return err
	}
	printConnected(cmd, in)
	return nil
}

func runConnectJira(cmd *cobra.Command, args []string) error {
	token := jiraToken
	if token == "" {
		token = os.Getenv("JIRA_API_TOKEN")
	}
	if jiraURL == "" || jiraEmail == "" || token == "" {
		return fmt.Errorf("--url, --email and --api-token are required")
	}

	c, err := setup()
	if err != nil {
		return err
	}
	defer c.Close()

	u, err := lookupUser(c.Store, integrationUser)
	if err != nil {
		return err
	}
	in, err := c.Pipeline.ConnectJira(context.Background(), u.ID, pipeline.JiraConnection{
		CloudURL:    jiraURL,
		Email:       jiraEmail,
		APIToken:    token,
		ProjectKeys: jiraProjects,
	})
	if err != nil {
		return err
	}
	printConnected(cmd, in)
	return nil
}

func printConnected(cmd *cobra.Command, in *store.Integration) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connected %s workspace %s\n", in.Provider, in.WorkspaceName)
	if len(in.Metadata.ProjectKeys) > 0 {
		fmt.Fprintf(out, "Projects: %s\n", strings.Join(in.Metadata.ProjectKeys, ", "))
	}
	fmt.Fprintln(out, "Initial issue sync queued.")
}

func runIntegrationSync(cmd *cobra.Command, args []string) error {
	c, err := setup()
	if err != nil {
		return err
	}
	defer c.Close()

	u, err := lookupUser(c.Store, integrationUser)
	if err != nil {
		return err
	}
	ids, err := c.Pipeline.RequestSync(context.Background(), u.ID, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sync queued (%s)\n", strings.Join(ids, ", "))
	return nil
}

func runIntegrationDisconnect(cmd *cobra.Command, args []string) error {
	c, err := setup()
	if err != nil {
		return err
	}
	defer c.Close()

	u, err := lookupUser(c.Store, integrationUser)
	if err != nil {
		return err
	}
	existed, err := c.Pipeline.Disconnect(context.Background(), u.ID, args[0])
	if err != nil {
		return err
	}
	if !existed {
		fmt.Fprintf(cmd.OutOrStdout(), "No %s integration for %s\n", args[0], u.Login)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Disconnected %s\n", args[0])
	return nil
}
