package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var repoUser string

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage connected repositories",
}

var repoConnectCmd = &cobra.Command{
	Use:   "connect <owner/repo>",
	Short: "Connect a repository and queue its codebase for indexing",
	Args:  cobra.ExactArgs(1),
	RunE:  runRepoConnect,
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's connected repositories",
	Args:  cobra.NoArgs,
	RunE:  runRepoList,
}

func init() {
	repoCmd.PersistentFlags().StringVar(&repoUser, "user", "", "login of the owning user")
	repoCmd.AddCommand(repoConnectCmd, repoListCmd)
	rootCmd.AddCommand(repoCmd)
}

func runRepoConnect(cmd *cobra.Command, args []string) error {
	owner, name, err := parseRepoArg(args[0])
	if err != nil {
		return err
	}

	c, err := setup()
	if err != nil {
		return err
	}
	defer c.Close()

	u, err := lookupUser(c.Store, repoUser)
	if err != nil {
		return err
	}
	r, err := c.Pipeline.ConnectRepository(context.Background(), u.ID, owner, name)
	if err != nil {
		return fmt.Errorf("connecting %s/%s: %w", owner, name, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Connected %s; indexing runs when 'codereviewer serve' is up.\n", r.FullName)
	return nil
}

func runRepoList(cmd *cobra.Command, args []string) error {
	c, err := setup()
	if err != nil {
		return err
	}
	defer c.Close()

	u, err := lookupUser(c.Store, repoUser)
	if err != nil {
		return err
	}
	repos, err := c.Store.ListRepositories(u.ID)
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No repositories connected.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REPOSITORY\tURL\tCONNECTED")
	for _, r := range repos {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.FullName, r.URL, r.CreatedAt.Format("2006-01-02"))
	}
	return w.Flush()
}
