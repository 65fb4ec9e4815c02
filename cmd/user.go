package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jacklau/codereviewer/internal/pipeline"
)

var (
	userGitHubToken string
	userAPIKey      string
	userGoodRules   []string
	userBadRules    []string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <login>",
	Short: "Register a user or update their credentials and review rules",
	Long: `Register a user by GitHub login. The GitHub token and LLM API key are
encrypted before they are stored. When the flags are omitted the values are
read from GITHUB_TOKEN and CODEREVIEWER_API_KEY.

Rules steer every review of the user's repositories:
  codereviewer user add octocat --good-rule "small functions" --bad-rule "panics in handlers"`,
	Args: cobra.ExactArgs(1),
	RunE: runUserAdd,
}

func init() {
	userAddCmd.Flags().StringVar(&userGitHubToken, "github-token", "", "GitHub token (default $GITHUB_TOKEN)")
	userAddCmd.Flags().StringVar(&userAPIKey, "api-key", "", "LLM provider API key (default $CODEREVIEWER_API_KEY)")
	userAddCmd.Flags().StringArrayVar(&userGoodRules, "good-rule", nil, "pattern reviews should encourage (repeatable)")
	userAddCmd.Flags().StringArrayVar(&userBadRules, "bad-rule", nil, "pattern reviews should flag (repeatable)")
	userCmd.AddCommand(userAddCmd)
	rootCmd.AddCommand(userCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	c, err := setup()
	if err != nil {
		return err
	}
	defer c.Close()

	token := userGitHubToken
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	key := userAPIKey
	if key == "" {
		key = os.Getenv("CODEREVIEWER_API_KEY")
	}

	u, err := c.Pipeline.RegisterUser(pipeline.UserInput{
		Login:       args[0],
		GitHubToken: token,
		APIKey:      key,
		GoodRules:   userGoodRules,
		BadRules:    userBadRules,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "User %s saved (id %d)\n", u.Login, u.ID)
	if u.EncryptedAPIKey == "" {
		fmt.Fprintln(out, "No API key set: reviews and issue sync will be skipped for this user.")
	}
	return nil
}
