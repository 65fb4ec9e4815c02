package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jacklau/codereviewer/internal/notify"
	"github.com/jacklau/codereviewer/internal/ratelimit"
	"github.com/jacklau/codereviewer/internal/store"
)

var (
	reviewUser   string
	reviewsLimit int
)

var reviewCmd = &cobra.Command{
	Use:   "review <owner/repo> <number>",
	Short: "Request a review of a pull request",
	Long: `Queue a review of one pull request, the same as opening it would.
If the pull request cannot be fetched a failed review is recorded so the
error shows up in 'codereviewer reviews'.`,
	Args: cobra.ExactArgs(2),
	RunE: runReview,
}

var reviewsCmd = &cobra.Command{
	Use:   "reviews <owner/repo>",
	Short: "Show the review history of a repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviews,
}

func init() {
	reviewCmd.Flags().StringVar(&reviewUser, "user", "", "login to act as (default: the repository owner)")
	reviewsCmd.Flags().IntVar(&reviewsLimit, "limit", 20, "maximum number of reviews to show")
	rootCmd.AddCommand(reviewCmd, reviewsCmd)
}

// parsePRNumber accepts "42" or "#42".
func parsePRNumber(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(s, "#"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid pull request number %q", s)
	}
	return n, nil
}

func runReview(cmd *cobra.Command, args []string) error {
	owner, name, err := parseRepoArg(args[0])
	if err != nil {
		return err
	}
	number, err := parsePRNumber(args[1])
	if err != nil {
		return err
	}

	c, err := setup()
	if err != nil {
		return err
	}
	defer c.Close()

	var userID int64
	if reviewUser != "" {
		u, err := lookupUser(c.Store, reviewUser)
		if err != nil {
			return err
		}
		userID = u.ID
	} else {
		r, err := c.Store.GetRepositoryByOwnerName(owner, name)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%s/%s is not connected", owner, name)
		}
		if err != nil {
			return err
		}
		userID = r.UserID
	}

	ids, err := c.Pipeline.RequestReview(context.Background(), userID, owner, name, number)
	var rl *ratelimit.Error
	if errors.As(err, &rl) {
		return fmt.Errorf("too many review requests, try again %s", rl.ResetAt.Local().Format("15:04:05"))
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Review of %s/%s#%d queued (%s)\n", owner, name, number, strings.Join(ids, ", "))
	return nil
}

func runReviews(cmd *cobra.Command, args []string) error {
	owner, name, err := parseRepoArg(args[0])
	if err != nil {
		return err
	}

	c, err := setup()
	if err != nil {
		return err
	}
	defer c.Close()

	reviews, err := c.Pipeline.ListReviews(owner, name, reviewsLimit)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s/%s is not connected", owner, name)
	}
	if err != nil {
		return err
	}
	printReviews(cmd, reviews)
	return nil
}

func printReviews(cmd *cobra.Command, reviews []store.Review) {
	if len(reviews) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No reviews yet.")
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PR\tSTATUS\tTITLE\tWHEN\tSUMMARY")
	for _, r := range reviews {
		summary := strings.Join(strings.Fields(r.Review), " ")
		fmt.Fprintf(w, "#%d\t%s\t%s\t%s\t%s\n",
			r.PRNumber, r.Status, notify.Truncate(r.PRTitle, 40), notify.TimeAgo(r.CreatedAt), notify.Truncate(summary, 60))
	}
	w.Flush()
}
