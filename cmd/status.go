package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jacklau/codereviewer/internal/notify"
	"github.com/jacklau/codereviewer/internal/store"
	"github.com/jacklau/codereviewer/internal/workflow"
)

var statusRuns int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show repositories, integrations and recent workflow runs",
	Long: `Display review counts per connected repository, issue and embedding
counts per integration, the most recent workflow runs, and the database size.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusRuns, "runs", 10, "number of recent workflow runs to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := setup()
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()

	repoStats, err := c.Store.GetAllRepoStats()
	if err != nil {
		return fmt.Errorf("querying repository stats: %w", err)
	}
	if len(repoStats) == 0 {
		fmt.Fprintln(out, "No repositories connected yet.")
		fmt.Fprintln(out, "Run 'codereviewer repo connect <owner/repo> --user <login>' to get started.")
	} else {
		printRepoStats(out, repoStats)
	}

	integrationStats, err := c.Store.GetIntegrationStats()
	if err != nil {
		return fmt.Errorf("querying integration stats: %w", err)
	}
	if len(integrationStats) > 0 {
		fmt.Fprintln(out)
		printIntegrationStats(out, integrationStats)
	}

	runs, err := c.Engine.ListRuns("", statusRuns)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if len(runs) > 0 {
		fmt.Fprintln(out)
		printRuns(out, runs)
	}

	fmt.Fprintln(out)
	path := expandHome(c.Config.Store.Path)
	if size, err := storeSize(path); err != nil {
		fmt.Fprintf(out, "Database: %s (size unknown)\n", path)
	} else {
		fmt.Fprintf(out, "Database: %s (%s)\n", path, formatBytes(size))
	}
	return nil
}

func printRepoStats(out io.Writer, stats []store.RepoStats) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REPOSITORY\tREVIEWS\tCOMPLETED\tFAILED\tPENDING")
	fmt.Fprintln(w, "----------\t-------\t---------\t------\t-------")

	var total, completed, failed, pending int
	for _, s := range stats {
		fmt.Fprintf(w, "%s/%s\t%d\t%d\t%d\t%d\n",
			s.Repo.Owner, s.Repo.Name, s.ReviewCount, s.CompletedCount, s.FailedCount, s.PendingCount)
		total += s.ReviewCount
		completed += s.CompletedCount
		failed += s.FailedCount
		pending += s.PendingCount
	}
	if len(stats) > 1 {
		fmt.Fprintf(w, "TOTAL\t%d\t%d\t%d\t%d\n", total, completed, failed, pending)
	}
	w.Flush()
}

func printIntegrationStats(out io.Writer, stats []store.IntegrationStats) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tPROVIDER\tISSUES\tEMBEDDED")
	for _, s := range stats {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\n", s.UserID, s.Provider, s.IssueCount, s.EmbeddedCount)
	}
	w.Flush()
}

func printRuns(out io.Writer, runs []workflow.RunRecord) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tFUNCTION\tSTATUS\tSTEP\tUPDATED\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(r.ID), r.FunctionID, r.Status, r.CurrentStep,
			notify.TimeAgo(r.UpdatedAt), notify.Truncate(r.LastError, 60))
	}
	w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatBytes renders b with a binary unit, e.g. "1.5 KB".
func formatBytes(b int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	if b < 1024 {
		return fmt.Sprintf("%d B", b)
	}
	v, i := float64(b), 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", v, units[i])
}

// storeSize is the on-disk size of the sqlite database plus its WAL and
// shared-memory files. The main file must exist.
func storeSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	total := info.Size()
	for _, suffix := range []string{"-wal", "-shm"} {
		if side, err := os.Stat(path + suffix); err == nil {
			total += side.Size()
		}
	}
	return total, nil
}
