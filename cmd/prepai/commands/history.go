package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/prepai-go/internal/logging"
)

// NewHistoryCmd constructs the `prepai history` command, which lists recent
// index builds from the build log.
func NewHistoryCmd() *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent index builds",
		Long: `List recent index builds recorded in the build log, newest first.

The log lives at ~/.prepai/history.db unless PREPAI_HISTORY_DB overrides it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if limit <= 0 {
				return fmt.Errorf("history: --limit must be positive, got %d", limit)
			}

			hist, closeHist := openHistory(logging.FromContext(ctx))
			defer closeHist()
			if hist == nil {
				return fmt.Errorf("history: build log is disabled or unavailable")
			}

			builds, err := hist.Recent(ctx, limit)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(builds)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tWHEN\tOUTCOME\tCHUNKS\tDIM\tDURATION\tSOURCE")
			for _, b := range builds {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
					b.ID, b.CreatedAt.Local().Format("2006-01-02 15:04:05"), b.Outcome,
					b.Chunks, b.Dimension, b.Duration.Round(time.Millisecond), b.Source)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of builds to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print builds as JSON")

	return cmd
}
