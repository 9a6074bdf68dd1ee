package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"crypto-risk/internal/logger"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit     int
		asJSON    bool
		olderThan int
		clearRuns bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent analyze, optimize and visualize runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := a.openDB()
			if err != nil {
				return err
			}
			defer database.Close()

			if clearRuns {
				if olderThan < 0 {
					return fmt.Errorf("--older-than must be non-negative, got %d", olderThan)
				}
				n, err := database.ClearRuns(olderThan)
				if err != nil {
					return err
				}
				logger.Success("History", fmt.Sprintf("deleted %d runs older than %d days", n, olderThan))
				return nil
			}

			runs, err := database.GetRuns(limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(a.out, "no runs recorded yet")
				return nil
			}
			printRuns(a.out, runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print runs as JSON")
	cmd.Flags().BoolVar(&clearRuns, "clear", false, "Delete runs instead of listing them")
	cmd.Flags().IntVar(&olderThan, "older-than", 30, "With --clear, delete runs older than this many days")
	cmd.MarkFlagsMutuallyExclusive("clear", "json")
	return cmd
}
