// File: cmd/history.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mendloop/mendloop/internal/history"
	"github.com/mendloop/mendloop/internal/observability"
)

var historyCount int

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent healing sessions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.NewStore(cfg.Heal.HistoryFile, observability.GetLogger())
			if err != nil {
				return err
			}

			records, err := store.Tail(historyCount)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No healing sessions recorded.")
				return nil
			}

			for _, rec := range records {
				fmt.Printf("%s  %s\n", rec.Timestamp.Format("2006-01-02 15:04:05"), rec.ID)
				fmt.Printf("    iterations=%d applied=%d rolled_back=%d failures %d -> %d",
					rec.Iterations, rec.FixesApplied, rec.FixesRolledBack,
					rec.InitialFailures, rec.FinalFailures)
				if rec.StopReason != "" {
					fmt.Printf("  (%s)", rec.StopReason)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&historyCount, "count", "n", 10, "number of sessions to show")
	return cmd
}

func init() {
	rootCmd.AddCommand(newHistoryCmd())
}
