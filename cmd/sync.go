// File: cmd/sync.go
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mendloop/mendloop/internal/observability"
	"github.com/mendloop/mendloop/internal/syncverify"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Verify the extracted parser module matches the production script.",
		Long: `Extracts the Python block embedded in the production script and compares
its parsing functions against the standalone module the tests exercise.
Exits non-zero when the two have diverged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			verifier := syncverify.NewVerifier(cfg.Subject.ScriptPath, cfg.Subject.ModulePath, observability.GetLogger())

			status := verifier.Verify()
			fmt.Println(status.String())
			if !status.InSync {
				return errors.New("script and module have diverged")
			}
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(newSyncCmd())
}
