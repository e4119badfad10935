// File: cmd/fixtures.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mendloop/mendloop/internal/fixtures"
	"github.com/mendloop/mendloop/internal/observability"
)

func newFixturesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fixtures",
		Short: "Manage test fixtures for the parser suite.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Generate synthetic edge-case fixtures.",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := fixtures.NewManager(cfg.Subject.FixtureDir, observability.GetLogger())

			names, err := mgr.GenerateSynthetic()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Printf("generated %s\n", name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "capture",
		Short: "Capture a live fixture by running the production script.",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := fixtures.NewManager(cfg.Subject.FixtureDir, observability.GetLogger())

			path, err := mgr.Capture(cmd.Context(), cfg.Subject.ScriptPath)
			if err != nil {
				return err
			}
			fmt.Printf("captured %s\n", path)
			fmt.Println("Review the output and fill in the expected values before using it in tests.")
			return nil
		},
	})

	return cmd
}

func init() {
	rootCmd.AddCommand(newFixturesCmd())
}
