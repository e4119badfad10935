// File: cmd/test.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mendloop/mendloop/internal/harness"
	"github.com/mendloop/mendloop/internal/observability"
)

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Run the test suite once and report results without healing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			runner, err := harness.NewRunner(cfg.Subject.TestCommand, cwd, logger)
			if err != nil {
				return err
			}

			res, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}

			passed := 0
			for _, ok := range res.Results {
				if ok {
					passed++
				}
			}
			fmt.Printf("%d passed, %d failed (%d total)\n", passed, len(res.Failures), len(res.Results))
			for _, f := range res.Failures {
				fmt.Printf("  FAILED %s: %s: %s\n", f.TestName, f.ExceptionKind, f.ExceptionMessage)
			}

			if len(res.Failures) > 0 {
				return fmt.Errorf("%d tests failing", len(res.Failures))
			}
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(newTestCmd())
}
