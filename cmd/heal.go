// File: cmd/heal.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mendloop/mendloop/internal/config"
	"github.com/mendloop/mendloop/internal/gitops"
	"github.com/mendloop/mendloop/internal/harness"
	"github.com/mendloop/mendloop/internal/heal"
	"github.com/mendloop/mendloop/internal/history"
	"github.com/mendloop/mendloop/internal/observability"
	"github.com/mendloop/mendloop/internal/oracle"
	"github.com/mendloop/mendloop/internal/pycheck"
	"github.com/mendloop/mendloop/internal/syncverify"
)

var dryRun bool

func newHealCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heal",
		Short: "Run the self-healing loop against the test suite.",
		Long: `Runs the test suite, classifies failures, generates fix candidates and
applies them on isolated git branches. Verified fixes are merged back; fixes
that break previously passing tests are rolled back. Exits non-zero when
failures remain.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			orch, err := buildOrchestrator(cfg, logger)
			if err != nil {
				return err
			}

			progress, err := orch.Heal(cmd.Context(), dryRun)
			if err != nil {
				return err
			}

			fmt.Println(progress.Summary())
			if progress.CurrentFailures > 0 {
				return fmt.Errorf("%d tests still failing", progress.CurrentFailures)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show fix candidates without applying anything")
	return cmd
}

// buildOrchestrator assembles the healing loop from configuration. The git
// repository is opened at the working directory; the modifier validates every
// candidate with the embedded Python grammar before writing.
func buildOrchestrator(cfg *config.Config, logger *zap.Logger) (*heal.Orchestrator, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	repo, err := gitops.Open(cwd, logger)
	if err != nil {
		return nil, fmt.Errorf("open git repository: %w", err)
	}

	runner, err := harness.NewRunner(cfg.Subject.TestCommand, cwd, logger)
	if err != nil {
		return nil, err
	}

	// Source excerpts are optional context for the advisor; a missing module
	// surfaces later as a test-run failure, not here.
	var parserSource string
	if raw, err := os.ReadFile(cfg.Subject.ModulePath); err == nil {
		parserSource = string(raw)
	}
	analyzer := heal.NewAnalyzer(parserSource, logger)

	var advisor heal.Advisor
	if cfg.Oracle.Enabled && cfg.Heal.UseAIForUnknown {
		client, err := oracle.NewClient(cfg.Oracle, logger)
		if err != nil {
			logger.Warn("oracle unavailable, continuing without AI fallback", zap.Error(err))
		} else {
			advisor = client
		}
	}

	modifier, err := heal.NewModifier(repo, pycheck.Validate, heal.ModifierConfig{
		ProjectRoot:     cwd,
		MaxLinesChanged: cfg.Heal.MaxLinesChanged,
		AutoCommit:      cfg.Heal.AutoCommit,
		RollbackDir:     cfg.Heal.RollbackDir,
	}, logger)
	if err != nil {
		return nil, err
	}

	store, err := history.NewStore(cfg.Heal.HistoryFile, logger)
	if err != nil {
		return nil, err
	}

	return heal.NewOrchestrator(heal.OrchestratorParams{
		Logger:      logger,
		Runner:      runner,
		Classifier:  heal.NewClassifier(logger),
		Analyzer:    analyzer,
		Generator:   heal.NewGenerator(analyzer, advisor, logger),
		Modifier:    modifier,
		Detector:    heal.NewDetector(cfg.Heal.OscillationWindow, cfg.Heal.RequireNetProgress, logger),
		SyncChecker: syncverify.NewVerifier(cfg.Subject.ScriptPath, cfg.Subject.ModulePath, logger),
		Store:       store,
		Options: heal.Options{
			MaxIterations:        cfg.Heal.MaxIterations,
			MaxFixesPerRun:       cfg.Heal.MaxFixesPerRun,
			FailuresPerIteration: cfg.Heal.FailuresPerIteration,
			MinApplyConfidence:   cfg.Heal.MinApplyConfidence,
			TargetFile:           cfg.Subject.ModulePath,
		},
	})
}

func init() {
	rootCmd.AddCommand(newHealCmd())
}
