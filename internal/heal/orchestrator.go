// internal/heal/orchestrator.go
package heal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options bound a healing session.
type Options struct {
	MaxIterations        int
	MaxFixesPerRun       int
	FailuresPerIteration int
	CandidatesPerFailure int
	MinApplyConfidence   float64
	TargetFile           string
}

func (o *Options) applyDefaults() {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 3
	}
	if o.MaxFixesPerRun <= 0 {
		o.MaxFixesPerRun = 5
	}
	if o.FailuresPerIteration <= 0 {
		o.FailuresPerIteration = 3
	}
	if o.CandidatesPerFailure <= 0 {
		o.CandidatesPerFailure = 3
	}
	if o.MinApplyConfidence <= 0 {
		o.MinApplyConfidence = 0.5
	}
}

// OrchestratorParams wires the components of the loop. Runner, Classifier,
// Analyzer, Generator, Modifier and Detector are required; SyncChecker and
// Store are optional.
type OrchestratorParams struct {
	Logger      *zap.Logger
	Runner      TestRunner
	Classifier  *Classifier
	Analyzer    *Analyzer
	Generator   *Generator
	Modifier    *Modifier
	Detector    *Detector
	SyncChecker SyncChecker
	Store       SessionStore
	Options     Options
}

// Orchestrator drives the healing loop: run tests, classify, analyze,
// generate, apply, verify, merge or roll back, until done or a budget runs
// out. Fix counters track fixes that remain applied; a rolled-back fix moves
// to the rolled-back counter instead.
type Orchestrator struct {
	logger     *zap.Logger
	runner     TestRunner
	classifier *Classifier
	analyzer   *Analyzer
	generator  *Generator
	modifier   *Modifier
	detector   *Detector
	sync       SyncChecker
	store      SessionStore
	opts       Options

	now func() time.Time
}

// NewOrchestrator validates the wiring and returns a ready loop.
func NewOrchestrator(p OrchestratorParams) (*Orchestrator, error) {
	if p.Runner == nil {
		return nil, errors.New("orchestrator: test runner is required")
	}
	if p.Classifier == nil || p.Analyzer == nil || p.Generator == nil {
		return nil, errors.New("orchestrator: classifier, analyzer and generator are required")
	}
	if p.Modifier == nil {
		return nil, errors.New("orchestrator: modifier is required")
	}
	if p.Detector == nil {
		return nil, errors.New("orchestrator: detector is required")
	}
	if p.Options.TargetFile == "" {
		return nil, errors.New("orchestrator: target file is required")
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	p.Options.applyDefaults()

	return &Orchestrator{
		logger:     p.Logger.Named("orchestrator"),
		runner:     p.Runner,
		classifier: p.Classifier,
		analyzer:   p.Analyzer,
		generator:  p.Generator,
		modifier:   p.Modifier,
		detector:   p.Detector,
		sync:       p.SyncChecker,
		store:      p.Store,
		opts:       p.Options,
		now:        time.Now,
	}, nil
}

// Heal runs one full session. With dryRun set, candidates are surfaced but
// nothing is applied and the loop runs a single iteration.
func (o *Orchestrator) Heal(ctx context.Context, dryRun bool) (*HealingProgress, error) {
	progress := &HealingProgress{}

	if o.sync != nil {
		if inSync, detail := o.sync.Check(); !inSync {
			o.logger.Warn("subject script and extracted module have diverged; test results may not reflect production behavior",
				zap.String("detail", detail))
		}
	}

	res, err := o.runner.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial test run: %w", err)
	}
	if len(res.Failures) == 0 {
		o.logger.Info("all tests passing, nothing to heal")
		return progress, nil
	}

	initial := o.detector.RecordState(res.Results)
	current := initial
	progress.InitialFailures = initial.FailedCount()
	progress.CurrentFailures = initial.FailedCount()

	o.logger.Info("starting healing session",
		zap.Int("passing", initial.PassedCount()),
		zap.Int("failing", initial.FailedCount()),
		zap.Bool("dry_run", dryRun),
	)

	stopReason := "iteration budget exhausted"

	for iter := 0; iter < o.opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return progress, err
		}
		progress.Iterations++

		if progress.FixesApplied >= o.opts.MaxFixesPerRun {
			stopReason = fmt.Sprintf("fix budget (%d) reached", o.opts.MaxFixesPerRun)
			break
		}

		classified := o.classifier.ClassifyBatch(res.Failures)
		if len(classified) > o.opts.FailuresPerIteration {
			classified = classified[:o.opts.FailuresPerIteration]
		}

		for _, failure := range classified {
			o.logger.Info("processing failure",
				zap.String("test", failure.TestName),
				zap.String("category", string(failure.Category)),
				zap.Float64("confidence", failure.Confidence),
			)

			rootCause := o.analyzer.Analyze(failure)
			candidates := o.generator.Generate(ctx, rootCause, o.opts.CandidatesPerFailure)

			for _, fix := range candidates {
				if dryRun {
					o.logger.Info("dry run, would apply fix",
						zap.String("candidate", fix.String()),
						zap.String("patch", fix.Patch),
					)
					continue
				}
				if fix.Confidence < o.opts.MinApplyConfidence {
					o.logger.Info("skipping low-confidence fix",
						zap.String("candidate", fix.String()),
					)
					continue
				}

				outcome := o.modifier.Apply(ctx, fix, o.opts.TargetFile)
				if !outcome.Success {
					o.logger.Warn("fix application failed",
						zap.String("candidate", fix.String()),
						zap.String("reason", outcome.Message),
					)
					continue
				}

				newRes, err := o.runner.Run(ctx)
				if err != nil {
					// Cannot verify the fix, so it cannot stay.
					if rbErr := o.modifier.Rollback(ctx, outcome.Branch); rbErr != nil {
						o.logger.Error("rollback failed", zap.Error(rbErr))
					}
					return progress, fmt.Errorf("verification run: %w", err)
				}
				newState := o.detector.RecordState(newRes.Results)

				report := o.detector.CheckRegression(current, newState)
				o.logger.Info("verification result", zap.String("report", report.Message))

				if report.HasRegression {
					o.logger.Warn("rolling back fix",
						zap.String("branch", outcome.Branch),
						zap.Strings("newly_failing", report.NewlyFailing),
					)
					if err := o.modifier.Rollback(ctx, outcome.Branch); err != nil {
						return progress, fmt.Errorf("rollback %s: %w", outcome.Branch, err)
					}
					progress.FixesRolledBack++
					continue
				}

				if err := o.modifier.MergeToTrunk(ctx, outcome.Branch); err != nil {
					return progress, fmt.Errorf("merge %s: %w", outcome.Branch, err)
				}
				progress.FixesApplied++

				res = newRes
				current = newState
				progress.CurrentFailures = newState.FailedCount()

				if stop, reason := o.detector.ShouldStop(newState, initial); stop {
					o.logger.Info("stopping", zap.String("reason", reason))
					o.recordSession(progress, reason)
					return progress, nil
				}
				break
			}
		}

		if dryRun {
			stopReason = "dry run complete"
			break
		}
	}

	o.recordSession(progress, stopReason)
	o.logger.Info("healing session complete",
		zap.Int("iterations", progress.Iterations),
		zap.Int("applied", progress.FixesApplied),
		zap.Int("rolled_back", progress.FixesRolledBack),
		zap.Int("remaining_failures", progress.CurrentFailures),
	)
	return progress, nil
}

func (o *Orchestrator) recordSession(progress *HealingProgress, reason string) {
	if o.store == nil {
		return
	}
	rec := SessionRecord{
		ID:              uuid.NewString(),
		Timestamp:       o.now(),
		Iterations:      progress.Iterations,
		FixesApplied:    progress.FixesApplied,
		FixesRolledBack: progress.FixesRolledBack,
		InitialFailures: progress.InitialFailures,
		FinalFailures:   progress.CurrentFailures,
		Improvement:     progress.Improvement(),
		StopReason:      reason,
	}
	if err := o.store.Append(rec); err != nil {
		o.logger.Warn("failed to record session history", zap.Error(err))
	}
}
