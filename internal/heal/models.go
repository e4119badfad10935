// internal/heal/models.go
package heal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// FailureCategory is the closed taxonomy of parsing-failure classifications.
type FailureCategory string

const (
	// CategoryNewFormat marks an unknown date/time format in the subject's input.
	CategoryNewFormat FailureCategory = "new-format"
	// CategoryPatternMismatch marks an extraction pattern that no longer matches.
	CategoryPatternMismatch FailureCategory = "pattern-mismatch"
	// CategoryValidationError marks a parsed value rejected by a sanity check.
	CategoryValidationError FailureCategory = "validation-error"
	// CategoryTerminalCorruption marks escape-sequence stripping failures.
	CategoryTerminalCorruption FailureCategory = "terminal-corruption"
	// CategoryBoundary marks midnight-crossing and year-wrap edge conditions.
	CategoryBoundary FailureCategory = "boundary"
	// CategoryUnknown is the fallback when no rule clears the confidence floor.
	CategoryUnknown FailureCategory = "unknown"
)

// Suggested fix types form a closed set; the generator dispatches on them.
const (
	FixAddDateFormatWithYear = "add-date-format-with-year"
	FixAddDateFormatNoYear   = "add-date-format-no-year"
	FixAddTimeFormat         = "add-time-format"
	FixBroadenPattern        = "broaden-pattern"
	FixAdjustValidation      = "adjust-validation"
	FixEnhanceCorruption     = "enhance-corruption-handling"
	FixMidnightLogic         = "fix-midnight-logic"
	FixYearWrap              = "fix-year-wrap"
	FixAIDiagnose            = "ai-diagnose"
)

// Strategy tags carried by fix candidates.
const (
	StrategyAddFormat         = "add-format"
	StrategyBroadenPattern    = "broaden-pattern"
	StrategyAdjustThreshold   = "adjust-threshold"
	StrategyEnhanceCorruption = "enhance-corruption"
	StrategyBoundaryNudge     = "boundary-nudge"
	StrategyAIGenerated       = "ai-generated"
	StrategyAIUnavailable     = "ai-unavailable"
	StrategyAIFailed          = "ai-failed"
)

// RawFailure is a single failing test as reported by the harness adapter.
// Immutable input to classification.
type RawFailure struct {
	TestName         string `json:"test_name"`
	ExceptionKind    string `json:"exception_kind"`
	ExceptionMessage string `json:"exception_message"`
	TraceText        string `json:"trace_text"`
	FixtureName      string `json:"fixture_name,omitempty"`
	FixtureContent   string `json:"fixture_content,omitempty"`
}

// MatchedPattern records one classifier rule that matched, in the order rules
// were evaluated.
type MatchedPattern struct {
	Category   FailureCategory `json:"category"`
	Pattern    string          `json:"pattern"`
	Confidence float64         `json:"confidence"`
}

// ClassifiedFailure is a RawFailure placed into the taxonomy.
type ClassifiedFailure struct {
	RawFailure
	Category   FailureCategory  `json:"category"`
	Confidence float64          `json:"confidence"`
	Evidence   []MatchedPattern `json:"evidence,omitempty"`
	// KindFallback is set when the category came from the exception-kind table
	// rather than a pattern rule.
	KindFallback bool `json:"kind_fallback,omitempty"`
	// ControlBytesInFixture is set when raw escape bytes were found in the
	// supplied fixture content.
	ControlBytesInFixture bool `json:"control_bytes_in_fixture,omitempty"`
}

// Context keys used by the analyzer and consumed by the generator.
const (
	CtxDateString       = "date_string"
	CtxInferredFormat   = "inferred_format"
	CtxSession          = "session"
	CtxWeek             = "week"
	CtxWindowExceeded   = "window_exceeded"
	CtxInPast           = "in_past"
	CtxMidnightCrossing = "midnight_crossing"
	CtxYearWrap         = "year_wrap"
	CtxDetectedSequence = "detected_sequence"
)

// RootCause is the analyzer's verdict for one classified failure. Created once
// per failure per iteration; never persisted across iterations.
type RootCause struct {
	Failure          ClassifiedFailure `json:"failure"`
	Description      string            `json:"description"`
	AffectedFunction string            `json:"affected_function"`
	// LineStart/LineEnd are approximate and advisory only.
	LineStart        int               `json:"line_start"`
	LineEnd          int               `json:"line_end"`
	SuggestedFixType string            `json:"suggested_fix_type"`
	Context          map[string]string `json:"context,omitempty"`
	RequiresAI       bool              `json:"requires_ai"`
}

// Flag reports whether a boolean context key is set.
func (rc RootCause) Flag(key string) bool {
	return rc.Context[key] == "true"
}

// FixCandidate is a proposed, confidence-scored patch plus the strategy that
// produced it.
type FixCandidate struct {
	RootCause   RootCause         `json:"root_cause"`
	Description string            `json:"description"`
	Patch       string            `json:"patch"`
	Confidence  float64           `json:"confidence"`
	Strategy    string            `json:"strategy"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (f FixCandidate) String() string {
	return fmt.Sprintf("Fix(%s, conf=%.2f): %s", f.Strategy, f.Confidence, f.Description)
}

// Metadata keys for structural (non-diff) patch application.
const (
	MetaListName = "list_name"
	MetaFormat   = "format"
	MetaExample  = "example"
)

// ModificationOutcome reports one attempt to apply a fix candidate.
type ModificationOutcome struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	Branch       string `json:"branch,omitempty"`
	Commit       string `json:"commit,omitempty"`
	RollbackPath string `json:"rollback_path,omitempty"`
	LinesChanged int    `json:"lines_changed"`
}

// TestStateSnapshot is an immutable named pass/fail vector. Its hash is a pure
// function of the sorted name/result pairs, insensitive to insertion order;
// two snapshots are equal iff their hashes are equal.
type TestStateSnapshot struct {
	Results   map[string]bool `json:"results"`
	CreatedAt time.Time       `json:"created_at"`
	Hash      string          `json:"hash"`
}

// NewSnapshot copies the results map and computes the content hash.
func NewSnapshot(results map[string]bool) TestStateSnapshot {
	copied := make(map[string]bool, len(results))
	for k, v := range results {
		copied[k] = v
	}
	return TestStateSnapshot{
		Results:   copied,
		CreatedAt: time.Now(),
		Hash:      hashResults(copied),
	}
}

func hashResults(results map[string]bool) string {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([][2]any, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, [2]any{name, results[name]})
	}
	encoded, _ := json.Marshal(pairs)
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])[:16]
}

// PassedCount returns the number of passing tests in the snapshot.
func (s TestStateSnapshot) PassedCount() int {
	n := 0
	for _, passed := range s.Results {
		if passed {
			n++
		}
	}
	return n
}

// FailedCount returns the number of failing tests in the snapshot.
func (s TestStateSnapshot) FailedCount() int {
	return len(s.Results) - s.PassedCount()
}

// TotalCount returns the number of tests in the snapshot.
func (s TestStateSnapshot) TotalCount() int { return len(s.Results) }

// RegressionReport compares two snapshots. A test present in only one of the
// two maps is excluded from both lists.
type RegressionReport struct {
	HasRegression bool     `json:"has_regression"`
	NewlyFailing  []string `json:"newly_failing"`
	NewlyPassing  []string `json:"newly_passing"`
	NetChange     int      `json:"net_change"`
	Message       string   `json:"message"`
}

// HealingProgress tracks one healing session.
type HealingProgress struct {
	Iterations      int `json:"iterations"`
	FixesApplied    int `json:"fixes_applied"`
	FixesRolledBack int `json:"fixes_rolled_back"`
	InitialFailures int `json:"initial_failures"`
	CurrentFailures int `json:"current_failures"`
}

// Improvement is the net change in failing-test count since session start.
func (p HealingProgress) Improvement() int {
	return p.InitialFailures - p.CurrentFailures
}

// Summary renders a human-readable progress report.
func (p HealingProgress) Summary() string {
	return fmt.Sprintf(
		"Healing Progress:\n"+
			"  Iterations: %d\n"+
			"  Fixes Applied: %d\n"+
			"  Fixes Rolled Back: %d\n"+
			"  Initial Failures: %d\n"+
			"  Current Failures: %d\n"+
			"  Net Improvement: %d tests fixed",
		p.Iterations, p.FixesApplied, p.FixesRolledBack,
		p.InitialFailures, p.CurrentFailures, p.Improvement(),
	)
}

// SessionRecord is one persisted history entry for a completed session.
type SessionRecord struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Iterations      int       `json:"iterations"`
	FixesApplied    int       `json:"fixes_applied"`
	FixesRolledBack int       `json:"fixes_rolled_back"`
	InitialFailures int       `json:"initial_failures"`
	FinalFailures   int       `json:"final_failures"`
	Improvement     int       `json:"improvement"`
	StopReason      string    `json:"stop_reason,omitempty"`
}
