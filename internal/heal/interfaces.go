// internal/heal/interfaces.go
package heal

import "context"

// TestRunResult is one harness invocation: the named pass/fail vector plus the
// structured failures extracted from the runner output.
type TestRunResult struct {
	Results  map[string]bool
	Failures []RawFailure
	ExitCode int
	Output   string
}

// TestRunner executes the subject's test suite and reports the outcome.
type TestRunner interface {
	Run(ctx context.Context) (*TestRunResult, error)
}

// VersionControl is the branch-isolation surface the modifier and
// orchestrator need. Discard and merge are idempotent: a missing branch is a
// successful no-op.
type VersionControl interface {
	CurrentBranch() (string, error)
	CreateBranch(ctx context.Context, name string) error
	DiscardBranch(ctx context.Context, name string) error
	MergeToTrunk(ctx context.Context, name, message string) error
	Commit(ctx context.Context, path, message string) (string, error)
}

// ConsultRequest is the bounded evidence bundle sent to an external advisor.
// The source excerpt is capped by the caller; never the whole file.
type ConsultRequest struct {
	TestName         string
	Category         FailureCategory
	ExceptionKind    string
	ExceptionMessage string
	Description      string
	SuggestedFixType string
	Context          map[string]string
	SourceExcerpt    string
	Trace            string
}

// Advice is an advisor's diagnosis: a cause statement and a unified-diff
// patch. An empty patch means the advisor produced no usable fix.
type Advice struct {
	Cause string
	Patch string
}

// Advisor produces patch suggestions for failures the rule tables cannot
// handle. Implementations must honor ctx cancellation.
type Advisor interface {
	Diagnose(ctx context.Context, req ConsultRequest) (*Advice, error)
}

// SyncChecker reports whether the subject's embedded parser copy matches its
// canonical module. Advisory during healing.
type SyncChecker interface {
	Check() (inSync bool, detail string)
}

// SessionStore persists completed-session records.
type SessionStore interface {
	Append(rec SessionRecord) error
}
