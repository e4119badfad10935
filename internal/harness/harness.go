// internal/harness/harness.go
// Subprocess adapter for the subject's pytest suite. Parses the verbose
// runner output into the pass/fail vector the healing loop consumes.
package harness

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/mendloop/mendloop/internal/heal"
)

// Markers emitted by the verbose test runner.
const (
	markerPassed = " PASSED"
	markerFailed = " FAILED"
	markerError  = " ERROR"
)

// exceptionLinePattern picks the first pytest "E   SomeError: message" line
// to enrich failure records when the output carries one.
var exceptionLinePattern = regexp.MustCompile(`(?m)^E\s+([A-Za-z_]+(?:Error|Exception)):\s+(.*)$`)

// Runner executes the subject test suite as a subprocess. Implements
// heal.TestRunner.
type Runner struct {
	logger  *zap.Logger
	command []string
	dir     string
}

// NewRunner builds a runner. command is the full argv, e.g.
// ["python3", "-m", "pytest", "tests", "--tb=short", "-v", "-q"]; dir is the
// working directory for the subprocess.
func NewRunner(command []string, dir string, logger *zap.Logger) (*Runner, error) {
	if len(command) == 0 {
		return nil, errors.New("harness: test command is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		logger:  logger.Named("harness"),
		command: command,
		dir:     dir,
	}, nil
}

// Run executes the suite once. A non-zero exit with parseable failures is a
// normal outcome, not an error; Run only errors when the process could not be
// started at all.
func (r *Runner) Run(ctx context.Context) (*heal.TestRunResult, error) {
	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	cmd.Dir = r.dir
	out, err := cmd.CombinedOutput()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("harness: run %s: %w", r.command[0], err)
		}
	}

	result := ParseOutput(string(out))
	result.ExitCode = exitCode

	r.logger.Info("test run complete",
		zap.Int("total", len(result.Results)),
		zap.Int("failures", len(result.Failures)),
		zap.Int("exit_code", exitCode),
	)
	return result, nil
}

// ParseOutput scans verbose runner output for PASSED/FAILED/ERROR markers.
// Failures carry the whole output as their trace; the first pytest exception
// line, when present, refines the exception kind and message.
func ParseOutput(output string) *heal.TestRunResult {
	result := &heal.TestRunResult{
		Results: map[string]bool{},
		Output:  output,
	}

	kind, message := "AssertionError", "Test failed"
	if m := exceptionLinePattern.FindStringSubmatch(output); m != nil {
		kind, message = m[1], strings.TrimSpace(m[2])
	}

	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.Contains(line, markerPassed):
			name := strings.TrimSpace(strings.SplitN(line, markerPassed, 2)[0])
			result.Results[name] = true
		case strings.Contains(line, markerFailed):
			name := strings.TrimSpace(strings.SplitN(line, markerFailed, 2)[0])
			result.Results[name] = false
			result.Failures = append(result.Failures, heal.RawFailure{
				TestName:         name,
				ExceptionKind:    kind,
				ExceptionMessage: message,
				TraceText:        output,
			})
		case strings.Contains(line, markerError):
			name := strings.TrimSpace(strings.SplitN(line, markerError, 2)[0])
			result.Results[name] = false
			result.Failures = append(result.Failures, heal.RawFailure{
				TestName:         name,
				ExceptionKind:    "Error",
				ExceptionMessage: "Test error",
				TraceText:        output,
			})
		}
	}
	return result
}
