// internal/heal/modifier.go
package heal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SyntaxValidator checks that a modified source file is still well formed in
// the subject's language.
type SyntaxValidator func(ctx context.Context, source []byte) error

var (
	addedLinePattern   = regexp.MustCompile(`(?m)^\+[^+]`)
	removedLinePattern = regexp.MustCompile(`(?m)^-[^-]`)
)

// ModifierConfig bounds what a single fix may do.
type ModifierConfig struct {
	ProjectRoot     string
	MaxLinesChanged int
	AutoCommit      bool
	RollbackDir     string
}

// Modifier applies fix candidates transactionally: every apply happens on a
// fresh branch, is syntax-checked before it touches the tree, and leaves a
// rollback pre-image behind. A failed step discards the branch; the trunk is
// never touched directly.
type Modifier struct {
	logger   *zap.Logger
	vc       VersionControl
	validate SyntaxValidator
	cfg      ModifierConfig

	// now is swappable for tests; branch names embed a timestamp.
	now func() time.Time
}

// NewModifier builds a modifier. vc and validate are required.
func NewModifier(vc VersionControl, validate SyntaxValidator, cfg ModifierConfig, logger *zap.Logger) (*Modifier, error) {
	if vc == nil {
		return nil, errors.New("modifier: version control is required")
	}
	if validate == nil {
		return nil, errors.New("modifier: syntax validator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxLinesChanged <= 0 {
		cfg.MaxLinesChanged = 50
	}
	if cfg.RollbackDir == "" {
		cfg.RollbackDir = filepath.Join(cfg.ProjectRoot, ".mendloop", "rollback")
	}
	if err := os.MkdirAll(cfg.RollbackDir, 0o755); err != nil {
		return nil, fmt.Errorf("modifier: create rollback dir: %w", err)
	}

	return &Modifier{
		logger:   logger.Named("modifier"),
		vc:       vc,
		validate: validate,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// Apply runs the full pipeline for one candidate against targetFile. The
// returned outcome always explains a failure; Apply never panics the loop.
func (m *Modifier) Apply(ctx context.Context, fix FixCandidate, targetFile string) ModificationOutcome {
	if strings.TrimSpace(fix.Patch) == "" {
		return ModificationOutcome{Success: false, Message: "fix has no patch to apply"}
	}

	linesChanged := countDiffLines(fix.Patch)
	if linesChanged > m.cfg.MaxLinesChanged {
		return ModificationOutcome{
			Success:      false,
			Message:      fmt.Sprintf("fix changes %d lines, exceeds max %d", linesChanged, m.cfg.MaxLinesChanged),
			LinesChanged: linesChanged,
		}
	}

	branch := fmt.Sprintf("self-heal/%s/%s", fix.Strategy, m.now().Format("20060102_150405"))
	if err := m.vc.CreateBranch(ctx, branch); err != nil {
		return ModificationOutcome{Success: false, Message: "failed to create branch: " + err.Error()}
	}

	original, err := os.ReadFile(targetFile)
	if err != nil {
		m.discard(ctx, branch)
		return ModificationOutcome{
			Success: false,
			Message: "target file not readable: " + err.Error(),
			Branch:  branch,
		}
	}

	modified, err := materialize(string(original), fix)
	if err != nil {
		m.discard(ctx, branch)
		return ModificationOutcome{Success: false, Message: err.Error(), Branch: branch}
	}

	if err := m.validate(ctx, []byte(modified)); err != nil {
		m.discard(ctx, branch)
		return ModificationOutcome{
			Success: false,
			Message: "syntax validation failed: " + err.Error(),
			Branch:  branch,
		}
	}

	rollbackPath, err := m.saveRollback(original)
	if err != nil {
		m.discard(ctx, branch)
		return ModificationOutcome{Success: false, Message: err.Error(), Branch: branch}
	}

	if err := os.WriteFile(targetFile, []byte(modified), 0o644); err != nil {
		m.discard(ctx, branch)
		return ModificationOutcome{
			Success: false,
			Message: "write target file: " + err.Error(),
			Branch:  branch,
		}
	}

	var commit string
	if m.cfg.AutoCommit {
		commit, err = m.vc.Commit(ctx, targetFile, commitMessage(fix))
		if err != nil {
			m.discard(ctx, branch)
			return ModificationOutcome{
				Success: false,
				Message: "commit failed: " + err.Error(),
				Branch:  branch,
			}
		}
	}

	m.logger.Info("fix applied",
		zap.String("branch", branch),
		zap.String("strategy", fix.Strategy),
		zap.Int("lines_changed", linesChanged),
	)
	return ModificationOutcome{
		Success:      true,
		Message:      "fix applied successfully",
		Branch:       branch,
		Commit:       commit,
		RollbackPath: rollbackPath,
		LinesChanged: linesChanged,
	}
}

// Rollback abandons a fix branch. Missing branches are a successful no-op.
func (m *Modifier) Rollback(ctx context.Context, branch string) error {
	return m.vc.DiscardBranch(ctx, branch)
}

// MergeToTrunk lands an accepted fix branch. Missing branches are a
// successful no-op.
func (m *Modifier) MergeToTrunk(ctx context.Context, branch string) error {
	return m.vc.MergeToTrunk(ctx, branch, "Merge self-heal fix: "+branch)
}

func (m *Modifier) discard(ctx context.Context, branch string) {
	if err := m.vc.DiscardBranch(ctx, branch); err != nil {
		m.logger.Warn("failed to discard branch", zap.String("branch", branch), zap.Error(err))
	}
}

func (m *Modifier) saveRollback(original []byte) (string, error) {
	name := fmt.Sprintf("rollback_%s.patch", m.now().Format("20060102_150405"))
	path := filepath.Join(m.cfg.RollbackDir, name)
	if err := os.WriteFile(path, original, 0o644); err != nil {
		return "", fmt.Errorf("save rollback pre-image: %w", err)
	}
	return path, nil
}

// countDiffLines counts added plus removed lines, ignoring the +++/--- file
// headers.
func countDiffLines(patch string) int {
	return len(addedLinePattern.FindAllString(patch, -1)) +
		len(removedLinePattern.FindAllString(patch, -1))
}

// materialize produces the modified file content. Structural list insertions
// use the candidate metadata; everything else is single-line replacement
// parsed from the patch body.
func materialize(original string, fix FixCandidate) (string, error) {
	if fix.Metadata[MetaListName] != "" {
		return insertFormat(original, fix)
	}
	return replaceLine(original, fix.Patch)
}

// insertFormat adds a strptime format entry immediately after the opening
// bracket of the named list.
func insertFormat(original string, fix FixCandidate) (string, error) {
	listName := fix.Metadata[MetaListName]
	format := fix.Metadata[MetaFormat]
	if format == "" {
		return "", errors.New("format addition has no format")
	}

	listPattern, err := regexp.Compile(regexp.QuoteMeta(listName) + `\s*=\s*\[`)
	if err != nil {
		return "", err
	}
	loc := listPattern.FindStringIndex(original)
	if loc == nil {
		return "", fmt.Errorf("list %s not found in target", listName)
	}

	entry := fmt.Sprintf("\n    '%s',  # %s", format, fix.Metadata[MetaExample])
	return original[:loc[1]] + entry + original[loc[1]:], nil
}

// replaceLine swaps the first occurrence of the patch's removed line for its
// added line. Whitespace around the lines is ignored for matching.
func replaceLine(original, patch string) (string, error) {
	var oldLine, newLine string
	for _, line := range strings.Split(patch, "\n") {
		switch {
		case strings.HasPrefix(line, "---") || strings.HasPrefix(line, "+++"):
		case strings.HasPrefix(line, "-"):
			oldLine = strings.TrimSpace(line[1:])
		case strings.HasPrefix(line, "+"):
			newLine = strings.TrimSpace(line[1:])
		}
	}

	if oldLine == "" || newLine == "" {
		return "", errors.New("failed to apply patch - no replacement pair found")
	}
	if !strings.Contains(original, oldLine) {
		return "", errors.New("failed to apply patch - pattern not found")
	}
	return strings.Replace(original, oldLine, newLine, 1), nil
}

func commitMessage(fix FixCandidate) string {
	return fmt.Sprintf(
		"[self-heal] %s: %s\n\nFailure: %s\nCategory: %s\nConfidence: %.2f\n\nAuto-generated by the healing loop.\n",
		fix.Strategy,
		fix.Description,
		fix.RootCause.Failure.TestName,
		fix.RootCause.Failure.Category,
		fix.Confidence,
	)
}
