// internal/fixtures/fixtures.go
// Capture of live subject output and generation of synthetic edge-case
// fixtures for the test suite.
package fixtures

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Expected is the parse result a fixture should produce. Nil pointers mean
// "fill in after verification".
type Expected struct {
	SessionPercent  *int   `json:"session_percent"`
	WeekPercent     *int   `json:"week_percent"`
	SessionResetStr string `json:"session_reset_str,omitempty"`
	WeekResetStr    string `json:"week_reset_str,omitempty"`
	Note            string `json:"note,omitempty"`
}

type template struct {
	name     string
	content  string
	expected Expected
}

func intp(v int) *int { return &v }

func usageReport(sessionBar string, sessionPct int, sessionReset, weekBar string, weekPct int, weekReset string) string {
	return fmt.Sprintf(`
Current session
%s  %d%% used

Resets %s

Current week (all models)
%s  %d%% used

Resets %s
`, sessionBar, sessionPct, sessionReset, weekBar, weekPct, weekReset)
}

var (
	fullBar  = strings.Repeat("█", 69)
	emptyBar = strings.Repeat("░", 69)
	mixedBar = strings.Repeat("█", 30) + strings.Repeat("░", 39)
	weekBar  = strings.Repeat("█", 16) + strings.Repeat("░", 52)
)

// Edge-case fixtures the suite should always cover.
var syntheticTemplates = []template{
	{
		name:    "midnight_crossing",
		content: usageReport(mixedBar, 42, "12:59am", weekBar, 23, "Jan 29 at 12:59am"),
		expected: Expected{
			SessionPercent:  intp(42),
			WeekPercent:     intp(23),
			SessionResetStr: "12:59am",
			WeekResetStr:    "Jan 29 at 12:59am",
		},
	},
	{
		name:    "single_digit_time",
		content: usageReport(mixedBar, 42, "1pm", weekBar, 23, "Jan 29 at 1pm"),
		expected: Expected{
			SessionPercent:  intp(42),
			WeekPercent:     intp(23),
			SessionResetStr: "1pm",
			WeekResetStr:    "Jan 29 at 1pm",
		},
	},
	{
		name:    "100_percent",
		content: usageReport(fullBar, 100, "6:59pm", fullBar, 100, "Jan 29 at 6:59pm"),
		expected: Expected{
			SessionPercent:  intp(100),
			WeekPercent:     intp(100),
			SessionResetStr: "6:59pm",
			WeekResetStr:    "Jan 29 at 6:59pm",
		},
	},
	{
		name:    "0_percent",
		content: usageReport(emptyBar, 0, "6:59pm", emptyBar, 0, "Jan 29 at 6:59pm"),
		expected: Expected{
			SessionPercent:  intp(0),
			WeekPercent:     intp(0),
			SessionResetStr: "6:59pm",
			WeekResetStr:    "Jan 29 at 6:59pm",
		},
	},
}

// Manager writes fixture files under a base directory.
type Manager struct {
	logger *zap.Logger
	dir    string

	now func() time.Time
}

func NewManager(dir string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger.Named("fixtures"), dir: dir, now: time.Now}
}

// Capture runs the subject script and saves its output as a fixture, next to
// an expected-values template for the operator to fill in. Returns the
// fixture path.
func (m *Manager) Capture(ctx context.Context, scriptPath string) (string, error) {
	cmd := exec.CommandContext(ctx, "bash", scriptPath)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("fixtures: run %s: %w", filepath.Base(scriptPath), err)
	}

	capturedDir := filepath.Join(m.dir, "captured")
	if err := os.MkdirAll(capturedDir, 0o755); err != nil {
		return "", fmt.Errorf("fixtures: create dir: %w", err)
	}

	stem := "live_" + m.now().Format("20060102_150405")
	fixturePath := filepath.Join(capturedDir, stem+".txt")
	if err := os.WriteFile(fixturePath, out, 0o644); err != nil {
		return "", fmt.Errorf("fixtures: write capture: %w", err)
	}

	expected := Expected{Note: "Fill in expected values after verification"}
	if err := m.writeExpected(filepath.Join(capturedDir, stem+".expected.json"), expected); err != nil {
		return "", err
	}

	m.logger.Info("fixture captured", zap.String("path", fixturePath))
	return fixturePath, nil
}

// GenerateSynthetic writes the edge-case fixture set and returns the names
// generated.
func (m *Manager) GenerateSynthetic() ([]string, error) {
	generatedDir := filepath.Join(m.dir, "generated")
	if err := os.MkdirAll(generatedDir, 0o755); err != nil {
		return nil, fmt.Errorf("fixtures: create dir: %w", err)
	}

	var names []string
	for _, tpl := range syntheticTemplates {
		txtPath := filepath.Join(generatedDir, tpl.name+".txt")
		if err := os.WriteFile(txtPath, []byte(tpl.content), 0o644); err != nil {
			return nil, fmt.Errorf("fixtures: write %s: %w", tpl.name, err)
		}
		if err := m.writeExpected(filepath.Join(generatedDir, tpl.name+".expected.json"), tpl.expected); err != nil {
			return nil, err
		}
		names = append(names, tpl.name)
	}

	m.logger.Info("synthetic fixtures generated", zap.Strings("names", names))
	return names, nil
}

func (m *Manager) writeExpected(path string, expected Expected) error {
	encoded, err := json.MarshalIndent(expected, "", "  ")
	if err != nil {
		return fmt.Errorf("fixtures: encode expected: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("fixtures: write expected: %w", err)
	}
	return nil
}
