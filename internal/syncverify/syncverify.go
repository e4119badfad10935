// internal/syncverify/syncverify.go
// Guards against the subject's embedded parser drifting from the extracted
// module the tests exercise. The shell script carries the real parser in a
// heredoc; tests run against a standalone copy. If the two diverge, green
// tests prove nothing.
package syncverify

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

// SyncFunctions are the parser functions that must match between the script
// and the module.
var SyncFunctions = []string{
	"strip_ansi",
	"clean_date_string",
	"parse_reset_time",
	"validate_reset_time",
}

var (
	heredocPattern    = regexp.MustCompile(`(?s)python3\s+-.*?<<'END_PYTHON'\s*\n(.*?)\nEND_PYTHON`)
	paramHintPattern  = regexp.MustCompile(`: [A-Za-z\[\], ]+([,)])`)
	returnHintPattern = regexp.MustCompile(` -> [A-Za-z\[\], ]+:`)
	optionalPattern   = regexp.MustCompile(`Optional\[([^\]]+)\]`)
)

// Status is the outcome of one verification pass.
type Status struct {
	InSync      bool
	Differences []string
	ScriptLines int
	ModuleLines int
	Message     string
	OutOfSync   []string
}

func (s Status) String() string {
	if s.InSync {
		return fmt.Sprintf("In sync (%d embedded lines)", s.ScriptLines)
	}
	out := "OUT OF SYNC: " + s.Message
	if len(s.Differences) > 0 {
		limit := len(s.Differences)
		if limit > 20 {
			limit = 20
		}
		out += "\n" + strings.Join(s.Differences[:limit], "\n")
	}
	return out
}

// Verifier compares the script's embedded parser against the extracted
// module, function by function, on normalized bodies. The module is allowed
// type hints, docstrings and testability parameters the script lacks.
type Verifier struct {
	logger     *zap.Logger
	scriptPath string
	modulePath string
}

func NewVerifier(scriptPath, modulePath string, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		logger:     logger.Named("syncverify"),
		scriptPath: scriptPath,
		modulePath: modulePath,
	}
}

// Verify runs the full comparison.
func (v *Verifier) Verify() Status {
	embedded, err := v.ExtractEmbedded()
	if err != nil {
		return Status{InSync: false, Message: err.Error()}
	}

	moduleBytes, err := os.ReadFile(v.modulePath)
	if err != nil {
		return Status{
			InSync:      false,
			ScriptLines: lineCount(embedded),
			Message:     fmt.Sprintf("module not readable: %v", err),
		}
	}
	moduleSource := string(moduleBytes)

	var differences, outOfSync []string
	for _, name := range SyncFunctions {
		same, diff := v.CompareFunctions(embedded, moduleSource, name)
		if !same {
			outOfSync = append(outOfSync, name)
			differences = append(differences, diff...)
			differences = append(differences, "")
		}
	}

	status := Status{
		InSync:      len(outOfSync) == 0,
		Differences: differences,
		ScriptLines: lineCount(embedded),
		ModuleLines: lineCount(moduleSource),
		OutOfSync:   outOfSync,
		Message:     "All functions in sync",
	}
	if !status.InSync {
		status.Message = "Functions out of sync: " + strings.Join(outOfSync, ", ")
	}

	v.logger.Debug("sync verification complete",
		zap.Bool("in_sync", status.InSync),
		zap.Strings("out_of_sync", outOfSync),
	)
	return status
}

// Check implements the advisory surface the healing loop consumes.
func (v *Verifier) Check() (bool, string) {
	status := v.Verify()
	return status.InSync, status.String()
}

// ExtractEmbedded pulls the Python source out of the script's heredoc.
func (v *Verifier) ExtractEmbedded() (string, error) {
	content, err := os.ReadFile(v.scriptPath)
	if err != nil {
		return "", fmt.Errorf("script not readable: %w", err)
	}
	m := heredocPattern.FindStringSubmatch(string(content))
	if m == nil {
		return "", fmt.Errorf("could not extract embedded python from %s", filepath.Base(v.scriptPath))
	}
	return m[1], nil
}

// CompareFunctions checks one function in both sources, comparing normalized
// bodies. Returns the diff lines when they differ.
func (v *Verifier) CompareFunctions(embeddedSource, moduleSource, name string) (bool, []string) {
	embeddedFunc := ExtractFunction(embeddedSource, name)
	if embeddedFunc == "" {
		return false, []string{fmt.Sprintf("function %q not found in %s", name, filepath.Base(v.scriptPath))}
	}
	moduleFunc := ExtractFunction(moduleSource, name)
	if moduleFunc == "" {
		return false, []string{fmt.Sprintf("function %q not found in %s", name, filepath.Base(v.modulePath))}
	}

	embeddedNorm := NormalizeCode(extractBody(embeddedFunc))
	moduleNorm := NormalizeCode(extractBody(moduleFunc))
	if embeddedNorm == moduleNorm {
		return true, nil
	}

	diff := cmp.Diff(embeddedNorm, moduleNorm)
	lines := []string{fmt.Sprintf("--- %s:%s", filepath.Base(v.scriptPath), name),
		fmt.Sprintf("+++ %s:%s", filepath.Base(v.modulePath), name)}
	lines = append(lines, strings.Split(strings.TrimRight(diff, "\n"), "\n")...)
	return false, lines
}

// ExtractFunction returns one top-level def and its indented body, or "".
func ExtractFunction(source, name string) string {
	defPattern := regexp.MustCompile(`^def ` + regexp.QuoteMeta(name) + `\s*\(`)

	lines := strings.Split(source, "\n")
	start := -1
	for i, line := range lines {
		if defPattern.MatchString(line) {
			start = i
			break
		}
	}
	if start == -1 {
		return ""
	}

	end := len(lines)
	inSignature := true
	for i := start + 1; i < len(lines); i++ {
		trimmed := strings.TrimRight(lines[i], " \t")
		if trimmed == "" {
			continue
		}
		first := trimmed[0]
		indented := first == ' ' || first == '\t'
		if inSignature {
			// Multi-line signatures keep continuation lines until the colon.
			if strings.HasSuffix(trimmed, ":") && !indented {
				continue
			}
			inSignature = false
		}
		if !indented && first != ')' {
			end = i
			break
		}
	}
	return strings.TrimRight(strings.Join(lines[start:end], "\n"), "\n ")
}

// NormalizeCode strips comments, blank lines, docstrings and type hints so
// the comparison sees logic only.
func NormalizeCode(code string) string {
	var kept []string
	inDocstring := false
	delimiter := ""

	for _, raw := range strings.Split(code, "\n") {
		line := strings.TrimRight(raw, " \t")
		stripped := strings.TrimLeft(line, " \t")

		if inDocstring {
			if strings.Contains(stripped, delimiter) {
				inDocstring = false
				delimiter = ""
			}
			continue
		}
		if strings.HasPrefix(stripped, `"""`) || strings.HasPrefix(stripped, "'''") {
			delimiter = stripped[:3]
			if strings.Count(stripped, delimiter) < 2 {
				inDocstring = true
			}
			continue
		}

		if stripped == "" || strings.HasPrefix(stripped, "#") {
			continue
		}
		if strings.HasPrefix(stripped, "from typing import") {
			continue
		}

		// Drop inline comments when the hash is outside any string literal.
		if idx := strings.Index(line, "#"); idx > 0 {
			before := line[:idx]
			if strings.Count(before, `"`)%2 == 0 && strings.Count(before, "'")%2 == 0 {
				line = strings.TrimRight(before, " \t")
			}
		}

		kept = append(kept, line)
	}

	result := strings.Join(kept, "\n")
	result = paramHintPattern.ReplaceAllString(result, "$1")
	result = returnHintPattern.ReplaceAllString(result, ":")
	result = optionalPattern.ReplaceAllString(result, "$1")
	return result
}

// extractBody drops the signature plus the now-injection lines the module
// adds for deterministic tests.
func extractBody(funcSource string) string {
	var body []string
	pastSignature := false
	depth := 0

	for _, line := range strings.Split(funcSource, "\n") {
		stripped := strings.TrimSpace(line)

		if !pastSignature {
			if strings.Contains(stripped, "def ") {
				depth = strings.Count(stripped, "(") - strings.Count(stripped, ")")
				if depth == 0 && strings.Contains(stripped, ":") {
					pastSignature = true
				}
				continue
			}
			depth += strings.Count(stripped, "(") - strings.Count(stripped, ")")
			if depth <= 0 && (strings.Contains(stripped, "):") || strings.Contains(stripped, ") ->")) {
				pastSignature = true
			}
			continue
		}

		if strings.Contains(stripped, "if now is None") {
			continue
		}
		if stripped == "now = datetime.datetime.now()" {
			continue
		}
		body = append(body, line)
	}
	return strings.Join(body, "\n")
}

func lineCount(s string) int {
	return len(strings.Split(s, "\n"))
}
