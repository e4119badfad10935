package syncverify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const scriptWithHeredoc = `#!/bin/bash
LOG_FILE="$1"

get_usage() {
    python3 - "$LOG_FILE" "$START_TIME" "$DEBUG" <<'END_PYTHON'
import re
import datetime

def strip_ansi(text):
    return re.sub(r'\x1B(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])', '', text)

def clean_date_string(s):
    s = s.strip()
    s = re.sub(r'\s+', ' ', s)
    return s

def parse_reset_time(text):
    cleaned = clean_date_string(text)
    return cleaned

def validate_reset_time(dt, now, window_hours):
    max_hours = window_hours + 1  # Small buffer for timing
    return dt <= now
END_PYTHON
}
`

// Module copy with type hints, docstrings, and the now-injection parameter
// the tests need. Logic identical to the embedded code.
const moduleInSync = `"""Extracted parser module."""
import re
import datetime
from typing import Optional

def strip_ansi(text: str) -> str:
    """Remove escape sequences."""
    return re.sub(r'\x1B(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])', '', text)

def clean_date_string(s: str) -> str:
    s = s.strip()
    s = re.sub(r'\s+', ' ', s)
    return s

def parse_reset_time(text: str, now=None):
    if now is None:
        now = datetime.datetime.now()
    cleaned = clean_date_string(text)
    return cleaned

def validate_reset_time(dt, now, window_hours):
    max_hours = window_hours + 1
    return dt <= now
`

const moduleDiverged = `import re
import datetime

def strip_ansi(text):
    return re.sub(r'\x1B\[[0-9;]*m', '', text)

def clean_date_string(s):
    s = s.strip()
    s = re.sub(r'\s+', ' ', s)
    return s

def parse_reset_time(text):
    cleaned = clean_date_string(text)
    return cleaned

def validate_reset_time(dt, now, window_hours):
    max_hours = window_hours + 2
    return dt <= now
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExtractEmbedded(t *testing.T) {
	script := writeTemp(t, "usage.sh", scriptWithHeredoc)
	v := NewVerifier(script, "", zaptest.NewLogger(t))

	embedded, err := v.ExtractEmbedded()
	require.NoError(t, err)
	assert.Contains(t, embedded, "def strip_ansi(text):")
	assert.Contains(t, embedded, "def validate_reset_time(dt, now, window_hours):")
	assert.NotContains(t, embedded, "END_PYTHON")
	assert.NotContains(t, embedded, "#!/bin/bash")
}

func TestExtractEmbedded_NoHeredoc(t *testing.T) {
	script := writeTemp(t, "usage.sh", "#!/bin/bash\necho hello\n")
	v := NewVerifier(script, "", zaptest.NewLogger(t))

	_, err := v.ExtractEmbedded()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not extract")
}

func TestVerify_InSync(t *testing.T) {
	script := writeTemp(t, "usage.sh", scriptWithHeredoc)
	module := writeTemp(t, "parser_extracted.py", moduleInSync)

	status := NewVerifier(script, module, zaptest.NewLogger(t)).Verify()
	assert.True(t, status.InSync, status.String())
	assert.Empty(t, status.OutOfSync)
	assert.Equal(t, "All functions in sync", status.Message)
	assert.Positive(t, status.ScriptLines)
	assert.Positive(t, status.ModuleLines)
}

func TestVerify_Diverged(t *testing.T) {
	script := writeTemp(t, "usage.sh", scriptWithHeredoc)
	module := writeTemp(t, "parser_extracted.py", moduleDiverged)

	status := NewVerifier(script, module, zaptest.NewLogger(t)).Verify()
	assert.False(t, status.InSync)
	assert.ElementsMatch(t, []string{"strip_ansi", "validate_reset_time"}, status.OutOfSync)
	assert.Contains(t, status.Message, "strip_ansi")
	assert.NotEmpty(t, status.Differences)

	inSync, detail := NewVerifier(script, module, zaptest.NewLogger(t)).Check()
	assert.False(t, inSync)
	assert.Contains(t, detail, "OUT OF SYNC")
}

func TestVerify_MissingModule(t *testing.T) {
	script := writeTemp(t, "usage.sh", scriptWithHeredoc)

	status := NewVerifier(script, filepath.Join(t.TempDir(), "absent.py"), zaptest.NewLogger(t)).Verify()
	assert.False(t, status.InSync)
	assert.Contains(t, status.Message, "module not readable")
}

func TestExtractFunction(t *testing.T) {
	fn := ExtractFunction(moduleInSync, "clean_date_string")
	require.NotEmpty(t, fn)
	assert.Contains(t, fn, "def clean_date_string")
	assert.Contains(t, fn, "return s")
	assert.NotContains(t, fn, "parse_reset_time")

	assert.Empty(t, ExtractFunction(moduleInSync, "does_not_exist"))
}

func TestNormalizeCode(t *testing.T) {
	code := `def f(x: str, window: int) -> Optional[str]:
    """Docstring goes away."""
    # comment goes away
    y = x.strip()  # inline comment too

    return y
`
	norm := NormalizeCode(code)
	assert.NotContains(t, norm, "Docstring")
	assert.NotContains(t, norm, "#")
	assert.NotContains(t, norm, ": str")
	assert.NotContains(t, norm, "-> ")
	assert.NotContains(t, norm, "Optional[")
	assert.Contains(t, norm, "y = x.strip()")
	assert.NotContains(t, norm, "\n\n")
}
