package harness

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const sampleOutput = `tests/unit/test_date_parsing.py::test_no_year PASSED
tests/unit/test_date_parsing.py::test_with_year PASSED
tests/unit/test_date_parsing.py::test_new_shape FAILED
tests/unit/test_regex_extraction.py::test_session ERROR

=================================== FAILURES ===================================
____________________________ test_new_shape ____________________________

    def test_new_shape():
>       parse_reset_time("Dec 31 at 6pm")
E       ValueError: time data 'Dec 31 at 6pm' does not match format '%b %d, %I%p'

tests/unit/test_date_parsing.py:42: ValueError
`

func TestParseOutput(t *testing.T) {
	result := ParseOutput(sampleOutput)

	assert.Len(t, result.Results, 4)
	assert.True(t, result.Results["tests/unit/test_date_parsing.py::test_no_year"])
	assert.True(t, result.Results["tests/unit/test_date_parsing.py::test_with_year"])
	assert.False(t, result.Results["tests/unit/test_date_parsing.py::test_new_shape"])
	assert.False(t, result.Results["tests/unit/test_regex_extraction.py::test_session"])

	require.Len(t, result.Failures, 2)
	assert.Equal(t, "tests/unit/test_date_parsing.py::test_new_shape", result.Failures[0].TestName)
	assert.Equal(t, "ValueError", result.Failures[0].ExceptionKind)
	assert.Equal(t, "time data 'Dec 31 at 6pm' does not match format '%b %d, %I%p'", result.Failures[0].ExceptionMessage)
	assert.Equal(t, sampleOutput, result.Failures[0].TraceText)

	assert.Equal(t, "tests/unit/test_regex_extraction.py::test_session", result.Failures[1].TestName)
	assert.Equal(t, "Error", result.Failures[1].ExceptionKind)
}

func TestParseOutput_AllPassing(t *testing.T) {
	result := ParseOutput("tests/unit/test_a.py::test_one PASSED\ntests/unit/test_a.py::test_two PASSED\n")
	assert.Len(t, result.Results, 2)
	assert.Empty(t, result.Failures)
}

func TestParseOutput_NoExceptionLineFallsBack(t *testing.T) {
	result := ParseOutput("tests/unit/test_a.py::test_one FAILED\n")
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "AssertionError", result.Failures[0].ExceptionKind)
	assert.Equal(t, "Test failed", result.Failures[0].ExceptionMessage)
}

func TestNewRunner_RequiresCommand(t *testing.T) {
	_, err := NewRunner(nil, ".", zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestRunner_Run(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	r, err := NewRunner([]string{"sh", "-c",
		"printf 'tests/t.py::test_ok PASSED\\ntests/t.py::test_bad FAILED\\n'; exit 1"},
		t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)
	assert.True(t, result.Results["tests/t.py::test_ok"])
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "tests/t.py::test_bad", result.Failures[0].TestName)
}

func TestRunner_MissingBinaryErrors(t *testing.T) {
	r, err := NewRunner([]string{"definitely-not-a-real-binary-xyz"}, t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.Error(t, err)
}
