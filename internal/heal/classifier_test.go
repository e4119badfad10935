package heal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestClassifier_PatternTables(t *testing.T) {
	c := NewClassifier(zaptest.NewLogger(t))

	testCases := []struct {
		name         string
		failure      RawFailure
		wantCategory FailureCategory
		wantConf     float64
	}{
		{
			name: "NoneType group means pattern mismatch",
			failure: RawFailure{
				TestName:         "test_session_line",
				ExceptionKind:    "AttributeError",
				ExceptionMessage: "'NoneType' object has no attribute 'group'",
			},
			wantCategory: CategoryPatternMismatch,
			wantConf:     0.95,
		},
		{
			name: "strptime mismatch means new format",
			failure: RawFailure{
				TestName:         "test_reset_date",
				ExceptionKind:    "ValueError",
				ExceptionMessage: "time data 'Dec 31 at 6pm' does not match format '%b %d, %I%p'",
			},
			wantCategory: CategoryNewFormat,
			wantConf:     0.95,
		},
		{
			name: "window exceeded means validation error",
			failure: RawFailure{
				TestName:         "test_validate",
				ExceptionKind:    "ValueError",
				ExceptionMessage: "reset time exceeds the 5h window",
			},
			wantCategory: CategoryValidationError,
			wantConf:     0.95,
		},
		{
			name: "literal escape text means terminal corruption",
			failure: RawFailure{
				TestName:         "test_strip",
				ExceptionKind:    "AssertionError",
				ExceptionMessage: `found '\x1b[31m' in cleaned output`,
			},
			wantCategory: CategoryTerminalCorruption,
			wantConf:     0.95,
		},
		{
			name: "midnight mention means boundary",
			failure: RawFailure{
				TestName:         "test_midnight",
				ExceptionKind:    "AssertionError",
				ExceptionMessage: "wrong day for midnight crossing",
			},
			wantCategory: CategoryBoundary,
			wantConf:     0.85,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Classify(tc.failure)
			assert.Equal(t, tc.wantCategory, got.Category)
			assert.InDelta(t, tc.wantConf, got.Confidence, 0.001)
			assert.NotEmpty(t, got.Evidence)
		})
	}
}

func TestClassifier_KindFallback(t *testing.T) {
	c := NewClassifier(zaptest.NewLogger(t))

	got := c.Classify(RawFailure{
		TestName:         "test_opaque",
		ExceptionKind:    "AttributeError",
		ExceptionMessage: "something unhelpful",
	})
	assert.Equal(t, CategoryPatternMismatch, got.Category)
	assert.InDelta(t, 0.6, got.Confidence, 0.001)
	assert.True(t, got.KindFallback)

	got = c.Classify(RawFailure{
		TestName:         "test_opaque",
		ExceptionKind:    "ValueError",
		ExceptionMessage: "something unhelpful",
	})
	assert.Equal(t, CategoryNewFormat, got.Category)
	assert.InDelta(t, 0.5, got.Confidence, 0.001)
}

func TestClassifier_FixtureEscapeBytesOverride(t *testing.T) {
	c := NewClassifier(zaptest.NewLogger(t))

	got := c.Classify(RawFailure{
		TestName:         "test_fixture",
		ExceptionKind:    "KeyError",
		ExceptionMessage: "'session'",
		FixtureName:      "corrupted.txt",
		FixtureContent:   "Current \x1b[32msession\x1b[0m usage: 45%",
	})
	assert.Equal(t, CategoryTerminalCorruption, got.Category)
	assert.InDelta(t, 0.75, got.Confidence, 0.001)
	assert.True(t, got.ControlBytesInFixture)
}

func TestClassifier_FixtureBytesDoNotOverrideStrongMatch(t *testing.T) {
	c := NewClassifier(zaptest.NewLogger(t))

	got := c.Classify(RawFailure{
		TestName:         "test_fixture",
		ExceptionKind:    "ValueError",
		ExceptionMessage: "time data 'Jan 2' does not match format",
		FixtureContent:   "\x1b[0m",
	})
	assert.Equal(t, CategoryNewFormat, got.Category)
	assert.InDelta(t, 0.95, got.Confidence, 0.001)
}

func TestClassifier_UnknownFloor(t *testing.T) {
	c := NewClassifier(zaptest.NewLogger(t))

	got := c.Classify(RawFailure{
		TestName:         "test_mystery",
		ExceptionKind:    "RuntimeError",
		ExceptionMessage: "totally novel condition",
	})
	assert.Equal(t, CategoryUnknown, got.Category)
	assert.Zero(t, got.Confidence)
}

func TestClassifier_TypeErrorBelowFloorIsUnknown(t *testing.T) {
	c := NewClassifier(zaptest.NewLogger(t))

	// TypeError maps to unknown at 0.3, below the 0.5 floor.
	got := c.Classify(RawFailure{
		TestName:      "test_type",
		ExceptionKind: "TypeError",
	})
	assert.Equal(t, CategoryUnknown, got.Category)
	assert.Zero(t, got.Confidence)
}

func TestClassifier_ClassifyBatchPreservesOrder(t *testing.T) {
	c := NewClassifier(zaptest.NewLogger(t))

	failures := []RawFailure{
		{TestName: "a", ExceptionKind: "AttributeError", ExceptionMessage: "'NoneType' object has no attribute 'group'"},
		{TestName: "b", ExceptionKind: "ValueError", ExceptionMessage: "time data 'x' does not match format"},
		{TestName: "c", ExceptionKind: "RuntimeError", ExceptionMessage: "opaque"},
	}
	got := c.ClassifyBatch(failures)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].TestName)
	assert.Equal(t, CategoryPatternMismatch, got[0].Category)
	assert.Equal(t, "b", got[1].TestName)
	assert.Equal(t, CategoryNewFormat, got[1].Category)
	assert.Equal(t, "c", got[2].TestName)
	assert.Equal(t, CategoryUnknown, got[2].Category)
}
