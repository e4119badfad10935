package pycheck

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_WellFormed(t *testing.T) {
	source := []byte(`import re

DATE_FORMATS_NO_YEAR = [
    '%b %d, %I%p',
    '%b %d at %I%p',  # Dec 31 at 6pm
]

def strip_ansi(text):
    return re.sub(r'\x1B\[[0-9;]*m', '', text)
`)
	assert.NoError(t, Validate(context.Background(), source))
}

func TestValidate_UnterminatedList(t *testing.T) {
	source := []byte("DATE_FORMATS = [\n    '%b %d',\n")
	err := Validate(context.Background(), source)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error")
}

func TestValidate_BrokenDef(t *testing.T) {
	source := []byte("def parse_reset_time(text:\n    return None\n")
	err := Validate(context.Background(), source)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line")
}

func TestValidate_EmptySource(t *testing.T) {
	assert.NoError(t, Validate(context.Background(), []byte("")))
}
