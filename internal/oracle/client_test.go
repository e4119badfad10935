package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/mendloop/mendloop/internal/config"
	"github.com/mendloop/mendloop/internal/heal"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// closeIdle drops pooled keep-alive connections so their read loops exit
// before the leak check runs.
func closeIdle() {
	if tr, ok := http.DefaultTransport.(*http.Transport); ok {
		tr.CloseIdleConnections()
	}
}

func testConfig(endpoint string) config.OracleConfig {
	return config.OracleConfig{
		Enabled:           true,
		Model:             "repair-1",
		Endpoint:          endpoint,
		APIKey:            "test-key",
		Timeout:           5 * time.Second,
		RequestsPerMinute: 600,
	}
}

func TestNewClient_RequiresEndpointAndKey(t *testing.T) {
	_, err := NewClient(config.OracleConfig{APIKey: "k"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")

	_, err = NewClient(config.OracleConfig{Endpoint: "http://x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key")
}

func TestClient_Diagnose(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":` +
			"\"CAUSE: session regex too strict\\n```diff\\n-old line\\n+new line\\n```\\n\"}}]}"))
	}))
	defer srv.Close()
	defer closeIdle()

	c, err := NewClient(testConfig(srv.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	advice, err := c.Diagnose(context.Background(), heal.ConsultRequest{
		TestName:      "test_session",
		Category:      heal.CategoryPatternMismatch,
		ExceptionKind: "AttributeError",
	})
	require.NoError(t, err)
	assert.Equal(t, "session regex too strict", advice.Cause)
	assert.Equal(t, "-old line\n+new line", advice.Patch)
	assert.Equal(t, "Bearer test-key", gotAuth.Load())
}

func TestClient_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"CAUSE: x\n"}}]}`))
	}))
	defer srv.Close()
	defer closeIdle()

	c, err := NewClient(testConfig(srv.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	advice, err := c.Diagnose(context.Background(), heal.ConsultRequest{TestName: "t"})
	require.NoError(t, err)
	assert.Equal(t, "x", advice.Cause)
	assert.Empty(t, advice.Patch)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_PermanentErrorDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	defer closeIdle()

	c, err := NewClient(testConfig(srv.URL), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = c.Diagnose(context.Background(), heal.ConsultRequest{TestName: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestBuildPrompt_BoundsEvidence(t *testing.T) {
	excerpt := strings.Repeat("line\n", 40)
	trace := strings.Repeat("x", 2000)

	prompt := BuildPrompt(heal.ConsultRequest{
		TestName:         "test_big",
		Category:         heal.CategoryUnknown,
		ExceptionKind:    "RuntimeError",
		ExceptionMessage: "boom",
		Description:      "Unknown failure",
		SuggestedFixType: heal.FixAIDiagnose,
		Context:          map[string]string{"date_string": "Dec 31"},
		SourceExcerpt:    strings.TrimRight(excerpt, "\n"),
		Trace:            trace,
	})

	assert.Contains(t, prompt, "Failing test: test_big")
	assert.Contains(t, prompt, "Context date_string: Dec 31")
	assert.LessOrEqual(t, strings.Count(prompt, "line\n"), 20)
	assert.Contains(t, prompt, strings.Repeat("x", 1000)+"...")
	assert.NotContains(t, prompt, strings.Repeat("x", 1001))
}

func TestParseAdvice(t *testing.T) {
	t.Run("cause and diff", func(t *testing.T) {
		advice := ParseAdvice("preamble\nCAUSE: the pattern is anchored\n```diff\n-a\n+b\n```\ntrailer")
		assert.Equal(t, "the pattern is anchored", advice.Cause)
		assert.Equal(t, "-a\n+b", advice.Patch)
	})

	t.Run("plain fence accepted", func(t *testing.T) {
		advice := ParseAdvice("CAUSE: c\n```\n-a\n+b\n```")
		assert.Equal(t, "-a\n+b", advice.Patch)
	})

	t.Run("missing parts", func(t *testing.T) {
		advice := ParseAdvice("no structure at all")
		assert.Empty(t, advice.Cause)
		assert.Empty(t, advice.Patch)
	})
}
