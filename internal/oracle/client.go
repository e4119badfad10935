// internal/oracle/client.go
// HTTP client for the external diagnosis model. Speaks the chat-completions
// wire shape and extracts a structured Advice from the free-text reply.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mendloop/mendloop/internal/config"
	"github.com/mendloop/mendloop/internal/heal"
)

const (
	maxRetries       = 3
	maxExcerptLines  = 20
	maxTraceChars    = 1000
	defaultTimeout   = 60 * time.Second
	defaultBurstSize = 1
)

var (
	causePattern = regexp.MustCompile(`(?m)^CAUSE:\s*(.+)$`)
	diffPattern  = regexp.MustCompile("(?s)```(?:diff)?\n(.*?)```")
)

// Client consults a remote model for failures the rule tables cannot fix.
// Implements heal.Advisor.
type Client struct {
	httpClient *http.Client
	endpoint   string
	model      string
	apiKey     string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient builds a client from config. Returns an error when the config is
// enabled but incomplete.
func NewClient(cfg config.OracleConfig, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("oracle: endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("oracle: api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 10
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), defaultBurstSize),
		logger:     logger.Named("oracle"),
	}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Diagnose sends one bounded evidence bundle and parses the reply. A reply
// without a usable patch yields an Advice with an empty Patch, not an error.
func (c *Client) Diagnose(ctx context.Context, req heal.ConsultRequest) (*heal.Advice, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("oracle: rate limit wait: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildPrompt(req)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: encode request: %w", err)
	}

	var content string
	operation := func() error {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if reqErr != nil {
			return backoff.Permanent(reqErr)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, doErr := c.httpClient.Do(httpReq)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("oracle: transient status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("oracle: status %d: %s", resp.StatusCode, truncate(string(respBody), 200)))
		}

		var parsed chatResponse
		if jsonErr := json.Unmarshal(respBody, &parsed); jsonErr != nil {
			return backoff.Permanent(fmt.Errorf("oracle: decode response: %w", jsonErr))
		}
		if parsed.Error != nil {
			return backoff.Permanent(fmt.Errorf("oracle: api error: %s", parsed.Error.Message))
		}
		if len(parsed.Choices) == 0 {
			return backoff.Permanent(errors.New("oracle: empty choices"))
		}
		content = parsed.Choices[0].Message.Content
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	advice := ParseAdvice(content)
	c.logger.Debug("diagnosis received",
		zap.String("test", req.TestName),
		zap.Bool("has_patch", advice.Patch != ""),
	)
	return advice, nil
}

const systemPrompt = `You are a repair assistant for a Python usage-report parser.
Given a failing test and source context, reply with exactly two parts:
a line starting with "CAUSE: " stating the root cause in one sentence,
and a fenced diff block containing a minimal unified diff that fixes it.
Change as few lines as possible. Do not refactor.`

// BuildPrompt renders the evidence bundle. The source excerpt is already
// bounded by the caller; the trace is truncated here.
func BuildPrompt(req heal.ConsultRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Failing test: %s\n", req.TestName)
	fmt.Fprintf(&b, "Category: %s\n", req.Category)
	fmt.Fprintf(&b, "Exception: %s: %s\n", req.ExceptionKind, req.ExceptionMessage)
	fmt.Fprintf(&b, "Diagnosis so far: %s\n", req.Description)
	fmt.Fprintf(&b, "Suggested fix type: %s\n", req.SuggestedFixType)
	for k, v := range req.Context {
		fmt.Fprintf(&b, "Context %s: %s\n", k, v)
	}
	if req.SourceExcerpt != "" {
		b.WriteString("\nRelevant source:\n")
		b.WriteString(boundExcerpt(req.SourceExcerpt))
		b.WriteString("\n")
	}
	if req.Trace != "" {
		b.WriteString("\nTraceback (truncated):\n")
		b.WriteString(truncate(req.Trace, maxTraceChars))
		b.WriteString("\n")
	}
	return b.String()
}

// ParseAdvice extracts the CAUSE line and the fenced diff body. Either part
// may be absent.
func ParseAdvice(content string) *heal.Advice {
	advice := &heal.Advice{}
	if m := causePattern.FindStringSubmatch(content); m != nil {
		advice.Cause = strings.TrimSpace(m[1])
	}
	if m := diffPattern.FindStringSubmatch(content); m != nil {
		advice.Patch = strings.TrimRight(m[1], "\n")
	}
	return advice
}

func boundExcerpt(excerpt string) string {
	lines := strings.Split(excerpt, "\n")
	if len(lines) > maxExcerptLines {
		lines = lines[:maxExcerptLines]
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
