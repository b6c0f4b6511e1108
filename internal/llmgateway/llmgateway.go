// Package llmgateway makes single-turn calls to an Anthropic-messages-shaped
// LLM API with retry/backoff, token counting, and a tolerant JSON extractor
// for recovering structured output from free-form model text.
package llmgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/codewatch-dev/codewatch/pkg/observability"
)

// Retry policy constants.
const (
	maxRetries          = 5
	rateLimitFallbackS  = 60
	rateLimitBufferS    = 5
	serverErrorBaseS    = 10
	serverErrorCapS     = 120
)

// ErrExhaustedRetries is returned when all retry attempts fail.
var ErrExhaustedRetries = errors.New("llm gateway: exhausted retries")

// ErrParseFailed is returned by ParseJSON when no recovery stage succeeds.
// The error string carries the first 120 characters of the offending output.
type ErrParseFailed struct {
	Snippet string
}

func (e *ErrParseFailed) Error() string {
	return fmt.Sprintf("llm gateway: could not parse JSON from output: %q", e.Snippet)
}

// Message is one turn of conversation sent to the model.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// ToolDef describes a tool the model may call, mirroring the Anthropic
// messages API tool schema.
type ToolDef struct {
	Name        string
	Description string
	InputSchema any
}

// ToolUse is a single tool invocation requested by the model.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// CallResult is the outcome of one LLM call.
type CallResult struct {
	Content      string
	ToolUses     []ToolUse
	InputTokens  int64
	OutputTokens int64
	StopReason   string // "end_turn", "tool_use", "max_tokens", ...
}

// httpDoer is satisfied by *http.Client; narrowed for testability.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Gateway issues LLM calls against a single HTTP endpoint, applying the
// shared retry policy and per-key request pacing.
type Gateway struct {
	baseURL string
	client  httpDoer
	logger  *slog.Logger
	red     *observability.REDMetrics

	limiters map[string]*rate.Limiter
}

// New returns a Gateway targeting baseURL (e.g. "https://api.anthropic.com").
func New(baseURL string, client httpDoer, logger *slog.Logger, red *observability.REDMetrics) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		baseURL:  baseURL,
		client:   client,
		logger:   logger,
		red:      red,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (g *Gateway) limiterFor(apiKey string) *rate.Limiter {
	l, ok := g.limiters[apiKey]
	if !ok {
		l = rate.NewLimiter(rate.Limit(2), 4)
		g.limiters[apiKey] = l
	}

	return l
}

// Call sends a single-turn message (optionally with tool definitions and
// prior turns) and retries per the shared backoff policy.
func (g *Gateway) Call(
	ctx context.Context,
	apiKey, system string,
	messages []Message,
	tools []ToolDef,
	model string,
	maxTokens int,
) (CallResult, error) {
	if err := g.limiterFor(apiKey).Wait(ctx); err != nil {
		return CallResult{}, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()

	result, err := g.callWithRetry(ctx, apiKey, system, messages, tools, model, maxTokens)

	if g.red != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}

		g.red.RecordRequest(ctx, "llmgateway.call", status, time.Since(start))
	}

	return result, err
}

// CountTokens returns the provider's exact token count for the given
// system/message pair (used when precise totals are required).
func (g *Gateway) CountTokens(ctx context.Context, apiKey, system string, messages []Message, model string) (int64, error) {
	body := map[string]any{
		"model":    model,
		"system":   system,
		"messages": toWireMessages(messages),
	}

	resp, err := g.doWithRetry(ctx, apiKey, "/v1/messages/count_tokens", body)
	if err != nil {
		return 0, err
	}

	var decoded struct {
		InputTokens int64 `json:"input_tokens"`
	}

	if err := json.Unmarshal(resp, &decoded); err != nil {
		return 0, fmt.Errorf("decode count_tokens response: %w", err)
	}

	return decoded.InputTokens, nil
}

func (g *Gateway) callWithRetry(
	ctx context.Context,
	apiKey, system string,
	messages []Message,
	tools []ToolDef,
	model string,
	maxTokens int,
) (CallResult, error) {
	body := map[string]any{
		"model":      model,
		"system":     system,
		"messages":   toWireMessages(messages),
		"max_tokens": maxTokens,
	}

	if len(tools) > 0 {
		body["tools"] = toWireTools(tools)
	}

	raw, err := g.doWithRetry(ctx, apiKey, "/v1/messages", body)
	if err != nil {
		return CallResult{}, err
	}

	return decodeCallResult(raw)
}

// doWithRetry implements the shared retry policy: up to maxRetries attempts;
// on HTTP 429 wait retryAfter+5s (fallback 60s); on 5xx wait
// min(10*2^attempt, 120)s; any other error propagates immediately.
func (g *Gateway) doWithRetry(ctx context.Context, apiKey, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		req.Header.Set("content-type", "application/json")
		req.Header.Set("x-api-key", apiKey)

		resp, err := g.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("llm gateway: request failed: %w", err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			return nil, fmt.Errorf("llm gateway: read response: %w", readErr)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return respBody, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := parseRetryAfter(resp.Header.Get("retry-after")) + rateLimitBufferS*time.Second
			lastErr = fmt.Errorf("llm gateway: rate limited (attempt %d): %s", attempt+1, respBody)
			g.sleep(ctx, wait)
		case resp.StatusCode >= 500:
			wait := time.Duration(math.Min(serverErrorBaseS*math.Pow(2, float64(attempt)), serverErrorCapS)) * time.Second
			lastErr = fmt.Errorf("llm gateway: server error %d (attempt %d): %s", resp.StatusCode, attempt+1, respBody)
			g.sleep(ctx, wait)
		default:
			return nil, fmt.Errorf("llm gateway: request failed with status %d: %s", resp.StatusCode, respBody)
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("llm gateway: context done during retry: %w", ctx.Err())
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrExhaustedRetries, lastErr)
}

func (g *Gateway) sleep(ctx context.Context, d time.Duration) {
	g.logger.WarnContext(ctx, "llmgateway.retry.backoff", "duration", d)

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func parseRetryAfter(raw string) time.Duration {
	if raw == "" {
		return rateLimitFallbackS * time.Second
	}

	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return rateLimitFallbackS * time.Second
	}

	return time.Duration(secs) * time.Second
}

func toWireMessages(messages []Message) []map[string]string {
	wire := make([]map[string]string, len(messages))
	for i, m := range messages {
		wire[i] = map[string]string{"role": m.Role, "content": m.Content}
	}

	return wire
}

func toWireTools(tools []ToolDef) []map[string]any {
	wire := make([]map[string]any, len(tools))
	for i, t := range tools {
		wire[i] = map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": t.InputSchema,
		}
	}

	return wire
}

func decodeCallResult(raw []byte) (CallResult, error) {
	var decoded struct {
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
	}

	if err := json.Unmarshal(raw, &decoded); err != nil {
		return CallResult{}, fmt.Errorf("decode messages response: %w", err)
	}

	result := CallResult{
		StopReason:   decoded.StopReason,
		InputTokens:  decoded.Usage.InputTokens,
		OutputTokens: decoded.Usage.OutputTokens,
	}

	for _, block := range decoded.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			result.ToolUses = append(result.ToolUses, ToolUse{ID: block.ID, Name: block.Name, Input: block.Input})
		}
	}

	return result, nil
}
