package llmgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedDoer struct {
	responses []*http.Response
	calls     int
}

func (s *scriptedDoer) Do(_ *http.Request) (*http.Response, error) {
	resp := s.responses[s.calls]
	s.calls++

	return resp, nil
}

func okResponse(t *testing.T, stopReason string) *http.Response {
	t.Helper()

	raw, err := json.Marshal(map[string]any{
		"stop_reason": stopReason,
		"usage":       map[string]int64{"input_tokens": 10, "output_tokens": 5},
		"content":     []map[string]string{{"type": "text", "text": "hello"}},
	})
	require.NoError(t, err)

	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(raw))}
}

func statusResponse(code int, body string) *http.Response {
	return &http.Response{StatusCode: code, Body: io.NopCloser(bytes.NewReader([]byte(body)))}
}

func TestCall_SucceedsOnFirstAttempt(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{responses: []*http.Response{okResponse(t, "end_turn")}}
	gw := New("https://example.invalid", doer, nil, nil)

	result, err := gw.Call(context.Background(), "key", "system", nil, nil, "model", 100)
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Content)
	assert.Equal(t, "end_turn", result.StopReason)
	assert.Equal(t, int64(10), result.InputTokens)
}

func TestCall_NonRetriableStatusFailsImmediately(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{responses: []*http.Response{statusResponse(http.StatusBadRequest, `{"error":"bad request"}`)}}
	gw := New("https://example.invalid", doer, nil, nil)

	_, err := gw.Call(context.Background(), "key", "system", nil, nil, "model", 100)
	require.Error(t, err)
	assert.Equal(t, 1, doer.calls)
}

func TestCall_RetriesOn429ThenSucceeds(t *testing.T) {
	t.Parallel()

	rateLimited := statusResponse(http.StatusTooManyRequests, `{"error":"rate limited"}`)
	rateLimited.Header = http.Header{"Retry-After": []string{"0"}}

	doer := &scriptedDoer{responses: []*http.Response{rateLimited, okResponse(t, "end_turn")}}
	gw := New("https://example.invalid", doer, nil, nil)

	result, err := gw.Call(context.Background(), "key", "system", nil, nil, "model", 100)
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Content)
	assert.Equal(t, 2, doer.calls)
}

func TestParseRetryAfter_FallsBackWhenMissing(t *testing.T) {
	t.Parallel()

	assert.Equal(t, rateLimitFallbackS*1e9, float64(parseRetryAfter("")))
}
