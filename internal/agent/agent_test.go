package agent_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewatch-dev/codewatch/internal/agent"
	"github.com/codewatch-dev/codewatch/internal/llmgateway"
	"github.com/codewatch-dev/codewatch/internal/model"
)

// scriptedDoer replays a fixed sequence of HTTP responses, mirroring
// llmgateway's own test fake.
type scriptedDoer struct {
	responses []*http.Response
	calls     int
}

func (s *scriptedDoer) Do(_ *http.Request) (*http.Response, error) {
	resp := s.responses[s.calls]
	s.calls++

	return resp, nil
}

func jsonResponse(t *testing.T, stopReason string, content []map[string]any) *http.Response {
	t.Helper()

	raw, err := json.Marshal(map[string]any{
		"stop_reason": stopReason,
		"usage":       map[string]int64{"input_tokens": 10, "output_tokens": 5},
		"content":     content,
	})
	require.NoError(t, err)

	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(raw))}
}

func toolUseResponse(t *testing.T, toolName, toolUseID string, input any) *http.Response {
	t.Helper()

	rawInput, err := json.Marshal(input)
	require.NoError(t, err)

	return jsonResponse(t, "tool_use", []map[string]any{
		{"type": "tool_use", "id": toolUseID, "name": toolName, "input": json.RawMessage(rawInput)},
	})
}

func endTurnResponse(t *testing.T, text string) *http.Response {
	t.Helper()

	return jsonResponse(t, "end_turn", []map[string]any{{"type": "text", "text": text}})
}

// fakeStore records the components/dependencies passed to the store step
// without any real persistence.
type fakeStore struct {
	components []model.Component
	deps       []model.Dependency
}

func (f *fakeStore) ReplaceComponentsAndDependencies(_ context.Context, _ string, components []model.Component, deps []model.Dependency) ([]model.Component, error) {
	f.components = components
	f.deps = deps

	return components, nil
}

// withPromptsDir chdirs into the repository root, where the prompts/
// directory lives, since prompts.Load resolves relative to cwd.
func withPromptsDir(t *testing.T) {
	t.Helper()

	wd, err := os.Getwd()
	require.NoError(t, err)

	repoRoot := filepath.Join(wd, "..", "..")

	require.NoError(t, os.Chdir(repoRoot))
	t.Cleanup(func() { require.NoError(t, os.Chdir(wd)) })
}

func TestAnalyzeProject_EndsImmediatelyOnEndTurn(t *testing.T) {
	withPromptsDir(t)

	doer := &scriptedDoer{responses: []*http.Response{
		endTurnResponse(t, `{"components":[{"name":"server","role":"server","filePatterns":["server/**"],"languages":["go"]}],"dependencies":[{"name":"chi","version":"v5","ecosystem":"go"}]}`),
	}}

	gw := llmgateway.New("https://example.invalid", doer, nil, nil)
	store := &fakeStore{}

	repos := []agent.RepoInput{
		{
			RepoID:   "repo-1",
			RepoName: "web",
			RepoRoot: "/repos/web",
			Files: []model.ScannedFile{
				{RelativePath: "server/main.go", Size: 100, RoughTokens: 25},
				{RelativePath: "server/handler.go", Size: 200, RoughTokens: 50},
				{RelativePath: "client/app.tsx", Size: 300, RoughTokens: 75},
			},
		},
	}

	costFn := func(in, out int64) float64 { return float64(in+out) * 0.001 }

	inTok, outTok, err := agent.AnalyzeProject(context.Background(), gw, "key", "project-1", repos, store, nil, costFn)
	require.NoError(t, err)
	assert.Equal(t, int64(10), inTok)
	assert.Equal(t, int64(5), outTok)

	require.Len(t, store.components, 1)
	assert.Equal(t, "server", store.components[0].Name)
	assert.Equal(t, 2, store.components[0].EstimatedFiles)
	assert.Equal(t, int64(75), store.components[0].EstimatedTokens)

	require.Len(t, store.deps, 1)
	assert.Equal(t, "chi", store.deps[0].Name)
}

func TestAnalyzeProject_ExecutesToolUseThenEndsTurn(t *testing.T) {
	withPromptsDir(t)

	doer := &scriptedDoer{responses: []*http.Response{
		toolUseResponse(t, agent.ToolSearchFiles, "t1", map[string]string{"repo_name": "web", "pattern": "server/*"}),
		endTurnResponse(t, `{"components":[{"name":"server","role":"server","filePatterns":["server/**"],"languages":["go"]}],"dependencies":[]}`),
	}}

	gw := llmgateway.New("https://example.invalid", doer, nil, nil)
	store := &fakeStore{}

	repos := []agent.RepoInput{
		{
			RepoID:   "repo-1",
			RepoName: "web",
			RepoRoot: "/repos/web",
			Files: []model.ScannedFile{
				{RelativePath: "server/main.go", RoughTokens: 10},
			},
		},
	}

	_, _, err := agent.AnalyzeProject(context.Background(), gw, "key", "project-1", repos, store, nil, func(int64, int64) float64 { return 0 })
	require.NoError(t, err)
	assert.Equal(t, 2, doer.calls)
	require.Len(t, store.components, 1)
}

func TestAnalyzeProject_AbortsAfterConsecutiveToolErrors(t *testing.T) {
	withPromptsDir(t)

	// An unknown repo_name is an error result on every turn; after 5
	// consecutive error turns the loop should abort rather than keep going.
	var responses []*http.Response
	for i := 0; i < 6; i++ {
		responses = append(responses, toolUseResponse(t, agent.ToolSearchFiles, "t", map[string]string{"repo_name": "does-not-exist", "pattern": "*"}))
	}

	doer := &scriptedDoer{responses: responses}
	gw := llmgateway.New("https://example.invalid", doer, nil, nil)
	store := &fakeStore{}

	repos := []agent.RepoInput{{RepoID: "repo-1", RepoName: "web", RepoRoot: "/repos/web"}}

	_, _, err := agent.AnalyzeProject(context.Background(), gw, "key", "project-1", repos, store, nil, func(int64, int64) float64 { return 0 })
	require.ErrorIs(t, err, agent.ErrTooManyToolErrors)
}

func TestAnalyzeProject_MaxTurnsExceeded(t *testing.T) {
	withPromptsDir(t)

	var responses []*http.Response
	for i := 0; i < 40; i++ {
		responses = append(responses, toolUseResponse(t, agent.ToolSearchFiles, "t", map[string]string{"repo_name": "web", "pattern": "*"}))
	}

	doer := &scriptedDoer{responses: responses}
	gw := llmgateway.New("https://example.invalid", doer, nil, nil)
	store := &fakeStore{}

	repos := []agent.RepoInput{{RepoID: "repo-1", RepoName: "web", RepoRoot: "/repos/web"}}

	_, _, err := agent.AnalyzeProject(context.Background(), gw, "key", "project-1", repos, store, nil, func(int64, int64) float64 { return 0 })
	require.ErrorIs(t, err, agent.ErrMaxTurnsExceeded)
}

type recorderCall struct {
	repoName  string
	turnsUsed int
}

type spyRecorder struct {
	calls []recorderCall
}

func (s *spyRecorder) Record(_ context.Context, repoName string, turnsUsed int, _ int64, _ float64) error {
	s.calls = append(s.calls, recorderCall{repoName: repoName, turnsUsed: turnsUsed})

	return nil
}

func TestAnalyzeProject_RecordsProgressEveryThirdTurnAndOnEndTurn(t *testing.T) {
	withPromptsDir(t)

	doer := &scriptedDoer{responses: []*http.Response{
		toolUseResponse(t, agent.ToolSearchFiles, "t1", map[string]string{"repo_name": "web", "pattern": "*"}),
		toolUseResponse(t, agent.ToolSearchFiles, "t2", map[string]string{"repo_name": "web", "pattern": "*"}),
		endTurnResponse(t, `{"components":[],"dependencies":[]}`),
	}}

	gw := llmgateway.New("https://example.invalid", doer, nil, nil)
	store := &fakeStore{}
	spy := &spyRecorder{}

	repos := []agent.RepoInput{{RepoID: "repo-1", RepoName: "web", RepoRoot: "/repos/web"}}

	_, _, err := agent.AnalyzeProject(context.Background(), gw, "key", "project-1", repos, store, spy, func(int64, int64) float64 { return 0 })
	require.NoError(t, err)

	// Turns 1 and 2 are tool_use turns below the every-third-turn snapshot,
	// so nothing is recorded until the end_turn on turn 3 records once.
	require.Len(t, spy.calls, 1)
	assert.Equal(t, 3, spy.calls[0].turnsUsed)
}
