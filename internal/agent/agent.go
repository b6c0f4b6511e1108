// Package agent implements the bounded tool-using agent that explores a
// project's repositories and proposes architectural components plus
// third-party dependencies. Unlike the single-turn calls in internal/planner
// and the Classify/Synthesize phases, this is a multi-turn loop: the model
// is handed list_directory/read_file/search_files tools and decides for
// itself how much exploring to do before answering.
package agent

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/codewatch-dev/codewatch/internal/llmgateway"
	"github.com/codewatch-dev/codewatch/internal/model"
	"github.com/codewatch-dev/codewatch/internal/prompts"
)

const (
	maxTurns             = 40
	maxConsecutiveErrors = 5
	progressEveryNTurns  = 3
	agentModel           = "claude-sonnet-4-5"
	agentMaxTokens       = 4096
)

// ErrMaxTurnsExceeded is returned when the loop reaches maxTurns without the
// model reaching an end_turn stop reason.
var ErrMaxTurnsExceeded = errors.New("agent: max turns exceeded without end_turn")

// ErrTooManyToolErrors is returned when maxConsecutiveErrors tool_use
// turns in a row each produced at least one is_error tool result.
var ErrTooManyToolErrors = errors.New("agent: too many consecutive tool errors")

// ErrUnhandledStopReason is returned for any stop reason the loop doesn't
// know how to continue from (anything but end_turn or tool_use).
var ErrUnhandledStopReason = errors.New("agent: unhandled stop reason")

// componentOut and dependencyOut mirror the JSON the agent_component prompt
// asks the model to return; model.Component/model.Dependency carry
// store-internal fields (IDs, project linkage) this shape doesn't have yet.
type componentOut struct {
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	FilePatterns []string `json:"filePatterns"`
	Languages    []string `json:"languages"`
}

type dependencyOut struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Ecosystem string `json:"ecosystem"`
}

type agentOutput struct {
	Components   []componentOut  `json:"components"`
	Dependencies []dependencyOut `json:"dependencies"`
}

// ProgressRecorder receives periodic turn/token/cost snapshots while a
// single-repo run is in flight, persisted every 3 turns and on end_turn.
// Callers that don't need this may pass NopRecorder.
type ProgressRecorder interface {
	Record(ctx context.Context, repoName string, turnsUsed int, tokensUsed int64, costUSD float64) error
}

// NopRecorder discards progress snapshots.
type NopRecorder struct{}

// Record implements ProgressRecorder by doing nothing.
func (NopRecorder) Record(context.Context, string, int, int64, float64) error { return nil }

// runResult is one repo's agent-loop output plus its usage totals.
type runResult struct {
	output       agentOutput
	inputTokens  int64
	outputTokens int64
}

// runOneRepo drives the bounded tool-using loop for a single target repo,
// with tool access to every repo in repos (so it can trace a cross-repo
// dependency without being told about it up front).
func runOneRepo(
	ctx context.Context,
	gw *llmgateway.Gateway,
	apiKey, targetRepoName string,
	repos map[string]repoContext,
	recorder ProgressRecorder,
	costFn func(inputTokens, outputTokens int64) float64,
) (runResult, error) {
	system, err := renderAgentPrompt(targetRepoName)
	if err != nil {
		return runResult{}, err
	}

	var (
		messages         []llmgateway.Message
		totalIn, totalOut int64
		consecutiveErrors int
	)

	for turn := 0; turn < maxTurns; turn++ {
		result, err := gw.Call(ctx, apiKey, system, messages, toolDefs(), agentModel, agentMaxTokens)
		if err != nil {
			return runResult{}, fmt.Errorf("agent: turn %d: %w", turn, err)
		}

		totalIn += result.InputTokens
		totalOut += result.OutputTokens

		switch result.StopReason {
		case "end_turn":
			out, parseErr := llmgateway.ParseJSON[agentOutput](result.Content)
			if parseErr != nil {
				return runResult{}, fmt.Errorf("agent: parse end_turn output: %w", parseErr)
			}

			if err := recorder.Record(ctx, targetRepoName, turn+1, totalIn+totalOut, costFn(totalIn, totalOut)); err != nil {
				return runResult{}, fmt.Errorf("agent: record final progress: %w", err)
			}

			return runResult{output: out, inputTokens: totalIn, outputTokens: totalOut}, nil

		case "tool_use":
			messages = append(messages, llmgateway.Message{Role: "assistant", Content: result.Content})

			turnHadError := false

			for _, use := range result.ToolUses {
				text, isError := dispatchTool(use, repos)
				if isError {
					turnHadError = true
				}

				messages = append(messages, llmgateway.Message{Role: "user", Content: text})
			}

			if turnHadError {
				consecutiveErrors++
				if consecutiveErrors >= maxConsecutiveErrors {
					return runResult{}, ErrTooManyToolErrors
				}
			} else {
				consecutiveErrors = 0
			}

			if (turn+1)%progressEveryNTurns == 0 {
				if err := recorder.Record(ctx, targetRepoName, turn+1, totalIn+totalOut, costFn(totalIn, totalOut)); err != nil {
					return runResult{}, fmt.Errorf("agent: record progress: %w", err)
				}
			}

		default:
			return runResult{}, fmt.Errorf("%w: %q", ErrUnhandledStopReason, result.StopReason)
		}
	}

	return runResult{}, ErrMaxTurnsExceeded
}

func renderAgentPrompt(repoName string) (string, error) {
	tmpl, err := prompts.Load("agent_component")
	if err != nil {
		return "", fmt.Errorf("agent: load prompt: %w", err)
	}

	return prompts.Render(tmpl, map[string]string{"repoName": repoName}), nil
}

// RepoInput is one repository's context for a project-wide analysis run:
// its store id (for persisting components against the right repo_id), its
// local checkout root, and its pre-scanned file list.
type RepoInput struct {
	RepoID   string
	RepoName string
	RepoRoot string
	Files    []model.ScannedFile
}

// Store is the persistence dependency for the component/dependency store
// step.
type Store interface {
	ReplaceComponentsAndDependencies(ctx context.Context, projectID string, components []model.Component, deps []model.Dependency) ([]model.Component, error)
}

// AnalyzeProject runs one bounded agent loop per repo in repos (each with
// tool access to all of them), merges every repo's proposed components and
// dependencies, estimates per-component file/token totals by matching
// filePatterns against the owning repo's scanned files, and replaces the
// project's components and dependencies in a single store step.
func AnalyzeProject(
	ctx context.Context,
	gw *llmgateway.Gateway,
	apiKey, projectID string,
	repoInputs []RepoInput,
	store Store,
	recorder ProgressRecorder,
	costFn func(inputTokens, outputTokens int64) float64,
) (totalInputTokens, totalOutputTokens int64, err error) {
	if recorder == nil {
		recorder = NopRecorder{}
	}

	repos := make(map[string]repoContext, len(repoInputs))
	for _, r := range repoInputs {
		repos[r.RepoName] = repoContext{RepoRoot: r.RepoRoot, Files: r.Files}
	}

	byRepoID := make(map[string]string, len(repoInputs))
	for _, r := range repoInputs {
		byRepoID[r.RepoName] = r.RepoID
	}

	var (
		components []model.Component
		deps       []model.Dependency
	)

	for _, r := range repoInputs {
		result, runErr := runOneRepo(ctx, gw, apiKey, r.RepoName, repos, recorder, costFn)
		if runErr != nil {
			return totalInputTokens, totalOutputTokens, fmt.Errorf("agent: analyze repo %s: %w", r.RepoName, runErr)
		}

		totalInputTokens += result.inputTokens
		totalOutputTokens += result.outputTokens

		repoFiles := repos[r.RepoName].Files

		for _, c := range result.output.Components {
			estFiles, estTokens := estimateComponent(c.FilePatterns, repoFiles)

			components = append(components, model.Component{
				ProjectID:       projectID,
				RepoID:          byRepoID[r.RepoName],
				Name:            c.Name,
				Role:            model.ComponentRole(c.Role),
				FilePatterns:    c.FilePatterns,
				Languages:       c.Languages,
				EstimatedFiles:  estFiles,
				EstimatedTokens: estTokens,
			})
		}

		for _, d := range result.output.Dependencies {
			deps = append(deps, model.Dependency{
				ProjectID: projectID,
				RepoID:    byRepoID[r.RepoName],
				Name:      d.Name,
				Version:   d.Version,
				Ecosystem: d.Ecosystem,
			})
		}
	}

	if _, err := store.ReplaceComponentsAndDependencies(ctx, projectID, components, deps); err != nil {
		return totalInputTokens, totalOutputTokens, fmt.Errorf("agent: store step: %w", err)
	}

	return totalInputTokens, totalOutputTokens, nil
}

// estimateComponent sums the size/token totals of every scanned file
// matching any of patterns, via the same path.Match glob semantics the
// search_files tool uses.
func estimateComponent(patterns []string, files []model.ScannedFile) (estFiles int, estTokens int64) {
	for _, f := range files {
		for _, p := range patterns {
			ok, err := path.Match(p, f.RelativePath)
			if err != nil || !ok {
				continue
			}

			estFiles++
			estTokens += f.RoughTokens

			break
		}
	}

	return estFiles, estTokens
}
