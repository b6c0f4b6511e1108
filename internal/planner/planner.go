// Package planner implements the three-phase file-selection pipeline that
// precedes analysis: a local security grep for cheap signal, an LLM
// priority ranking over that signal, and a budgeted greedy selection
// against the audit level's token allowance.
package planner

import (
	"context"
	"fmt"

	"github.com/codewatch-dev/codewatch/internal/llmgateway"
	"github.com/codewatch-dev/codewatch/internal/model"
)

// Result is the full output of a Plan call: the budgeted file selection
// plus the token usage incurred ranking it, for cost accounting.
type Result struct {
	Selection    Selection
	Ranked       []RankedFile
	GrepResults  []GrepResult
	InputTokens  int64
	OutputTokens int64
}

// Plan runs all three phases against the scanned files of one repo
// checkout and returns the files selected for analysis.
func Plan(
	ctx context.Context,
	gw *llmgateway.Gateway,
	apiKey, repoRoot string,
	cc ClassificationContext,
	files []model.ScannedFile,
	level model.AuditLevel,
) (Result, error) {
	if len(files) == 0 {
		return Result{}, nil
	}

	relPaths := make([]string, len(files))

	var totalTokens int64

	tokensByFile := make(map[string]int64, len(files))

	for i, f := range files {
		relPaths[i] = f.RelativePath
		totalTokens += f.RoughTokens
		tokensByFile[f.RelativePath] = f.RoughTokens
	}

	grepResults, err := RunSecurityGrep(repoRoot, relPaths)
	if err != nil {
		return Result{}, fmt.Errorf("planner: security grep: %w", err)
	}

	ranked, inTok, outTok, err := RankFiles(ctx, gw, apiKey, cc, grepResults, files)
	if err != nil {
		return Result{}, fmt.Errorf("planner: rank files: %w", err)
	}

	selection := SelectWithinBudget(ranked, tokensByFile, totalTokens, level)

	return Result{
		Selection:    selection,
		Ranked:       ranked,
		GrepResults:  grepResults,
		InputTokens:  inTok,
		OutputTokens: outTok,
	}, nil
}
