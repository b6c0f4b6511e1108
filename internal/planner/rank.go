package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/codewatch-dev/codewatch/internal/llmgateway"
	"github.com/codewatch-dev/codewatch/internal/model"
	"github.com/codewatch-dev/codewatch/internal/prompts"
)

const (
	batchSize    = 100
	minBatchSize = 25
	rankModel    = "claude-sonnet-4-5"
	rankMaxTok   = 4096
)

// RankedFile is one entry of Phase B's LLM priority ranking.
type RankedFile struct {
	File     string `json:"file"`
	Priority int    `json:"priority"`
	Reason   string `json:"reason"`
}

// ClassificationContext carries the project-level context Phase B's prompt
// is rendered against.
type ClassificationContext struct {
	Category          string
	Description       string
	ThreatModel       string
	ComponentProfiles string
}

// rankBatch calls the LLM once for a batch of files and parses its ranked
// output, recursively halving on JSON parse failure down to minBatchSize.
func rankBatch(
	ctx context.Context,
	gw *llmgateway.Gateway,
	apiKey string,
	cc ClassificationContext,
	grepByFile map[string]GrepResult,
	files []model.ScannedFile,
) ([]RankedFile, int64, int64, error) {
	if len(files) == 0 {
		return nil, 0, 0, nil
	}

	system, err := renderPlannerPrompt(cc, grepByFile, files)
	if err != nil {
		return nil, 0, 0, err
	}

	result, err := gw.Call(ctx, apiKey, system, nil, nil, rankModel, rankMaxTok)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("planner: rank batch of %d files: %w", len(files), err)
	}

	ranked, parseErr := llmgateway.ParseJSON[[]RankedFile](result.Content)
	if parseErr == nil {
		return ranked, result.InputTokens, result.OutputTokens, nil
	}

	if len(files) <= minBatchSize {
		return nil, 0, 0, fmt.Errorf("planner: batch at floor size %d failed to parse: %w", minBatchSize, parseErr)
	}

	mid := len(files) / 2

	left, leftIn, leftOut, err := rankBatch(ctx, gw, apiKey, cc, grepByFile, files[:mid])
	if err != nil {
		return nil, 0, 0, err
	}

	right, rightIn, rightOut, err := rankBatch(ctx, gw, apiKey, cc, grepByFile, files[mid:])
	if err != nil {
		return nil, 0, 0, err
	}

	return append(left, right...), leftIn + rightIn, leftOut + rightOut, nil
}

// RankFiles runs Phase B over the full scanned file set, splitting into
// batches of batchSize and merging the results.
func RankFiles(
	ctx context.Context,
	gw *llmgateway.Gateway,
	apiKey string,
	cc ClassificationContext,
	grepResults []GrepResult,
	files []model.ScannedFile,
) ([]RankedFile, int64, int64, error) {
	grepByFile := make(map[string]GrepResult, len(grepResults))
	for _, g := range grepResults {
		grepByFile[g.File] = g
	}

	var (
		all            []RankedFile
		totalIn        int64
		totalOut       int64
	)

	for start := 0; start < len(files); start += batchSize {
		end := start + batchSize
		if end > len(files) {
			end = len(files)
		}

		ranked, in, out, err := rankBatch(ctx, gw, apiKey, cc, grepByFile, files[start:end])
		if err != nil {
			return nil, 0, 0, err
		}

		all = append(all, ranked...)
		totalIn += in
		totalOut += out
	}

	return all, totalIn, totalOut, nil
}

func renderPlannerPrompt(cc ClassificationContext, grepByFile map[string]GrepResult, files []model.ScannedFile) (string, error) {
	tmpl, err := prompts.Load("planner")
	if err != nil {
		return "", fmt.Errorf("planner: load prompt: %w", err)
	}

	var grepLines strings.Builder
	for _, f := range files {
		g, ok := grepByFile[f.RelativePath]
		if !ok || g.Hits == 0 {
			continue
		}

		fmt.Fprintf(&grepLines, "%s: %d hits", f.RelativePath, g.Hits)

		for _, s := range g.Samples {
			fmt.Fprintf(&grepLines, "\n  [%s] line %d: %s", s.Category, s.Line, s.Text)
		}

		grepLines.WriteByte('\n')
	}

	var fileList strings.Builder
	for _, f := range files {
		fmt.Fprintf(&fileList, "%s (%d tokens)\n", f.RelativePath, f.RoughTokens)
	}

	return prompts.Render(tmpl, map[string]string{
		"category":      cc.Category,
		"description":   cc.Description,
		"threatModel":   cc.ThreatModel,
		"componentProfiles": cc.ComponentProfiles,
		"grepOutput":    grepLines.String(),
		"fileList":      fileList.String(),
	}), nil
}
