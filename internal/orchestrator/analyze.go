package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/codewatch-dev/codewatch/internal/llmgateway"
	"github.com/codewatch-dev/codewatch/internal/model"
	"github.com/codewatch-dev/codewatch/internal/prompts"
	"github.com/codewatch-dev/codewatch/internal/reposstore"
	"github.com/codewatch-dev/codewatch/internal/tokens"
	"github.com/codewatch-dev/codewatch/pkg/observability"
)

const (
	// analyzeBatchTokenLimit is the 150,000-token greedy batch cap.
	analyzeBatchTokenLimit = 150_000
	analyzeModel           = "claude-sonnet-4-5"
	analyzeMaxTokensOut    = 8192
)

var analyzePromptByLevel = map[model.AuditLevel]string{
	model.LevelFull:          "analyze_full",
	model.LevelThorough:      "analyze_thorough",
	model.LevelOpportunistic: "analyze_opportunistic",
}

type analyzeFinding struct {
	File           string  `json:"file"`
	LineStart      int     `json:"lineStart"`
	LineEnd        int     `json:"lineEnd"`
	Severity       string  `json:"severity"`
	CWEID          string  `json:"cweId"`
	CVSSScore      float64 `json:"cvssScore"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Exploitation   string  `json:"exploitation"`
	Recommendation string  `json:"recommendation"`
	CodeSnippet    string  `json:"codeSnippet"`
}

type analyzeOutput struct {
	Findings              []analyzeFinding `json:"findings"`
	ResponsibleDisclosure string           `json:"responsible_disclosure"`
	Dependencies          []string         `json:"dependencies"`
	SecurityPosture       string           `json:"security_posture"`
}

// analyzePhase is Phase 4: pack the selected files into greedy, token-
// bounded batches and run one LLM call per batch, inserting deduped
// findings and updating per-file progress as each batch completes. A batch
// failure aborts the whole audit rather than skipping the batch - the
// caller (Run) persists the audit as failed.
func (r *run) analyzePhase(ctx context.Context) error {
	if len(r.selectedFiles) == 0 {
		return fmt.Errorf("orchestrator: no files selected for analysis")
	}

	if err := r.bus.Write(ctx, model.NewAnalyzingProgress(r.selectedFiles, r.bus.Current().Warnings), r.filesAnalyzed); err != nil {
		return fmt.Errorf("orchestrator: init analyzing progress: %w", err)
	}

	promptName := analyzePromptByLevel[r.audit.Level]

	levelPrompt, err := prompts.Load(promptName)
	if err != nil {
		return fmt.Errorf("orchestrator: load analyze prompt: %w", err)
	}

	system := fmt.Sprintf("Project category: %s\nDescription: %s\n\n%s", r.project.Category, r.project.Description, levelPrompt)

	batches := packBatches(r.selectedFiles, r.fileIndex, analyzeBatchTokenLimit)

	for batchIdx, batch := range batches {
		if err := r.analyzeBatch(ctx, batchIdx, batch, system); err != nil {
			r.failBatchProgress(ctx, batch)
			return err
		}
	}

	return nil
}

func (r *run) analyzeBatch(ctx context.Context, batchIdx int, batch []string, system string) error {
	start := time.Now()

	content, err := buildBatchContent(batch, r.fileIndex)
	if err != nil {
		return fmt.Errorf("orchestrator: read batch %d: %w", batchIdx, err)
	}

	if r.audit.IsIncremental {
		if ctxBlock := priorFindingsContext(batch, r.inheritedFindings); ctxBlock != "" {
			content = ctxBlock + content
		}
	}

	result, err := r.deps.Gateway.Call(ctx, r.deps.APIKey, system,
		[]llmgateway.Message{{Role: "user", Content: content}}, nil, analyzeModel, analyzeMaxTokensOut)
	if err != nil {
		return fmt.Errorf("orchestrator: analyze batch %d: %w", batchIdx, err)
	}

	r.recordCost(ctx, analyzeModel, result.InputTokens, result.OutputTokens)

	out, err := llmgateway.ParseJSON[analyzeOutput](result.Content)
	if err != nil {
		return fmt.Errorf("orchestrator: parse batch %d output: %w", batchIdx, err)
	}

	findingsByFile := make(map[string]int)

	var toInsert []model.Finding

	for _, f := range out.Findings {
		fp := computeFingerprint(f.File, f.LineStart, f.LineEnd, f.Title, f.CodeSnippet)
		if r.seenFingerprints[fp] {
			continue
		}

		r.seenFingerprints[fp] = true

		toInsert = append(toInsert, model.Finding{
			AuditID:        r.audit.ID,
			FilePath:       f.File,
			LineStart:      f.LineStart,
			LineEnd:        f.LineEnd,
			Severity:       model.Severity(f.Severity),
			CWEID:          f.CWEID,
			CVSSScore:      f.CVSSScore,
			Title:          f.Title,
			Description:    f.Description,
			Exploitation:   f.Exploitation,
			Recommendation: f.Recommendation,
			CodeSnippet:    f.CodeSnippet,
			Status:         model.FindingOpen,
			Fingerprint:    fp,
		})

		findingsByFile[f.File]++
	}

	if err := r.deps.Store.InsertFindings(ctx, toInsert); err != nil {
		return fmt.Errorf("orchestrator: insert batch %d findings: %w", batchIdx, err)
	}

	for _, ns := range batch {
		if err := r.bus.MarkFile(ctx, ns, model.FileStatusDone, findingsByFile[ns]); err != nil {
			return fmt.Errorf("orchestrator: mark file %s done: %w", ns, err)
		}

		r.filesAnalyzed++
	}

	if r.deps.AuditMetrics != nil {
		bySeverity := make(map[string]int64, len(findingsByFile))
		for _, f := range toInsert {
			bySeverity[string(f.Severity)]++
		}

		r.deps.AuditMetrics.RecordBatch(ctx, observability.AuditStats{
			FindingsBySeverity: bySeverity,
			BatchDuration:      time.Since(start),
			InputTokens:        result.InputTokens,
			OutputTokens:       result.OutputTokens,
			CostUSD:            tokens.CallCost(result.InputTokens, result.OutputTokens, r.pricing.Lookup(analyzeModel)),
		})
	}

	return nil
}

// failBatchProgress marks every file in a failed batch as errored so the
// progress snapshot reflects exactly what was and wasn't analyzed before the
// audit aborted.
func (r *run) failBatchProgress(ctx context.Context, batch []string) {
	for _, ns := range batch {
		if err := r.bus.MarkFile(ctx, ns, model.FileStatusError, 0); err != nil {
			r.deps.logger().ErrorContext(ctx, "orchestrator: failed to mark file errored", "file", ns, "error", err)
		}

		r.filesAnalyzed++
	}
}

// packBatches greedily packs files (in the given order) into batches that
// each stay under limit tokens, except that a single file larger than limit
// still gets its own one-file batch rather than being dropped.
func packBatches(files []string, index map[string]fileLocation, limit int64) [][]string {
	var (
		out     [][]string
		current []string
		used    int64
	)

	for _, f := range files {
		tok := index[f].tokens

		if len(current) > 0 && used+tok > limit {
			out = append(out, current)
			current = nil
			used = 0
		}

		current = append(current, f)
		used += tok
	}

	if len(current) > 0 {
		out = append(out, current)
	}

	return out
}

// priorFindingsContext builds a short context block naming the still-open
// findings inherited from the base audit for files in this batch, so an
// incremental re-analysis doesn't rediscover (or contradict) what a prior
// audit already reported for unchanged regions of a touched file.
func priorFindingsContext(batch []string, inherited []model.Finding) string {
	inBatch := make(map[string]bool, len(batch))
	for _, ns := range batch {
		inBatch[ns] = true
	}

	var sb strings.Builder

	for _, f := range inherited {
		if !inBatch[f.FilePath] {
			continue
		}

		fmt.Fprintf(&sb, "- [%s] %s (%s:%d-%d)\n", f.Severity, f.Title, f.FilePath, f.LineStart, f.LineEnd)
	}

	if sb.Len() == 0 {
		return ""
	}

	return "Previously reported findings for files in this batch (do not duplicate, only report new or changed issues):\n" + sb.String() + "\n"
}

func buildBatchContent(batch []string, index map[string]fileLocation) (string, error) {
	var sb strings.Builder

	for _, ns := range batch {
		loc := index[ns]

		content, err := reposstore.ReadFileContent(loc.repoRoot, loc.relPath)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", ns, err)
		}

		fmt.Fprintf(&sb, "--- %s ---\n%s\n\n", ns, string(content))
	}

	return sb.String(), nil
}
