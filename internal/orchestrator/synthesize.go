package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/codewatch-dev/codewatch/internal/llmgateway"
	"github.com/codewatch-dev/codewatch/internal/model"
	"github.com/codewatch-dev/codewatch/internal/prompts"
)

const (
	synthesizeModel     = "claude-sonnet-4-5"
	synthesizeMaxTokens = 2048
)

type synthesizeOutput struct {
	ExecutiveSummary      string `json:"executive_summary"`
	SecurityPosture       string `json:"security_posture"`
	ResponsibleDisclosure string `json:"responsible_disclosure"`
}

// synthesizePhase is Phase 6: ask the model for a narrative report over the
// audit's accumulated findings and mark the audit completed. If synthesis
// itself fails, the audit still completes - with a placeholder report - as
// completed_with_warnings, since the findings gathered through Phase 4 are
// already durable and worth surfacing even without a narrative.
func (r *run) synthesizePhase(ctx context.Context) error {
	findings, err := r.deps.Store.ListFindings(ctx, r.audit.ID)
	if err != nil {
		return r.completeWithWarnings(ctx, nil, fmt.Errorf("list findings for synthesis: %w", err))
	}

	tmpl, err := prompts.Load("synthesize")
	if err != nil {
		return r.completeWithWarnings(ctx, findings, fmt.Errorf("load synthesize prompt: %w", err))
	}

	system := prompts.Render(tmpl, map[string]string{
		"description":     r.project.Description,
		"category":        r.project.Category,
		"totalFindings":   strconv.Itoa(len(findings)),
		"findingsSummary": summarizeFindings(findings),
	})

	result, err := r.deps.Gateway.Call(ctx, r.deps.APIKey, system, nil, nil, synthesizeModel, synthesizeMaxTokens)
	if err != nil {
		return r.completeWithWarnings(ctx, findings, fmt.Errorf("synthesize call: %w", err))
	}

	out, err := llmgateway.ParseJSON[synthesizeOutput](result.Content)
	if err != nil {
		return r.completeWithWarnings(ctx, findings, fmt.Errorf("parse synthesize output: %w", err))
	}

	r.recordCost(ctx, synthesizeModel, result.InputTokens, result.OutputTokens)

	report := model.ReportSummary{
		ExecutiveSummary:      out.ExecutiveSummary,
		SecurityPosture:       out.SecurityPosture,
		ResponsibleDisclosure: out.ResponsibleDisclosure,
	}

	if err := r.deps.Store.Complete(ctx, r.audit.ID, model.StatusCompleted, report, maxSeverityOf(findings)); err != nil {
		return fmt.Errorf("orchestrator: complete audit: %w", err)
	}

	return nil
}

func (r *run) completeWithWarnings(ctx context.Context, findings []model.Finding, cause error) error {
	report := model.ReportSummary{ExecutiveSummary: fmt.Sprintf("synthesis failed: %v", cause)}

	if err := r.deps.Store.Complete(ctx, r.audit.ID, model.StatusCompletedWithWarnings, report, maxSeverityOf(findings)); err != nil {
		return fmt.Errorf("orchestrator: complete audit with warnings: %w", err)
	}

	return nil
}

func maxSeverityOf(findings []model.Finding) model.Severity {
	max := model.SeverityNone

	for _, f := range findings {
		max = model.MaxSeverity(max, f.Severity)
	}

	return max
}

// summaryDescriptionLen bounds how much of a finding's description enters the
// synthesis prompt, keeping the summary proportional to totalFindings rather
// than to the full narrative text stored on each finding.
const summaryDescriptionLen = 140

func summarizeFindings(findings []model.Finding) string {
	var sb strings.Builder

	for _, f := range findings {
		fmt.Fprintf(&sb, "[%s] %s (%s:%d-%d): %s\n", f.Severity, f.Title, f.FilePath, f.LineStart, f.LineEnd, truncate(f.Description, summaryDescriptionLen))
	}

	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
