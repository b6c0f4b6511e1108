// Package orchestrator is the audit state machine: it drives one audit
// through clone, incremental diff, classify, plan, analyze, attribute,
// and synthesize, persisting progress and findings as it goes and leaving
// the audit in a terminal status (completed, completed_with_warnings, or
// failed) when Run returns.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codewatch-dev/codewatch/internal/llmgateway"
	"github.com/codewatch-dev/codewatch/internal/model"
	"github.com/codewatch-dev/codewatch/internal/progress"
	"github.com/codewatch-dev/codewatch/internal/reposstore"
	"github.com/codewatch-dev/codewatch/internal/tokens"
	"github.com/codewatch-dev/codewatch/pkg/observability"
)

// Store is the persistence surface the orchestrator depends on. It is a
// narrow view of *store.Store: exactly the methods one audit run touches.
type Store interface {
	GetAudit(ctx context.Context, id string) (model.Audit, error)
	SetStatus(ctx context.Context, auditID string, status model.AuditStatus) error
	SetTotals(ctx context.Context, auditID string, totalFiles int, totalTokens int64, filesToAnalyze int, tokensToAnalyze int64) error
	SetDiff(ctx context.Context, auditID string, added, modified, deleted []string) error
	UpdateProgress(ctx context.Context, auditID string, p model.Progress, filesAnalyzed int) error
	AddCost(ctx context.Context, auditID string, delta float64) error
	Complete(ctx context.Context, auditID string, status model.AuditStatus, report model.ReportSummary, maxSeverity model.Severity) error
	Fail(ctx context.Context, auditID, message string) error
	UpsertAuditCommit(ctx context.Context, auditID, repoID, commitSHA, branch string) error
	GetAuditCommits(ctx context.Context, auditID string) ([]model.AuditCommit, error)
	InsertFindings(ctx context.Context, findings []model.Finding) error
	ListFindings(ctx context.Context, auditID string) ([]model.Finding, error)
	ListOpenFindings(ctx context.Context, auditID string) ([]model.Finding, error)
	MarkFindingResolved(ctx context.Context, findingID, resolvedInAuditID string) error
	GetComponentsByIDs(ctx context.Context, ids []string) ([]model.Component, error)
	UpsertAuditComponent(ctx context.Context, auditID, componentID string, tokensAnalyzed int64, findingsCount int) error
	GetProject(ctx context.Context, id string) (model.Project, error)
	SetClassification(ctx context.Context, projectID string, p model.Project, classificationAuditID string) error
	ListProjectRepos(ctx context.Context, projectID string) ([]model.Repository, error)
	LoadPricingTable(ctx context.Context) (*tokens.Table, error)
}

// ShallowSinceResolver resolves the commit date to pass as git's
// --shallow-since for an incremental audit's clone, via whatever upstream
// provider API the caller wires in (e.g. the GitHub commit API). A non-nil
// error is treated as best-effort failure: clonePhase logs a warning and
// falls back to a full clone rather than aborting the audit.
type ShallowSinceResolver func(ctx context.Context, repo model.Repository, baseCommitSHA string) (string, error)

// Deps are the orchestrator's external dependencies for one process.
type Deps struct {
	Store        Store
	Repos        *reposstore.Store
	Gateway      *llmgateway.Gateway
	APIKey       string
	ShallowSince ShallowSinceResolver
	AuditMetrics *observability.AuditMetrics
	Logger       *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}

	return slog.Default()
}

// repoInfo is one repository's clone state for the run in progress.
type repoInfo struct {
	repo      model.Repository
	localRoot string
	files     []model.ScannedFile
}

// fileLocation locates a namespaced ("repoName/relative/path") file on disk
// along with its rough token count, so later phases never need to re-walk
// the repo set to resolve a path back to bytes.
type fileLocation struct {
	repoRoot string
	repoName string
	relPath  string
	tokens   int64
}

// run carries one audit's mutable state across phases. A fresh run is built
// per Run call; nothing here is safe to share across audits.
type run struct {
	deps    Deps
	audit   model.Audit
	project model.Project

	repos         []repoInfo
	fileIndex     map[string]fileLocation
	baseCommits   map[string]model.AuditCommit
	headSHAByRepo map[string]string

	componentProfiles      string
	selectedFiles          []string
	filesToAnalyzeOverride []string
	filesAnalyzed          int

	seenFingerprints  map[string]bool
	inheritedFindings []model.Finding

	pricing *tokens.Table
	bus     *progress.Bus
}

// Run drives auditID through the full Phase 0-6 pipeline. On any phase
// error it persists the audit as failed with the causing error's message
// and returns that error to the caller; on success the audit is left
// completed or completed_with_warnings by the synthesize phase.
func Run(ctx context.Context, deps Deps, auditID string) error {
	audit, err := deps.Store.GetAudit(ctx, auditID)
	if err != nil {
		return fmt.Errorf("orchestrator: load audit: %w", err)
	}

	project, err := deps.Store.GetProject(ctx, audit.ProjectID)
	if err != nil {
		return fmt.Errorf("orchestrator: load project: %w", err)
	}

	pricing, err := deps.Store.LoadPricingTable(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: load pricing table: %w", err)
	}

	r := &run{
		deps:             deps,
		audit:            audit,
		project:          project,
		seenFingerprints: make(map[string]bool),
		pricing:          pricing,
		bus:              progress.New(deps.Store, auditID),
	}

	if err := r.execute(ctx); err != nil {
		if failErr := deps.Store.Fail(ctx, auditID, err.Error()); failErr != nil {
			deps.logger().ErrorContext(ctx, "orchestrator: could not persist failure",
				"audit_id", auditID, "cause", err, "fail_error", failErr)
		}

		return err
	}

	return nil
}

func (r *run) execute(ctx context.Context) error {
	if err := r.bus.Write(ctx, model.NewCloningProgress(), 0); err != nil {
		return fmt.Errorf("orchestrator: init cloning progress: %w", err)
	}

	if err := r.clonePhase(ctx); err != nil {
		return err
	}

	if r.audit.IsIncremental && r.audit.BaseAuditID != "" {
		if err := r.incrementalPhase(ctx); err != nil {
			return err
		}
	}

	// Classification is a one-time, irreversible step per project: skip it
	// entirely once a prior audit has already classified the project.
	if r.project.Category == "" {
		if err := r.deps.Store.SetStatus(ctx, r.audit.ID, model.StatusClassifying); err != nil {
			return fmt.Errorf("orchestrator: set status classifying: %w", err)
		}

		if err := r.classifyPhase(ctx); err != nil {
			return err
		}
	}

	if r.filesToAnalyzeOverride != nil {
		if err := r.applyIncrementalSelection(ctx); err != nil {
			return err
		}
	} else {
		if err := r.deps.Store.SetStatus(ctx, r.audit.ID, model.StatusPlanning); err != nil {
			return fmt.Errorf("orchestrator: set status planning: %w", err)
		}

		if err := r.bus.Write(ctx, model.NewPlanningProgress(), 0); err != nil {
			return fmt.Errorf("orchestrator: init planning progress: %w", err)
		}

		if err := r.planPhase(ctx); err != nil {
			return err
		}
	}

	if err := r.deps.Store.SetStatus(ctx, r.audit.ID, model.StatusAnalyzing); err != nil {
		return fmt.Errorf("orchestrator: set status analyzing: %w", err)
	}

	if err := r.analyzePhase(ctx); err != nil {
		return err
	}

	if err := r.attributePhase(ctx); err != nil {
		return err
	}

	if err := r.deps.Store.SetStatus(ctx, r.audit.ID, model.StatusSynthesizing); err != nil {
		return fmt.Errorf("orchestrator: set status synthesizing: %w", err)
	}

	return r.synthesizePhase(ctx)
}

// applyIncrementalSelection skips Phase 3 entirely for incremental audits:
// the diff computed in Phase 1 already names exactly the files worth
// re-analyzing.
func (r *run) applyIncrementalSelection(ctx context.Context) error {
	r.selectedFiles = r.filesToAnalyzeOverride

	var tokensToAnalyze int64
	for _, ns := range r.selectedFiles {
		tokensToAnalyze += r.fileIndex[ns].tokens
	}

	if err := r.deps.Store.SetTotals(ctx, r.audit.ID, r.audit.TotalFiles, r.audit.TotalTokens, len(r.selectedFiles), tokensToAnalyze); err != nil {
		return fmt.Errorf("orchestrator: set incremental totals: %w", err)
	}

	r.audit.FilesToAnalyze = len(r.selectedFiles)
	r.audit.TokensToAnalyze = tokensToAnalyze

	return nil
}

func namespacedPath(repoName, relPath string) string {
	return repoName + "/" + relPath
}

func (r *run) recordCost(ctx context.Context, modelID string, inputTokens, outputTokens int64) {
	cost := tokens.CallCost(inputTokens, outputTokens, r.pricing.Lookup(modelID))

	if err := r.deps.Store.AddCost(ctx, r.audit.ID, cost); err != nil {
		r.deps.logger().ErrorContext(ctx, "orchestrator: failed to record call cost", "audit_id", r.audit.ID, "error", err)
	}
}
