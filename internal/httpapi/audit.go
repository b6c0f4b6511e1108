package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codewatch-dev/codewatch/internal/access"
	"github.com/codewatch-dev/codewatch/internal/model"
)

type startAuditRequest struct {
	ProjectID    string   `json:"projectId"`
	Level        string   `json:"level"`
	APIKey       string   `json:"apiKey"`
	BaseAuditID  string   `json:"baseAuditId"`
	ComponentIDs []string `json:"componentIds"`
}

type startAuditResponse struct {
	AuditID string `json:"auditId"`
}

// handleAuditStart is POST /audit/start: creates the audit row in status
// cloning and launches orchestrator.Run in its own goroutine, communicating
// progress exclusively through the store from then on.
func (s *Server) handleAuditStart(w http.ResponseWriter, r *http.Request) {
	var req startAuditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if req.ProjectID == "" || req.Level == "" || req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "projectId, level, and apiKey are required")
		return
	}

	viewer := viewerFromRequest(r)

	audit := model.Audit{
		ProjectID:       req.ProjectID,
		RequesterID:     viewer.ID,
		Level:           model.AuditLevel(req.Level),
		IsIncremental:   req.BaseAuditID != "",
		BaseAuditID:     req.BaseAuditID,
		ComponentScoped: len(req.ComponentIDs) > 0,
		ComponentIDs:    req.ComponentIDs,
	}

	auditID, err := s.store.CreateAudit(r.Context(), audit)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "create audit failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create audit")

		return
	}

	apiKey := req.APIKey

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()

		if err := s.runner.Run(ctx, apiKey, auditID); err != nil {
			s.logger.ErrorContext(ctx, "audit run failed", "audit_id", auditID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, startAuditResponse{AuditID: auditID})
}

type auditStatusResponse struct {
	ID             string            `json:"id"`
	ProjectID      string            `json:"projectId"`
	Status         model.AuditStatus `json:"status"`
	Progress       model.Progress    `json:"progress"`
	TotalFiles     int               `json:"totalFiles"`
	FilesToAnalyze int               `json:"filesToAnalyze"`
	FilesAnalyzed  int               `json:"filesAnalyzed"`
	MaxSeverity    model.Severity    `json:"maxSeverity,omitempty"`
	ErrorMessage   string            `json:"errorMessage,omitempty"`
}

// handleAuditGet is GET /audit/{id}: status + progress, no tier filtering
// (this endpoint never returns finding content).
func (s *Server) handleAuditGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	audit, err := s.store.GetAudit(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "audit not found")
		return
	}

	writeJSON(w, http.StatusOK, auditStatusResponse{
		ID:             audit.ID,
		ProjectID:      audit.ProjectID,
		Status:         audit.Status,
		Progress:       audit.Progress,
		TotalFiles:     audit.TotalFiles,
		FilesToAnalyze: audit.FilesToAnalyze,
		FilesAnalyzed:  audit.FilesAnalyzed,
		MaxSeverity:    audit.MaxSeverity,
		ErrorMessage:   audit.ErrorMessage,
	})
}

type auditReportResponse struct {
	AuditID            string                 `json:"auditId"`
	Tier               model.AccessTier       `json:"tier"`
	ReportSummary      *model.ReportSummary   `json:"reportSummary,omitempty"`
	MaxSeverity        model.Severity         `json:"maxSeverity"`
	Findings           []findingDTO           `json:"findings"`
	SeverityCounts     map[model.Severity]int `json:"severityCounts,omitempty"`
	RedactedSeverities []model.Severity       `json:"redactedSeverities,omitempty"`
}

// findingDTO is model.Finding reshaped with the camelCase JSON tags the
// model package itself omits (its fields are written via explicit SQL
// columns, not marshaled directly).
type findingDTO struct {
	ID             string              `json:"id"`
	ComponentID    string              `json:"componentId,omitempty"`
	FilePath       string              `json:"filePath,omitempty"`
	LineStart      int                 `json:"lineStart,omitempty"`
	LineEnd        int                 `json:"lineEnd,omitempty"`
	Severity       model.Severity      `json:"severity"`
	CWEID          string              `json:"cweId,omitempty"`
	CVSSScore      float64             `json:"cvssScore,omitempty"`
	Title          string              `json:"title,omitempty"`
	Description    string              `json:"description,omitempty"`
	Exploitation   string              `json:"exploitation,omitempty"`
	Recommendation string              `json:"recommendation,omitempty"`
	CodeSnippet    string              `json:"codeSnippet,omitempty"`
	Status         model.FindingStatus `json:"status"`
}

func toFindingDTOs(findings []model.Finding) []findingDTO {
	out := make([]findingDTO, len(findings))

	for i, f := range findings {
		out[i] = findingDTO{
			ID:             f.ID,
			ComponentID:    f.ComponentID,
			FilePath:       f.FilePath,
			LineStart:      f.LineStart,
			LineEnd:        f.LineEnd,
			Severity:       f.Severity,
			CWEID:          f.CWEID,
			CVSSScore:      f.CVSSScore,
			Title:          f.Title,
			Description:    f.Description,
			Exploitation:   f.Exploitation,
			Recommendation: f.Recommendation,
			CodeSnippet:    f.CodeSnippet,
			Status:         f.Status,
		}
	}

	return out
}

// handleAuditReport is GET /audit/{id}/report: resolves the viewer's access
// tier and returns the correspondingly redacted finding set.
func (s *Server) handleAuditReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	audit, err := s.store.GetAudit(ctx, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "audit not found")
		return
	}

	project, err := s.store.GetProject(ctx, audit.ProjectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load project")
		return
	}

	tier, _, err := access.ResolveTier(ctx, s.resolver, audit, project.GithubOrg, viewerFromRequest(r), time.Now())
	if err != nil {
		writeError(w, http.StatusBadGateway, "could not resolve access")
		return
	}

	findings, err := s.store.ListFindings(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load findings")
		return
	}

	resp := auditReportResponse{
		AuditID:     id,
		Tier:        tier,
		MaxSeverity: audit.MaxSeverity,
		Findings:    toFindingDTOs(access.RedactForTier(findings, tier)),
	}

	if tier == model.TierOwner || tier == model.TierRequester {
		resp.ReportSummary = audit.ReportSummary
	}

	if tier == model.TierPublic {
		resp.SeverityCounts = access.SeverityCounts(findings)
		resp.RedactedSeverities = access.RedactedSeverities(findings)
		resp.ReportSummary = audit.ReportSummary
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleAuditPublish is POST /audit/{id}/publish: only the resolved owner
// tier may force an audit fully public ahead of its disclosure timer.
func (s *Server) handleAuditPublish(w http.ResponseWriter, r *http.Request) {
	s.requireOwner(w, r, func(ctx context.Context, auditID string) error {
		return access.Publish(ctx, s.store, auditID)
	})
}

// handleAuditUnpublish is POST /audit/{id}/unpublish.
func (s *Server) handleAuditUnpublish(w http.ResponseWriter, r *http.Request) {
	s.requireOwner(w, r, func(ctx context.Context, auditID string) error {
		return access.Unpublish(ctx, s.store, auditID)
	})
}

// handleAuditNotifyOwner is POST /audit/{id}/notify-owner: callable by the
// requester once the audit has completed.
func (s *Server) handleAuditNotifyOwner(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	audit, err := s.store.GetAudit(ctx, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "audit not found")
		return
	}

	viewer := viewerFromRequest(r)
	if audit.RequesterID == "" || audit.RequesterID != viewer.ID {
		writeError(w, http.StatusForbidden, "only the requester may notify the owner")
		return
	}

	if audit.Status != model.StatusCompleted {
		writeError(w, http.StatusConflict, "audit must be completed before notifying the owner")
		return
	}

	publishableAfter, err := access.NotifyOwner(ctx, s.store, audit, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not notify owner")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"publishableAfter": publishableAfter})
}

func (s *Server) requireOwner(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, auditID string) error) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	audit, err := s.store.GetAudit(ctx, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "audit not found")
		return
	}

	project, err := s.store.GetProject(ctx, audit.ProjectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load project")
		return
	}

	tier, _, err := access.ResolveTier(ctx, s.resolver, audit, project.GithubOrg, viewerFromRequest(r), time.Now())
	if err != nil {
		writeError(w, http.StatusBadGateway, "could not resolve access")
		return
	}

	if tier != model.TierOwner {
		writeError(w, http.StatusForbidden, "owner access required")
		return
	}

	if err := action(ctx, id); err != nil {
		writeError(w, http.StatusInternalServerError, "could not apply change")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
