package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codewatch-dev/codewatch/internal/access"
	"github.com/codewatch-dev/codewatch/internal/model"
)

type setFindingStatusRequest struct {
	Status string `json:"status"`
}

var validFindingStatuses = map[model.FindingStatus]bool{
	model.FindingOpen:          true,
	model.FindingFixed:         true,
	model.FindingFalsePositive: true,
	model.FindingAccepted:      true,
	model.FindingWontFix:       true,
}

// handleFindingSetStatus is PATCH /findings/{id}/status: a finding's triage
// status is mutable only by the resolved project owner.
func (s *Server) handleFindingSetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	var req setFindingStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	status := model.FindingStatus(req.Status)
	if !validFindingStatuses[status] {
		writeError(w, http.StatusBadRequest, "unrecognized status")
		return
	}

	finding, err := s.store.GetFinding(ctx, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "finding not found")
		return
	}

	audit, err := s.store.GetAudit(ctx, finding.AuditID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load audit")
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

	if err := s.store.SetFindingStatus(ctx, id, status); err != nil {
		writeError(w, http.StatusInternalServerError, "could not update finding status")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
