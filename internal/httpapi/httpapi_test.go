package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewatch-dev/codewatch/internal/model"
	"github.com/codewatch-dev/codewatch/internal/ownership"
)

type fakeStore struct {
	audits   map[string]model.Audit
	projects map[string]model.Project
	findings map[string]model.Finding
	byAudit  map[string][]model.Finding
	created  []model.Audit
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		audits:   map[string]model.Audit{},
		projects: map[string]model.Project{},
		findings: map[string]model.Finding{},
		byAudit:  map[string][]model.Finding{},
	}
}

func (f *fakeStore) CreateAudit(_ context.Context, a model.Audit) (string, error) {
	a.ID = "audit-new"
	f.audits[a.ID] = a
	f.created = append(f.created, a)

	return a.ID, nil
}

func (f *fakeStore) GetAudit(_ context.Context, id string) (model.Audit, error) {
	a, ok := f.audits[id]
	if !ok {
		return model.Audit{}, assert.AnError
	}

	return a, nil
}

func (f *fakeStore) GetProject(_ context.Context, id string) (model.Project, error) {
	return f.projects[id], nil
}

func (f *fakeStore) ListFindings(_ context.Context, auditID string) ([]model.Finding, error) {
	return f.byAudit[auditID], nil
}

func (f *fakeStore) GetFinding(_ context.Context, id string) (model.Finding, error) {
	fnd, ok := f.findings[id]
	if !ok {
		return model.Finding{}, assert.AnError
	}

	return fnd, nil
}

func (f *fakeStore) SetFindingStatus(_ context.Context, id string, status model.FindingStatus) error {
	fnd := f.findings[id]
	fnd.Status = status
	f.findings[id] = fnd

	return nil
}

func (f *fakeStore) SetDisclosure(_ context.Context, auditID string, notifiedAt time.Time, publishableAfter *time.Time) error {
	a := f.audits[auditID]
	a.OwnerNotified = true
	a.OwnerNotifiedAt = &notifiedAt
	a.PublishableAfter = publishableAfter
	f.audits[auditID] = a

	return nil
}

func (f *fakeStore) SetPublic(_ context.Context, auditID string, public bool) error {
	a := f.audits[auditID]
	a.IsPublic = public
	f.audits[auditID] = a

	return nil
}

func (f *fakeStore) ClearPublishableAfter(_ context.Context, auditID string) error {
	a := f.audits[auditID]
	a.PublishableAfter = nil
	f.audits[auditID] = a

	return nil
}

type fakeRunner struct {
	calledWith string
}

func (f *fakeRunner) Run(_ context.Context, _, auditID string) error {
	f.calledWith = auditID
	return nil
}

func newTestServer() (*Server, *fakeStore, *fakeRunner) {
	st := newFakeStore()
	run := &fakeRunner{}
	srv := New(st, ownership.New(), run, nil)

	return srv, st, run
}

func TestHandleAuditStart_CreatesAuditAndReturnsID(t *testing.T) {
	t.Parallel()

	srv, st, _ := newTestServer()

	body := strings.NewReader(`{"projectId":"proj-1","level":"thorough","apiKey":"sk-test"}`)
	req := httptest.NewRequest(http.MethodPost, "/audit/start", body)
	w := httptest.NewRecorder()

	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "audit-new")
	require.Len(t, st.created, 1)
	assert.Equal(t, model.LevelThorough, st.created[0].Level)
}

func TestHandleAuditStart_RejectsMissingFields(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/audit/start", strings.NewReader(`{"level":"thorough"}`))
	w := httptest.NewRecorder()

	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAuditGet_ReturnsStatusAndProgress(t *testing.T) {
	t.Parallel()

	srv, st, _ := newTestServer()
	st.audits["a1"] = model.Audit{ID: "a1", ProjectID: "p1", Status: model.StatusAnalyzing, FilesAnalyzed: 2}

	req := httptest.NewRequest(http.MethodGet, "/audit/a1", nil)
	w := httptest.NewRecorder()

	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"analyzing"`)
}

func TestHandleAuditReport_PublicTierRedactsFindings(t *testing.T) {
	t.Parallel()

	srv, st, _ := newTestServer()
	st.audits["a1"] = model.Audit{ID: "a1", ProjectID: "p1", RequesterID: "someone-else", MaxSeverity: model.SeverityHigh}
	st.projects["p1"] = model.Project{ID: "p1", GithubOrg: "acme"}
	st.byAudit["a1"] = []model.Finding{{ID: "f1", Severity: model.SeverityHigh, Title: "SQL injection"}}

	req := httptest.NewRequest(http.MethodGet, "/audit/a1/report", nil)
	w := httptest.NewRecorder()

	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"tier":"public"`)
	assert.Contains(t, w.Body.String(), `"severityCounts"`)
	assert.NotContains(t, w.Body.String(), "SQL injection")
}

func TestHandleAuditReport_RequesterTierRedactsSensitiveFields(t *testing.T) {
	t.Parallel()

	srv, st, _ := newTestServer()
	st.audits["a1"] = model.Audit{ID: "a1", ProjectID: "p1", RequesterID: "alice"}
	st.projects["p1"] = model.Project{ID: "p1", GithubOrg: "acme"}
	st.byAudit["a1"] = []model.Finding{{ID: "f1", Severity: model.SeverityHigh, Title: "SQL injection", FilePath: "repo/a.go"}}

	req := httptest.NewRequest(http.MethodGet, "/audit/a1/report", nil)
	req.Header.Set(headerRequesterID, "alice")
	w := httptest.NewRecorder()

	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"tier":"requester"`)
	assert.NotContains(t, w.Body.String(), "SQL injection")
}

func TestHandleFindingSetStatus_ForbiddenForNonOwner(t *testing.T) {
	t.Parallel()

	srv, st, _ := newTestServer()
	st.audits["a1"] = model.Audit{ID: "a1", ProjectID: "p1", RequesterID: "alice"}
	st.projects["p1"] = model.Project{ID: "p1", GithubOrg: "acme"}
	st.findings["f1"] = model.Finding{ID: "f1", AuditID: "a1", Status: model.FindingOpen}

	req := httptest.NewRequest(http.MethodPatch, "/findings/f1/status", strings.NewReader(`{"status":"fixed"}`))
	w := httptest.NewRecorder()

	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, model.FindingOpen, st.findings["f1"].Status)
}

func TestHandleFindingSetStatus_RejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	srv, st, _ := newTestServer()
	st.findings["f1"] = model.Finding{ID: "f1", AuditID: "a1"}
	st.audits["a1"] = model.Audit{ID: "a1", ProjectID: "p1"}
	st.projects["p1"] = model.Project{ID: "p1"}

	req := httptest.NewRequest(http.MethodPatch, "/findings/f1/status", strings.NewReader(`{"status":"bogus"}`))
	w := httptest.NewRecorder()

	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
