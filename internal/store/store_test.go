package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewatch-dev/codewatch/internal/model"
	"github.com/codewatch-dev/codewatch/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestProjectRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateProject(ctx, model.Project{
		GithubOrg:        "acme",
		GithubEntityType: "Organization",
		CreatedBy:        "alice",
		Name:             "acme-web",
	})
	require.NoError(t, err)

	got, err := s.GetProject(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "acme", got.GithubOrg)
	require.Empty(t, got.Category)

	err = s.SetClassification(ctx, id, model.Project{
		Category:           "web application",
		Description:        "a web app",
		ThreatModelSource:  model.ThreatModelGenerated,
		ThreatModelParties: []string{"end users", "operators"},
	}, "audit-1")
	require.NoError(t, err)

	got, err = s.GetProject(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "web application", got.Category)
	require.Equal(t, model.ThreatModelGenerated, got.ThreatModelSource)
	require.Equal(t, []string{"end users", "operators"}, got.ThreatModelParties)
	require.Equal(t, "audit-1", got.ClassificationAuditID)
}

func TestRepositoryUpsertSharesRow(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.UpsertRepository(ctx, model.Repository{RepoURL: "https://github.com/acme/web", RepoName: "web", LocalPath: "/repos/gh/acme/web"})
	require.NoError(t, err)

	id2, err := s.UpsertRepository(ctx, model.Repository{RepoURL: "https://github.com/acme/web", RepoName: "web", LocalPath: "/repos/gh/acme/web"})
	require.NoError(t, err)

	require.Equal(t, id1, id2)
}

func TestAuditLifecycle(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	projectID, err := s.CreateProject(ctx, model.Project{GithubOrg: "acme", CreatedBy: "alice", Name: "p"})
	require.NoError(t, err)

	auditID, err := s.CreateAudit(ctx, model.Audit{
		ProjectID:   projectID,
		RequesterID: "alice",
		Level:       model.LevelThorough,
		Progress:    model.NewCloningProgress(),
	})
	require.NoError(t, err)

	a, err := s.GetAudit(ctx, auditID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCloning, a.Status)
	require.Equal(t, model.ProgressCloning, a.Progress.Phase)

	require.NoError(t, s.SetTotals(ctx, auditID, 10, 30000, 3, 9000))
	require.NoError(t, s.SetStatus(ctx, auditID, model.StatusAnalyzing))

	analyzing := model.NewAnalyzingProgress([]string{"a.go", "b.go"}, nil)
	require.NoError(t, s.UpdateProgress(ctx, auditID, analyzing, 0))

	analyzing.MarkFile("a.go", model.FileStatusDone, 2)
	require.NoError(t, s.UpdateProgress(ctx, auditID, analyzing, 1))

	a, err = s.GetAudit(ctx, auditID)
	require.NoError(t, err)
	require.Equal(t, model.StatusAnalyzing, a.Status)
	require.Equal(t, 1, a.FilesAnalyzed)
	require.Equal(t, 10, a.TotalFiles)
	require.NotNil(t, a.StartedAt)

	require.NoError(t, s.Complete(ctx, auditID, model.StatusCompleted, model.ReportSummary{ExecutiveSummary: "ok"}, model.SeverityHigh))

	a, err = s.GetAudit(ctx, auditID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, a.Status)
	require.Equal(t, model.SeverityHigh, a.MaxSeverity)
	require.NotNil(t, a.ReportSummary)
	require.Equal(t, "ok", a.ReportSummary.ExecutiveSummary)
	require.NotNil(t, a.CompletedAt)
}

func TestFindingsDedupeByFingerprint(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	projectID, err := s.CreateProject(ctx, model.Project{GithubOrg: "acme", CreatedBy: "alice", Name: "p"})
	require.NoError(t, err)

	auditID, err := s.CreateAudit(ctx, model.Audit{ProjectID: projectID, RequesterID: "alice", Level: model.LevelFull, Progress: model.NewCloningProgress()})
	require.NoError(t, err)

	f := model.Finding{
		AuditID:     auditID,
		FilePath:    "web/a.go",
		LineStart:   10,
		LineEnd:     12,
		Severity:    model.SeverityHigh,
		Title:       "SQL injection",
		Status:      model.FindingOpen,
		Fingerprint: "abc123",
	}

	require.NoError(t, s.InsertFindings(ctx, []model.Finding{f, f}))

	findings, err := s.ListFindings(ctx, auditID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
}

func TestComponentsPreservedWhenReferencedByFinding(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	projectID, err := s.CreateProject(ctx, model.Project{GithubOrg: "acme", CreatedBy: "alice", Name: "p"})
	require.NoError(t, err)

	repoID, err := s.UpsertRepository(ctx, model.Repository{RepoURL: "https://github.com/acme/web", RepoName: "web", LocalPath: "/x"})
	require.NoError(t, err)

	components, err := s.ReplaceComponentsAndDependencies(ctx, projectID, []model.Component{
		{RepoID: repoID, Name: "server", Role: model.RoleServer, FilePatterns: []string{"server/**"}},
	}, nil)
	require.NoError(t, err)
	require.Len(t, components, 1)

	auditID, err := s.CreateAudit(ctx, model.Audit{ProjectID: projectID, RequesterID: "alice", Level: model.LevelFull, Progress: model.NewCloningProgress()})
	require.NoError(t, err)

	require.NoError(t, s.InsertFindings(ctx, []model.Finding{{
		AuditID: auditID, ComponentID: components[0].ID, FilePath: "server/a.go",
		Severity: model.SeverityLow, Title: "t", Status: model.FindingOpen, Fingerprint: "f1",
	}}))

	// Re-analysis with zero components returned should still preserve the
	// referenced component row.
	replaced, err := s.ReplaceComponentsAndDependencies(ctx, projectID, nil, nil)
	require.NoError(t, err)
	require.Empty(t, replaced)

	remaining, err := s.ListComponents(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, components[0].ID, remaining[0].ID)
}
