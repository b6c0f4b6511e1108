package orchestrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewatch-dev/codewatch/internal/model"
)

func TestComputeFingerprint_DeterministicAndLength(t *testing.T) {
	t.Parallel()

	a := computeFingerprint("web/server.go", 10, 20, "SQL injection", "db.Query(userInput)")
	b := computeFingerprint("web/server.go", 10, 20, "SQL injection", "db.Query(userInput)")
	assert.Equal(t, a, b)
	assert.Len(t, a, fingerprintLen)
}

func TestComputeFingerprint_DiffersOnAnyComponent(t *testing.T) {
	t.Parallel()

	base := computeFingerprint("web/server.go", 10, 20, "SQL injection", "db.Query(x)")

	assert.NotEqual(t, base, computeFingerprint("web/other.go", 10, 20, "SQL injection", "db.Query(x)"))
	assert.NotEqual(t, base, computeFingerprint("web/server.go", 11, 20, "SQL injection", "db.Query(x)"))
	assert.NotEqual(t, base, computeFingerprint("web/server.go", 10, 20, "Command injection", "db.Query(x)"))
	assert.NotEqual(t, base, computeFingerprint("web/server.go", 10, 20, "SQL injection", "db.Query(y)"))
}

func TestComputeFingerprint_TruncatesSnippetBefore100Chars(t *testing.T) {
	t.Parallel()

	long := ""
	for i := 0; i < 200; i++ {
		long += "a"
	}

	short := long[:100]

	assert.Equal(t, computeFingerprint("f.go", 1, 2, "t", long), computeFingerprint("f.go", 1, 2, "t", short))
}

func TestPackBatches_SplitsWhenOverLimit(t *testing.T) {
	t.Parallel()

	index := map[string]fileLocation{
		"repo/a.go": {tokens: 60_000},
		"repo/b.go": {tokens: 60_000},
		"repo/c.go": {tokens: 60_000},
	}

	batches := packBatches([]string{"repo/a.go", "repo/b.go", "repo/c.go"}, index, 100_000)

	require.Len(t, batches, 3)
	assert.Equal(t, []string{"repo/a.go"}, batches[0])
	assert.Equal(t, []string{"repo/b.go"}, batches[1])
	assert.Equal(t, []string{"repo/c.go"}, batches[2])
}

func TestPackBatches_OversizedFileGetsItsOwnBatch(t *testing.T) {
	t.Parallel()

	index := map[string]fileLocation{
		"repo/huge.go": {tokens: 500_000},
		"repo/tiny.go": {tokens: 10},
	}

	batches := packBatches([]string{"repo/huge.go", "repo/tiny.go"}, index, 150_000)

	require.Len(t, batches, 2)
	assert.Equal(t, []string{"repo/huge.go"}, batches[0])
	assert.Equal(t, []string{"repo/tiny.go"}, batches[1])
}

func TestPackBatches_EmptyInput(t *testing.T) {
	t.Parallel()

	assert.Empty(t, packBatches(nil, map[string]fileLocation{}, 150_000))
}

func TestHeuristicFallback_SelectsPatternMatchesWithinBudget(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "auth.go"), "func CheckPassword(secret string) bool { return verifyAuth(secret) }")
	mustWriteFile(t, filepath.Join(root, "render.go"), "func RenderHomepage() string { return \"<html></html>\" }")

	r := &run{
		audit: model.Audit{Level: model.LevelThorough, TotalTokens: 1000},
		fileIndex: map[string]fileLocation{
			"repo/auth.go":   {repoRoot: root, repoName: "repo", relPath: "auth.go", tokens: 500},
			"repo/render.go": {repoRoot: root, repoName: "repo", relPath: "render.go", tokens: 500},
		},
	}

	selected := r.heuristicFallback()

	require.NotEmpty(t, selected)
	assert.Contains(t, selected, "repo/auth.go")
}

func TestHeuristicFallback_TakesTopCeilNTimesBudgetByScore(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	// 4 files match at least one pattern, with strictly descending score;
	// thorough's 0.33 budget over n=4 scored files is ceil(4*0.33) = 2.
	mustWriteFile(t, filepath.Join(root, "auth.go"), "auth auth auth password secret token")
	mustWriteFile(t, filepath.Join(root, "session.go"), "session session token")
	mustWriteFile(t, filepath.Join(root, "admin.go"), "admin")
	mustWriteFile(t, filepath.Join(root, "sudo.go"), "sudo")
	mustWriteFile(t, filepath.Join(root, "render.go"), "func RenderHomepage() string { return \"<html></html>\" }")

	r := &run{
		audit: model.Audit{Level: model.LevelThorough, TotalTokens: 1000},
		fileIndex: map[string]fileLocation{
			"repo/auth.go":    {repoRoot: root, repoName: "repo", relPath: "auth.go", tokens: 100},
			"repo/session.go": {repoRoot: root, repoName: "repo", relPath: "session.go", tokens: 100},
			"repo/admin.go":   {repoRoot: root, repoName: "repo", relPath: "admin.go", tokens: 100},
			"repo/sudo.go":    {repoRoot: root, repoName: "repo", relPath: "sudo.go", tokens: 100},
			"repo/render.go":  {repoRoot: root, repoName: "repo", relPath: "render.go", tokens: 100},
		},
	}

	selected := r.heuristicFallback()

	require.Len(t, selected, 2)
	assert.Equal(t, []string{"repo/auth.go", "repo/session.go"}, selected)
}

func TestHeuristicFallback_NeverReturnsEmpty(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "render.go"), "func RenderHomepage() string { return \"<html></html>\" }")

	r := &run{
		audit: model.Audit{Level: model.LevelOpportunistic, TotalTokens: 1000},
		fileIndex: map[string]fileLocation{
			"repo/render.go": {repoRoot: root, repoName: "repo", relPath: "render.go", tokens: 500},
		},
	}

	selected := r.heuristicFallback()
	assert.Len(t, selected, 1)
}

func TestPriorFindingsContext_IncludesOnlyFindingsForFilesInBatch(t *testing.T) {
	t.Parallel()

	inherited := []model.Finding{
		{FilePath: "repo/auth.go", Severity: model.SeverityHigh, Title: "Hardcoded secret", LineStart: 10, LineEnd: 12},
		{FilePath: "repo/other.go", Severity: model.SeverityLow, Title: "Unrelated", LineStart: 1, LineEnd: 1},
	}

	ctxBlock := priorFindingsContext([]string{"repo/auth.go"}, inherited)

	assert.Contains(t, ctxBlock, "Hardcoded secret")
	assert.Contains(t, ctxBlock, "repo/auth.go:10-12")
	assert.NotContains(t, ctxBlock, "Unrelated")
}

func TestPriorFindingsContext_EmptyWhenNoneMatch(t *testing.T) {
	t.Parallel()

	inherited := []model.Finding{
		{FilePath: "repo/other.go", Severity: model.SeverityLow, Title: "Unrelated"},
	}

	assert.Empty(t, priorFindingsContext([]string{"repo/auth.go"}, inherited))
}

func TestMatchComponent_MatchesNamespacedGlob(t *testing.T) {
	t.Parallel()

	components := []model.Component{
		{ID: "c1", RepoID: "repo-1", FilePatterns: []string{"server/**"}},
		{ID: "c2", RepoID: "repo-1", FilePatterns: []string{"client/*.tsx"}},
	}
	repoNames := map[string]string{"repo-1": "web"}

	c, ok := matchComponent("web/server/handler.go", components, repoNames)
	require.True(t, ok)
	assert.Equal(t, "c1", c.ID)

	_, ok = matchComponent("web/docs/readme.md", components, repoNames)
	assert.False(t, ok)
}

func TestReadThreatModelFromRepo_FindsConventionalFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "SECURITY.md"), "# Threat model\n\nAttackers include malicious org members.")

	r := &run{
		fileIndex: map[string]fileLocation{
			"web/SECURITY.md": {repoRoot: root, repoName: "web", relPath: "SECURITY.md"},
			"web/main.go":     {repoRoot: root, repoName: "web", relPath: "main.go"},
		},
	}

	text, files, ok := r.readThreatModelFromRepo()
	require.True(t, ok)
	assert.Contains(t, text, "malicious org members")
	assert.Equal(t, []string{"web/SECURITY.md"}, files)
}

func TestReadThreatModelFromRepo_NoConventionalFile(t *testing.T) {
	t.Parallel()

	r := &run{
		fileIndex: map[string]fileLocation{
			"web/main.go": {repoRoot: t.TempDir(), repoName: "web", relPath: "main.go"},
		},
	}

	_, _, ok := r.readThreatModelFromRepo()
	assert.False(t, ok)
}

func TestBuildGeneratedThreatModel_MentionsPartiesAndCategory(t *testing.T) {
	t.Parallel()

	text := buildGeneratedThreatModel("fintech API", "processes payments", []string{"end users", "card networks"})
	assert.Contains(t, text, "fintech API")
	assert.Contains(t, text, "end users")
	assert.Contains(t, text, "card networks")
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}
