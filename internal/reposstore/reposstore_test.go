package reposstore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewatch-dev/codewatch/internal/reposstore"
)

func TestStore_LocalPath(t *testing.T) {
	t.Parallel()

	s, err := reposstore.New(t.TempDir())
	require.NoError(t, err)

	got := s.LocalPath("github.com", "acme", "widgets")
	assert.Equal(t, filepath.Join(s.LocalPath("github.com", "acme", "widgets")), got)
	assert.Contains(t, got, filepath.Join("github.com", "acme", "widgets"))
}

func TestScanCodeFiles_FiltersBySkipDirAndExtension(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	mustWrite(t, filepath.Join(root, "main.go"), "package main\n")
	mustWrite(t, filepath.Join(root, "README"), "no extension, not infra")
	mustWrite(t, filepath.Join(root, "Dockerfile"), "FROM scratch\n")
	mustWrite(t, filepath.Join(root, "node_modules", "pkg", "index.js"), "module.exports = {}")
	mustWrite(t, filepath.Join(root, "empty.go"), "")

	files, err := reposstore.ScanCodeFiles(root)
	require.NoError(t, err)

	names := make(map[string]bool, len(files))
	for _, f := range files {
		names[f.RelativePath] = true
	}

	assert.True(t, names["main.go"])
	assert.True(t, names["Dockerfile"])
	assert.False(t, names["README"], "extensionless non-infra file excluded")
	assert.False(t, names["node_modules/pkg/index.js"], "node_modules excluded")
	assert.False(t, names["empty.go"], "zero-size file excluded")
}

func TestReadFileContent_RejectsPathTraversal(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "in.go"), "package main\n")

	_, err := reposstore.ReadFileContent(root, "in.go")
	require.NoError(t, err)

	_, err = reposstore.ReadFileContent(root, "../../../../etc/passwd")
	require.ErrorIs(t, err, reposstore.ErrPathTraversal)

	_, err = reposstore.ReadFileContent(root, "missing.go")
	require.ErrorIs(t, err, reposstore.ErrNotFound)
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}
