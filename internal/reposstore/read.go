package reposstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadFileContent reads relativePath under repoRoot after verifying the
// resolved absolute path stays within repoRoot. Any escape returns
// ErrPathTraversal with zero bytes read.
func ReadFileContent(repoRoot, relativePath string) ([]byte, error) {
	resolved, err := resolveWithinRoot(repoRoot, relativePath)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("%w: %s", ErrNotFound, relativePath)
		case errors.Is(err, os.ErrPermission):
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, relativePath)
		default:
			return nil, fmt.Errorf("%w: %s: %w", ErrIO, relativePath, err)
		}
	}

	return content, nil
}

// resolveWithinRoot cleans and resolves relativePath against repoRoot and
// verifies the result is repoRoot itself or is prefixed by repoRoot plus a
// path separator, so a
// traversal attempt can never reach outside the checkout.
func resolveWithinRoot(repoRoot, relativePath string) (string, error) {
	cleanRoot, err := filepath.Abs(filepath.Clean(repoRoot))
	if err != nil {
		return "", fmt.Errorf("%w: resolve root: %w", ErrIO, err)
	}

	joined := filepath.Join(cleanRoot, relativePath)

	resolved, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("%w: resolve path: %w", ErrIO, err)
	}

	if resolved != cleanRoot && !strings.HasPrefix(resolved, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, relativePath)
	}

	return resolved, nil
}
