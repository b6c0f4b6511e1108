// Package reposstore clones and updates local checkouts of audited
// repositories, scans them for code files under strict size/path rules, and
// diffs commits for incremental audits. All mutation happens through the
// system git binary; the working tree itself is the cache.
package reposstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrPathTraversal is returned when a resolved path escapes the repo root.
	ErrPathTraversal = errors.New("path traversal")
	// ErrNotFound is returned when the requested file does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrPermissionDenied is returned when the process may not read the file.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrIO wraps any other filesystem error.
	ErrIO = errors.New("io error")
	// ErrNoCommits is returned when a freshly cloned repo has no commits.
	ErrNoCommits = errors.New("repository has no commits")
)

const maxFileSize = 1 << 20 // 1 MiB

// codeExtensions is the curated set of source extensions eligible for scanning.
var codeExtensions = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".rb": true, ".java": true, ".kt": true, ".c": true,
	".h": true, ".cc": true, ".cpp": true, ".hpp": true, ".cs": true,
	".php": true, ".rs": true, ".swift": true, ".scala": true, ".sh": true,
	".sql": true, ".yaml": true, ".yml": true, ".json": true, ".tf": true,
	".proto": true, ".graphql": true, ".vue": true, ".svelte": true,
}

// codeBasenames is the curated set of extension-less infra files eligible for scanning.
var codeBasenames = map[string]bool{
	"Dockerfile": true, "Makefile": true, "Procfile": true,
}

// skipDirs are ancestor directory names excluded from scanning entirely.
var skipDirs = map[string]bool{
	"node_modules": true, ".git": true, "vendor": true, "dist": true,
	"build": true, "__pycache__": true, "target": true, ".next": true,
	"bin": true, "obj": true,
}

// Store clones/updates repositories under a shared root directory and
// serves guarded reads and scans against those checkouts.
type Store struct {
	reposRoot string

	mu     sync.Mutex
	inFlight map[string]*sync.Mutex
}

// New returns a Store rooted at reposRoot (created if missing).
func New(reposRoot string) (*Store, error) {
	if err := os.MkdirAll(reposRoot, 0o750); err != nil {
		return nil, fmt.Errorf("create repos root %s: %w", reposRoot, err)
	}

	return &Store{reposRoot: reposRoot, inFlight: make(map[string]*sync.Mutex)}, nil
}

// LocalPath derives <reposRoot>/<host>/<owner>/<repo> so concurrent projects
// referencing the same upstream repository share one checkout.
func (s *Store) LocalPath(host, owner, repo string) string {
	return filepath.Join(s.reposRoot, host, owner, repo)
}

func (s *Store) repoLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.inFlight[path]
	if !ok {
		l = &sync.Mutex{}
		s.inFlight[path] = l
	}

	return l
}

// CloneOrUpdate clones the repo at url into <reposRoot>/<host>/<owner>/<repo>
// if absent, or fetches/checks-out/pulls the requested branch if present.
// Idempotent; safe to call concurrently for the same localPath (internally
// serialized) and safe across processes (detects a concurrent clone's
// directory marker and continues rather than erroring).
func (s *Store) CloneOrUpdate(ctx context.Context, localPath, url, branch, shallowSince string) (headSHA string, err error) {
	lock := s.repoLock(localPath)
	lock.Lock()
	defer lock.Unlock()

	if _, statErr := os.Stat(filepath.Join(localPath, ".git")); statErr == nil {
		return s.update(ctx, localPath, branch, shallowSince)
	}

	return s.clone(ctx, localPath, url, branch, shallowSince)
}

func (s *Store) clone(ctx context.Context, localPath, url, branch, shallowSince string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent dir: %w", err)
	}

	args := []string{"clone", "--single-branch"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}

	if shallowSince != "" {
		args = append(args, "--shallow-since", shallowSince)
	} else {
		args = append(args, "--depth", "1")
	}

	args = append(args, url, localPath)

	if _, err := runGit(ctx, "", args...); err != nil {
		// A concurrent clone may have already created the directory; detect
		// the post-hoc marker (a populated .git dir) and continue instead of
		// failing the whole task.
		if _, statErr := os.Stat(filepath.Join(localPath, ".git")); statErr == nil {
			return s.headSHA(ctx, localPath)
		}

		return "", fmt.Errorf("git clone %s: %w", url, err)
	}

	return s.headSHA(ctx, localPath)
}

func (s *Store) update(ctx context.Context, localPath, branch, shallowSince string) (string, error) {
	if branch != "" {
		_, _ = runGit(ctx, localPath, "remote", "set-branches", "--add", "origin", branch)
	}

	fetchArgs := []string{"fetch", "origin"}
	if shallowSince != "" {
		fetchArgs = append(fetchArgs, "--shallow-since", shallowSince)
	}

	if _, err := runGit(ctx, localPath, fetchArgs...); err != nil {
		return "", fmt.Errorf("git fetch: %w", err)
	}

	if branch != "" {
		if _, err := runGit(ctx, localPath, "checkout", branch); err != nil {
			return "", fmt.Errorf("git checkout %s: %w", branch, err)
		}
	}

	if _, err := runGit(ctx, localPath, "pull", "--ff-only"); err != nil {
		return "", fmt.Errorf("git pull: %w", err)
	}

	return s.headSHA(ctx, localPath)
}

func (s *Store) headSHA(ctx context.Context, localPath string) (string, error) {
	out, err := runGit(ctx, localPath, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD: %w", err)
	}

	sha := strings.TrimSpace(out)
	if sha == "" {
		return "", ErrNoCommits
	}

	return sha, nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}

	return stdout.String(), nil
}
