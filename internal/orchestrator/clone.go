package orchestrator

import (
	"context"
	"fmt"
	"path"

	"github.com/codewatch-dev/codewatch/internal/model"
	"github.com/codewatch-dev/codewatch/internal/reposstore"
)

// clonePhase is Phase 0: clone or fast-forward every repository in the
// project, scan each for code files, and (for component-scoped audits)
// narrow the working file set down to the union of the scoped components'
// file patterns.
func (r *run) clonePhase(ctx context.Context) error {
	repos, err := r.deps.Store.ListProjectRepos(ctx, r.project.ID)
	if err != nil {
		return fmt.Errorf("orchestrator: list project repos: %w", err)
	}

	if len(repos) == 0 {
		return fmt.Errorf("orchestrator: project %s has no repositories", r.project.ID)
	}

	r.baseCommits = make(map[string]model.AuditCommit)

	if r.audit.IsIncremental && r.audit.BaseAuditID != "" {
		commits, err := r.deps.Store.GetAuditCommits(ctx, r.audit.BaseAuditID)
		if err != nil {
			return fmt.Errorf("orchestrator: load base audit commits: %w", err)
		}

		for _, c := range commits {
			r.baseCommits[c.RepoID] = c
		}
	}

	r.fileIndex = make(map[string]fileLocation)
	r.headSHAByRepo = make(map[string]string, len(repos))
	r.repos = make([]repoInfo, 0, len(repos))

	var (
		totalFiles  int
		totalTokens int64
	)

	for _, repo := range repos {
		branch := repo.BranchOverride
		if branch == "" {
			branch = repo.DefaultBranch
		}

		shallowSince := r.resolveShallowSince(ctx, repo)

		headSHA, err := r.deps.Repos.CloneOrUpdate(ctx, repo.LocalPath, repo.RepoURL, branch, shallowSince)
		if err != nil {
			return fmt.Errorf("orchestrator: clone %s: %w", repo.RepoName, err)
		}

		r.headSHAByRepo[repo.ID] = headSHA

		files, err := reposstore.ScanCodeFiles(repo.LocalPath)
		if err != nil {
			return fmt.Errorf("orchestrator: scan %s: %w", repo.RepoName, err)
		}

		if err := r.deps.Store.UpsertAuditCommit(ctx, r.audit.ID, repo.ID, headSHA, branch); err != nil {
			return fmt.Errorf("orchestrator: record audit commit for %s: %w", repo.RepoName, err)
		}

		r.repos = append(r.repos, repoInfo{repo: repo, localRoot: repo.LocalPath, files: files})

		for _, f := range files {
			ns := namespacedPath(repo.RepoName, f.RelativePath)
			r.fileIndex[ns] = fileLocation{repoRoot: repo.LocalPath, repoName: repo.RepoName, relPath: f.RelativePath, tokens: f.RoughTokens}
			totalFiles++
			totalTokens += f.RoughTokens
		}
	}

	if len(r.audit.ComponentIDs) > 0 {
		if err := r.restrictToComponents(ctx); err != nil {
			return err
		}

		totalFiles = len(r.fileIndex)
		totalTokens = 0

		for _, loc := range r.fileIndex {
			totalTokens += loc.tokens
		}
	}

	if err := r.deps.Store.SetTotals(ctx, r.audit.ID, totalFiles, totalTokens, 0, 0); err != nil {
		return fmt.Errorf("orchestrator: set totals: %w", err)
	}

	r.audit.TotalFiles = totalFiles
	r.audit.TotalTokens = totalTokens

	return nil
}

// resolveShallowSince looks up a best-effort --shallow-since date for
// incremental audits with a configured resolver. Any failure is logged as a
// progress warning and treated as "do a full clone" rather than aborting.
func (r *run) resolveShallowSince(ctx context.Context, repo model.Repository) string {
	if r.deps.ShallowSince == nil {
		return ""
	}

	base, ok := r.baseCommits[repo.ID]
	if !ok {
		return ""
	}

	since, err := r.deps.ShallowSince(ctx, repo, base.CommitSHA)
	if err != nil {
		_ = r.bus.Warn(ctx, fmt.Sprintf("could not resolve shallow-since for %s, cloning in full: %v", repo.RepoName, err))
		return ""
	}

	return since
}

// restrictToComponents narrows r.fileIndex down to files matched by any
// scoped component's namespaced file patterns, mirroring the glob matching
// internal/agent uses to estimate component size.
func (r *run) restrictToComponents(ctx context.Context) error {
	components, err := r.deps.Store.GetComponentsByIDs(ctx, r.audit.ComponentIDs)
	if err != nil {
		return fmt.Errorf("orchestrator: load scoped components: %w", err)
	}

	repoNames := make(map[string]string, len(r.repos))
	for _, ri := range r.repos {
		repoNames[ri.repo.ID] = ri.repo.RepoName
	}

	var patterns []string
	for _, c := range components {
		repoName := repoNames[c.RepoID]
		for _, p := range c.FilePatterns {
			patterns = append(patterns, namespacedPath(repoName, p))
		}
	}

	kept := make(map[string]fileLocation, len(r.fileIndex))

	for ns, loc := range r.fileIndex {
		for _, p := range patterns {
			if ok, matchErr := path.Match(p, ns); matchErr == nil && ok {
				kept[ns] = loc
				break
			}
		}
	}

	r.fileIndex = kept

	return nil
}
