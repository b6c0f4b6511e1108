package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/codewatch-dev/codewatch/internal/model"
	"github.com/codewatch-dev/codewatch/internal/reposstore"
)

// incrementalPhase is Phase 1: diff every repo against the base audit's
// recorded commit, persist the diff, derive the files-to-analyze override
// (added ∪ modified ∪ renamed-to), and carry forward the base audit's still-
// open findings.
func (r *run) incrementalPhase(ctx context.Context) error {
	added := map[string]bool{}
	modified := map[string]bool{}
	deleted := map[string]bool{}
	renamed := map[string]string{}

	var addedList, modifiedList, deletedList []string

	addFile := func(set map[string]bool, list *[]string, ns string) {
		if !set[ns] {
			set[ns] = true
			*list = append(*list, ns)
		}
	}

	for _, ri := range r.repos {
		base, hadBase := r.baseCommits[ri.repo.ID]
		if !hadBase {
			// Repo wasn't part of the base audit: every file in it is new.
			for ns, loc := range r.fileIndex {
				if loc.repoName == ri.repo.RepoName {
					addFile(added, &addedList, ns)
				}
			}

			continue
		}

		diff := reposstore.DiffBetweenCommits(ctx, ri.localRoot, base.CommitSHA, r.headSHAByRepo[ri.repo.ID])
		if diff.IsFallback {
			if err := r.bus.Warn(ctx, fmt.Sprintf("diff failed for %s, treating every file as added", ri.repo.RepoName)); err != nil {
				return fmt.Errorf("orchestrator: record diff warning: %w", err)
			}

			for ns, loc := range r.fileIndex {
				if loc.repoName == ri.repo.RepoName {
					addFile(added, &addedList, ns)
				}
			}

			continue
		}

		for _, f := range diff.Added {
			addFile(added, &addedList, namespacedPath(ri.repo.RepoName, f))
		}

		for _, f := range diff.Modified {
			addFile(modified, &modifiedList, namespacedPath(ri.repo.RepoName, f))
		}

		for _, f := range diff.Deleted {
			ns := namespacedPath(ri.repo.RepoName, f)
			if !deleted[ns] {
				deleted[ns] = true
				deletedList = append(deletedList, ns)
			}
		}

		for _, rn := range diff.Renamed {
			oldNS := namespacedPath(ri.repo.RepoName, rn.From)
			newNS := namespacedPath(ri.repo.RepoName, rn.To)
			renamed[oldNS] = newNS
			addFile(added, &addedList, newNS)
		}
	}

	if err := r.deps.Store.SetDiff(ctx, r.audit.ID, addedList, modifiedList, deletedList); err != nil {
		return fmt.Errorf("orchestrator: persist diff: %w", err)
	}

	override := make([]string, 0, len(added)+len(modified))
	for ns := range added {
		override = append(override, ns)
	}
	for ns := range modified {
		override = append(override, ns)
	}

	sort.Strings(override)
	r.filesToAnalyzeOverride = override

	return r.inheritFindings(ctx, deleted, renamed)
}

// inheritFindings copies the base audit's still-open findings forward into
// this audit: findings in a deleted file are copied with status fixed, the
// base row is marked resolved in this audit, and they are left out of the
// prior-findings context; findings in a renamed file move to the new path, and
// every inherited finding keeps its original fingerprint so it continues to
// dedupe against future re-analysis of an unchanged region. A fingerprint
// is never recomputed here even for a renamed file, since the
// fingerprint formula is itself path-sensitive and recomputing would change
// the finding's identity rather than just its location.
func (r *run) inheritFindings(ctx context.Context, deleted map[string]bool, renamed map[string]string) error {
	baseFindings, err := r.deps.Store.ListOpenFindings(ctx, r.audit.BaseAuditID)
	if err != nil {
		return fmt.Errorf("orchestrator: list base open findings: %w", err)
	}

	var toInsert []model.Finding

	for _, f := range baseFindings {
		if r.seenFingerprints[f.Fingerprint] {
			continue
		}

		nf := f
		nf.ID = ""
		nf.AuditID = r.audit.ID
		nf.ResolvedInAuditID = ""

		switch {
		case deleted[f.FilePath]:
			nf.Status = model.FindingFixed

			if err := r.deps.Store.MarkFindingResolved(ctx, f.ID, r.audit.ID); err != nil {
				return fmt.Errorf("orchestrator: mark finding resolved: %w", err)
			}
		case renamed[f.FilePath] != "":
			nf.FilePath = renamed[f.FilePath]
		}

		toInsert = append(toInsert, nf)
		r.seenFingerprints[nf.Fingerprint] = true

		if nf.Status != model.FindingFixed {
			r.inheritedFindings = append(r.inheritedFindings, nf)
		}
	}

	if err := r.deps.Store.InsertFindings(ctx, toInsert); err != nil {
		return fmt.Errorf("orchestrator: insert inherited findings: %w", err)
	}

	return nil
}
