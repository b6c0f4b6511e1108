package orchestrator

import (
	"context"
	"fmt"
	"path"

	"github.com/codewatch-dev/codewatch/internal/model"
)

// attributePhase is Phase 5: when the audit is component-scoped, roll up
// per-component token and finding counts; either way, transition progress
// to done once analysis has finished.
func (r *run) attributePhase(ctx context.Context) error {
	if len(r.audit.ComponentIDs) > 0 {
		findings, err := r.deps.Store.ListFindings(ctx, r.audit.ID)
		if err != nil {
			return fmt.Errorf("orchestrator: list findings for attribution: %w", err)
		}

		if err := r.attributeToComponents(ctx, findings); err != nil {
			return err
		}
	}

	if err := r.bus.Write(ctx, r.bus.Current().Done(), r.filesAnalyzed); err != nil {
		return fmt.Errorf("orchestrator: write done progress: %w", err)
	}

	return nil
}

func (r *run) attributeToComponents(ctx context.Context, findings []model.Finding) error {
	components, err := r.deps.Store.GetComponentsByIDs(ctx, r.audit.ComponentIDs)
	if err != nil {
		return fmt.Errorf("orchestrator: load scoped components for attribution: %w", err)
	}

	repoNames := make(map[string]string, len(r.repos))
	for _, ri := range r.repos {
		repoNames[ri.repo.ID] = ri.repo.RepoName
	}

	type stats struct {
		tokensAnalyzed int64
		findingsCount  int
	}

	byComponent := make(map[string]*stats, len(components))
	for _, c := range components {
		byComponent[c.ID] = &stats{}
	}

	for _, ns := range r.selectedFiles {
		c, ok := matchComponent(ns, components, repoNames)
		if !ok {
			continue
		}

		byComponent[c.ID].tokensAnalyzed += r.fileIndex[ns].tokens
	}

	for _, f := range findings {
		c, ok := matchComponent(f.FilePath, components, repoNames)
		if !ok {
			continue
		}

		byComponent[c.ID].findingsCount++
	}

	for _, c := range components {
		s := byComponent[c.ID]

		if err := r.deps.Store.UpsertAuditComponent(ctx, r.audit.ID, c.ID, s.tokensAnalyzed, s.findingsCount); err != nil {
			return fmt.Errorf("orchestrator: upsert audit component %s: %w", c.Name, err)
		}
	}

	return nil
}

// matchComponent finds the first scoped component whose namespaced file
// patterns match ns, using the same glob semantics internal/agent uses to
// estimate component size.
func matchComponent(ns string, components []model.Component, repoNames map[string]string) (model.Component, bool) {
	for _, c := range components {
		repoName := repoNames[c.RepoID]

		for _, p := range c.FilePatterns {
			if ok, err := path.Match(namespacedPath(repoName, p), ns); err == nil && ok {
				return c, true
			}
		}
	}

	return model.Component{}, false
}
