package orchestrator

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"

	"github.com/codewatch-dev/codewatch/internal/planner"
	"github.com/codewatch-dev/codewatch/internal/reposstore"
)

// rankModelID mirrors internal/planner's own unexported rank model constant;
// kept here only so recordCost can attribute planner spend to the right
// pricing row without exporting planner internals.
const rankModelID = "claude-sonnet-4-5"

// planPhase is Phase 3: run the grep-and-rank planner per repo, then fall
// back to a lightweight pattern heuristic if the planner selects nothing at
// all for the whole project (e.g. every repo came back empty from grep).
func (r *run) planPhase(ctx context.Context) error {
	cc := planner.ClassificationContext{
		Category:          r.project.Category,
		Description:       r.project.Description,
		ThreatModel:       r.project.ThreatModel,
		ComponentProfiles: r.componentProfiles,
	}

	var selected []string

	for _, ri := range r.repos {
		if len(ri.files) == 0 {
			continue
		}

		result, err := planner.Plan(ctx, r.deps.Gateway, r.deps.APIKey, ri.localRoot, cc, ri.files, r.audit.Level)
		if err != nil {
			return fmt.Errorf("orchestrator: plan %s: %w", ri.repo.RepoName, err)
		}

		r.recordCost(ctx, rankModelID, result.InputTokens, result.OutputTokens)

		for _, f := range result.Selection.Files {
			selected = append(selected, namespacedPath(ri.repo.RepoName, f))
		}
	}

	if len(selected) == 0 {
		selected = r.heuristicFallback()

		if err := r.bus.Warn(ctx, "planner selected no files across all repos; falling back to pattern heuristic"); err != nil {
			return fmt.Errorf("orchestrator: record planner fallback warning: %w", err)
		}
	}

	sort.Strings(selected)

	var tokensToAnalyze int64
	for _, ns := range selected {
		tokensToAnalyze += r.fileIndex[ns].tokens
	}

	if err := r.deps.Store.SetTotals(ctx, r.audit.ID, r.audit.TotalFiles, r.audit.TotalTokens, len(selected), tokensToAnalyze); err != nil {
		return fmt.Errorf("orchestrator: set plan totals: %w", err)
	}

	r.selectedFiles = selected
	r.audit.FilesToAnalyze = len(selected)
	r.audit.TokensToAnalyze = tokensToAnalyze

	return nil
}

// fallbackPatterns is the orchestrator's own small pattern set for a
// "never analyze nothing" guarantee at the project level. It is
// deliberately narrower than internal/planner's 38-pattern grep set
// (internal/planner/grep.go): this only needs to break a planner-wide tie,
// not rank files against each other.
var fallbackPatterns = compileFallbackPatterns([]string{
	`password`, `secret`, `api[_-]?key`, `token`, `auth`, `session`,
	`crypto`, `encrypt`, `decrypt`, `jwt`, `oauth`, `admin`,
	`sudo`, `exec`, `eval`, `deserialize`, `unmarshal`, `sql`,
})

func compileFallbackPatterns(raws []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(raws))
	for i, raw := range raws {
		out[i] = regexp.MustCompile(`(?i)` + raw)
	}

	return out
}

// heuristicFallback scores every remaining file by fallbackPatterns hit
// count and takes the top ceil(n * budget) scorers, where n is the number
// of files that matched at least one pattern and budget is the level's
// token-budget fraction - a count-based top-N selection, distinct from the
// token-budget greedy accumulation internal/planner uses for its own
// ranked selection. Always returns at least one file.
func (r *run) heuristicFallback() []string {
	type scored struct {
		ns    string
		score int
	}

	var all []scored

	for ns, loc := range r.fileIndex {
		content, err := reposstore.ReadFileContent(loc.repoRoot, loc.relPath)
		if err != nil {
			continue
		}

		text := string(content)

		score := 0
		for _, p := range fallbackPatterns {
			score += len(p.FindAllStringIndex(text, -1))
		}

		if score > 0 {
			all = append(all, scored{ns: ns, score: score})
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })

	take := int(math.Ceil(float64(len(all)) * r.audit.Level.BudgetPct()))
	if take < 1 {
		take = 1
	}

	if take > len(all) {
		take = len(all)
	}

	out := make([]string, take)
	for i := 0; i < take; i++ {
		out[i] = all[i].ns
	}

	if len(out) == 0 {
		for ns := range r.fileIndex {
			out = append(out, ns)
			break
		}
	}

	return out
}
