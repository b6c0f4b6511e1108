package planner

import (
	"math"
	"sort"

	"github.com/codewatch-dev/codewatch/internal/model"
)

// Selection is Phase C's output: the files chosen for analysis and the
// token budget they were measured against.
type Selection struct {
	Files       []string
	TokenBudget int64
	TotalTokens int64
}

// SelectWithinBudget sorts ranked files by priority descending and greedily
// accumulates them against the level's token budget, stopping at the first
// file that would exceed it. Full level selects everything regardless of
// budget. If the top file alone exceeds the budget, that single
// highest-priority file is selected anyway.
func SelectWithinBudget(ranked []RankedFile, tokensByFile map[string]int64, totalTokens int64, level model.AuditLevel) Selection {
	budget := int64(math.Round(float64(totalTokens) * level.BudgetPct()))

	sorted := make([]RankedFile, len(ranked))
	copy(sorted, ranked)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	if level == model.LevelFull {
		files := make([]string, len(sorted))
		for i, r := range sorted {
			files[i] = r.File
		}

		return Selection{Files: files, TokenBudget: budget, TotalTokens: totalTokens}
	}

	var (
		files       []string
		accumulated int64
	)

	for _, r := range sorted {
		tokens := tokensByFile[r.File]
		if accumulated+tokens > budget {
			break
		}

		files = append(files, r.File)
		accumulated += tokens
	}

	if len(files) == 0 && len(sorted) > 0 {
		files = append(files, sorted[0].File)
	}

	return Selection{Files: files, TokenBudget: budget, TotalTokens: totalTokens}
}
