package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codewatch-dev/codewatch/internal/model"
)

func TestSelectWithinBudget_ThoroughTakesTopFilesUnderBudget(t *testing.T) {
	t.Parallel()

	ranked := []RankedFile{
		{File: "a.ts", Priority: 10},
		{File: "b.ts", Priority: 9},
		{File: "c.ts", Priority: 8},
		{File: "d.ts", Priority: 7},
	}
	tokens := map[string]int64{"a.ts": 10_000, "b.ts": 10_000, "c.ts": 10_000, "d.ts": 10_000}

	sel := SelectWithinBudget(ranked, tokens, 100_000, model.LevelThorough)

	assert.Equal(t, int64(33_000), sel.TokenBudget)
	assert.ElementsMatch(t, []string{"a.ts", "b.ts", "c.ts"}, sel.Files)
}

func TestSelectWithinBudget_FallsBackToTopFileWhenNothingFits(t *testing.T) {
	t.Parallel()

	ranked := []RankedFile{
		{File: "huge.ts", Priority: 10},
		{File: "small1.ts", Priority: 9},
		{File: "small2.ts", Priority: 8},
	}
	tokens := map[string]int64{"huge.ts": 50_000, "small1.ts": 10_000, "small2.ts": 10_000}

	sel := SelectWithinBudget(ranked, tokens, 100_000, model.LevelThorough)

	assert.Equal(t, []string{"huge.ts"}, sel.Files)
}

func TestSelectWithinBudget_FullIncludesEverythingRegardlessOfBudget(t *testing.T) {
	t.Parallel()

	ranked := []RankedFile{
		{File: "a.ts", Priority: 9},
		{File: "b.ts", Priority: 3},
	}
	tokens := map[string]int64{"a.ts": 1_000_000, "b.ts": 1_000_000}

	sel := SelectWithinBudget(ranked, tokens, 100_000, model.LevelFull)

	assert.ElementsMatch(t, []string{"a.ts", "b.ts"}, sel.Files)
}
