// Package tokens computes per-level token budgets and USD cost estimates
// against a pricing table, pure functions over plain inputs in the same
// style as a memory-budget calculator: named constants, no hidden state.
package tokens

import (
	"math"

	"github.com/codewatch-dev/codewatch/internal/model"
)

// Cost model constants.
const (
	// OverheadRatio is the fraction of total project tokens added to the
	// level's own token count to account for prompt/system overhead.
	OverheadRatio = 0.05

	// OutputRatio estimates output tokens as a fraction of input tokens.
	OutputRatio = 0.15

	// roundingPlaces is the decimal precision cost figures are rounded to.
	roundingPlaces = 4
)

// FallbackInputCostPerMTok and FallbackOutputCostPerMTok are used when the
// requested model id has no entry in the pricing table.
const (
	FallbackInputCostPerMTok  = 5.0
	FallbackOutputCostPerMTok = 25.0
)

// Pricing is one model_pricing row.
type Pricing struct {
	ModelID           string
	InputCostPerMTok  float64
	OutputCostPerMTok float64
	ContextWindow     int64
	MaxOutput         int64
}

// Table looks pricing up by model id, falling back to a hardcoded rate.
type Table struct {
	byModel map[string]Pricing
}

// NewTable builds a pricing table from the given rows.
func NewTable(rows []Pricing) *Table {
	t := &Table{byModel: make(map[string]Pricing, len(rows))}
	for _, r := range rows {
		t.byModel[r.ModelID] = r
	}

	return t
}

// Lookup returns the pricing for modelID, or the hardcoded fallback rate
// ($5/$25 per million input/output tokens) if the model is unknown.
func (t *Table) Lookup(modelID string) Pricing {
	if t != nil {
		if p, ok := t.byModel[modelID]; ok {
			return p
		}
	}

	return Pricing{
		ModelID:           modelID,
		InputCostPerMTok:  FallbackInputCostPerMTok,
		OutputCostPerMTok: FallbackOutputCostPerMTok,
	}
}

// Estimate is the result of a budget/cost calculation for one audit level.
type Estimate struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	IsPrecise    bool
}

// BudgetTokens returns the token budget for level against totalTokens,
// rounded to the nearest whole token (`full` always uses totalTokens).
func BudgetTokens(level model.AuditLevel, totalTokens int64) int64 {
	if level == model.LevelFull {
		return totalTokens
	}

	return int64(math.Round(float64(totalTokens) * level.BudgetPct()))
}

// Estimate computes the cost of analyzing levelTokens out of totalTokens
// under the given pricing, per:
//
//	inputTokens  = levelTokens + totalTokens * overheadRatio
//	outputTokens = inputTokens * outputRatio
//	cost         = inputTokens/1e6*inPrice + outputTokens/1e6*outPrice
//
// isPrecise should be true only when (totalFiles, totalTokens) came from the
// LLM provider's count-tokens endpoint rather than the rough byte-based
// estimate.
func Estimate(levelTokens, totalTokens int64, pricing Pricing, isPrecise bool) Estimate {
	inputTokens := int64(math.Round(float64(levelTokens) + float64(totalTokens)*OverheadRatio))
	outputTokens := int64(math.Round(float64(inputTokens) * OutputRatio))

	cost := float64(inputTokens)/1e6*pricing.InputCostPerMTok +
		float64(outputTokens)/1e6*pricing.OutputCostPerMTok

	return Estimate{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      roundTo(cost, roundingPlaces),
		IsPrecise:    isPrecise,
	}
}

// CallCost recomputes cost for one realized LLM call given actual token
// counts, used to maintain the audit's running cost total.
func CallCost(inputTokens, outputTokens int64, pricing Pricing) float64 {
	cost := float64(inputTokens)/1e6*pricing.InputCostPerMTok +
		float64(outputTokens)/1e6*pricing.OutputCostPerMTok

	return roundTo(cost, roundingPlaces)
}

func roundTo(v float64, places int) float64 {
	mult := math.Pow(10, float64(places))

	return math.Round(v*mult) / mult
}
