package store

import (
	"context"
	"fmt"

	"github.com/codewatch-dev/codewatch/internal/tokens"
)

// LoadPricingTable reads every model_pricing row into a tokens.Table. An
// empty table (no rows) still works: tokens.Table.Lookup falls back to the
// hardcoded $5/$25 rate for any model id.
func (s *Store) LoadPricingTable(ctx context.Context) (*tokens.Table, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT model_id, input_cost_per_mtok, output_cost_per_mtok, context_window, max_output FROM model_pricing`)
	if err != nil {
		return nil, fmt.Errorf("store: load pricing table: %w", err)
	}
	defer rows.Close()

	var pricing []tokens.Pricing

	for rows.Next() {
		var p tokens.Pricing
		if err := rows.Scan(&p.ModelID, &p.InputCostPerMTok, &p.OutputCostPerMTok, &p.ContextWindow, &p.MaxOutput); err != nil {
			return nil, fmt.Errorf("store: scan pricing row: %w", err)
		}

		pricing = append(pricing, p)
	}

	return tokens.NewTable(pricing), rows.Err()
}

// UpsertPricing writes or replaces one model_pricing row.
func (s *Store) UpsertPricing(ctx context.Context, p tokens.Pricing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_pricing (model_id, input_cost_per_mtok, output_cost_per_mtok, context_window, max_output)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(model_id) DO UPDATE SET
			input_cost_per_mtok = excluded.input_cost_per_mtok,
			output_cost_per_mtok = excluded.output_cost_per_mtok,
			context_window = excluded.context_window,
			max_output = excluded.max_output`,
		p.ModelID, p.InputCostPerMTok, p.OutputCostPerMTok, p.ContextWindow, p.MaxOutput,
	)
	if err != nil {
		return fmt.Errorf("store: upsert pricing: %w", err)
	}

	return nil
}
