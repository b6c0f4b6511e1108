package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricAuditFindingsTotal   = "codewatch.audit.findings.total"
	metricAuditBatchesTotal    = "codewatch.audit.batches.total"
	metricAuditBatchDuration   = "codewatch.audit.batch.duration.seconds"
	metricAuditTokensTotal     = "codewatch.audit.tokens.total"
	metricAuditCostUSDTotal    = "codewatch.audit.cost_usd.total"

	attrSeverity = "severity"
	attrTokenKind = "kind" // "input" or "output"
)

// AuditStats summarizes one phase-4 analysis batch for metric recording.
type AuditStats struct {
	FindingsBySeverity map[string]int64
	BatchDuration      time.Duration
	InputTokens        int64
	OutputTokens       int64
	CostUSD            float64
}

// AuditMetrics holds the OTel instruments tracking the audit pipeline's
// throughput: findings emitted, batches processed, tokens consumed, and
// accrued LLM cost. Complements REDMetrics, which tracks generic call
// rate/error/duration and says nothing about audit-domain quantities.
type AuditMetrics struct {
	findingsTotal metric.Int64Counter
	batchesTotal  metric.Int64Counter
	batchDuration metric.Float64Histogram
	tokensTotal   metric.Int64Counter
	costTotal     metric.Float64Counter
}

// NewAuditMetrics creates audit metric instruments from the given meter.
func NewAuditMetrics(mt metric.Meter) (*AuditMetrics, error) {
	findingsTotal, err := mt.Int64Counter(metricAuditFindingsTotal,
		metric.WithDescription("Total findings recorded, by severity"),
		metric.WithUnit("{finding}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricAuditFindingsTotal, err)
	}

	batchesTotal, err := mt.Int64Counter(metricAuditBatchesTotal,
		metric.WithDescription("Total analysis batches processed"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricAuditBatchesTotal, err)
	}

	batchDuration, err := mt.Float64Histogram(metricAuditBatchDuration,
		metric.WithDescription("Analysis batch duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricAuditBatchDuration, err)
	}

	tokensTotal, err := mt.Int64Counter(metricAuditTokensTotal,
		metric.WithDescription("Total LLM tokens consumed, by kind"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricAuditTokensTotal, err)
	}

	costTotal, err := mt.Float64Counter(metricAuditCostUSDTotal,
		metric.WithDescription("Total accrued LLM cost in USD"),
		metric.WithUnit("{USD}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricAuditCostUSDTotal, err)
	}

	return &AuditMetrics{
		findingsTotal: findingsTotal,
		batchesTotal:  batchesTotal,
		batchDuration: batchDuration,
		tokensTotal:   tokensTotal,
		costTotal:     costTotal,
	}, nil
}

// RecordBatch records one completed analysis batch's findings, duration,
// token usage, and cost.
func (am *AuditMetrics) RecordBatch(ctx context.Context, stats AuditStats) {
	for severity, count := range stats.FindingsBySeverity {
		am.findingsTotal.Add(ctx, count, metric.WithAttributes(
			attribute.String(attrSeverity, severity),
		))
	}

	am.batchesTotal.Add(ctx, 1)
	am.batchDuration.Record(ctx, stats.BatchDuration.Seconds())

	am.tokensTotal.Add(ctx, stats.InputTokens, metric.WithAttributes(attribute.String(attrTokenKind, "input")))
	am.tokensTotal.Add(ctx, stats.OutputTokens, metric.WithAttributes(attribute.String(attrTokenKind, "output")))

	am.costTotal.Add(ctx, stats.CostUSD)
}
