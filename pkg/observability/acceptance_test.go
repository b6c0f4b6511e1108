package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/codewatch-dev/codewatch/pkg/observability"
)

// acceptanceSpanCount is the expected number of spans in the acceptance test
// (root + batch + synthesize).
const acceptanceSpanCount = 3

// acceptanceFindingsCount is the simulated finding count used in log assertions.
const acceptanceFindingsCount = 7

// TestAcceptance_EndToEnd verifies all three observability signals (traces,
// metrics, structured logs with trace context) work together across a
// simulated audit run.
func TestAcceptance_EndToEnd(t *testing.T) {
	t.Parallel()

	// Setup: in-memory trace exporter.
	spanExporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spanExporter))

	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	tracer := tp.Tracer("codewatch")

	// Setup: in-memory metric reader.
	metricReader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricReader))
	meter := mp.Meter("codewatch")

	red, err := observability.NewREDMetrics(meter)
	require.NoError(t, err)

	audit, err := observability.NewAuditMetrics(meter)
	require.NoError(t, err)

	// Setup: structured logger with trace context.
	var logBuf bytes.Buffer

	innerHandler := slog.NewJSONHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelDebug})
	tracingHandler := observability.NewTracingHandler(innerHandler, "codewatch", "test", observability.ModeServe)
	logger := slog.New(tracingHandler)

	// Simulate pipeline: root span, child spans, metrics, logs.
	ctx, rootSpan := tracer.Start(context.Background(), "codewatch.audit.run")

	_, batchSpan := tracer.Start(ctx, "codewatch.audit.batch")
	batchSpan.End()

	_, synthesizeSpan := tracer.Start(ctx, "codewatch.audit.synthesize")
	synthesizeSpan.End()

	// Record metrics within the trace context.
	red.RecordRequest(ctx, "llm.call", "ok", time.Second)

	audit.RecordBatch(ctx, observability.AuditStats{
		FindingsBySeverity: map[string]int64{"high": 2, "medium": 5},
		BatchDuration:       2 * time.Second,
		InputTokens:         12000,
		OutputTokens:        1800,
		CostUSD:             0.042,
	})

	// Emit a log line within the trace context.
	logger.InfoContext(ctx, "audit.phase.complete", "findings", acceptanceFindingsCount)

	rootSpan.End()

	// Assert: Traces.
	spans := spanExporter.GetSpans()
	require.Len(t, spans, acceptanceSpanCount, "expected root + 2 child spans")

	spanNames := make(map[string]bool, len(spans))
	for _, s := range spans {
		spanNames[s.Name] = true
	}

	assert.True(t, spanNames["codewatch.audit.run"], "root span should exist")
	assert.True(t, spanNames["codewatch.audit.batch"], "batch span should exist")
	assert.True(t, spanNames["codewatch.audit.synthesize"], "synthesize span should exist")

	// All spans share the same trace ID.
	traceID := spans[0].SpanContext.TraceID()
	for _, s := range spans[1:] {
		assert.Equal(t, traceID, s.SpanContext.TraceID(),
			"span %q should share trace ID", s.Name)
	}

	// Assert: Metrics.
	var rm metricdata.ResourceMetrics

	err = metricReader.Collect(ctx, &rm)
	require.NoError(t, err)

	reqTotal := findMetric(rm, "codewatch.requests.total")
	require.NotNil(t, reqTotal, "request counter should be recorded")

	reqDuration := findMetric(rm, "codewatch.request.duration.seconds")
	require.NotNil(t, reqDuration, "duration histogram should be recorded")

	// Assert: audit metrics.
	findingsTotal := findMetric(rm, "codewatch.audit.findings.total")
	require.NotNil(t, findingsTotal, "findings counter should be recorded")

	batchesTotal := findMetric(rm, "codewatch.audit.batches.total")
	require.NotNil(t, batchesTotal, "batches counter should be recorded")

	batchDuration := findMetric(rm, "codewatch.audit.batch.duration.seconds")
	require.NotNil(t, batchDuration, "batch duration histogram should be recorded")

	tokensTotal := findMetric(rm, "codewatch.audit.tokens.total")
	require.NotNil(t, tokensTotal, "tokens counter should be recorded")

	costTotal := findMetric(rm, "codewatch.audit.cost_usd.total")
	require.NotNil(t, costTotal, "cost counter should be recorded")

	// Assert: Logs contain trace_id.
	var logRecord map[string]any

	err = json.Unmarshal(logBuf.Bytes(), &logRecord)
	require.NoError(t, err)

	assert.Equal(t, traceID.String(), logRecord["trace_id"],
		"log line should contain the active trace_id")
	assert.Contains(t, logRecord, "span_id",
		"log line should contain span_id")
	assert.Equal(t, "codewatch", logRecord["service"],
		"log line should contain service name")

	findings, ok := logRecord["findings"].(float64)
	require.True(t, ok, "findings should be a number")
	assert.InDelta(t, acceptanceFindingsCount, findings, 0,
		"log line should contain custom attributes")
}
