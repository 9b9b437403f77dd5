package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BusinessTracer provides spans for the engine's domain operations: cycles,
// candidate generation, watchlist scans and lifecycle evaluations.
type BusinessTracer struct {
	tracer trace.Tracer
}

// NewBusinessTracer creates a new instance of BusinessTracer.
//
// Returns:
//   - A pointer to an initialized BusinessTracer.
func NewBusinessTracer() *BusinessTracer {
	return &BusinessTracer{tracer: Tracer("engine")}
}

// GenerationMetrics summarises one candidate generation run.
type GenerationMetrics struct {
	Assets     int
	Candidates int
	Skipped    int
	Relaxed    int
}

// TraceCycle starts the root span of an engine cycle.
//
// Parameters:
//   - ctx: The context to attach the span to.
//   - runID: The identifier of the cycle.
//
// Returns:
//   - A context containing the new span.
//   - The created span.
func (bt *BusinessTracer) TraceCycle(ctx context.Context, runID string) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "engine.cycle", trace.WithAttributes(attribute.String("run_id", runID)))
}

// TraceCandidateGeneration starts a span for one generation run over a universe.
func (bt *BusinessTracer) TraceCandidateGeneration(ctx context.Context, universeSize int) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "candidates.generate", trace.WithAttributes(attribute.Int("universe_size", universeSize)))
}

// RecordGeneration attaches generation counts to span.
func (bt *BusinessTracer) RecordGeneration(span trace.Span, metrics GenerationMetrics) {
	span.SetAttributes(
		attribute.Int("assets", metrics.Assets),
		attribute.Int("candidates", metrics.Candidates),
		attribute.Int("skipped", metrics.Skipped),
		attribute.Int("relaxed", metrics.Relaxed),
	)
}

// TraceScan starts a span for a watchlist scan.
func (bt *BusinessTracer) TraceScan(ctx context.Context, watchlistSize int) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "scanner.scan", trace.WithAttributes(attribute.Int("watchlist_size", watchlistSize)))
}

// TraceLifecycleEvaluation starts a span for evaluating one open pair.
func (bt *BusinessTracer) TraceLifecycleEvaluation(ctx context.Context, pairKey string) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "lifecycle.evaluate", trace.WithAttributes(attribute.String("pair_key", pairKey)))
}

// RecordError marks span as failed.
func (bt *BusinessTracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
