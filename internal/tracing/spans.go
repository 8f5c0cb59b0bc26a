package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartPipelineSpan creates a child span covering one optimizer run.
func StartPipelineSpan(ctx context.Context, endpoint string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "optimize."+endpoint,
		trace.WithAttributes(attribute.String("optimize.endpoint", endpoint)),
	)
}

// StartStageSpan creates a child span for a single pipeline stage.
func StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "stage."+stage,
		trace.WithAttributes(attribute.String("stage.name", stage)),
	)
}

// StartProviderSpan creates a child span for an upstream model completion call.
func StartProviderSpan(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "provider.completion",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider.name", provider),
			attribute.String("provider.model", model),
		),
	)
}

// InjectHeaders injects the current trace context (traceparent, tracestate)
// into the given HTTP request headers so upstream services can continue the
// trace.
func InjectHeaders(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// SetRequestAttributes adds request-level attributes to the current span.
func SetRequestAttributes(ctx context.Context, requestID, tenantID, model string) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("request.id", requestID),
		attribute.String("request.tenant", tenantID),
		attribute.String("request.model", model),
	)
}

// SetOptimizationAttributes records the outcome of an optimizer run on the
// current span.
func SetOptimizationAttributes(ctx context.Context, tokensBefore, tokensAfter int, cacheHit, fallbackUsed bool, route string) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("optimize.tokens_before", tokensBefore),
		attribute.Int("optimize.tokens_after", tokensAfter),
		attribute.Bool("optimize.cache_hit", cacheHit),
		attribute.Bool("optimize.fallback_used", fallbackUsed),
		attribute.String("optimize.route", route),
	)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
