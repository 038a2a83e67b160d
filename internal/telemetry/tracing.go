package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for every span the core emits.
const tracerName = "go.datum.net/operatorcore"

// Tracer returns the shared tracer used for per-dispatch spans.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// DispatchSpanAttrs builds the attribute set spec §6 requires on the
// per-event-dispatch trace span.
func DispatchSpanAttrs(kind, key, eventType, resourceVersion string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("kind", kind),
		attribute.String("key", key),
		attribute.String("event_type", eventType),
		attribute.String("resource_version", resourceVersion),
	}
}

// StartDispatchSpan starts the per-dispatch span and returns a function
// that records the outcome attribute and ends it.
func StartDispatchSpan(ctx context.Context, kind, key, eventType, resourceVersion string) (context.Context, func(outcome string)) {
	ctx, span := Tracer().Start(ctx, "reconcile", trace.WithAttributes(
		DispatchSpanAttrs(kind, key, eventType, resourceVersion)...,
	))
	return ctx, func(outcome string) {
		span.SetAttributes(attribute.String("outcome", outcome))
		span.End()
	}
}
