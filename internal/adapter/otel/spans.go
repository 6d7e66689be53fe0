package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "orchestra"

// StartProjectRunSpan starts a span covering one whole project run.
func StartProjectRunSpan(ctx context.Context, projectID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "project_run",
		trace.WithAttributes(
			attribute.String("project.id", projectID),
		),
	)
}

// StartNodeSpan starts a span for one node execution attempt.
func StartNodeSpan(ctx context.Context, nodeID, sessionID, backend string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "node_execution",
		trace.WithAttributes(
			attribute.String("node.id", nodeID),
			attribute.String("session.id", sessionID),
			attribute.String("backend", backend),
		),
	)
}

// StartCheckSpan starts a span for one check evaluation.
func StartCheckSpan(ctx context.Context, checkID, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "check",
		trace.WithAttributes(
			attribute.String("check.id", checkID),
			attribute.String("check.kind", kind),
		),
	)
}
