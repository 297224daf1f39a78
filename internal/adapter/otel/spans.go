package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentwire"

// StartTurnSpan starts a span covering one user turn, from request
// submission until the stream settles.
func StartTurnSpan(ctx context.Context, sessionID, agentID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "turn",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("agent.id", agentID),
		),
	)
}

// StartContinueSpan starts a span covering a resume after a pause.
func StartContinueSpan(ctx context.Context, runID, decision string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "continue",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.decision", decision),
		),
	)
}
