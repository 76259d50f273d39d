package observe

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for Mynah spans.
const tracerName = "github.com/mynah-ai/mynah"

// Tracer returns the Mynah tracer from the globally registered provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartTurnSpan opens the span covering one dispatched turn, from prompt
// assembly through the turn outcome. The generation for a turn crosses
// several provider calls; tagging the span with session, agent, and turn
// generation lets a trace view stitch them back together.
func StartTurnSpan(ctx context.Context, sessionID, agentID string, gen uint64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "mynah.turn",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.String("agent_id", agentID),
			attribute.String("turn_gen", strconv.FormatUint(gen, 10)),
		),
	)
}

// EndTurnSpan closes a turn span with its outcome. A nil err marks the span
// Ok; a non-nil err is recorded and marks it Error. Interrupted turns pass
// nil: barge-in is a normal outcome, not a failure.
func EndTurnSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
