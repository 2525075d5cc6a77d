package agent

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanRun       = "agent.run"
	SpanModelTurn = "agent.model.turn"
	SpanToolBatch = "agent.tools.batch"
)

const tracerName = "github.com/hupe1980/agentrun/agent"

func defaultTracer() trace.Tracer { return otel.Tracer(tracerName) }

func truncateString(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

func (a *Agent) startRunSpan(ctx context.Context, runID, input string, stream bool) (context.Context, trace.Span) {
	return a.tracer.Start(ctx, SpanRun,
		trace.WithAttributes(
			attribute.String("session.id", a.session.ID),
			attribute.String("run.id", runID),
			attribute.String("model.name", a.model.Info().Name),
			attribute.Bool("stream", stream),
			attribute.String("input_preview", truncateString(input, 100)),
		),
	)
}

func (a *Agent) startModelSpan(ctx context.Context, turn, messages int, forced bool) (context.Context, trace.Span) {
	return a.tracer.Start(ctx, SpanModelTurn,
		trace.WithAttributes(
			attribute.Int("turn", turn),
			attribute.Int("messages", messages),
			attribute.Bool("forced_final", forced),
		),
	)
}

func (a *Agent) startToolSpan(ctx context.Context, requested int) (context.Context, trace.Span) {
	return a.tracer.Start(ctx, SpanToolBatch,
		trace.WithAttributes(attribute.Int("tool_calls.requested", requested)),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
