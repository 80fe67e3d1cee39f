package executor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func startQuerySpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("rowgraph/executor")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func finishQuerySpan(span trace.Span, err error, results int) {
	if span == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	span.SetAttributes(
		attribute.String("rowgraph.query.outcome", outcome),
		attribute.Int("rowgraph.query.results", results),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
