package middleware

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/conveyorhq/conveyor/job"
)

// Tracing wraps each execution in an OpenTelemetry span through the
// global tracer provider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer("conveyor"))
}

// TracingWithTracer is Tracing with an explicit tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, fmt.Sprintf("conveyor.job.%s", j.Type),
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("conveyor.job.id", j.ID.String()),
				attribute.String("conveyor.job.type", string(j.Type)),
				attribute.String("conveyor.tenant", j.TenantID),
				attribute.Int("conveyor.job.attempt", j.Attempt),
			),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
