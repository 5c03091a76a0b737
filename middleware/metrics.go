package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/conveyorhq/conveyor/job"
)

// Metrics records execution counts and durations through the global
// OpenTelemetry meter provider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter("conveyor"))
}

// MetricsWithMeter is Metrics with an explicit meter, for tests and
// hosts with their own provider wiring.
func MetricsWithMeter(meter metric.Meter) Middleware {
	executions, _ := meter.Int64Counter("conveyor.job.executions",
		metric.WithDescription("Job executions by type, tenant, and outcome"),
	)
	duration, _ := meter.Float64Histogram("conveyor.job.duration",
		metric.WithDescription("Job execution duration in seconds"),
		metric.WithUnit("s"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("job_type", string(j.Type)),
			attribute.String("tenant", j.TenantID),
			attribute.String("status", status),
		)
		executions.Add(ctx, 1, attrs)
		duration.Record(ctx, elapsed, attrs)
		return err
	}
}
