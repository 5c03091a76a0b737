// Package observability provides an extension that exports queue
// lifecycle metrics through OpenTelemetry.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/conveyorhq/conveyor/ext"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// MetricsExtension counts queue lifecycle events. Register it on the
// engine to get enqueue, claim, completion, retry, dead letter, reclaim,
// and cancel counters per job type and tenant.
type MetricsExtension struct {
	enqueued     metric.Int64Counter
	claimed      metric.Int64Counter
	completed    metric.Int64Counter
	requeued     metric.Int64Counter
	deadLettered metric.Int64Counter
	reclaimed    metric.Int64Counter
	cancelled    metric.Int64Counter
	cronFired    metric.Int64Counter
}

// Compile-time hook checks.
var (
	_ ext.JobEnqueuedHook     = (*MetricsExtension)(nil)
	_ ext.JobClaimedHook      = (*MetricsExtension)(nil)
	_ ext.JobCompletedHook    = (*MetricsExtension)(nil)
	_ ext.JobRequeuedHook     = (*MetricsExtension)(nil)
	_ ext.JobDeadLetteredHook = (*MetricsExtension)(nil)
	_ ext.JobReclaimedHook    = (*MetricsExtension)(nil)
	_ ext.JobCancelledHook    = (*MetricsExtension)(nil)
	_ ext.CronFiredHook       = (*MetricsExtension)(nil)
)

// NewMetricsExtension creates the extension on the global meter
// provider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter("conveyor"))
}

// NewMetricsExtensionWithMeter creates the extension on an explicit
// meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	m.enqueued, _ = meter.Int64Counter("conveyor.jobs.enqueued",
		metric.WithDescription("Fresh jobs durably enqueued"))
	m.claimed, _ = meter.Int64Counter("conveyor.jobs.claimed",
		metric.WithDescription("Jobs claimed by workers"))
	m.completed, _ = meter.Int64Counter("conveyor.jobs.completed",
		metric.WithDescription("Jobs completed successfully"))
	m.requeued, _ = meter.Int64Counter("conveyor.jobs.requeued",
		metric.WithDescription("Failed jobs requeued for retry"))
	m.deadLettered, _ = meter.Int64Counter("conveyor.jobs.dead_lettered",
		metric.WithDescription("Jobs routed to the dead letter queue"))
	m.reclaimed, _ = meter.Int64Counter("conveyor.jobs.reclaimed",
		metric.WithDescription("Expired leases recovered by the reclaimer"))
	m.cancelled, _ = meter.Int64Counter("conveyor.jobs.cancelled",
		metric.WithDescription("Jobs cancelled by operators"))
	m.cronFired, _ = meter.Int64Counter("conveyor.cron.fired",
		metric.WithDescription("Jobs enqueued by cron schedules"))
	return m
}

func jobAttrs(j *job.Job) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("job_type", string(j.Type)),
		attribute.String("tenant", j.TenantID),
	)
}

// OnJobEnqueued implements ext.JobEnqueuedHook.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.enqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobClaimed implements ext.JobClaimedHook.
func (m *MetricsExtension) OnJobClaimed(ctx context.Context, j *job.Job, workerID id.WorkerID) error {
	m.claimed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompletedHook.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job) error {
	m.completed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRequeued implements ext.JobRequeuedHook.
func (m *MetricsExtension) OnJobRequeued(ctx context.Context, j *job.Job, notBefore time.Time) error {
	m.requeued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobDeadLettered implements ext.JobDeadLetteredHook.
func (m *MetricsExtension) OnJobDeadLettered(ctx context.Context, j *job.Job) error {
	m.deadLettered.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobReclaimed implements ext.JobReclaimedHook.
func (m *MetricsExtension) OnJobReclaimed(ctx context.Context, j *job.Job) error {
	m.reclaimed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelledHook.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.cancelled.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnCronFired implements ext.CronFiredHook.
func (m *MetricsExtension) OnCronFired(ctx context.Context, schedule string, j *job.Job) error {
	m.cronFired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("schedule", schedule),
		attribute.String("job_type", string(j.Type)),
		attribute.String("tenant", j.TenantID),
	))
	return nil
}
