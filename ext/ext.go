package ext

import (
	"context"
	"time"

	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// JobEnqueuedHook fires after a fresh job row is durably written.
// Dedup hits returning an existing row do not fire it.
type JobEnqueuedHook interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobClaimedHook fires after a worker claims a job.
type JobClaimedHook interface {
	OnJobClaimed(ctx context.Context, j *job.Job, workerID id.WorkerID) error
}

// JobCompletedHook fires after a job completes successfully.
type JobCompletedHook interface {
	OnJobCompleted(ctx context.Context, j *job.Job) error
}

// JobRequeuedHook fires after a failed job is queued for retry.
// notBefore is the earliest instant of the next attempt.
type JobRequeuedHook interface {
	OnJobRequeued(ctx context.Context, j *job.Job, notBefore time.Time) error
}

// JobDeadLetteredHook fires after a job moves to the dead letter state.
type JobDeadLetteredHook interface {
	OnJobDeadLettered(ctx context.Context, j *job.Job) error
}

// JobReclaimedHook fires after the reclaimer recovers an expired lease,
// whether the job was requeued or dead-lettered.
type JobReclaimedHook interface {
	OnJobReclaimed(ctx context.Context, j *job.Job) error
}

// JobCancelledHook fires after an operator cancels a job.
type JobCancelledHook interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// CronFiredHook fires after a cron schedule enqueues a job.
type CronFiredHook interface {
	OnCronFired(ctx context.Context, schedule string, j *job.Job) error
}

// ShutdownHook fires during graceful shutdown, after runners stop and
// before the store closes.
type ShutdownHook interface {
	OnShutdown(ctx context.Context) error
}
