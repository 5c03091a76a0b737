package job

import (
	"context"
	"time"

	"github.com/conveyorhq/conveyor/id"
)

// ListOpts filters and paginates job listings.
type ListOpts struct {
	// Type restricts results to one job type. Empty means all types.
	Type Type
	// Status restricts results to one status. Empty means all statuses.
	Status Status
	// Limit caps the number of rows returned. Zero means the backend
	// default (100).
	Limit int
	// Offset skips the first N matching rows.
	Offset int
}

// CountOpts filters job counting.
type CountOpts struct {
	// Type restricts counting to one job type. Empty means all types.
	Type Type
}

// SweepResult reports the outcome of one expired-lease sweep.
type SweepResult struct {
	// Requeued holds jobs whose leases expired with attempts
	// remaining; they are queued again with the abandonment recorded.
	Requeued []*Job
	// DeadLettered holds jobs whose leases expired on their final
	// attempt; they moved to the dead letter state.
	DeadLettered []*Job
}

// Store is the persistence contract for jobs. Every mutation is an
// atomic conditional write: the backend applies it only if the row
// still satisfies the stated guard, and reports a guard miss as
// conveyor.ErrLeaseLost (worker-side writes) or conveyor.ErrInvalidState
// (operator-side writes). Implementations must be safe for concurrent
// use from many workers and processes.
type Store interface {
	// EnqueueJob inserts the job, or, when j.DedupKey matches a live
	// job (or one that finished within the dedup window) for the same
	// tenant, returns that existing job instead of inserting. The
	// returned job reflects what is durably stored; callers detect a
	// dedup hit by comparing IDs.
	EnqueueJob(ctx context.Context, j *Job) (*Job, error)

	// ClaimJobs atomically claims up to limit eligible jobs for the
	// given worker: status queued, NotBefore passed, ordered by
	// priority descending then creation time ascending. Each claimed
	// job transitions to processing with Attempt incremented and a
	// lease of the given duration. Concurrent claimers never receive
	// the same job.
	ClaimJobs(ctx context.Context, workerID id.WorkerID, limit int, lease time.Duration) ([]*Job, error)

	// ExtendLease pushes the lease expiry of a processing job owned by
	// workerID to now+lease. Returns conveyor.ErrLeaseLost if the job
	// is no longer processing under that worker.
	ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, lease time.Duration) error

	// CompleteJob transitions processing→completed, recording the
	// output reference and clearing the lease. Guarded on the lease
	// owner: returns conveyor.ErrLeaseLost on a mismatch.
	CompleteJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, outputRef string) error

	// FailJob transitions processing→failed, recording the error and
	// its kind and clearing the lease. Guarded on the lease owner.
	FailJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, errMsg string, kind ErrorKind) error

	// RequeueJob transitions failed→queued with NotBefore set for
	// backoff. Returns conveyor.ErrInvalidState if the job is not
	// failed.
	RequeueJob(ctx context.Context, jobID id.JobID, notBefore time.Time) error

	// DeadLetterJob transitions failed→dead_letter. Returns
	// conveyor.ErrInvalidState if the job is not failed.
	DeadLetterJob(ctx context.Context, jobID id.JobID) error

	// SweepExpiredLeases finds up to limit processing jobs whose lease
	// expired before now and transitions each one atomically: back to
	// queued when attempts remain, to dead_letter when the expired
	// attempt was the last. The abandonment is recorded on the row.
	SweepExpiredLeases(ctx context.Context, now time.Time, limit int) (*SweepResult, error)

	// CancelJob transitions any non-terminal job of the tenant to
	// cancelled. A processing job keeps running until its worker
	// observes the lost lease; its terminal write will then miss the
	// status guard and be discarded. Returns conveyor.ErrInvalidState
	// for terminal jobs and conveyor.ErrJobNotFound for unknown ones.
	CancelJob(ctx context.Context, tenantID string, jobID id.JobID) error

	// ResetJob transitions a failed, dead_letter, or cancelled job back
	// to queued in place, resetting the attempt counter and clearing
	// the recorded error, output, and lease. Returns
	// conveyor.ErrInvalidState for any other status.
	ResetJob(ctx context.Context, tenantID string, jobID id.JobID) error

	// GetJob returns the tenant's job by ID, or conveyor.ErrJobNotFound.
	GetJob(ctx context.Context, tenantID string, jobID id.JobID) (*Job, error)

	// ListJobs returns the tenant's jobs matching opts, newest first.
	ListJobs(ctx context.Context, tenantID string, opts ListOpts) ([]*Job, error)

	// CountJobs returns per-status counts for the tenant's jobs
	// matching opts. Statuses with zero jobs may be absent.
	CountJobs(ctx context.Context, tenantID string, opts CountOpts) (map[Status]int64, error)
}
