package job

import (
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusQueued means the job is waiting to be claimed by a worker.
	StatusQueued Status = "queued"
	// StatusProcessing means a worker holds the lease and is executing.
	StatusProcessing Status = "processing"
	// StatusCompleted means the job finished successfully. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed means the last attempt failed; the retry policy will
	// requeue or dead-letter it.
	StatusFailed Status = "failed"
	// StatusDeadLetter means the job exhausted its retries or failed
	// permanently and awaits operator action. Terminal.
	StatusDeadLetter Status = "dead_letter"
	// StatusCancelled means an operator cancelled the job. Terminal.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further automatic
// transitions. Terminal jobs are immutable except for operator reset.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDeadLetter || s == StatusCancelled
}

// Type identifies the category of work a job carries and selects the
// handler it dispatches to.
type Type string

// The pipeline work categories.
const (
	TypeIngest         Type = "ingest"
	TypeRetrievalQuery Type = "retrieval_query"
	TypeApproval       Type = "approval"
	TypeTrain          Type = "train"
	TypeExport         Type = "export"
	TypeBatch          Type = "batch"
)

// ErrorKind classifies a recorded job failure.
type ErrorKind string

const (
	// KindRetryable marks a transient failure; the job is requeued
	// while attempts remain.
	KindRetryable ErrorKind = "retryable"
	// KindPermanent marks an unprocessable input; the job dead-letters
	// immediately regardless of remaining attempts.
	KindPermanent ErrorKind = "permanent"
	// KindAbandoned marks a lease that expired without a terminal
	// write, meaning a crashed or hung worker. Treated as retryable
	// by the reclaimer.
	KindAbandoned ErrorKind = "abandoned"
)

// Job represents a unit of asynchronous work owned by a tenant.
type Job struct {
	conveyor.Entity

	ID          id.JobID  `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Type        Type      `json:"type"`
	DedupKey    string    `json:"dedup_key,omitempty"`
	Priority    int       `json:"priority"`
	Status      Status    `json:"status"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	InputRef    []byte    `json:"input_ref,omitempty"`
	OutputRef   string    `json:"output_ref,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`

	// Lease fields. LeaseOwner is non-nil-equivalent (non-Nil) exactly
	// while one worker owns the job; LeaseExpiresAt bounds that
	// ownership in time.
	LeaseOwner     id.WorkerID `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time  `json:"lease_expires_at,omitempty"`

	// NotBefore is the earliest instant the job is claimable. Retry
	// backoff is expressed by pushing it into the future.
	NotBefore time.Time `json:"not_before"`

	// Timeout caps a single handler execution. Zero means the lease
	// deadline alone bounds the handler.
	Timeout time.Duration `json:"timeout,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// LeaseExpired reports whether the job is in processing state with a
// lease that has passed. Such a job is logically abandoned even though
// its status column still reads processing until the reclaimer acts.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.Status == StatusProcessing &&
		j.LeaseExpiresAt != nil &&
		j.LeaseExpiresAt.Before(now)
}
