package dlq

import (
	"context"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// Entry is a snapshot of a job at the moment it was dead-lettered.
type Entry struct {
	conveyor.Entity

	ID          id.DLQID      `json:"id"`
	JobID       id.JobID      `json:"job_id"`
	TenantID    string        `json:"tenant_id"`
	JobType     job.Type      `json:"job_type"`
	DedupKey    string        `json:"dedup_key,omitempty"`
	Priority    int           `json:"priority"`
	InputRef    []byte        `json:"input_ref,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   job.ErrorKind `json:"error_kind,omitempty"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	FailedAt    time.Time     `json:"failed_at"`
	RequeuedAt  *time.Time    `json:"requeued_at,omitempty"`
}

// ListOpts filters and paginates entry listings.
type ListOpts struct {
	// TenantID restricts results to one tenant. Empty means all
	// tenants (operator surface only).
	TenantID string
	// JobType restricts results to one job type. Empty means all.
	JobType job.Type
	// Limit caps the number of rows returned. Zero means the backend
	// default (100).
	Limit int
	// Offset skips the first N matching rows.
	Offset int
}

// Store is the persistence contract for dead letter entries.
type Store interface {
	// PushDLQ appends an entry.
	PushDLQ(ctx context.Context, e *Entry) error

	// GetDLQ returns an entry by ID, or conveyor.ErrDLQNotFound.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ListDLQ returns entries matching opts, newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// MarkRequeued records that the entry was replayed at the given
	// instant. Returns conveyor.ErrInvalidState if already requeued.
	MarkRequeued(ctx context.Context, entryID id.DLQID, at time.Time) error

	// CountDLQ returns the number of entries matching opts.
	CountDLQ(ctx context.Context, opts ListOpts) (int64, error)

	// PurgeDLQ deletes entries dead-lettered before the cutoff and
	// returns how many were removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)
}

// NewEntry snapshots a dead-lettered job into an entry.
func NewEntry(j *job.Job, errMsg string) *Entry {
	kind := j.ErrorKind
	if kind == "" {
		kind = job.KindRetryable
	}
	if errMsg == "" {
		errMsg = j.Error
	}
	return &Entry{
		Entity:      conveyor.NewEntity(),
		ID:          id.NewDLQID(),
		JobID:       j.ID,
		TenantID:    j.TenantID,
		JobType:     j.Type,
		DedupKey:    j.DedupKey,
		Priority:    j.Priority,
		InputRef:    j.InputRef,
		Error:       errMsg,
		ErrorKind:   kind,
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
		FailedAt:    time.Now(),
	}
}
