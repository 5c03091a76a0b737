package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// Service records dead-lettered jobs and replays them on operator
// request.
type Service struct {
	store  Store
	jobs   job.Store
	logger *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a dead letter service over the given stores.
func NewService(store Store, jobs job.Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		jobs:   jobs,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push snapshots a dead-lettered job into the queue.
func (s *Service) Push(ctx context.Context, j *job.Job, errMsg string) (*Entry, error) {
	e := NewEntry(j, errMsg)
	if err := s.store.PushDLQ(ctx, e); err != nil {
		return nil, fmt.Errorf("push dead letter entry: %w", err)
	}

	s.logger.WarnContext(ctx, "job dead-lettered",
		"entry_id", e.ID,
		"job_id", e.JobID,
		"tenant_id", e.TenantID,
		"job_type", e.JobType,
		"attempt", e.Attempt,
		"error_kind", e.ErrorKind,
	)
	return e, nil
}

// Requeue replays a dead letter entry as a fresh job. The new job
// starts queued with a zeroed attempt counter, carrying the original
// input, dedup key, and priority. The entry is marked requeued; the
// dead-lettered original is untouched. An entry can be replayed once.
func (s *Service) Requeue(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	e, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if e.RequeuedAt != nil {
		return nil, fmt.Errorf("entry %s already requeued at %s: %w",
			e.ID, e.RequeuedAt.Format(time.RFC3339), conveyor.ErrInvalidState)
	}

	fresh := &job.Job{
		Entity:      conveyor.NewEntity(),
		ID:          id.NewJobID(),
		TenantID:    e.TenantID,
		Type:        e.JobType,
		DedupKey:    e.DedupKey,
		Priority:    e.Priority,
		Status:      job.StatusQueued,
		MaxAttempts: e.MaxAttempts,
		InputRef:    e.InputRef,
		NotBefore:   time.Now(),
	}

	stored, err := s.jobs.EnqueueJob(ctx, fresh)
	if err != nil {
		return nil, fmt.Errorf("requeue entry %s: %w", e.ID, err)
	}

	if err := s.store.MarkRequeued(ctx, e.ID, time.Now()); err != nil {
		return nil, fmt.Errorf("mark entry %s requeued: %w", e.ID, err)
	}

	s.logger.InfoContext(ctx, "dead letter entry requeued",
		"entry_id", e.ID,
		"original_job_id", e.JobID,
		"new_job_id", stored.ID,
		"tenant_id", e.TenantID,
	)
	return stored, nil
}

// Get returns an entry by ID.
func (s *Service) Get(ctx context.Context, entryID id.DLQID) (*Entry, error) {
	return s.store.GetDLQ(ctx, entryID)
}

// List returns entries matching opts, newest first.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// Count returns the number of entries matching opts.
func (s *Service) Count(ctx context.Context, opts ListOpts) (int64, error) {
	return s.store.CountDLQ(ctx, opts)
}

// Purge deletes entries dead-lettered before the cutoff.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.store.PurgeDLQ(ctx, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "purged dead letter entries", "count", n, "before", before)
	}
	return n, nil
}
