// Package memory implements the store on in-process maps. It honors
// the same conditional-write guards as the Postgres backend, making it
// the reference implementation for tests and a usable backend for
// single-process deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// Store keeps jobs and dead letter entries in maps guarded by one
// mutex. Every read returns a copy, so callers can never mutate stored
// state without going through a conditional write.
type Store struct {
	mu          sync.Mutex
	jobs        map[id.JobID]*job.Job
	dlqEntries  map[id.DLQID]*dlq.Entry
	dedupWindow time.Duration
	closed      bool
}

// Option configures a Store.
type Option func(*Store)

// WithDedupWindow sets how long after a successful completion an
// identical dedup key still returns the finished job instead of
// enqueuing a fresh one.
func WithDedupWindow(d time.Duration) Option {
	return func(s *Store) {
		s.dedupWindow = d
	}
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:        make(map[id.JobID]*job.Job),
		dlqEntries:  make(map[id.DLQID]*dlq.Entry),
		dedupWindow: time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate is a no-op for the in-memory backend.
func (s *Store) Migrate(ctx context.Context) error {
	return nil
}

// Ping reports whether the store is open.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return conveyor.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Subsequent operations fail with
// conveyor.ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// checkOpen must be called with the mutex held.
func (s *Store) checkOpen() error {
	if s.closed {
		return conveyor.ErrStoreClosed
	}
	return nil
}

func cloneJob(j *job.Job) *job.Job {
	cp := *j
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		cp.LeaseExpiresAt = &t
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	if j.InputRef != nil {
		cp.InputRef = append([]byte(nil), j.InputRef...)
	}
	return &cp
}

func cloneEntry(e *dlq.Entry) *dlq.Entry {
	cp := *e
	if e.RequeuedAt != nil {
		t := *e.RequeuedAt
		cp.RequeuedAt = &t
	}
	if e.InputRef != nil {
		cp.InputRef = append([]byte(nil), e.InputRef...)
	}
	return &cp
}
