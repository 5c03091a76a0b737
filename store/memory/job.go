package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// findDedup must be called with the mutex held. It returns the job an
// enqueue with this dedup key collides with: any live job for the
// tenant with the same key, or one that completed within the dedup
// window.
func (s *Store) findDedup(tenantID, key string, now time.Time) *job.Job {
	if key == "" {
		return nil
	}
	for _, j := range s.jobs {
		if j.TenantID != tenantID || j.DedupKey != key {
			continue
		}
		if !j.Status.Terminal() {
			return j
		}
		if j.Status == job.StatusCompleted && j.FinishedAt != nil &&
			now.Sub(*j.FinishedAt) <= s.dedupWindow {
			return j
		}
	}
	return nil
}

// EnqueueJob implements job.Store.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if existing := s.findDedup(j.TenantID, j.DedupKey, time.Now()); existing != nil {
		return cloneJob(existing), nil
	}

	stored := cloneJob(j)
	s.jobs[stored.ID] = stored
	return cloneJob(stored), nil
}

// ClaimJobs implements job.Store.
func (s *Store) ClaimJobs(ctx context.Context, workerID id.WorkerID, limit int, lease time.Duration) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	now := time.Now()
	eligible := make([]*job.Job, 0)
	for _, j := range s.jobs {
		if j.Status == job.StatusQueued && !j.NotBefore.After(now) {
			eligible = append(eligible, j)
		}
	}
	sort.Slice(eligible, func(a, b int) bool {
		if eligible[a].Priority != eligible[b].Priority {
			return eligible[a].Priority > eligible[b].Priority
		}
		return eligible[a].CreatedAt.Before(eligible[b].CreatedAt)
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	expires := now.Add(lease)
	claimed := make([]*job.Job, 0, len(eligible))
	for _, j := range eligible {
		j.Status = job.StatusProcessing
		j.Attempt++
		j.LeaseOwner = workerID
		j.LeaseExpiresAt = &expires
		if j.StartedAt == nil {
			// First claim only; retries keep the original start.
			start := now
			j.StartedAt = &start
		}
		j.Touch()
		claimed = append(claimed, cloneJob(j))
	}
	return claimed, nil
}

// leased must be called with the mutex held. It returns the job only
// if it is processing under the given worker.
func (s *Store) leased(jobID id.JobID, workerID id.WorkerID) (*job.Job, error) {
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, conveyor.ErrJobNotFound)
	}
	if j.Status != job.StatusProcessing || j.LeaseOwner != workerID {
		return nil, fmt.Errorf("job %s not leased by %s: %w", jobID, workerID, conveyor.ErrLeaseLost)
	}
	return j, nil
}

// ExtendLease implements job.Store.
func (s *Store) ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	j, err := s.leased(jobID, workerID)
	if err != nil {
		return err
	}
	expires := time.Now().Add(lease)
	j.LeaseExpiresAt = &expires
	j.Touch()
	return nil
}

// CompleteJob implements job.Store.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, outputRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	j, err := s.leased(jobID, workerID)
	if err != nil {
		return err
	}
	now := time.Now()
	j.Status = job.StatusCompleted
	j.OutputRef = outputRef
	j.LeaseOwner = id.Nil
	j.LeaseExpiresAt = nil
	j.FinishedAt = &now
	j.Touch()
	return nil
}

// FailJob implements job.Store.
func (s *Store) FailJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, errMsg string, kind job.ErrorKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	j, err := s.leased(jobID, workerID)
	if err != nil {
		return err
	}
	j.Status = job.StatusFailed
	j.Error = errMsg
	j.ErrorKind = kind
	j.LeaseOwner = id.Nil
	j.LeaseExpiresAt = nil
	j.Touch()
	return nil
}

// RequeueJob implements job.Store.
func (s *Store) RequeueJob(ctx context.Context, jobID id.JobID, notBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, conveyor.ErrJobNotFound)
	}
	if j.Status != job.StatusFailed {
		return fmt.Errorf("job %s is %s, not failed: %w", jobID, j.Status, conveyor.ErrInvalidState)
	}
	j.Status = job.StatusQueued
	j.NotBefore = notBefore
	j.Touch()
	return nil
}

// DeadLetterJob implements job.Store.
func (s *Store) DeadLetterJob(ctx context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, conveyor.ErrJobNotFound)
	}
	if j.Status != job.StatusFailed {
		return fmt.Errorf("job %s is %s, not failed: %w", jobID, j.Status, conveyor.ErrInvalidState)
	}
	now := time.Now()
	j.Status = job.StatusDeadLetter
	j.FinishedAt = &now
	j.Touch()
	return nil
}

// SweepExpiredLeases implements job.Store.
func (s *Store) SweepExpiredLeases(ctx context.Context, now time.Time, limit int) (*job.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	result := &job.SweepResult{}
	swept := 0
	for _, j := range s.jobs {
		if limit > 0 && swept >= limit {
			break
		}
		if !j.LeaseExpired(now) {
			continue
		}
		swept++
		j.Error = fmt.Sprintf("lease expired on attempt %d (worker %s)", j.Attempt, j.LeaseOwner)
		j.ErrorKind = job.KindAbandoned
		j.LeaseOwner = id.Nil
		j.LeaseExpiresAt = nil
		if j.Attempt >= j.MaxAttempts {
			finished := now
			j.Status = job.StatusDeadLetter
			j.FinishedAt = &finished
			j.Touch()
			result.DeadLettered = append(result.DeadLettered, cloneJob(j))
		} else {
			j.Status = job.StatusQueued
			j.NotBefore = now
			j.Touch()
			result.Requeued = append(result.Requeued, cloneJob(j))
		}
	}
	return result, nil
}

// CancelJob implements job.Store.
func (s *Store) CancelJob(ctx context.Context, tenantID string, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	j, ok := s.jobs[jobID]
	if !ok || j.TenantID != tenantID {
		return fmt.Errorf("job %s: %w", jobID, conveyor.ErrJobNotFound)
	}
	if j.Status.Terminal() {
		return fmt.Errorf("job %s is %s: %w", jobID, j.Status, conveyor.ErrInvalidState)
	}
	now := time.Now()
	j.Status = job.StatusCancelled
	j.LeaseOwner = id.Nil
	j.LeaseExpiresAt = nil
	j.FinishedAt = &now
	j.Touch()
	return nil
}

// ResetJob implements job.Store.
func (s *Store) ResetJob(ctx context.Context, tenantID string, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	j, ok := s.jobs[jobID]
	if !ok || j.TenantID != tenantID {
		return fmt.Errorf("job %s: %w", jobID, conveyor.ErrJobNotFound)
	}
	switch j.Status {
	case job.StatusFailed, job.StatusDeadLetter, job.StatusCancelled:
	default:
		return fmt.Errorf("job %s is %s: %w", jobID, j.Status, conveyor.ErrInvalidState)
	}
	j.Status = job.StatusQueued
	j.Attempt = 0
	j.Error = ""
	j.ErrorKind = ""
	j.OutputRef = ""
	j.LeaseOwner = id.Nil
	j.LeaseExpiresAt = nil
	j.NotBefore = time.Now()
	j.FinishedAt = nil
	j.Touch()
	return nil
}

// GetJob implements job.Store.
func (s *Store) GetJob(ctx context.Context, tenantID string, jobID id.JobID) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	j, ok := s.jobs[jobID]
	if !ok || j.TenantID != tenantID {
		return nil, fmt.Errorf("job %s: %w", jobID, conveyor.ErrJobNotFound)
	}
	return cloneJob(j), nil
}

// ListJobs implements job.Store.
func (s *Store) ListJobs(ctx context.Context, tenantID string, opts job.ListOpts) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	matched := make([]*job.Job, 0)
	for _, j := range s.jobs {
		if j.TenantID != tenantID {
			continue
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		matched = append(matched, j)
	}
	sort.Slice(matched, func(a, b int) bool {
		return matched[a].CreatedAt.After(matched[b].CreatedAt)
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if opts.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*job.Job, len(matched))
	for i, j := range matched {
		out[i] = cloneJob(j)
	}
	return out, nil
}

// CountJobs implements job.Store.
func (s *Store) CountJobs(ctx context.Context, tenantID string, opts job.CountOpts) (map[job.Status]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	counts := make(map[job.Status]int64)
	for _, j := range s.jobs {
		if j.TenantID != tenantID {
			continue
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		counts[j.Status]++
	}
	return counts, nil
}
