package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

const jobColumns = `
	id, tenant_id, type, dedup_key, priority, status, attempt, max_attempts,
	input_ref, output_ref, last_error, error_kind, lease_owner, lease_expires_at,
	not_before, timeout_ns, started_at, finished_at, created_at, updated_at`

// EnqueueJob inserts the job, deduplicating on (tenant, dedup key). The
// read-side check catches live and recently completed jobs; the partial
// unique index catches the race between two concurrent enqueues.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) (*job.Job, error) {
	if j.DedupKey != "" {
		existing, err := s.findDedup(ctx, j.TenantID, j.DedupKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_jobs (
			id, tenant_id, type, dedup_key, priority, status, attempt, max_attempts,
			input_ref, output_ref, last_error, error_kind, lease_owner, lease_expires_at,
			not_before, timeout_ns, started_at, finished_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20
		)`,
		j.ID.String(), j.TenantID, string(j.Type), j.DedupKey,
		j.Priority, string(j.Status), j.Attempt, j.MaxAttempts,
		j.InputRef, j.OutputRef, j.Error, string(j.ErrorKind),
		j.LeaseOwner.String(), j.LeaseExpiresAt,
		j.NotBefore, j.Timeout.Nanoseconds(), j.StartedAt, j.FinishedAt,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			// Lost the insert race: another enqueue with the same
			// dedup key landed first. Return its row.
			existing, dErr := s.findDedup(ctx, j.TenantID, j.DedupKey)
			if dErr != nil {
				return nil, dErr
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("conveyor/postgres: enqueue job: %w", err)
	}

	return j, nil
}

// findDedup returns the job an enqueue with this dedup key collides
// with: any live job for the tenant with the same key, or one that
// completed within the dedup window.
func (s *Store) findDedup(ctx context.Context, tenantID, key string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM conveyor_jobs
		WHERE tenant_id = $1 AND dedup_key = $2
		  AND (
			status IN ('queued', 'processing', 'failed')
			OR (status = 'completed' AND finished_at > NOW() - make_interval(secs => $3))
		  )
		ORDER BY created_at DESC
		LIMIT 1`,
		tenantID, key, s.dedupWindow.Seconds(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conveyor/postgres: dedup lookup: %w", err)
	}
	return j, nil
}

// ClaimJobs atomically claims up to limit eligible jobs. SELECT FOR
// UPDATE SKIP LOCKED keeps concurrent claimers off each other's rows.
func (s *Store) ClaimJobs(ctx context.Context, workerID id.WorkerID, limit int, lease time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE conveyor_jobs
			SET status = 'processing',
			    attempt = attempt + 1,
			    lease_owner = $1,
			    lease_expires_at = NOW() + make_interval(secs => $3),
			    started_at = COALESCE(started_at, NOW()),
			    updated_at = NOW()
			WHERE id IN (
				SELECT id FROM conveyor_jobs
				WHERE status = 'queued'
				  AND not_before <= NOW()
				ORDER BY priority DESC, created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM claimed ORDER BY priority DESC, created_at ASC`,
		workerID.String(), limit, lease.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: claim jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ExtendLease pushes the lease expiry of a job still processing under
// the given worker.
func (s *Store) ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, lease time.Duration) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs
		SET lease_expires_at = NOW() + make_interval(secs => $3), updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND lease_owner = $2`,
		jobID.String(), workerID.String(), lease.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: extend lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not leased by %s: %w", jobID, workerID, conveyor.ErrLeaseLost)
	}
	return nil
}

// CompleteJob transitions processing to completed, guarded on the lease
// owner.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, outputRef string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs
		SET status = 'completed',
		    output_ref = $3,
		    lease_owner = '',
		    lease_expires_at = NULL,
		    finished_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND lease_owner = $2`,
		jobID.String(), workerID.String(), outputRef,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not leased by %s: %w", jobID, workerID, conveyor.ErrLeaseLost)
	}
	return nil
}

// FailJob transitions processing to failed, guarded on the lease owner.
func (s *Store) FailJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, errMsg string, kind job.ErrorKind) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs
		SET status = 'failed',
		    last_error = $3,
		    error_kind = $4,
		    lease_owner = '',
		    lease_expires_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND lease_owner = $2`,
		jobID.String(), workerID.String(), errMsg, string(kind),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not leased by %s: %w", jobID, workerID, conveyor.ErrLeaseLost)
	}
	return nil
}

// RequeueJob transitions failed to queued with the next attempt gated
// on notBefore.
func (s *Store) RequeueJob(ctx context.Context, jobID id.JobID, notBefore time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs
		SET status = 'queued', not_before = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'failed'`,
		jobID.String(), notBefore,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: requeue job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.guardMiss(ctx, jobID, "failed")
	}
	return nil
}

// DeadLetterJob transitions failed to dead_letter.
func (s *Store) DeadLetterJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs
		SET status = 'dead_letter', finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'failed'`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: dead letter job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.guardMiss(ctx, jobID, "failed")
	}
	return nil
}

// SweepExpiredLeases recovers processing jobs whose lease expired
// before now: back to queued while attempts remain, to dead_letter on
// the final attempt. Two guarded statements, each atomic.
func (s *Store) SweepExpiredLeases(ctx context.Context, now time.Time, limit int) (*job.SweepResult, error) {
	result := &job.SweepResult{}

	rows, err := s.pool.Query(ctx, `
		WITH swept AS (
			UPDATE conveyor_jobs
			SET status = 'queued',
			    not_before = $1,
			    last_error = 'lease expired on attempt ' || attempt || ' (worker ' || lease_owner || ')',
			    error_kind = 'abandoned',
			    lease_owner = '',
			    lease_expires_at = NULL,
			    updated_at = NOW()
			WHERE id IN (
				SELECT id FROM conveyor_jobs
				WHERE status = 'processing'
				  AND lease_expires_at < $1
				  AND attempt < max_attempts
				ORDER BY lease_expires_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM swept`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: sweep requeue: %w", err)
	}
	result.Requeued, err = collectJobs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `
		WITH swept AS (
			UPDATE conveyor_jobs
			SET status = 'dead_letter',
			    last_error = 'lease expired on attempt ' || attempt || ' (worker ' || lease_owner || ')',
			    error_kind = 'abandoned',
			    lease_owner = '',
			    lease_expires_at = NULL,
			    finished_at = $1,
			    updated_at = NOW()
			WHERE id IN (
				SELECT id FROM conveyor_jobs
				WHERE status = 'processing'
				  AND lease_expires_at < $1
				  AND attempt >= max_attempts
				ORDER BY lease_expires_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM swept`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: sweep dead letter: %w", err)
	}
	result.DeadLettered, err = collectJobs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	return result, nil
}

// CancelJob transitions any non-terminal job of the tenant to
// cancelled.
func (s *Store) CancelJob(ctx context.Context, tenantID string, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs
		SET status = 'cancelled',
		    lease_owner = '',
		    lease_expires_at = NULL,
		    finished_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
		  AND status IN ('queued', 'processing', 'failed')`,
		jobID.String(), tenantID,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.tenantGuardMiss(ctx, tenantID, jobID)
	}
	return nil
}

// ResetJob returns a failed, dead-lettered, or cancelled job to the
// queue in place with a fresh retry budget.
func (s *Store) ResetJob(ctx context.Context, tenantID string, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs
		SET status = 'queued',
		    attempt = 0,
		    last_error = '',
		    error_kind = '',
		    output_ref = '',
		    lease_owner = '',
		    lease_expires_at = NULL,
		    not_before = NOW(),
		    finished_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
		  AND status IN ('failed', 'dead_letter', 'cancelled')`,
		jobID.String(), tenantID,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: reset job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.tenantGuardMiss(ctx, tenantID, jobID)
	}
	return nil
}

// GetJob retrieves a tenant's job by ID.
func (s *Store) GetJob(ctx context.Context, tenantID string, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM conveyor_jobs
		WHERE id = $1 AND tenant_id = $2`,
		jobID.String(), tenantID,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("job %s: %w", jobID, conveyor.ErrJobNotFound)
		}
		return nil, fmt.Errorf("conveyor/postgres: get job: %w", err)
	}
	return j, nil
}

// ListJobs returns the tenant's jobs matching opts, newest first.
func (s *Store) ListJobs(ctx context.Context, tenantID string, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM conveyor_jobs WHERE tenant_id = $1`
	args := []any{tenantID}

	if opts.Type != "" {
		args = append(args, string(opts.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, opts.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns per-status counts for the tenant's jobs.
func (s *Store) CountJobs(ctx context.Context, tenantID string, opts job.CountOpts) (map[job.Status]int64, error) {
	query := `SELECT status, COUNT(*) FROM conveyor_jobs WHERE tenant_id = $1`
	args := []any{tenantID}
	if opts.Type != "" {
		args = append(args, string(opts.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	query += " GROUP BY status"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[job.Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan count row: %w", err)
		}
		counts[job.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate count rows: %w", err)
	}
	return counts, nil
}

// guardMiss distinguishes a missing row from a state-guard miss after a
// zero-row update.
func (s *Store) guardMiss(ctx context.Context, jobID id.JobID, wantStatus string) error {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM conveyor_jobs WHERE id = $1`, jobID.String(),
	).Scan(&status)
	if err != nil {
		if isNoRows(err) {
			return fmt.Errorf("job %s: %w", jobID, conveyor.ErrJobNotFound)
		}
		return fmt.Errorf("conveyor/postgres: check job status: %w", err)
	}
	return fmt.Errorf("job %s is %s, not %s: %w", jobID, status, wantStatus, conveyor.ErrInvalidState)
}

// tenantGuardMiss is guardMiss for tenant-scoped operator writes.
func (s *Store) tenantGuardMiss(ctx context.Context, tenantID string, jobID id.JobID) error {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM conveyor_jobs WHERE id = $1 AND tenant_id = $2`,
		jobID.String(), tenantID,
	).Scan(&status)
	if err != nil {
		if isNoRows(err) {
			return fmt.Errorf("job %s: %w", jobID, conveyor.ErrJobNotFound)
		}
		return fmt.Errorf("conveyor/postgres: check job status: %w", err)
	}
	return fmt.Errorf("job %s is %s: %w", jobID, status, conveyor.ErrInvalidState)
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		typeStr   string
		statusStr string
		kindStr   string
		ownerStr  string
		timeoutNs int64
	)
	err := row.Scan(
		&idStr, &j.TenantID, &typeStr, &j.DedupKey,
		&j.Priority, &statusStr, &j.Attempt, &j.MaxAttempts,
		&j.InputRef, &j.OutputRef, &j.Error, &kindStr,
		&ownerStr, &j.LeaseExpiresAt,
		&j.NotBefore, &timeoutNs, &j.StartedAt, &j.FinishedAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Type = job.Type(typeStr)
	j.Status = job.Status(statusStr)
	j.ErrorKind = job.ErrorKind(kindStr)
	j.Timeout = time.Duration(timeoutNs)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("conveyor/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if ownerStr != "" {
		parsedOwner, ownerErr := id.ParseWorkerID(ownerStr)
		if ownerErr == nil {
			j.LeaseOwner = parsedOwner
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
