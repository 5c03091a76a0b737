package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

const dlqColumns = `
	id, job_id, tenant_id, job_type, dedup_key, priority, input_ref,
	last_error, error_kind, attempt, max_attempts, failed_at, requeued_at,
	created_at, updated_at`

// PushDLQ appends a dead letter entry.
func (s *Store) PushDLQ(ctx context.Context, e *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_dlq (
			id, job_id, tenant_id, job_type, dedup_key, priority, input_ref,
			last_error, error_kind, attempt, max_attempts, failed_at, requeued_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15
		)`,
		e.ID.String(), e.JobID.String(), e.TenantID, string(e.JobType),
		e.DedupKey, e.Priority, e.InputRef,
		e.Error, string(e.ErrorKind), e.Attempt, e.MaxAttempts,
		e.FailedAt, e.RequeuedAt,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: push dead letter entry: %w", err)
	}
	return nil
}

// GetDLQ retrieves a dead letter entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+dlqColumns+`
		FROM conveyor_dlq
		WHERE id = $1`,
		entryID.String(),
	)

	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("dead letter entry %s: %w", entryID, conveyor.ErrDLQNotFound)
		}
		return nil, fmt.Errorf("conveyor/postgres: get dead letter entry: %w", err)
	}
	return e, nil
}

// ListDLQ returns entries matching opts, newest failures first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM conveyor_dlq WHERE 1=1`
	var args []any

	if opts.TenantID != "" {
		args = append(args, opts.TenantID)
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if opts.JobType != "" {
		args = append(args, string(opts.JobType))
		query += fmt.Sprintf(" AND job_type = $%d", len(args))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY failed_at DESC LIMIT $%d", len(args))
	args = append(args, opts.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list dead letter entries: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan dead letter row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate dead letter rows: %w", err)
	}
	return entries, nil
}

// MarkRequeued records the replay instant, once.
func (s *Store) MarkRequeued(ctx context.Context, entryID id.DLQID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_dlq
		SET requeued_at = $2, updated_at = NOW()
		WHERE id = $1 AND requeued_at IS NULL`,
		entryID.String(), at,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: mark requeued: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if qErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM conveyor_dlq WHERE id = $1)`,
			entryID.String(),
		).Scan(&exists); qErr != nil {
			return fmt.Errorf("conveyor/postgres: check dead letter entry: %w", qErr)
		}
		if !exists {
			return fmt.Errorf("dead letter entry %s: %w", entryID, conveyor.ErrDLQNotFound)
		}
		return fmt.Errorf("dead letter entry %s already requeued: %w", entryID, conveyor.ErrInvalidState)
	}
	return nil
}

// CountDLQ returns the number of entries matching opts.
func (s *Store) CountDLQ(ctx context.Context, opts dlq.ListOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM conveyor_dlq WHERE 1=1`
	var args []any

	if opts.TenantID != "" {
		args = append(args, opts.TenantID)
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if opts.JobType != "" {
		args = append(args, string(opts.JobType))
		query += fmt.Sprintf(" AND job_type = $%d", len(args))
	}

	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("conveyor/postgres: count dead letter entries: %w", err)
	}
	return n, nil
}

// PurgeDLQ deletes entries dead-lettered before the cutoff.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conveyor_dlq WHERE failed_at < $1`, before,
	)
	if err != nil {
		return 0, fmt.Errorf("conveyor/postgres: purge dead letter entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanEntry scans a single dead letter row.
func scanEntry(row pgx.Row) (*dlq.Entry, error) {
	var (
		e        dlq.Entry
		idStr    string
		jobIDStr string
		typeStr  string
		kindStr  string
	)
	err := row.Scan(
		&idStr, &jobIDStr, &e.TenantID, &typeStr, &e.DedupKey,
		&e.Priority, &e.InputRef,
		&e.Error, &kindStr, &e.Attempt, &e.MaxAttempts,
		&e.FailedAt, &e.RequeuedAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.JobType = job.Type(typeStr)
	e.ErrorKind = job.ErrorKind(kindStr)

	parsedID, parseErr := id.ParseDLQID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("conveyor/postgres: parse dead letter id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	parsedJobID, parseErr := id.ParseJobID(jobIDStr)
	if parseErr != nil {
		return nil, fmt.Errorf("conveyor/postgres: parse job id %q: %w", jobIDStr, parseErr)
	}
	e.JobID = parsedJobID

	return &e, nil
}
