package conveyor

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("conveyor: no store configured")
	ErrStoreClosed     = errors.New("conveyor: store closed")
	ErrMigrationFailed = errors.New("conveyor: migration failed")

	// Not found errors.
	ErrJobNotFound = errors.New("conveyor: job not found")
	ErrDLQNotFound = errors.New("conveyor: dlq entry not found")

	// Caller errors. These are rejected synchronously at enqueue time
	// and never produce a job row.
	ErrUnknownJobType  = errors.New("conveyor: unknown job type")
	ErrTenantRequired  = errors.New("conveyor: tenant id required")
	ErrTenantThrottled = errors.New("conveyor: tenant enqueue rate exceeded")

	// State errors.
	//
	// ErrLeaseLost is returned by lease-keyed conditional writes
	// (heartbeat, complete, fail) when the caller no longer holds the
	// lease because the job was reclaimed, cancelled, or claimed by
	// another worker. The caller must discard its result.
	ErrLeaseLost    = errors.New("conveyor: lease no longer held")
	ErrInvalidState = errors.New("conveyor: invalid state transition")
)
