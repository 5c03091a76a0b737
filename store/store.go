// Package store defines the composite persistence interface a backend
// implements to serve the queue: job rows, dead letter entries, and
// connection lifecycle.
//
// Two backends ship with the module: store/memory for tests and
// single-process use, and store/postgres for production.
package store

import (
	"context"

	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/job"
)

// Store is the full persistence surface. Backends must implement every
// mutation as an atomic conditional write; see the job.Store docs for
// the guard on each operation.
type Store interface {
	job.Store
	dlq.Store

	// Migrate brings the backend schema up to date. Idempotent.
	Migrate(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
