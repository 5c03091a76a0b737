// Package conveyor provides a durable, multi-tenant job queue and worker
// orchestration layer for pipeline workloads: document ingestion,
// retrieval queries, approval workflows, model training, dataset export.
//
// Conveyor is designed as a library, not a service. Import it, configure
// a store, register handlers for your job types, and start a worker pool.
// All coordination between workers happens through atomic conditional
// writes against the shared store: no distributed lock manager, no
// in-process state that another worker depends on.
//
// # Quick Start
//
//	c, err := conveyor.New(
//	    conveyor.WithStore(pgStore),
//	    conveyor.WithConcurrency(20),
//	)
//
// # Architecture
//
// Conveyor follows a composable store pattern: the job and dlq
// subsystems each define their own store interface and a single backend
// (postgres or memory) implements both. A job moves through
// queued → processing → {completed | failed}, with failed jobs either
// requeued under a backoff policy or routed to the dead letter state.
// Workers hold time-bounded leases over claimed jobs; a lease that
// expires without a terminal write is recovered by the reclaimer.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package conveyor
