// Package worker implements the claim-execute loop: a Pool of
// goroutines that poll the store for eligible jobs and an Executor that
// runs each claimed job through the middleware chain and writes its
// terminal state.
//
// # Lease protocol
//
// A claim grants the pool a time-bounded lease. A heartbeat goroutine
// extends the leases of all in-flight jobs; if an extension reports the
// lease lost (the reclaimer swept it, or an operator cancelled the
// job), the handler's context is cancelled with conveyor.ErrLeaseLost
// and its eventual result is discarded. Terminal writes are themselves
// guarded on the lease, so even a handler that ignores cancellation
// cannot overwrite a transition made by someone else.
//
// # Failure routing
//
// A handler error marked with retry.Permanent, or a retryable error on
// the final attempt, dead-letters the job and records a dlq entry.
// Otherwise the job is requeued with backoff computed from the attempt
// number.
package worker
