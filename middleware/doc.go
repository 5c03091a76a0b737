// Package middleware provides the handler interception chain that wraps
// every job execution.
//
// A [Middleware] receives the job and the next handler in the chain and
// decides how to invoke it. [Chain] composes middlewares so the first
// one listed is outermost:
//
//	h := middleware.Chain(handler, j,
//	    middleware.Recover(),
//	    middleware.Logging(logger),
//	    middleware.Timeout(),
//	)
//
// The built-in set covers panic recovery, OpenTelemetry tracing and
// metrics, structured logging, tenant context propagation, and per-type
// execution timeouts.
package middleware
