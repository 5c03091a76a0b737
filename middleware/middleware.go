package middleware

import (
	"context"

	"github.com/conveyorhq/conveyor/job"
)

// Handler is the innermost unit a middleware wraps: one job execution.
type Handler func(ctx context.Context) error

// Middleware wraps a handler invocation for one job. Implementations
// call next to continue the chain, or return without calling it to
// short-circuit.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes middlewares around a handler for one job. The first
// middleware listed is outermost.
func Chain(handler Handler, j *job.Job, mws ...Middleware) Handler {
	h := handler
	for i := len(mws) - 1; i >= 0; i-- {
		mw := mws[i]
		inner := h
		h = func(ctx context.Context) error {
			return mw(ctx, j, inner)
		}
	}
	return h
}
