package middleware

import (
	"context"

	"github.com/conveyorhq/conveyor/job"
)

// Timeout bounds the execution by the job's per-type timeout. Jobs
// with a zero timeout run under the surrounding deadline (the lease
// expiry) alone.
func Timeout() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()
		return next(ctx)
	}
}
