package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/conveyorhq/conveyor/job"
)

// Recover converts handler panics into errors so one panicking job
// cannot take down the worker pool. The stack trace is embedded in the
// returned error.
func Recover() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job %s panicked: %v\n%s", j.ID, r, debug.Stack())
			}
		}()
		return next(ctx)
	}
}
