package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/conveyorhq/conveyor/job"
)

// Logging logs the start and outcome of every execution with the job's
// identity, tenant, and attempt number.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		logger.DebugContext(ctx, "job started",
			"job_id", j.ID,
			"tenant_id", j.TenantID,
			"job_type", j.Type,
			"attempt", j.Attempt,
		)

		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.WarnContext(ctx, "job failed",
				"job_id", j.ID,
				"tenant_id", j.TenantID,
				"job_type", j.Type,
				"attempt", j.Attempt,
				"duration", elapsed,
				"error", err,
			)
			return err
		}

		logger.InfoContext(ctx, "job completed",
			"job_id", j.ID,
			"tenant_id", j.TenantID,
			"job_type", j.Type,
			"attempt", j.Attempt,
			"duration", elapsed,
		)
		return nil
	}
}
