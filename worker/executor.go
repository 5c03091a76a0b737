package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/ext"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/middleware"
	"github.com/conveyorhq/conveyor/retry"
)

// Executor runs one claimed job through the middleware chain and writes
// the outcome back through lease-guarded store operations.
type Executor struct {
	store       job.Store
	dlq         *dlq.Service
	registry    *job.Registry
	backoff     retry.Strategy
	extensions  *ext.Registry
	logger      *slog.Logger
	middlewares []middleware.Middleware
}

// NewExecutor creates an executor. All arguments are required except
// middlewares.
func NewExecutor(
	store job.Store,
	dlqService *dlq.Service,
	registry *job.Registry,
	backoff retry.Strategy,
	extensions *ext.Registry,
	logger *slog.Logger,
	middlewares ...middleware.Middleware,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if backoff == nil {
		backoff = retry.DefaultStrategy()
	}
	return &Executor{
		store:       store,
		dlq:         dlqService,
		registry:    registry,
		backoff:     backoff,
		extensions:  extensions,
		logger:      logger,
		middlewares: middlewares,
	}
}

// Execute runs the job to a terminal store write. It never returns an
// error: every failure mode is routed to retry or dead letter, and a
// lost lease means someone else owns the row now.
func (e *Executor) Execute(ctx context.Context, j *job.Job, workerID id.WorkerID) {
	handler, _, ok := e.registry.Get(j.Type)
	if !ok {
		// Nothing can ever run this job; retrying would not help.
		e.routeFailure(ctx, j, workerID, errors.New("no handler registered for type "+string(j.Type)), true)
		return
	}

	var outputRef string
	terminal := func(hctx context.Context) error {
		out, err := handler(hctx, j.InputRef)
		if err != nil {
			return err
		}
		outputRef = out
		return nil
	}

	err := middleware.Chain(terminal, j, e.middlewares...)(ctx)

	// A lease lost during execution means the reclaimer or an operator
	// took the job. The row is no longer ours to write.
	if errors.Is(context.Cause(ctx), conveyor.ErrLeaseLost) {
		e.logger.WarnContext(ctx, "discarding result of job with lost lease",
			"job_id", j.ID, "tenant_id", j.TenantID, "attempt", j.Attempt)
		return
	}

	if err == nil {
		e.complete(ctx, j, workerID, outputRef)
		return
	}
	e.routeFailure(ctx, j, workerID, err, retry.IsPermanent(err))
}

func (e *Executor) complete(ctx context.Context, j *job.Job, workerID id.WorkerID, outputRef string) {
	if err := e.store.CompleteJob(ctx, j.ID, workerID, outputRef); err != nil {
		if errors.Is(err, conveyor.ErrLeaseLost) {
			e.logger.WarnContext(ctx, "completion discarded, lease lost",
				"job_id", j.ID, "tenant_id", j.TenantID)
			return
		}
		e.logger.ErrorContext(ctx, "complete job", "job_id", j.ID, "error", err)
		return
	}
	j.Status = job.StatusCompleted
	j.OutputRef = outputRef
	if e.extensions != nil {
		e.extensions.EmitJobCompleted(ctx, j)
	}
}

// routeFailure records the failure and applies the retry policy:
// dead-letter when the error is permanent or the attempt budget is
// spent, requeue with backoff otherwise.
func (e *Executor) routeFailure(ctx context.Context, j *job.Job, workerID id.WorkerID, execErr error, permanent bool) {
	kind := job.KindRetryable
	if permanent {
		kind = job.KindPermanent
	}

	if err := e.store.FailJob(ctx, j.ID, workerID, execErr.Error(), kind); err != nil {
		if errors.Is(err, conveyor.ErrLeaseLost) {
			e.logger.WarnContext(ctx, "failure discarded, lease lost",
				"job_id", j.ID, "tenant_id", j.TenantID)
			return
		}
		e.logger.ErrorContext(ctx, "fail job", "job_id", j.ID, "error", err)
		return
	}
	j.Status = job.StatusFailed
	j.Error = execErr.Error()
	j.ErrorKind = kind

	if permanent || j.Attempt >= j.MaxAttempts {
		e.deadLetter(ctx, j)
		return
	}

	notBefore := time.Now().Add(e.backoff.Delay(j.Attempt))
	if err := e.store.RequeueJob(ctx, j.ID, notBefore); err != nil {
		e.logger.ErrorContext(ctx, "requeue job", "job_id", j.ID, "error", err)
		return
	}
	j.Status = job.StatusQueued
	if e.extensions != nil {
		e.extensions.EmitJobRequeued(ctx, j, notBefore)
	}
}

func (e *Executor) deadLetter(ctx context.Context, j *job.Job) {
	if err := e.store.DeadLetterJob(ctx, j.ID); err != nil {
		e.logger.ErrorContext(ctx, "dead letter job", "job_id", j.ID, "error", err)
		return
	}
	j.Status = job.StatusDeadLetter
	if e.dlq != nil {
		if _, err := e.dlq.Push(ctx, j, j.Error); err != nil {
			e.logger.ErrorContext(ctx, "push dead letter entry", "job_id", j.ID, "error", err)
		}
	}
	if e.extensions != nil {
		e.extensions.EmitJobDeadLettered(ctx, j)
	}
}
