// Package engine assembles the queue from its parts: it binds a store,
// handler registry, middleware chain, worker pool, lease reclaimer, and
// cron scheduler onto a conveyor.Conveyor and exposes the operations
// callers use day to day.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/cron"
	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/ext"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/middleware"
	"github.com/conveyorhq/conveyor/quota"
	"github.com/conveyorhq/conveyor/reclaim"
	"github.com/conveyorhq/conveyor/retry"
	"github.com/conveyorhq/conveyor/worker"
)

// Store is the persistence surface the engine requires from the
// conveyor's configured backend.
type Store interface {
	job.Store
	dlq.Store
}

// Engine is the assembled queue.
type Engine struct {
	conveyor   *conveyor.Conveyor
	store      Store
	registry   *job.Registry
	extensions *ext.Registry
	dlqService *dlq.Service
	scheduler  *cron.Scheduler
	quota      *quota.Manager
	logger     *slog.Logger
	config     conveyor.Config
}

// Option configures the engine during Build.
type Option func(*buildConfig)

type buildConfig struct {
	extensions  []any
	middlewares []middleware.Middleware
	backoff     retry.Strategy
	quota       *quota.Manager
}

// WithExtension registers an extension for lifecycle hooks.
func WithExtension(extension any) Option {
	return func(b *buildConfig) {
		b.extensions = append(b.extensions, extension)
	}
}

// WithMiddleware appends middlewares after the built-in chain.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(b *buildConfig) {
		b.middlewares = append(b.middlewares, mws...)
	}
}

// WithBackoff sets the retry backoff strategy.
func WithBackoff(s retry.Strategy) Option {
	return func(b *buildConfig) {
		b.backoff = s
	}
}

// WithQuota sets the per-tenant enqueue rate limiter.
func WithQuota(m *quota.Manager) Option {
	return func(b *buildConfig) {
		b.quota = m
	}
}

// Build assembles an engine on the conveyor. The conveyor's store must
// implement the full Store surface (both backends in this module do).
func Build(c *conveyor.Conveyor, opts ...Option) (*Engine, error) {
	store, ok := c.Store().(Store)
	if !ok {
		return nil, fmt.Errorf("engine: configured store does not implement job and dlq storage: %w", conveyor.ErrNoStore)
	}

	cfg := buildConfig{
		backoff: retry.DefaultStrategy(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := c.Logger()
	extensions := ext.NewRegistry(logger)
	for _, extension := range cfg.extensions {
		extensions.Register(extension)
	}

	registry := job.NewRegistry()
	dlqService := dlq.NewService(store, store, dlq.WithLogger(logger))

	chain := []middleware.Middleware{
		middleware.Recover(),
		middleware.Tracing(),
		middleware.Metrics(),
		middleware.Logging(logger),
		middleware.Tenant(),
		middleware.Timeout(),
	}
	chain = append(chain, cfg.middlewares...)

	conveyorCfg := c.Config()

	executor := worker.NewExecutor(store, dlqService, registry, cfg.backoff, extensions, logger, chain...)
	pool := worker.NewPool(store, executor,
		worker.WithPoolConcurrency(conveyorCfg.Concurrency),
		worker.WithPollInterval(conveyorCfg.PollInterval),
		worker.WithLeaseDuration(conveyorCfg.LeaseDuration),
		worker.WithHeartbeatInterval(conveyorCfg.HeartbeatInterval),
		worker.WithPoolLogger(logger),
		worker.WithPoolExtensions(extensions),
	)
	reclaimer := reclaim.New(store, dlqService,
		reclaim.WithInterval(conveyorCfg.ReclaimInterval),
		reclaim.WithBatch(conveyorCfg.ReclaimBatch),
		reclaim.WithLogger(logger),
		reclaim.WithExtensions(extensions),
	)

	e := &Engine{
		conveyor:   c,
		store:      store,
		registry:   registry,
		extensions: extensions,
		dlqService: dlqService,
		quota:      cfg.quota,
		logger:     logger,
		config:     conveyorCfg,
	}
	e.scheduler = cron.New(e.cronEnqueue,
		cron.WithLogger(logger),
		cron.WithExtensions(extensions),
	)

	c.AddRunner(pool)
	c.AddRunner(reclaimer)
	c.AddRunner(e.scheduler)
	c.SetExtensions(extensions)

	return e, nil
}

// Register adds a typed handler definition to the engine's registry.
func Register[T any](e *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(e.registry, def)
}

// EnqueueOption adjusts a single enqueue.
type EnqueueOption func(*job.Job)

// WithPriority sets the job's priority; higher runs first.
func WithPriority(p int) EnqueueOption {
	return func(j *job.Job) {
		j.Priority = p
	}
}

// WithDedupKey sets the idempotency key: at most one live job per
// (tenant, key).
func WithDedupKey(key string) EnqueueOption {
	return func(j *job.Job) {
		j.DedupKey = key
	}
}

// WithNotBefore defers the job's first attempt.
func WithNotBefore(t time.Time) EnqueueOption {
	return func(j *job.Job) {
		j.NotBefore = t
	}
}

// Enqueue submits a typed job. The input is JSON-serialized into the
// job's input reference.
func Enqueue[T any](ctx context.Context, e *Engine, tenantID string, jobType job.Type, input T, opts ...EnqueueOption) (*job.Job, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal input for %s: %w", jobType, err)
	}
	return e.EnqueueRaw(ctx, tenantID, jobType, payload, opts...)
}

// EnqueueRaw submits a job with a pre-serialized input reference. The
// job type must have a registered handler. When the dedup key matches
// an existing live or recently completed job, that job is returned and
// no new work is created.
func (e *Engine) EnqueueRaw(ctx context.Context, tenantID string, jobType job.Type, input []byte, opts ...EnqueueOption) (*job.Job, error) {
	if tenantID == "" {
		return nil, conveyor.ErrTenantRequired
	}
	handlerOpts, known := e.handlerOptions(jobType)
	if !known {
		return nil, fmt.Errorf("job type %q: %w", jobType, conveyor.ErrUnknownJobType)
	}
	if e.quota != nil && !e.quota.Allow(tenantID) {
		return nil, fmt.Errorf("tenant %q: %w", tenantID, conveyor.ErrTenantThrottled)
	}

	j := &job.Job{
		Entity:      conveyor.NewEntity(),
		ID:          id.NewJobID(),
		TenantID:    tenantID,
		Type:        jobType,
		Priority:    e.config.DefaultPriority,
		Status:      job.StatusQueued,
		MaxAttempts: handlerOpts.MaxAttempts,
		Timeout:     handlerOpts.Timeout,
		InputRef:    input,
		NotBefore:   time.Now(),
	}
	for _, opt := range opts {
		opt(j)
	}

	stored, err := e.store.EnqueueJob(ctx, j)
	if err != nil {
		return nil, err
	}
	if stored.ID != j.ID {
		// Dedup hit: the caller gets the existing job, and no
		// enqueued hook fires because nothing new was created.
		e.logger.DebugContext(ctx, "enqueue deduplicated",
			"tenant_id", tenantID, "dedup_key", j.DedupKey, "existing_job_id", stored.ID)
		return stored, nil
	}

	e.extensions.EmitJobEnqueued(ctx, stored)
	return stored, nil
}

func (e *Engine) handlerOptions(jobType job.Type) (job.Options, bool) {
	_, opts, ok := e.registry.Get(jobType)
	return opts, ok
}

// cronEnqueue adapts EnqueueRaw to the scheduler's callback.
func (e *Engine) cronEnqueue(ctx context.Context, tenantID string, jobType job.Type, input []byte, priority int, dedupKey string) (*job.Job, error) {
	opts := []EnqueueOption{WithDedupKey(dedupKey)}
	if priority != 0 {
		opts = append(opts, WithPriority(priority))
	}
	return e.EnqueueRaw(ctx, tenantID, jobType, input, opts...)
}

// AddSchedule registers a recurring schedule.
func (e *Engine) AddSchedule(entry cron.Entry) (id.ScheduleID, error) {
	return e.scheduler.Add(entry)
}

// Cancel stops a non-terminal job. A job already processing keeps
// running until its worker notices the lost lease, but its result will
// be discarded.
func (e *Engine) Cancel(ctx context.Context, tenantID string, jobID id.JobID) error {
	if err := e.store.CancelJob(ctx, tenantID, jobID); err != nil {
		return err
	}
	if j, err := e.store.GetJob(ctx, tenantID, jobID); err == nil {
		e.extensions.EmitJobCancelled(ctx, j)
	}
	return nil
}

// Retry returns a failed, dead-lettered, or cancelled job to the queue
// with a fresh attempt budget.
func (e *Engine) Retry(ctx context.Context, tenantID string, jobID id.JobID) error {
	return e.store.ResetJob(ctx, tenantID, jobID)
}

// GetJob returns the tenant's job by ID.
func (e *Engine) GetJob(ctx context.Context, tenantID string, jobID id.JobID) (*job.Job, error) {
	return e.store.GetJob(ctx, tenantID, jobID)
}

// ListJobs returns the tenant's jobs matching opts, newest first.
func (e *Engine) ListJobs(ctx context.Context, tenantID string, opts job.ListOpts) ([]*job.Job, error) {
	return e.store.ListJobs(ctx, tenantID, opts)
}

// Counts returns per-status job counts for the tenant.
func (e *Engine) Counts(ctx context.Context, tenantID string, opts job.CountOpts) (map[job.Status]int64, error) {
	return e.store.CountJobs(ctx, tenantID, opts)
}

// DLQ exposes the dead letter surface.
func (e *Engine) DLQ() *dlq.Service {
	return e.dlqService
}

// Types returns the registered job types.
func (e *Engine) Types() []job.Type {
	return e.registry.Types()
}

// Start launches the worker pool, reclaimer, and scheduler.
func (e *Engine) Start(ctx context.Context) error {
	return e.conveyor.Start(ctx)
}

// Stop gracefully shuts everything down.
func (e *Engine) Stop(ctx context.Context) error {
	return e.conveyor.Stop(ctx)
}
