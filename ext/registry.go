package ext

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// Registry holds registered extensions and fans lifecycle events out to
// the ones implementing each hook. Hook slices are cached at
// registration so emission never type-asserts.
type Registry struct {
	mu     sync.RWMutex
	logger *slog.Logger

	all []any

	enqueued     []JobEnqueuedHook
	claimed      []JobClaimedHook
	completed    []JobCompletedHook
	requeued     []JobRequeuedHook
	deadLettered []JobDeadLetteredHook
	reclaimed    []JobReclaimedHook
	cancelled    []JobCancelledHook
	cronFired    []CronFiredHook
	shutdown     []ShutdownHook
}

// NewRegistry creates an empty extension registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension, slotting it into every hook it
// implements.
func (r *Registry) Register(extension any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.all = append(r.all, extension)

	if h, ok := extension.(JobEnqueuedHook); ok {
		r.enqueued = append(r.enqueued, h)
	}
	if h, ok := extension.(JobClaimedHook); ok {
		r.claimed = append(r.claimed, h)
	}
	if h, ok := extension.(JobCompletedHook); ok {
		r.completed = append(r.completed, h)
	}
	if h, ok := extension.(JobRequeuedHook); ok {
		r.requeued = append(r.requeued, h)
	}
	if h, ok := extension.(JobDeadLetteredHook); ok {
		r.deadLettered = append(r.deadLettered, h)
	}
	if h, ok := extension.(JobReclaimedHook); ok {
		r.reclaimed = append(r.reclaimed, h)
	}
	if h, ok := extension.(JobCancelledHook); ok {
		r.cancelled = append(r.cancelled, h)
	}
	if h, ok := extension.(CronFiredHook); ok {
		r.cronFired = append(r.cronFired, h)
	}
	if h, ok := extension.(ShutdownHook); ok {
		r.shutdown = append(r.shutdown, h)
	}
}

// Len returns the number of registered extensions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

func (r *Registry) logHookError(ctx context.Context, hook string, err error) {
	r.logger.ErrorContext(ctx, "extension hook failed", "hook", hook, "error", err)
}

// EmitJobEnqueued notifies JobEnqueuedHook extensions.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	r.mu.RLock()
	hooks := r.enqueued
	r.mu.RUnlock()
	for _, h := range hooks {
		if err := h.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError(ctx, "job_enqueued", err)
		}
	}
}

// EmitJobClaimed notifies JobClaimedHook extensions.
func (r *Registry) EmitJobClaimed(ctx context.Context, j *job.Job, workerID id.WorkerID) {
	r.mu.RLock()
	hooks := r.claimed
	r.mu.RUnlock()
	for _, h := range hooks {
		if err := h.OnJobClaimed(ctx, j, workerID); err != nil {
			r.logHookError(ctx, "job_claimed", err)
		}
	}
}

// EmitJobCompleted notifies JobCompletedHook extensions.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job) {
	r.mu.RLock()
	hooks := r.completed
	r.mu.RUnlock()
	for _, h := range hooks {
		if err := h.OnJobCompleted(ctx, j); err != nil {
			r.logHookError(ctx, "job_completed", err)
		}
	}
}

// EmitJobRequeued notifies JobRequeuedHook extensions.
func (r *Registry) EmitJobRequeued(ctx context.Context, j *job.Job, notBefore time.Time) {
	r.mu.RLock()
	hooks := r.requeued
	r.mu.RUnlock()
	for _, h := range hooks {
		if err := h.OnJobRequeued(ctx, j, notBefore); err != nil {
			r.logHookError(ctx, "job_requeued", err)
		}
	}
}

// EmitJobDeadLettered notifies JobDeadLetteredHook extensions.
func (r *Registry) EmitJobDeadLettered(ctx context.Context, j *job.Job) {
	r.mu.RLock()
	hooks := r.deadLettered
	r.mu.RUnlock()
	for _, h := range hooks {
		if err := h.OnJobDeadLettered(ctx, j); err != nil {
			r.logHookError(ctx, "job_dead_lettered", err)
		}
	}
}

// EmitJobReclaimed notifies JobReclaimedHook extensions.
func (r *Registry) EmitJobReclaimed(ctx context.Context, j *job.Job) {
	r.mu.RLock()
	hooks := r.reclaimed
	r.mu.RUnlock()
	for _, h := range hooks {
		if err := h.OnJobReclaimed(ctx, j); err != nil {
			r.logHookError(ctx, "job_reclaimed", err)
		}
	}
}

// EmitJobCancelled notifies JobCancelledHook extensions.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	r.mu.RLock()
	hooks := r.cancelled
	r.mu.RUnlock()
	for _, h := range hooks {
		if err := h.OnJobCancelled(ctx, j); err != nil {
			r.logHookError(ctx, "job_cancelled", err)
		}
	}
}

// EmitCronFired notifies CronFiredHook extensions.
func (r *Registry) EmitCronFired(ctx context.Context, schedule string, j *job.Job) {
	r.mu.RLock()
	hooks := r.cronFired
	r.mu.RUnlock()
	for _, h := range hooks {
		if err := h.OnCronFired(ctx, schedule, j); err != nil {
			r.logHookError(ctx, "cron_fired", err)
		}
	}
}

// EmitShutdown notifies ShutdownHook extensions.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	hooks := r.shutdown
	r.mu.RUnlock()
	for _, h := range hooks {
		if err := h.OnShutdown(ctx); err != nil {
			r.logHookError(ctx, "shutdown", err)
		}
	}
}
