// Package reclaim recovers jobs whose workers died: a background loop
// that sweeps expired leases back to queued, or to the dead letter
// queue when the lost attempt was the last one.
package reclaim

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/ext"
	"github.com/conveyorhq/conveyor/job"
)

// Reclaimer periodically sweeps expired leases. Multiple reclaimers may
// run against the same store; the sweep's conditional writes make the
// recovery exactly-once regardless.
type Reclaimer struct {
	store      job.Store
	dlq        *dlq.Service
	extensions *ext.Registry
	logger     *slog.Logger
	interval   time.Duration
	batch      int

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// Option configures a Reclaimer.
type Option func(*Reclaimer)

// WithInterval sets the sweep interval.
func WithInterval(d time.Duration) Option {
	return func(r *Reclaimer) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBatch caps how many expired leases one sweep recovers.
func WithBatch(n int) Option {
	return func(r *Reclaimer) {
		if n > 0 {
			r.batch = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reclaimer) {
		r.logger = logger
	}
}

// WithExtensions sets the extension registry notified on recoveries.
func WithExtensions(reg *ext.Registry) Option {
	return func(r *Reclaimer) {
		r.extensions = reg
	}
}

// New creates a Reclaimer over the given store. dlqService records
// entries for jobs that dead-letter during a sweep; it may be nil.
func New(store job.Store, dlqService *dlq.Service, opts ...Option) *Reclaimer {
	r := &Reclaimer{
		store:    store,
		dlq:      dlqService,
		logger:   slog.Default(),
		interval: 10 * time.Second,
		batch:    100,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the sweep loop.
func (r *Reclaimer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	r.started = true

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(loopCtx)
	return nil
}

// Stop halts the sweep loop.
func (r *Reclaimer) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reclaimer) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one recovery pass. Exposed for deployments that drive the
// reclaimer from an external scheduler instead of the built-in loop.
func (r *Reclaimer) Sweep(ctx context.Context) {
	result, err := r.store.SweepExpiredLeases(ctx, time.Now(), r.batch)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "sweep expired leases", "error", err)
		}
		return
	}

	for _, j := range result.Requeued {
		r.logger.WarnContext(ctx, "reclaimed abandoned job",
			"job_id", j.ID,
			"tenant_id", j.TenantID,
			"attempt", j.Attempt,
			"max_attempts", j.MaxAttempts,
		)
		if r.extensions != nil {
			r.extensions.EmitJobReclaimed(ctx, j)
		}
	}

	for _, j := range result.DeadLettered {
		r.logger.WarnContext(ctx, "abandoned job dead-lettered",
			"job_id", j.ID,
			"tenant_id", j.TenantID,
			"attempt", j.Attempt,
		)
		if r.dlq != nil {
			if _, err := r.dlq.Push(ctx, j, j.Error); err != nil {
				r.logger.ErrorContext(ctx, "push dead letter entry", "job_id", j.ID, "error", err)
			}
		}
		if r.extensions != nil {
			r.extensions.EmitJobReclaimed(ctx, j)
			r.extensions.EmitJobDeadLettered(ctx, j)
		}
	}
}
