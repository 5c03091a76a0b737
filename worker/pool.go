package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/ext"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// Pool polls the store for eligible jobs and executes them on a fixed
// number of goroutines. Each pool instance has its own worker identity;
// every claim it makes is leased to that identity.
type Pool struct {
	store    job.Store
	executor *Executor

	workerID          id.WorkerID
	concurrency       int
	pollInterval      time.Duration
	leaseDuration     time.Duration
	heartbeatInterval time.Duration
	extensions        *ext.Registry
	logger            *slog.Logger

	mu      sync.Mutex
	active  map[id.JobID]context.CancelCauseFunc
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of executing goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPollInterval sets the idle wait between claim attempts.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithLeaseDuration sets the lease granted on claim and renewed on
// heartbeat.
func WithLeaseDuration(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.leaseDuration = d
		}
	}
}

// WithHeartbeatInterval sets how often in-flight leases are extended.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.heartbeatInterval = d
		}
	}
}

// WithPoolLogger sets the logger.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithPoolExtensions sets the extension registry notified on claims.
func WithPoolExtensions(r *ext.Registry) PoolOption {
	return func(p *Pool) {
		p.extensions = r
	}
}

// NewPool creates a Pool over the given store and executor.
func NewPool(store job.Store, executor *Executor, opts ...PoolOption) *Pool {
	p := &Pool{
		store:             store,
		executor:          executor,
		workerID:          id.NewWorkerID(),
		concurrency:       10,
		pollInterval:      time.Second,
		leaseDuration:     time.Minute,
		heartbeatInterval: 15 * time.Second,
		logger:            slog.Default(),
		active:            make(map[id.JobID]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's worker identity.
func (p *Pool) WorkerID() id.WorkerID {
	return p.workerID
}

// Start launches the claim loops and the heartbeat loop. It returns
// immediately; processing continues until Stop.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	p.started = true

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.runLoop(loopCtx)
	}
	p.wg.Add(1)
	go p.heartbeatLoop(loopCtx)

	p.logger.InfoContext(ctx, "worker pool started",
		"worker_id", p.workerID,
		"concurrency", p.concurrency,
		"lease", p.leaseDuration,
	)
	return nil
}

// Stop shuts the pool down: claim loops stop immediately, in-flight
// jobs get until the context's deadline to finish, then their contexts
// are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Deadline reached: cut the remaining handlers loose. Their
		// leases will expire and the reclaimer will recover the jobs.
		p.mu.Lock()
		for _, cancelJob := range p.active {
			cancelJob(context.Canceled)
		}
		p.mu.Unlock()
		<-done
	}

	p.logger.Info("worker pool stopped", "worker_id", p.workerID)
	return nil
}

// runLoop claims and executes jobs one at a time until the pool stops.
func (p *Pool) runLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		claimed, err := p.store.ClaimJobs(ctx, p.workerID, 1, p.leaseDuration)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.ErrorContext(ctx, "claim jobs", "error", err)
			p.sleep(ctx, p.pollInterval)
			continue
		}
		if len(claimed) == 0 {
			p.sleep(ctx, p.pollInterval)
			continue
		}

		p.run(ctx, claimed[0])
	}
}

// run executes one claimed job under a cancellable context registered
// for heartbeating.
func (p *Pool) run(ctx context.Context, j *job.Job) {
	if p.extensions != nil {
		p.extensions.EmitJobClaimed(ctx, j, p.workerID)
	}

	// The job context deliberately survives pool shutdown: a graceful
	// stop lets in-flight handlers finish.
	jobCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancel(nil)

	p.mu.Lock()
	p.active[j.ID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.active, j.ID)
		p.mu.Unlock()
	}()

	p.executor.Execute(jobCtx, j, p.workerID)
}

// heartbeatLoop extends the leases of all in-flight jobs. An extension
// failing with ErrLeaseLost cancels that job's context so its handler
// stops burning work it can no longer commit.
func (p *Pool) heartbeatLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.heartbeat(ctx)
		}
	}
}

func (p *Pool) heartbeat(ctx context.Context) {
	p.mu.Lock()
	jobIDs := make([]id.JobID, 0, len(p.active))
	for jobID := range p.active {
		jobIDs = append(jobIDs, jobID)
	}
	p.mu.Unlock()

	for _, jobID := range jobIDs {
		err := p.store.ExtendLease(ctx, jobID, p.workerID, p.leaseDuration)
		if err == nil {
			continue
		}
		if errors.Is(err, conveyor.ErrLeaseLost) {
			p.logger.WarnContext(ctx, "lease lost, cancelling handler",
				"job_id", jobID, "worker_id", p.workerID)
			p.mu.Lock()
			if cancel, ok := p.active[jobID]; ok {
				cancel(conveyor.ErrLeaseLost)
			}
			p.mu.Unlock()
			continue
		}
		p.logger.ErrorContext(ctx, "extend lease", "job_id", jobID, "error", err)
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
