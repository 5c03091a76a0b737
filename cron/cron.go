// Package cron enqueues jobs on recurring schedules.
//
// Schedules are declared in code and evaluated by a lightweight ticker.
// There is no leader election: every fire uses a deduplication key
// derived from the schedule name and the fire instant, so redundant
// schedulers pointed at the same store produce exactly one job per
// tick.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/conveyorhq/conveyor/ext"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// specParser accepts standard five-field cron expressions plus
// descriptors like @hourly and @every.
var specParser = robfig.NewParser(
	robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor,
)

// EnqueueFunc submits one job on behalf of a schedule. The engine
// provides this; it applies the same validation, dedup, and hooks as a
// caller-initiated enqueue.
type EnqueueFunc func(ctx context.Context, tenantID string, jobType job.Type, input []byte, priority int, dedupKey string) (*job.Job, error)

// Entry declares one recurring schedule.
type Entry struct {
	// Name identifies the schedule; it must be unique and becomes part
	// of the dedup key for every fire.
	Name string
	// Spec is the cron expression, e.g. "*/5 * * * *" or "@hourly".
	Spec string
	// TenantID owns the jobs this schedule produces.
	TenantID string
	// Type is the job type to enqueue.
	Type job.Type
	// Input is the payload for every fired job.
	Input []byte
	// Priority for every fired job.
	Priority int
}

type scheduled struct {
	Entry
	id       id.ScheduleID
	schedule robfig.Schedule
	next     time.Time
}

// Scheduler evaluates registered schedules and enqueues a job each time
// one fires.
type Scheduler struct {
	enqueue    EnqueueFunc
	extensions *ext.Registry
	logger     *slog.Logger
	tick       time.Duration

	mu      sync.Mutex
	entries map[string]*scheduled
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithExtensions sets the extension registry notified on fires.
func WithExtensions(r *ext.Registry) Option {
	return func(s *Scheduler) {
		s.extensions = r
	}
}

// WithTick sets the evaluation granularity. Schedules cannot fire more
// often than this.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// New creates a Scheduler that fires through the given enqueue
// function.
func New(enqueue EnqueueFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		enqueue: enqueue,
		logger:  slog.Default(),
		tick:    time.Second,
		entries: make(map[string]*scheduled),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a schedule. The spec is validated immediately.
func (s *Scheduler) Add(e Entry) (id.ScheduleID, error) {
	if e.Name == "" {
		return id.Nil, fmt.Errorf("cron: schedule name is required")
	}
	schedule, err := specParser.Parse(e.Spec)
	if err != nil {
		return id.Nil, fmt.Errorf("cron: parse spec %q for %q: %w", e.Spec, e.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[e.Name]; exists {
		return id.Nil, fmt.Errorf("cron: schedule %q already registered", e.Name)
	}
	sched := &scheduled{
		Entry:    e,
		id:       id.NewScheduleID(),
		schedule: schedule,
		next:     schedule.Next(time.Now()),
	}
	s.entries[e.Name] = sched
	return sched.id, nil
}

// Start launches the evaluation loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx)
	return nil
}

// Stop halts the evaluation loop.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.fireDue(ctx, now)
		}
	}
}

// firing pairs a due schedule with the occurrence it owes, captured
// before next is advanced.
type firing struct {
	entry *scheduled
	at    time.Time
}

// fireDue enqueues a job for every schedule whose next fire time has
// passed. A missed tick fires once on the next evaluation rather than
// replaying every skipped occurrence.
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []firing
	for _, e := range s.entries {
		if !e.next.After(now) {
			due = append(due, firing{entry: e, at: e.next})
			e.next = e.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	for _, f := range due {
		s.fire(ctx, f.entry, f.at)
	}
}

func (s *Scheduler) fire(ctx context.Context, e *scheduled, fireAt time.Time) {
	// The key pins this occurrence to the schedule's own fire instant,
	// not the replica's tick clock, so redundant schedulers evaluating
	// the same occurrence enqueue one job between them.
	dedupKey := fmt.Sprintf("cron:%s:%d", e.Name, fireAt.Unix())

	j, err := s.enqueue(ctx, e.TenantID, e.Type, e.Input, e.Priority, dedupKey)
	if err != nil {
		s.logger.ErrorContext(ctx, "cron enqueue failed",
			"schedule", e.Name, "tenant_id", e.TenantID, "error", err)
		return
	}

	s.logger.DebugContext(ctx, "cron fired",
		"schedule", e.Name, "job_id", j.ID, "tenant_id", e.TenantID)
	if s.extensions != nil {
		s.extensions.EmitCronFired(ctx, e.Name, j)
	}
}
