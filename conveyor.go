package conveyor

import (
	"context"
	"log/slog"
)

// Option configures a Conveyor.
type Option func(*Conveyor) error

// Storer is the minimal store interface held by the Conveyor. It covers
// lifecycle operations only; the full composite interface (store.Store)
// is used in subsystem layers that don't create import cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for background component lifecycle
// (worker pool, lease reclaimer, schedule ticker).
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// shutdownEmitter is an internal interface for extension lifecycle events.
type shutdownEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Conveyor is the central coordinator for job processing. Create one
// with New() and functional options, then use the engine package to
// wire handlers, the worker pool, and the reclaimer onto it.
type Conveyor struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions shutdownEmitter
	runners    []runner

	started bool
}

// New creates a new Conveyor with the given options.
func New(opts ...Option) (*Conveyor, error) {
	c := &Conveyor{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the conveyor's logger.
func (c *Conveyor) Logger() *slog.Logger { return c.logger }

// Store returns the conveyor's store.
func (c *Conveyor) Store() Storer { return c.store }

// Config returns a copy of the conveyor's configuration.
func (c *Conveyor) Config() Config { return c.config }

// AddRunner registers a background component (called by the engine
// package during wiring). Runners start in registration order and stop
// in reverse order.
func (c *Conveyor) AddRunner(r runner) { c.runners = append(c.runners, r) }

// SetExtensions sets the extension emitter (called by the engine package).
func (c *Conveyor) SetExtensions(e shutdownEmitter) { c.extensions = e }

// Start launches all registered background components.
func (c *Conveyor) Start(ctx context.Context) error {
	if c.store == nil {
		return ErrNoStore
	}
	for _, r := range c.runners {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	c.started = true
	return nil
}

// Stop gracefully shuts down the conveyor: runners in reverse order,
// then extensions, then the store.
func (c *Conveyor) Stop(ctx context.Context) error {
	if c.started {
		for i := len(c.runners) - 1; i >= 0; i-- {
			if err := c.runners[i].Stop(ctx); err != nil {
				c.logger.Error("runner stop error", "error", err)
			}
		}
	}
	if c.extensions != nil {
		c.extensions.EmitShutdown(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) Option {
	return func(c *Conveyor) error {
		c.config.Concurrency = n
		return nil
	}
}

// WithConfig replaces the full configuration.
func WithConfig(cfg Config) Option {
	return func(c *Conveyor) error {
		c.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conveyor) error {
		c.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. The store must implement
// Storer at minimum; typically it is a store.Store which embeds the
// job and dlq store interfaces.
func WithStore(s Storer) Option {
	return func(c *Conveyor) error {
		c.store = s
		return nil
	}
}
