package conveyor

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds configuration for a Conveyor instance.
type Config struct {
	// Concurrency is the number of concurrent worker goroutines in the
	// local pool. Each goroutine claims and executes one job at a time.
	Concurrency int `env:"CONVEYOR_CONCURRENCY" envDefault:"10"`

	// PollInterval is how long an idle worker sleeps between claim
	// attempts when no job is claimable.
	PollInterval time.Duration `env:"CONVEYOR_POLL_INTERVAL" envDefault:"1s"`

	// LeaseDuration is the ownership window granted by a claim. A
	// processing job whose lease expires without a heartbeat or
	// terminal write is considered abandoned and eligible for reclaim.
	LeaseDuration time.Duration `env:"CONVEYOR_LEASE_DURATION" envDefault:"60s"`

	// HeartbeatInterval is how often workers extend the leases of their
	// in-flight jobs. Must be comfortably below LeaseDuration.
	HeartbeatInterval time.Duration `env:"CONVEYOR_HEARTBEAT_INTERVAL" envDefault:"15s"`

	// ReclaimInterval is how often the reclaimer sweeps for expired
	// leases. The sweep is an atomic conditional write, so running
	// multiple reclaimers is safe.
	ReclaimInterval time.Duration `env:"CONVEYOR_RECLAIM_INTERVAL" envDefault:"10s"`

	// ReclaimBatch caps how many expired leases one sweep handles.
	ReclaimBatch int `env:"CONVEYOR_RECLAIM_BATCH" envDefault:"100"`

	// ShutdownTimeout is the maximum time to wait for in-flight
	// handlers during graceful shutdown before cancelling them.
	ShutdownTimeout time.Duration `env:"CONVEYOR_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// DefaultPriority is assigned to jobs enqueued without an explicit
	// priority. Higher values are claimed first.
	DefaultPriority int `env:"CONVEYOR_DEFAULT_PRIORITY" envDefault:"50"`

	// DedupWindow is how long after a job completes successfully its
	// dedup key still short-circuits a duplicate enqueue.
	DedupWindow time.Duration `env:"CONVEYOR_DEDUP_WINDOW" envDefault:"1h"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		PollInterval:      1 * time.Second,
		LeaseDuration:     60 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		ReclaimInterval:   10 * time.Second,
		ReclaimBatch:      100,
		ShutdownTimeout:   30 * time.Second,
		DefaultPriority:   50,
		DedupWindow:       1 * time.Hour,
	}
}

// ConfigFromEnv builds a Config from CONVEYOR_* environment variables,
// falling back to the defaults above for unset variables.
func ConfigFromEnv() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}
