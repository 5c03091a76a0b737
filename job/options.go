package job

import "time"

// Options configures per-type execution behavior. They are recorded at
// registration time and stamped onto every job of that type at enqueue.
type Options struct {
	// MaxAttempts is the ceiling on claim attempts before the job is
	// routed to the dead letter state.
	MaxAttempts int

	// Timeout is the maximum duration one handler execution may run.
	// Zero means the lease deadline alone bounds the handler.
	Timeout time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Timeout:     5 * time.Minute,
	}
}

// Option is a functional option for configuring a handler definition.
type Option func(*Options)

// WithMaxAttempts sets the ceiling on claim attempts.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithTimeout sets the maximum execution duration per attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}
