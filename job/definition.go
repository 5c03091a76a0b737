package job

import "context"

// Definition is a typed handler definition for one job type.
// T is the input payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Type is the job category this handler serves.
	Type Type

	// Handler processes the input and returns an opaque output
	// reference. A returned error is retryable unless wrapped with
	// retry.Permanent. The context is cancelled when the lease is
	// lost, the per-type timeout elapses, or the pool shuts down.
	Handler func(ctx context.Context, input T) (string, error)

	// Opts configures the retry budget and execution timeout.
	Opts Options
}

// NewDefinition creates a typed handler definition.
func NewDefinition[T any](t Type, handler func(ctx context.Context, input T) (string, error), opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Type:    t,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
