// Package retry provides backoff strategies for failed jobs and the
// error classification that routes a failure to retry or dead letter.
package retry

import (
	"errors"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before the next attempt of a failed job.
type Strategy interface {
	// Delay returns the wait before retrying, given the attempt that
	// just failed (1-based).
	Delay(attempt int) time.Duration
}

// Fixed waits the same interval between every retry.
type Fixed struct {
	Interval time.Duration
}

// Delay implements Strategy.
func (f Fixed) Delay(attempt int) time.Duration {
	return f.Interval
}

// Linear grows the delay by Step per attempt, capped at Cap.
type Linear struct {
	Step time.Duration
	Cap  time.Duration
}

// Delay implements Strategy.
func (l Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt) * l.Step
	if l.Cap > 0 && d > l.Cap {
		return l.Cap
	}
	return d
}

// Exponential doubles the delay each attempt starting from Base,
// capped at Cap.
type Exponential struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay implements Strategy.
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := e.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if e.Cap > 0 && d >= e.Cap {
			return e.Cap
		}
	}
	if e.Cap > 0 && d > e.Cap {
		return e.Cap
	}
	return d
}

type jittered struct {
	inner Strategy
}

// Delay implements Strategy. The delay is drawn uniformly from
// [0, inner.Delay(attempt)] so that herds of jobs failing together do
// not retry together.
func (j jittered) Delay(attempt int) time.Duration {
	d := j.inner.Delay(attempt)
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}

// WithFullJitter wraps a strategy with full jitter.
func WithFullJitter(s Strategy) Strategy {
	return jittered{inner: s}
}

// DefaultStrategy returns exponential backoff from 1s capped at 1m,
// with full jitter.
func DefaultStrategy() Strategy {
	return WithFullJitter(Exponential{Base: time.Second, Cap: time.Minute})
}

// permanentError marks a handler failure as non-retryable.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string {
	return p.err.Error()
}

func (p *permanentError) Unwrap() error {
	return p.err
}

// Permanent wraps err so the job dead-letters immediately instead of
// being retried. Returns nil if err is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or any error it wraps) was marked
// with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
