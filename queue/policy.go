package queue

import (
	"time"

	"github.com/vantor/conveyor/job"
)

// RateLimit caps how many jobs may be dequeued per time window.
// A zero Max disables rate limiting.
type RateLimit struct {
	// Max is the number of dequeues allowed per Window.
	Max int

	// Window is the measurement period. Defaults to one second.
	Window time.Duration
}

// Policy fixes the behaviour of one named queue. Policies are declared at
// startup and are immutable for the lifetime of the engine; per-job options
// may override individual fields for a single job but never mutate the
// policy itself.
type Policy struct {
	// Name is the queue identifier (must match the job.Queue field).
	Name string

	// Concurrency is the number of workers dedicated to this queue.
	Concurrency int

	// MaxAttempts is the attempt budget before a job is dead-lettered.
	MaxAttempts int

	// Backoff and BackoffBase set the default retry delay policy for
	// jobs on this queue.
	Backoff     job.BackoffKind
	BackoffBase time.Duration

	// Timeout is the per-job execution deadline. Zero means no deadline.
	Timeout time.Duration

	// RateLimit throttles dequeues from this queue.
	RateLimit RateLimit

	// Priority is the default priority assigned to jobs submitted
	// without an explicit one. Lower values are served first.
	Priority int
}

// WithDefaults returns a copy of the policy with zero fields filled in.
func (p Policy) WithDefaults() Policy {
	if p.Concurrency <= 0 {
		p.Concurrency = 1
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Backoff == "" {
		p.Backoff = job.BackoffExponential
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = 5 * time.Second
	}
	if p.RateLimit.Max > 0 && p.RateLimit.Window <= 0 {
		p.RateLimit.Window = time.Second
	}
	return p
}

// Stats is a point-in-time snapshot of one queue, combining broker-side
// counts with local runtime state.
type Stats struct {
	job.Counts

	// Paused reports whether dequeueing is suspended.
	Paused bool

	// Concurrency is the effective worker count for the queue.
	Concurrency int
}
