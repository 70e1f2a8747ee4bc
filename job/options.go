package job

import (
	"time"

	"github.com/vantor/conveyor/id"
)

// Options configures per-job behavior on submission. Zero values defer to
// the queue policy.
type Options struct {
	// MaxAttempts overrides the queue's attempt budget.
	MaxAttempts int

	// Backoff and BackoffBase override the queue's retry delay policy.
	Backoff     BackoffKind
	BackoffBase time.Duration

	// Delay postpones the first attempt.
	Delay time.Duration

	// Priority determines dequeue ordering. Lower values are served first.
	Priority int

	// Deduplicate enables deduplication under DedupKey.
	Deduplicate bool
	DedupKey    string

	// JobID pins the job's identifier for idempotent submission.
	JobID id.JobID

	// Timeout overrides the queue's per-job execution deadline.
	Timeout time.Duration
}

// Option is a functional option for configuring a job submission.
type Option func(*Options)

// WithMaxAttempts sets the attempt budget for this job.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithBackoff sets the retry delay policy for this job.
func WithBackoff(kind BackoffKind, base time.Duration) Option {
	return func(o *Options) {
		o.Backoff = kind
		o.BackoffBase = base
	}
}

// WithDelay postpones the first attempt by d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

// WithPriority sets the job priority. Lower values are served first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithDeduplication collapses submissions sharing key into one job while
// a non-terminal instance exists.
func WithDeduplication(key string) Option {
	return func(o *Options) {
		o.Deduplicate = true
		o.DedupKey = key
	}
}

// WithJobID pins the job ID, making resubmission idempotent.
func WithJobID(jobID id.JobID) Option {
	return func(o *Options) { o.JobID = jobID }
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}
