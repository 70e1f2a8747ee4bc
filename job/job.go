// Package job defines the job record, per-job options, the typed processor
// definition, the per-queue processor registry, and the persistence contract
// jobs are stored through.
package job

import (
	"time"

	"github.com/vantor/conveyor/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be picked up by a worker.
	StatePending State = "pending"
	// StateRunning means a worker is currently executing the job.
	StateRunning State = "running"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job exhausted its attempts and was dead-lettered.
	StateFailed State = "failed"
	// StateRetrying means the job failed but is scheduled for retry.
	StateRetrying State = "retrying"
	// StateCancelled means the job was removed before execution.
	StateCancelled State = "cancelled"
)

// BackoffKind selects how retry delays grow with the attempt number.
type BackoffKind string

const (
	// BackoffFixed applies a constant delay between attempts.
	BackoffFixed BackoffKind = "fixed"
	// BackoffLinear grows the delay by the base each attempt.
	BackoffLinear BackoffKind = "linear"
	// BackoffExponential doubles the delay each attempt.
	BackoffExponential BackoffKind = "exponential"
)

// Job is a named unit of deferred work with its payload and execution
// metadata. A worker mutates it on each attempt; the broker is the single
// arbiter of ownership, so two workers never hold the same record.
type Job struct {
	ID       id.JobID `json:"id"`
	Queue    string   `json:"queue"`
	Name     string   `json:"name"`
	Payload  []byte   `json:"payload"`
	State    State    `json:"state"`
	Priority int      `json:"priority"`

	// Attempts is the number of attempts made so far; MaxAttempts is the
	// budget after which the job is dead-lettered.
	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`

	// Backoff overrides the queue policy when set on submission.
	Backoff     BackoffKind   `json:"backoff,omitempty"`
	BackoffBase time.Duration `json:"backoff_base,omitempty"`

	// DedupKey collapses logically identical concurrent submissions.
	// At most one non-terminal job per (queue, key) exists at a time.
	DedupKey string `json:"dedup_key,omitempty"`

	LastError   string        `json:"last_error,omitempty"`
	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Terminal reports whether the job has reached a final state. Dedup keys
// only bind while a job is non-terminal.
func (j *Job) Terminal() bool {
	switch j.State {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Counts is the per-state breakdown of one queue, shaped for dashboards.
// Delayed jobs are pending/retrying jobs whose RunAt has not elapsed.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}
