package job

import (
	"context"
	"time"

	"github.com/vantor/conveyor/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// Store defines the persistence contract for jobs. The backend is the
// broker: it owns job state and is the single arbiter of job ownership.
type Store interface {
	// EnqueueJob persists a new job in pending state. If the job carries
	// a dedup key already bound to a non-terminal job, it returns
	// conveyor.ErrDuplicateJob without persisting anything.
	EnqueueJob(ctx context.Context, j *Job) error

	// DequeueJobs atomically claims up to limit runnable jobs from the
	// given queue, sets them to running, and returns them. Jobs are
	// ordered by priority (ascending, lower served first) then RunAt.
	DequeueJobs(ctx context.Context, queueName string, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job. Backends release
	// the job's dedup key when the new state is terminal.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// FindByDedupKey returns the non-terminal job bound to (queue, key),
	// or conveyor.ErrJobNotFound if the key is free.
	FindByDedupKey(ctx context.Context, queueName, key string) (*Job, error)

	// ListJobsByState returns jobs matching the given state.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// QueueCounts returns the per-state counts for one queue.
	QueueCounts(ctx context.Context, queueName string) (Counts, error)

	// HeartbeatJob updates the heartbeat timestamp for a running job,
	// indicating the worker is still alive.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// RequeueStalled atomically returns running jobs whose heartbeat is
	// older than threshold to pending state and reports them. This is
	// the broker's native stall recovery; workers only log the result.
	RequeueStalled(ctx context.Context, threshold time.Duration) ([]*Job, error)

	// PurgeJobs removes terminal jobs that completed before the given
	// time, enforcing the retention window. Returns the number removed.
	PurgeJobs(ctx context.Context, before time.Time) (int64, error)
}
