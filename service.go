package conveyor

import (
	"context"

	"github.com/vantor/conveyor/dlq"
	"github.com/vantor/conveyor/id"
	"github.com/vantor/conveyor/job"
	"github.com/vantor/conveyor/queue"
)

// Service is the contract shared by the broker-backed engine and the
// synchronous inline fallback. Producers hold a Service and never branch
// on which implementation is active.
type Service interface {
	// RegisterProcessor binds a handler to a queue. A concurrency of
	// zero keeps the queue policy's default. Re-registration replaces
	// the previous binding.
	RegisterProcessor(queueName string, h job.HandlerFunc, concurrency int) error

	// EnqueueRaw submits a job with a pre-serialized payload. It returns
	// as soon as the job is persisted — it never blocks on execution.
	// A deduplication key matching a non-terminal job makes the call a
	// no-op returning the existing job.
	EnqueueRaw(ctx context.Context, queueName, jobName string, payload []byte, opts ...job.Option) (*job.Job, error)

	// QueueCounts returns the per-state job counts for one queue.
	QueueCounts(ctx context.Context, queueName string) (job.Counts, error)

	// AllQueueStats returns stats for every configured queue.
	AllQueueStats(ctx context.Context) (map[string]queue.Stats, error)

	// PauseQueue stops dequeuing without losing enqueued jobs.
	PauseQueue(queueName string) error

	// ResumeQueue resumes dequeuing for a paused queue.
	ResumeQueue(queueName string) error

	// RetryJob resets a terminally failed job for a fresh run.
	RetryJob(ctx context.Context, jobID id.JobID) (*job.Job, error)

	// RemoveJob cancels a job that is still waiting or delayed.
	// Active jobs cannot be cancelled mid-flight.
	RemoveJob(ctx context.Context, jobID id.JobID) error

	// ListDeadLetter pages through the shared dead letter store.
	ListDeadLetter(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error)

	// RetryDeadLetter resubmits a dead letter entry as a brand-new job
	// and removes the entry.
	RetryDeadLetter(ctx context.Context, entryID id.DLQID) (*job.Job, error)

	// MarkPermanentlyFailed closes out a dead letter entry without
	// resubmission.
	MarkPermanentlyFailed(ctx context.Context, entryID id.DLQID, notes string) error

	// DeadLetterCount exposes the entry count so a collaborator can
	// alert on an operator-defined threshold.
	DeadLetterCount(ctx context.Context) (int64, error)

	// Start begins job processing.
	Start(ctx context.Context) error

	// Close stops accepting work, drains active jobs up to the
	// configured timeout, and disconnects.
	Close(ctx context.Context) error
}

// RegisterProcessor binds a typed job definition to a queue on any Service
// implementation. This is a package-level generic function because Go does
// not allow generic methods on non-generic receiver types.
func RegisterProcessor[T any](s Service, queueName string, def *job.Definition[T]) error {
	return s.RegisterProcessor(queueName, job.Erase(def), def.Concurrency)
}
