// Package inline provides the synchronous fallback Service used when no
// broker is configured or the broker is unreachable at startup. Jobs
// execute in the caller's goroutine at submission time: no persistence,
// no retries, no dead letter capture. Handler errors are logged and
// swallowed so a broker outage degrades throughput, not correctness.
package inline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vantor/conveyor"
	"github.com/vantor/conveyor/dlq"
	"github.com/vantor/conveyor/hook"
	"github.com/vantor/conveyor/id"
	"github.com/vantor/conveyor/job"
	mw "github.com/vantor/conveyor/middleware"
	"github.com/vantor/conveyor/queue"
)

// Compile-time interface check.
var _ conveyor.Service = (*Executor)(nil)

// Option configures the Executor.
type Option func(*Executor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithHook registers a lifecycle hook.
func WithHook(h hook.Hook) Option {
	return func(e *Executor) { e.pendingHooks = append(e.pendingHooks, h) }
}

// WithMiddleware appends a middleware to the execution chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Executor) { e.extraMws = append(e.extraMws, m) }
}

// Executor runs jobs synchronously in the submitter's goroutine. It
// honors queue policies for validation, pause state, and per-job
// defaults, but keeps no job records.
type Executor struct {
	logger   *slog.Logger
	hooks    *hook.Registry
	registry *job.Registry
	queues   *queue.Manager
	chain    mw.Middleware

	pendingHooks []hook.Hook
	extraMws     []mw.Middleware

	mu     sync.Mutex
	closed bool
}

// New creates an inline executor from the same Config the engine uses,
// so the fallback sees the same queue declarations as the real thing.
func New(cfg conveyor.Config, opts ...Option) *Executor {
	e := &Executor{
		logger:   slog.Default(),
		registry: job.NewRegistry(),
		queues:   queue.NewManager(cfg.Queues...),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.hooks = hook.NewRegistry(e.logger)
	for _, h := range e.pendingHooks {
		e.hooks.Register(h)
	}

	mws := []mw.Middleware{
		mw.Recover(e.logger),
		mw.Logging(e.logger),
		mw.Timeout(e.logger),
	}
	mws = append(mws, e.extraMws...)
	e.chain = mw.Chain(mws...)

	return e
}

// RegisterProcessor binds a handler to a declared queue.
func (e *Executor) RegisterProcessor(queueName string, h job.HandlerFunc, concurrency int) error {
	if !e.queues.Known(queueName) {
		return fmt.Errorf("queue %q: %w", queueName, conveyor.ErrQueueNotFound)
	}
	e.registry.Bind(queueName, h, concurrency)
	return nil
}

// EnqueueRaw executes the job synchronously before returning. A paused
// queue or an unbound queue still fails the caller the same way the
// engine would; handler errors are logged and swallowed.
func (e *Executor) EnqueueRaw(ctx context.Context, queueName, jobName string, payload []byte, opts ...job.Option) (*job.Job, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, conveyor.ErrClosed
	}
	e.mu.Unlock()

	policy, ok := e.queues.Policy(queueName)
	if !ok {
		return nil, fmt.Errorf("queue %q: %w", queueName, conveyor.ErrQueueNotFound)
	}
	if e.queues.Paused(queueName) {
		return nil, fmt.Errorf("queue %q is paused: %w", queueName, conveyor.ErrInvalidState)
	}

	binding, ok := e.registry.Get(queueName)
	if !ok {
		return nil, fmt.Errorf("queue %q: %w", queueName, conveyor.ErrProcessorNotFound)
	}

	var jobOpts job.Options
	for _, opt := range opts {
		opt(&jobOpts)
	}

	now := time.Now().UTC()
	j := &job.Job{
		ID:        id.NewJobID(),
		Queue:     queueName,
		Name:      jobName,
		Payload:   payload,
		State:     job.StateRunning,
		Priority:  policy.Priority,
		Timeout:   policy.Timeout,
		RunAt:     now,
		StartedAt: &now,
		CreatedAt: now,
		UpdatedAt: now,
		// Inline execution is single-shot regardless of policy.
		MaxAttempts: 1,
	}
	if jobOpts.Timeout > 0 {
		j.Timeout = jobOpts.Timeout
	}
	if jobOpts.Deduplicate {
		j.DedupKey = jobOpts.DedupKey
	}

	e.hooks.EmitJobStarted(ctx, j)

	start := time.Now()
	err := e.chain(ctx, j, func(ctx context.Context) error {
		return binding.Handler(ctx, j)
	})
	elapsed := time.Since(start)

	done := time.Now().UTC()
	j.Attempts = 1
	j.UpdatedAt = done

	if err != nil {
		j.State = job.StateFailed
		j.LastError = err.Error()
		e.hooks.EmitJobFailed(ctx, j, err)
		e.logger.Error("inline job failed",
			slog.String("job_name", jobName),
			slog.String("queue", queueName),
			slog.String("error", err.Error()),
		)
		// The submission itself succeeded; the failure is swallowed.
		return j, nil
	}

	j.State = job.StateCompleted
	j.CompletedAt = &done
	e.hooks.EmitJobCompleted(ctx, j, elapsed)
	return j, nil
}

// QueueCounts returns zero counts: inline execution keeps no job records.
func (e *Executor) QueueCounts(_ context.Context, queueName string) (job.Counts, error) {
	if !e.queues.Known(queueName) {
		return job.Counts{}, fmt.Errorf("queue %q: %w", queueName, conveyor.ErrQueueNotFound)
	}
	return job.Counts{}, nil
}

// AllQueueStats returns zeroed stats for every declared queue.
func (e *Executor) AllQueueStats(_ context.Context) (map[string]queue.Stats, error) {
	stats := make(map[string]queue.Stats)
	for _, name := range e.queues.Names() {
		policy, _ := e.queues.Policy(name)
		stats[name] = queue.Stats{
			Paused:      e.queues.Paused(name),
			Concurrency: policy.Concurrency,
		}
	}
	return stats, nil
}

// PauseQueue rejects further inline submissions to the queue.
func (e *Executor) PauseQueue(queueName string) error {
	if !e.queues.Pause(queueName) {
		return fmt.Errorf("queue %q: %w", queueName, conveyor.ErrQueueNotFound)
	}
	return nil
}

// ResumeQueue re-enables inline submissions to a paused queue.
func (e *Executor) ResumeQueue(queueName string) error {
	if !e.queues.Resume(queueName) {
		return fmt.Errorf("queue %q: %w", queueName, conveyor.ErrQueueNotFound)
	}
	return nil
}

// RetryJob always fails: inline execution keeps no job records.
func (e *Executor) RetryJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	return nil, fmt.Errorf("job %s: %w", jobID, conveyor.ErrJobNotFound)
}

// RemoveJob always fails: inline execution keeps no job records.
func (e *Executor) RemoveJob(_ context.Context, jobID id.JobID) error {
	return fmt.Errorf("job %s: %w", jobID, conveyor.ErrJobNotFound)
}

// ListDeadLetter returns nothing: inline failures are not captured.
func (e *Executor) ListDeadLetter(_ context.Context, _ dlq.ListOpts) ([]*dlq.Entry, error) {
	return nil, nil
}

// RetryDeadLetter always fails: there is no dead letter store inline.
func (e *Executor) RetryDeadLetter(_ context.Context, entryID id.DLQID) (*job.Job, error) {
	return nil, fmt.Errorf("dead letter %s: %w", entryID, conveyor.ErrDLQNotFound)
}

// MarkPermanentlyFailed always fails: there is no dead letter store inline.
func (e *Executor) MarkPermanentlyFailed(_ context.Context, entryID id.DLQID, _ string) error {
	return fmt.Errorf("dead letter %s: %w", entryID, conveyor.ErrDLQNotFound)
}

// DeadLetterCount returns zero: inline failures are not captured.
func (e *Executor) DeadLetterCount(_ context.Context) (int64, error) {
	return 0, nil
}

// Start is a no-op; inline execution has no workers.
func (e *Executor) Start(_ context.Context) error { return nil }

// Close stops accepting submissions.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.hooks.EmitShutdown(ctx)
	return nil
}
