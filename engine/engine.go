// Package engine wires all Conveyor subsystems together: the queue
// manager, per-queue worker pools, the executor with its middleware
// chain, the dead letter service, and the cron scheduler.
//
// The engine package exists to break a fundamental import cycle: the root
// conveyor package defines the Service contract and sentinel errors
// (imported by job, queue, dlq, and the stores) and therefore cannot
// import those packages back. Engine sits above all subsystem packages
// and below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vantor/conveyor"
	"github.com/vantor/conveyor/cron"
	"github.com/vantor/conveyor/dlq"
	"github.com/vantor/conveyor/hook"
	"github.com/vantor/conveyor/id"
	"github.com/vantor/conveyor/job"
	mw "github.com/vantor/conveyor/middleware"
	"github.com/vantor/conveyor/queue"
	"github.com/vantor/conveyor/store"
	"github.com/vantor/conveyor/worker"
)

// Compile-time interface check.
var _ conveyor.Service = (*Engine)(nil)

// Engine is the broker-backed Service implementation. It owns one worker
// pool per bound queue, the shared dead letter service, and the cron
// scheduler.
type Engine struct {
	cfg        conveyor.Config
	st         store.Store
	logger     *slog.Logger
	hooks      *hook.Registry
	registry   *job.Registry
	dlqService *dlq.Service
	queues     *queue.Manager
	executor   *worker.Executor
	scheduler  *cron.Scheduler

	mu      sync.Mutex
	pools   map[string]*worker.Pool
	started bool
	closed  bool
}

// New creates an Engine on top of an existing store. Most callers use
// Open, which builds the Redis store from Config and degrades to inline
// execution when the broker is unreachable.
func New(st store.Store, cfg conveyor.Config, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, conveyor.ErrNoStore
	}

	o := buildOptions(opts)
	cfg = cfg.WithDefaults()

	eng := &Engine{
		cfg:      cfg,
		st:       st,
		logger:   o.logger,
		hooks:    hook.NewRegistry(o.logger),
		registry: job.NewRegistry(),
		queues:   queue.NewManager(cfg.Queues...),
		pools:    make(map[string]*worker.Pool),
	}

	for _, h := range o.hooks {
		eng.hooks.Register(h)
	}

	eng.dlqService = dlq.NewService(st)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if o.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(o.tracerProvider.Tracer("github.com/vantor/conveyor"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if o.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(o.meterProvider.Meter("github.com/vantor/conveyor"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	allMws := []mw.Middleware{
		mw.Recover(o.logger),
		tracingMw,
		metricsMw,
		mw.Logging(o.logger),
		mw.Timeout(o.logger),
	}
	allMws = append(allMws, o.mws...)

	eng.executor = worker.NewExecutor(eng.registry, eng.hooks, st, eng.dlqService, o.logger, allMws...)

	enqueue := func(ctx context.Context, queueName, jobName string, payload []byte, jobOpts ...job.Option) (id.JobID, error) {
		j, err := eng.EnqueueRaw(ctx, queueName, jobName, payload, jobOpts...)
		if err != nil {
			return id.Nil, err
		}
		return j.ID, nil
	}
	eng.scheduler = cron.NewScheduler(st, enqueue, eng.hooks, o.logger)

	return eng, nil
}

// Enqueue marshals a typed payload and submits it through any Service
// implementation. This is a package-level generic function because Go
// does not allow generic methods.
func Enqueue[T any](ctx context.Context, s conveyor.Service, queueName, jobName string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", jobName, err)
	}
	return s.EnqueueRaw(ctx, queueName, jobName, data, opts...)
}

// RegisterProcessor binds a handler to a declared queue. A concurrency of
// zero keeps the queue policy's default.
func (eng *Engine) RegisterProcessor(queueName string, h job.HandlerFunc, concurrency int) error {
	if !eng.queues.Known(queueName) {
		return fmt.Errorf("queue %q: %w", queueName, conveyor.ErrQueueNotFound)
	}
	eng.registry.Bind(queueName, h, concurrency)
	return nil
}

// EnqueueRaw submits a job with a pre-serialized payload. The queue
// policy stamps attempt budget, backoff, timeout, and priority onto the
// record unless per-job options override them. A dedup key bound to a
// non-terminal job makes the call a no-op returning the existing job.
func (eng *Engine) EnqueueRaw(ctx context.Context, queueName, jobName string, payload []byte, opts ...job.Option) (*job.Job, error) {
	eng.mu.Lock()
	if eng.closed {
		eng.mu.Unlock()
		return nil, conveyor.ErrClosed
	}
	eng.mu.Unlock()

	policy, ok := eng.queues.Policy(queueName)
	if !ok {
		return nil, fmt.Errorf("queue %q: %w", queueName, conveyor.ErrQueueNotFound)
	}

	var jobOpts job.Options
	for _, opt := range opts {
		opt(&jobOpts)
	}

	now := time.Now().UTC()
	j := &job.Job{
		ID:          id.NewJobID(),
		Queue:       queueName,
		Name:        jobName,
		Payload:     payload,
		State:       job.StatePending,
		Priority:    policy.Priority,
		MaxAttempts: policy.MaxAttempts,
		Backoff:     policy.Backoff,
		BackoffBase: policy.BackoffBase,
		Timeout:     policy.Timeout,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if !jobOpts.JobID.IsNil() {
		j.ID = jobOpts.JobID
	}
	if jobOpts.Priority != 0 {
		j.Priority = jobOpts.Priority
	}
	if jobOpts.MaxAttempts > 0 {
		j.MaxAttempts = jobOpts.MaxAttempts
	}
	if jobOpts.Backoff != "" {
		j.Backoff = jobOpts.Backoff
	}
	if jobOpts.BackoffBase > 0 {
		j.BackoffBase = jobOpts.BackoffBase
	}
	if jobOpts.Timeout > 0 {
		j.Timeout = jobOpts.Timeout
	}
	if jobOpts.Delay > 0 {
		j.RunAt = now.Add(jobOpts.Delay)
	}
	if jobOpts.Deduplicate {
		j.DedupKey = jobOpts.DedupKey
	}

	if j.DedupKey != "" {
		existing, err := eng.st.FindByDedupKey(ctx, queueName, j.DedupKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, conveyor.ErrJobNotFound) {
			return nil, err
		}
	}

	if err := eng.st.EnqueueJob(ctx, j); err != nil {
		// A concurrent submitter may have claimed the dedup key between
		// the lookup and the insert; the winner's job is the result.
		if errors.Is(err, conveyor.ErrDuplicateJob) && j.DedupKey != "" {
			if existing, findErr := eng.st.FindByDedupKey(ctx, queueName, j.DedupKey); findErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	eng.hooks.EmitJobEnqueued(ctx, j)
	return j, nil
}

// QueueCounts returns the per-state job counts for one queue.
func (eng *Engine) QueueCounts(ctx context.Context, queueName string) (job.Counts, error) {
	if !eng.queues.Known(queueName) {
		return job.Counts{}, fmt.Errorf("queue %q: %w", queueName, conveyor.ErrQueueNotFound)
	}
	return eng.st.QueueCounts(ctx, queueName)
}

// AllQueueStats returns stats for every declared queue.
func (eng *Engine) AllQueueStats(ctx context.Context) (map[string]queue.Stats, error) {
	stats := make(map[string]queue.Stats)
	for _, name := range eng.queues.Names() {
		counts, err := eng.st.QueueCounts(ctx, name)
		if err != nil {
			return nil, err
		}
		policy, _ := eng.queues.Policy(name)
		stats[name] = queue.Stats{
			Counts:      counts,
			Paused:      eng.queues.Paused(name),
			Concurrency: policy.Concurrency,
		}
	}
	return stats, nil
}

// PauseQueue stops dequeuing for the queue. Enqueued jobs are retained.
func (eng *Engine) PauseQueue(queueName string) error {
	if !eng.queues.Pause(queueName) {
		return fmt.Errorf("queue %q: %w", queueName, conveyor.ErrQueueNotFound)
	}
	eng.logger.Info("queue paused", slog.String("queue", queueName))
	return nil
}

// ResumeQueue resumes dequeuing for a paused queue.
func (eng *Engine) ResumeQueue(queueName string) error {
	if !eng.queues.Resume(queueName) {
		return fmt.Errorf("queue %q: %w", queueName, conveyor.ErrQueueNotFound)
	}
	eng.logger.Info("queue resumed", slog.String("queue", queueName))
	return nil
}

// RetryJob resets a terminally failed or cancelled job for a fresh run
// with a full attempt budget. The dedup key does not carry over, so a
// newer submission holding the same key is unaffected.
func (eng *Engine) RetryJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := eng.st.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !j.Terminal() {
		return nil, fmt.Errorf("job %s is %s: %w", j.ID, j.State, conveyor.ErrJobActive)
	}

	now := time.Now().UTC()
	j.State = job.StatePending
	j.Attempts = 0
	j.LastError = ""
	// The dedup binding was released when the job went terminal and may
	// already belong to a newer submission; an operator retry never
	// re-claims it.
	j.DedupKey = ""
	j.WorkerID = id.Nil
	j.RunAt = now
	j.StartedAt = nil
	j.CompletedAt = nil
	j.HeartbeatAt = nil

	if err := eng.st.UpdateJob(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// RemoveJob cancels a job that is still waiting or delayed. Running jobs
// cannot be cancelled mid-flight.
func (eng *Engine) RemoveJob(ctx context.Context, jobID id.JobID) error {
	j, err := eng.st.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.State == job.StateRunning {
		return fmt.Errorf("job %s: %w", j.ID, conveyor.ErrJobActive)
	}

	j.State = job.StateCancelled
	return eng.st.UpdateJob(ctx, j)
}

// ListDeadLetter pages through the shared dead letter store.
func (eng *Engine) ListDeadLetter(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	return eng.st.ListDLQ(ctx, opts)
}

// RetryDeadLetter resubmits a dead letter entry as a brand-new job with a
// fresh attempt budget, then removes the entry. The pending→retried
// transition is a compare-and-swap, so concurrent reviewers of the same
// entry produce exactly one new job; the loser gets ErrDLQConflict.
func (eng *Engine) RetryDeadLetter(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := eng.st.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if !eng.queues.Known(entry.Queue) {
		return nil, fmt.Errorf("queue %q: %w", entry.Queue, conveyor.ErrQueueNotFound)
	}

	if err := eng.st.MarkRetriedDLQ(ctx, entryID); err != nil {
		return nil, err
	}

	j, err := eng.EnqueueRaw(ctx, entry.Queue, entry.JobName, entry.Payload)
	if err != nil {
		// Roll the entry back to pending review so a later retry can
		// still resubmit the payload.
		if reopenErr := eng.st.ReopenDLQ(ctx, entryID); reopenErr != nil {
			eng.logger.Error("failed to reopen dead letter entry after resubmit error",
				slog.String("entry_id", entryID.String()),
				slog.String("error", reopenErr.Error()),
			)
		}
		return nil, fmt.Errorf("resubmit dead letter %s: %w", entryID, err)
	}

	if delErr := eng.st.DeleteDLQ(ctx, entryID); delErr != nil {
		eng.logger.Warn("failed to delete retried dead letter entry",
			slog.String("entry_id", entryID.String()),
			slog.String("error", delErr.Error()),
		)
	}

	eng.logger.Info("dead letter entry resubmitted",
		slog.String("entry_id", entryID.String()),
		slog.String("job_id", j.ID.String()),
		slog.String("queue", entry.Queue),
	)
	return j, nil
}

// MarkPermanentlyFailed closes out a dead letter entry without
// resubmission, recording the operator's notes.
func (eng *Engine) MarkPermanentlyFailed(ctx context.Context, entryID id.DLQID, notes string) error {
	return eng.st.MarkPermanentlyFailedDLQ(ctx, entryID, notes)
}

// DeadLetterCount returns the total number of dead letter entries.
func (eng *Engine) DeadLetterCount(ctx context.Context) (int64, error) {
	return eng.st.CountDLQ(ctx)
}

// RegisterCron registers a named recurring schedule that enqueues a job
// every time it fires. Re-registration of the same name is idempotent.
func (eng *Engine) RegisterCron(ctx context.Context, name, schedule, queueName, jobName string, payload []byte) error {
	sched, err := cron.ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	if !eng.queues.Known(queueName) {
		return fmt.Errorf("queue %q: %w", queueName, conveyor.ErrQueueNotFound)
	}

	now := time.Now().UTC()
	next := sched.Next(now)
	entry := &cron.Entry{
		ID:        id.NewCronID(),
		Name:      name,
		Schedule:  schedule,
		Queue:     queueName,
		JobName:   jobName,
		Payload:   payload,
		NextRunAt: &next,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := eng.st.RegisterCron(ctx, entry); err != nil {
		if errors.Is(err, conveyor.ErrDuplicateCron) {
			return nil
		}
		return fmt.Errorf("register cron %q: %w", name, err)
	}

	eng.logger.Info("cron registered",
		slog.String("name", name),
		slog.String("schedule", schedule),
		slog.String("job_name", jobName),
		slog.Time("next_run_at", next),
	)
	return nil
}

// PurgeCompleted removes terminal jobs older than the retention window.
// Returns the number of jobs removed.
func (eng *Engine) PurgeCompleted(ctx context.Context, retention time.Duration) (int64, error) {
	return eng.st.PurgeJobs(ctx, time.Now().UTC().Add(-retention))
}

// PurgeDeadLetters removes dead letter entries older than the retention
// window. Returns the number of entries removed.
func (eng *Engine) PurgeDeadLetters(ctx context.Context, retention time.Duration) (int64, error) {
	return eng.st.PurgeDLQ(ctx, time.Now().UTC().Add(-retention))
}

// Hooks returns the lifecycle hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Store returns the backing store.
func (eng *Engine) Store() store.Store { return eng.st }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Start launches one worker pool per bound queue and the cron scheduler.
// Queues declared in Config but never bound to a processor get no pool.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if eng.closed {
		return conveyor.ErrClosed
	}
	if eng.started {
		return nil
	}
	eng.started = true

	for _, queueName := range eng.registry.Queues() {
		binding, _ := eng.registry.Get(queueName)
		policy, _ := eng.queues.Policy(queueName)

		concurrency := policy.Concurrency
		if binding.Concurrency > 0 {
			concurrency = binding.Concurrency
		}

		pool := worker.NewPool(
			eng.st,
			eng.executor,
			eng.hooks,
			queueName,
			eng.logger,
			worker.WithPoolConcurrency(concurrency),
			worker.WithPollInterval(eng.cfg.PollInterval),
			worker.WithHeartbeatInterval(eng.cfg.HeartbeatInterval),
			worker.WithStallThreshold(eng.cfg.StallThreshold),
			worker.WithQueueGate(eng.queues),
		)
		if err := pool.Start(ctx); err != nil {
			return fmt.Errorf("start pool for queue %q: %w", queueName, err)
		}
		eng.pools[queueName] = pool
	}

	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}

	eng.logger.Info("engine started", slog.Int("pools", len(eng.pools)))
	return nil
}

// Close stops accepting work, drains active jobs up to the configured
// shutdown timeout, and disconnects from the store.
func (eng *Engine) Close(ctx context.Context) error {
	eng.mu.Lock()
	if eng.closed {
		eng.mu.Unlock()
		return nil
	}
	eng.closed = true
	started := eng.started
	eng.mu.Unlock()

	if started {
		if err := eng.scheduler.Stop(ctx); err != nil {
			eng.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
		}

		drainCtx, cancel := context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()

		for queueName, pool := range eng.pools {
			if err := pool.Stop(drainCtx); err != nil {
				eng.logger.Error("pool stop error",
					slog.String("queue", queueName),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	eng.hooks.EmitShutdown(ctx)

	if err := eng.st.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}

	eng.logger.Info("engine closed")
	return nil
}
