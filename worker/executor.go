// Package worker provides the job execution engine — an Executor that
// invokes bound processors through middleware, and a per-queue Pool that
// manages concurrent worker goroutines polling for jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vantor/conveyor"
	"github.com/vantor/conveyor/backoff"
	"github.com/vantor/conveyor/dlq"
	"github.com/vantor/conveyor/hook"
	"github.com/vantor/conveyor/id"
	"github.com/vantor/conveyor/job"
	"github.com/vantor/conveyor/middleware"
)

// Executor runs a single job through middleware and the bound processor,
// then handles retry accounting, dead letter push, state updates, and
// lifecycle events.
type Executor struct {
	registry   *job.Registry
	hooks      *hook.Registry
	store      job.Store
	dlqService *dlq.Service
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	hooks *hook.Registry,
	store job.Store,
	dlqService *dlq.Service,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		hooks:      hooks,
		store:      store,
		dlqService: dlqService,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a job through the middleware chain and the processor bound
// to its queue. Every attempt, success or failure, increments Attempts.
// On success: marks completed, emits JobCompleted.
// On failure with budget remaining: marks retrying with backoff, emits JobRetrying.
// On failure with budget exhausted: marks failed, pushes to the dead
// letter store, emits JobFailed + JobDLQ.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	binding, ok := e.registry.Get(j.Queue)
	if !ok {
		return fmt.Errorf("queue %q: %w", j.Queue, conveyor.ErrProcessorNotFound)
	}

	start := time.Now()

	// The terminal handler that calls the bound processor.
	terminal := func(ctx context.Context) error {
		return binding.Handler(ctx, j)
	}

	// Run through middleware chain.
	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	now := time.Now().UTC()
	j.Attempts++
	j.UpdatedAt = now

	if err != nil {
		return e.handleFailure(ctx, j, err, now)
	}

	return e.handleSuccess(ctx, j, now, elapsed)
}

// handleSuccess marks the job as completed and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, now time.Time, elapsed time.Duration) error {
	j.State = job.StateCompleted
	j.CompletedAt = &now
	j.LastError = ""

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.hooks.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// handleFailure records the error and either schedules a retry or sends
// the job to the dead letter store.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.LastError = handlerErr.Error()

	if j.Attempts < j.MaxAttempts {
		return e.scheduleRetry(ctx, j, now)
	}

	return e.sendToDLQ(ctx, j, handlerErr)
}

// scheduleRetry sets the job to StateRetrying with a backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, now time.Time) error {
	delay := strategyFor(j).Delay(j.Attempts)
	nextRunAt := now.Add(delay)
	j.RunAt = nextRunAt
	j.State = job.StateRetrying
	j.WorkerID = id.Nil
	j.StartedAt = nil
	j.HeartbeatAt = nil

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.hooks.EmitJobRetrying(ctx, j, j.Attempts, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %s", j.Name, j.Attempts, j.MaxAttempts, j.LastError)
}

// sendToDLQ marks the job as failed, pushes it to the dead letter store,
// and emits events. The panic stack, if any, travels into the entry trace.
func (e *Executor) sendToDLQ(ctx context.Context, j *job.Job, handlerErr error) error {
	j.State = job.StateFailed

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.hooks.EmitJobFailed(ctx, j, handlerErr)

	if e.dlqService != nil {
		var trace string
		var pe *middleware.PanicError
		if errors.As(handlerErr, &pe) {
			trace = pe.Stack
		}

		entry, dlqErr := e.dlqService.Push(ctx, j, handlerErr, trace)
		if dlqErr != nil {
			e.logger.Error("failed to push job to dead letter store",
				slog.String("job_id", j.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		} else {
			e.hooks.EmitJobDLQ(ctx, j, entry.ID, handlerErr)
		}
	}

	e.logger.Warn("job dead-lettered after exhausting attempts",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempts", j.Attempts),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}

// strategyFor maps the job's backoff fields (stamped from the queue
// policy at submission, unless overridden per job) to a Strategy.
func strategyFor(j *job.Job) backoff.Strategy {
	switch j.Backoff {
	case job.BackoffFixed:
		return backoff.NewConstant(j.BackoffBase)
	case job.BackoffLinear:
		return backoff.NewLinear(j.BackoffBase, 0)
	case job.BackoffExponential:
		if j.BackoffBase > 0 {
			return backoff.NewExponential(j.BackoffBase, 0)
		}
		return backoff.DefaultStrategy()
	default:
		return backoff.DefaultStrategy()
	}
}
