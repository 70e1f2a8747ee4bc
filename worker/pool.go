package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vantor/conveyor/hook"
	"github.com/vantor/conveyor/id"
	"github.com/vantor/conveyor/job"
)

// QueueGate controls per-queue dequeue admission: pause state, rate
// limits, and concurrency. The pool calls Acquire before dequeueing a
// job and Release after execution completes.
type QueueGate interface {
	// Acquire returns true if a job from the queue may proceed.
	Acquire(queue string) bool
	// Release decrements the active count for the queue.
	Release(queue string)
}

// Pool manages the worker goroutines for ONE queue. Each pool polls its
// own queue and executes claimed jobs through the Executor. The engine
// runs one pool per bound queue, sized by the queue policy.
type Pool struct {
	store        job.Store
	executor     *Executor
	hooks        *hook.Registry
	queueName    string
	concurrency  int
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Heartbeat / stall recovery configuration.
	heartbeatInterval time.Duration
	stallThreshold    time.Duration

	// Queue gate (optional).
	gate QueueGate

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPollInterval sets how often workers poll for new jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool sends heartbeats for
// active jobs. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStallThreshold sets the threshold after which running jobs without
// a heartbeat are returned to the queue. A zero value disables stall
// recovery for this pool.
func WithStallThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.stallThreshold = d }
}

// WithQueueGate sets the admission gate for pause, rate limiting, and
// concurrency control.
func WithQueueGate(g QueueGate) PoolOption {
	return func(p *Pool) { p.gate = g }
}

// NewPool creates a worker pool for one queue.
func NewPool(
	store job.Store,
	executor *Executor,
	hooks *hook.Registry,
	queueName string,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		hooks:        hooks,
		queueName:    queueName,
		concurrency:  1,
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Queue returns the queue this pool serves.
func (p *Pool) Queue() string { return p.queueName }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.String("queue", p.queueName),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop()
	}

	// Launch heartbeat goroutine if configured.
	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	// Launch stall recovery goroutine if configured.
	if p.stallThreshold > 0 {
		p.wg.Add(1)
		go p.stallLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If the context has a deadline, active jobs are cancelled when time runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping",
		slog.String("worker_id", p.workerID.String()),
		slog.String("queue", p.queueName),
	)

	// Signal all workers to stop.
	close(p.stopCh)

	// Wait for completion or context deadline.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully", slog.String("queue", p.queueName))
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs",
			slog.String("queue", p.queueName),
		)
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// dequeueLoop is run by each worker goroutine. The gate is acquired
// BEFORE dequeueing so paused or rate-limited queues never claim jobs
// they cannot run.
func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if p.gate != nil && !p.gate.Acquire(p.queueName) {
			p.sleep()
			continue
		}

		jobs, err := p.store.DequeueJobs(context.Background(), p.queueName, 1)
		if err != nil {
			p.releaseGate()
			p.logger.Error("dequeue error",
				slog.String("queue", p.queueName),
				slog.String("error", err.Error()),
			)
			p.sleep()
			continue
		}

		if len(jobs) == 0 {
			p.releaseGate()
			p.sleep()
			continue
		}

		j := jobs[0]
		j.WorkerID = p.workerID

		p.hooks.EmitJobStarted(context.Background(), j)

		ctx, cancel := context.WithCancel(context.Background())
		p.trackJob(j.ID.String(), cancel)

		execErr := p.executor.Execute(ctx, j)
		if execErr != nil {
			p.logger.Debug("job execution failed",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.String("error", execErr.Error()),
			)
		}

		p.untrackJob(j.ID.String())
		cancel()
		p.releaseGate()
	}
}

func (p *Pool) releaseGate() {
	if p.gate != nil {
		p.gate.Release(p.queueName)
	}
}

// heartbeatLoop periodically sends heartbeats for all active jobs.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	jobIDs := make([]string, 0, len(p.activeJobs))
	for jobID := range p.activeJobs {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	for _, jobIDStr := range jobIDs {
		parsedID, parseErr := id.ParseJobID(jobIDStr)
		if parseErr != nil {
			p.logger.Warn("heartbeat: invalid job id", slog.String("job_id", jobIDStr))
			continue
		}
		if err := p.store.HeartbeatJob(context.Background(), parsedID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", jobIDStr),
				slog.String("error", err.Error()),
			)
		}
	}
}

// stallLoop periodically asks the broker to requeue running jobs whose
// heartbeat has expired. The requeue itself is store-native; the pool
// only reports what was recovered.
func (p *Pool) stallLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.stallThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.recoverStalled()
		}
	}
}

func (p *Pool) recoverStalled() {
	stalled, err := p.store.RequeueStalled(context.Background(), p.stallThreshold)
	if err != nil {
		p.logger.Error("stall recovery error",
			slog.String("queue", p.queueName),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, j := range stalled {
		p.logger.Warn("requeued stalled job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("queue", j.Queue),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
