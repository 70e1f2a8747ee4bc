package worker_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vantor/conveyor/dlq"
	"github.com/vantor/conveyor/hook"
	"github.com/vantor/conveyor/id"
	"github.com/vantor/conveyor/job"
	"github.com/vantor/conveyor/middleware"
	"github.com/vantor/conveyor/queue"
	"github.com/vantor/conveyor/store/memory"
	"github.com/vantor/conveyor/worker"
)

func setupTestPool(t *testing.T, queueName string, concurrency int, pollInterval time.Duration) (
	*worker.Pool, *memory.Store, *job.Registry,
) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	hooks := hook.NewRegistry(logger)

	dlqSvc := dlq.NewService(s)

	executor := worker.NewExecutor(
		reg, hooks, s, dlqSvc, logger,
		middleware.Recover(logger),
	)

	pool := worker.NewPool(s, executor, hooks, queueName, logger,
		worker.WithPoolConcurrency(concurrency),
		worker.WithPollInterval(pollInterval),
	)

	return pool, s, reg
}

func testJob(queueName, name string, payload []byte) *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		ID:          id.NewJobID(),
		Name:        name,
		Queue:       queueName,
		Payload:     payload,
		State:       job.StatePending,
		MaxAttempts: 3,
		Backoff:     job.BackoffFixed,
		BackoffBase: 10 * time.Millisecond,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _ := setupTestPool(t, "default", 2, 50*time.Millisecond)

	err := pool.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	// Double start should be no-op.
	err = pool.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = pool.Stop(ctx)
	if err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	// Double stop should be no-op.
	err = pool.Stop(ctx)
	if err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_ProcessesJob(t *testing.T) {
	pool, s, reg := setupTestPool(t, "GREETINGS", 1, 10*time.Millisecond)

	var processed atomic.Bool
	def := job.NewDefinition(func(_ context.Context, p struct{ Name string }) error {
		if p.Name != "Alice" {
			t.Errorf("payload.Name = %q, want %q", p.Name, "Alice")
		}
		processed.Store(true)
		return nil
	})
	reg.Bind("GREETINGS", job.Erase(def), 1)

	payload, _ := json.Marshal(struct{ Name string }{Name: "Alice"})
	j := testJob("GREETINGS", "greet", payload)

	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, processed.Load, "timed out waiting for job to be processed")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.State != job.StateCompleted {
		t.Errorf("job state = %q, want %q", got.State, job.StateCompleted)
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
}

func TestPool_RetriesThenSucceeds(t *testing.T) {
	pool, s, reg := setupTestPool(t, "FLAKY", 1, 10*time.Millisecond)

	var calls atomic.Int32
	reg.Bind("FLAKY", func(_ context.Context, _ *job.Job) error {
		if calls.Add(1) < 3 {
			return context.DeadlineExceeded
		}
		return nil
	}, 1)

	j := testJob("FLAKY", "flaky", nil)
	j.MaxAttempts = 5

	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateCompleted
	}, "timed out waiting for job to complete after retries")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	// Two failures plus the successful attempt.
	if got.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", got.Attempts)
	}
}

func TestPool_ExhaustedJobGoesToDLQ(t *testing.T) {
	pool, s, reg := setupTestPool(t, "DOOMED", 1, 10*time.Millisecond)

	reg.Bind("DOOMED", func(_ context.Context, _ *job.Job) error {
		return context.DeadlineExceeded
	}, 1)

	j := testJob("DOOMED", "doomed", nil)
	j.MaxAttempts = 2

	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateFailed
	}, "timed out waiting for job to fail terminally")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", got.Attempts)
	}
	if got.LastError == "" {
		t.Error("expected LastError to be set")
	}

	// Exactly one dead letter entry.
	count, err := s.CountDLQ(context.Background())
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if count != 1 {
		t.Errorf("CountDLQ = %d, want 1", count)
	}

	entries, err := s.ListDLQ(context.Background(), dlq.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if entries[0].JobID != j.ID {
		t.Errorf("DLQ JobID = %v, want %v", entries[0].JobID, j.ID)
	}
	if entries[0].Attempts != 2 {
		t.Errorf("DLQ Attempts = %d, want 2", entries[0].Attempts)
	}
	if entries[0].Review != dlq.ReviewPending {
		t.Errorf("DLQ Review = %q, want pending", entries[0].Review)
	}
}

func TestPool_PanicGoesToDLQWithTrace(t *testing.T) {
	pool, s, reg := setupTestPool(t, "PANICKY", 1, 10*time.Millisecond)

	reg.Bind("PANICKY", func(_ context.Context, _ *job.Job) error {
		panic("handler blew up")
	}, 1)

	j := testJob("PANICKY", "panicky", nil)
	j.MaxAttempts = 1

	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, func() bool {
		count, err := s.CountDLQ(context.Background())
		return err == nil && count == 1
	}, "timed out waiting for panic to dead-letter")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	entries, err := s.ListDLQ(context.Background(), dlq.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if entries[0].Trace == "" {
		t.Error("expected panic stack in DLQ trace")
	}
}

func TestPool_ConcurrencyCapped(t *testing.T) {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	hooks := hook.NewRegistry(logger)
	dlqSvc := dlq.NewService(s)

	qm := queue.NewManager(queue.Policy{Name: "CAPPED", Concurrency: 5})

	var active, maxActive atomic.Int32
	var done atomic.Int32
	reg.Bind("CAPPED", func(_ context.Context, _ *job.Job) error {
		cur := active.Add(1)
		for {
			prev := maxActive.Load()
			if cur <= prev || maxActive.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		active.Add(-1)
		done.Add(1)
		return nil
	}, 5)

	executor := worker.NewExecutor(reg, hooks, s, dlqSvc, logger)
	pool := worker.NewPool(s, executor, hooks, "CAPPED", logger,
		worker.WithPoolConcurrency(5),
		worker.WithPollInterval(5*time.Millisecond),
		worker.WithQueueGate(qm),
	)

	for range 20 {
		if err := s.EnqueueJob(context.Background(), testJob("CAPPED", "capped", nil)); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, func() bool { return done.Load() == 20 }, "timed out waiting for 20 jobs")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	if got := maxActive.Load(); got > 5 {
		t.Errorf("max concurrent executions = %d, want <= 5", got)
	}
}

func TestPool_PausedQueueDoesNotDequeue(t *testing.T) {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	hooks := hook.NewRegistry(logger)
	dlqSvc := dlq.NewService(s)

	qm := queue.NewManager(queue.Policy{Name: "PAUSABLE", Concurrency: 2})
	qm.Pause("PAUSABLE")

	var processed atomic.Bool
	reg.Bind("PAUSABLE", func(_ context.Context, _ *job.Job) error {
		processed.Store(true)
		return nil
	}, 2)

	executor := worker.NewExecutor(reg, hooks, s, dlqSvc, logger)
	pool := worker.NewPool(s, executor, hooks, "PAUSABLE", logger,
		worker.WithPoolConcurrency(2),
		worker.WithPollInterval(5*time.Millisecond),
		worker.WithQueueGate(qm),
	)

	if err := s.EnqueueJob(context.Background(), testJob("PAUSABLE", "held", nil)); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if processed.Load() {
		t.Fatal("paused queue processed a job")
	}

	// Resume and the held job flows.
	qm.Resume("PAUSABLE")
	waitFor(t, processed.Load, "timed out waiting for job after resume")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPool_HooksFire(t *testing.T) {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	hooks := hook.NewRegistry(logger)

	tracker := &trackingHook{}
	hooks.Register(tracker)

	dlqSvc := dlq.NewService(s)
	executor := worker.NewExecutor(reg, hooks, s, dlqSvc, logger)
	pool := worker.NewPool(s, executor, hooks, "TRACKED", logger,
		worker.WithPoolConcurrency(1),
		worker.WithPollInterval(10*time.Millisecond),
	)

	var processed atomic.Bool
	reg.Bind("TRACKED", func(_ context.Context, _ *job.Job) error {
		processed.Store(true)
		return nil
	}, 1)

	if err := s.EnqueueJob(context.Background(), testJob("TRACKED", "tracked", nil)); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, processed.Load, "timed out waiting for job")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	if !tracker.started.Load() {
		t.Error("expected OnJobStarted to fire")
	}
	if !tracker.completed.Load() {
		t.Error("expected OnJobCompleted to fire")
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// trackingHook records which lifecycle events fired.
type trackingHook struct {
	started   atomic.Bool
	completed atomic.Bool
	failed    atomic.Bool
}

func (h *trackingHook) Name() string { return "tracker" }

func (h *trackingHook) OnJobStarted(_ context.Context, _ *job.Job) error {
	h.started.Store(true)
	return nil
}

func (h *trackingHook) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	h.completed.Store(true)
	return nil
}

func (h *trackingHook) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	h.failed.Store(true)
	return nil
}
