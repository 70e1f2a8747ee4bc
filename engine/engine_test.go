package engine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vantor/conveyor"
	"github.com/vantor/conveyor/dlq"
	"github.com/vantor/conveyor/engine"
	"github.com/vantor/conveyor/id"
	"github.com/vantor/conveyor/job"
	"github.com/vantor/conveyor/queue"
	"github.com/vantor/conveyor/store/memory"
)

func testConfig(policies ...queue.Policy) conveyor.Config {
	cfg := conveyor.DefaultConfig()
	cfg.Queues = policies
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func setupEngine(t *testing.T, policies ...queue.Policy) (*engine.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	eng, err := engine.New(s, testConfig(policies...))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng, s
}

// waitFor polls cond until it returns true or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestEngine_NewRequiresStore(t *testing.T) {
	_, err := engine.New(nil, testConfig())
	if !errors.Is(err, conveyor.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestEngine_EnqueueUnknownQueue(t *testing.T) {
	eng, _ := setupEngine(t, queue.Policy{Name: "KNOWN"})

	_, err := eng.EnqueueRaw(context.Background(), "UNKNOWN", "job", nil)
	if !errors.Is(err, conveyor.ErrQueueNotFound) {
		t.Fatalf("expected ErrQueueNotFound, got %v", err)
	}
}

func TestEngine_RegisterProcessorUnknownQueue(t *testing.T) {
	eng, _ := setupEngine(t, queue.Policy{Name: "KNOWN"})

	err := eng.RegisterProcessor("UNKNOWN", func(context.Context, *job.Job) error { return nil }, 1)
	if !errors.Is(err, conveyor.ErrQueueNotFound) {
		t.Fatalf("expected ErrQueueNotFound, got %v", err)
	}
}

func TestEngine_PolicyStampsJob(t *testing.T) {
	eng, _ := setupEngine(t, queue.Policy{
		Name:        "RISK_ASSESSMENT",
		MaxAttempts: 4,
		Backoff:     job.BackoffExponential,
		BackoffBase: 7 * time.Second,
		Timeout:     90 * time.Second,
		Priority:    2,
	})

	j, err := eng.EnqueueRaw(context.Background(), "RISK_ASSESSMENT", "assess-order", []byte(`{}`))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	if j.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, want 4", j.MaxAttempts)
	}
	if j.Backoff != job.BackoffExponential {
		t.Errorf("Backoff = %q, want exponential", j.Backoff)
	}
	if j.BackoffBase != 7*time.Second {
		t.Errorf("BackoffBase = %v, want 7s", j.BackoffBase)
	}
	if j.Timeout != 90*time.Second {
		t.Errorf("Timeout = %v, want 90s", j.Timeout)
	}
	if j.Priority != 2 {
		t.Errorf("Priority = %d, want 2", j.Priority)
	}
	if j.State != job.StatePending {
		t.Errorf("State = %q, want pending", j.State)
	}
}

func TestEngine_JobOptionsOverridePolicy(t *testing.T) {
	eng, _ := setupEngine(t, queue.Policy{Name: "Q", MaxAttempts: 3})

	j, err := eng.EnqueueRaw(context.Background(), "Q", "n", nil,
		job.WithMaxAttempts(7),
		job.WithBackoff(job.BackoffFixed, time.Minute),
		job.WithPriority(5),
		job.WithDelay(time.Hour),
	)
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	if j.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d, want 7", j.MaxAttempts)
	}
	if j.Backoff != job.BackoffFixed || j.BackoffBase != time.Minute {
		t.Errorf("Backoff = %q/%v, want fixed/1m", j.Backoff, j.BackoffBase)
	}
	if j.Priority != 5 {
		t.Errorf("Priority = %d, want 5", j.Priority)
	}
	if time.Until(j.RunAt) < 59*time.Minute {
		t.Errorf("RunAt = %v, want ~1h out", j.RunAt)
	}
}

func TestEngine_DedupReturnsExistingJob(t *testing.T) {
	eng, s := setupEngine(t, queue.Policy{Name: "SYNC"})

	first, err := eng.EnqueueRaw(context.Background(), "SYNC", "sync-vendor", nil,
		job.WithDeduplication("vendor-42"))
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	second, err := eng.EnqueueRaw(context.Background(), "SYNC", "sync-vendor", nil,
		job.WithDeduplication("vendor-42"))
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("dedup submission created new job %s, want existing %s", second.ID, first.ID)
	}

	// A terminal job releases the key; the next submission is fresh.
	first.State = job.StateCompleted
	if err := s.UpdateJob(context.Background(), first); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	third, err := eng.EnqueueRaw(context.Background(), "SYNC", "sync-vendor", nil,
		job.WithDeduplication("vendor-42"))
	if err != nil {
		t.Fatalf("third enqueue: %v", err)
	}
	if third.ID == first.ID {
		t.Fatal("expected a fresh job after the previous one completed")
	}
}

func TestEngine_ProcessesJobEndToEnd(t *testing.T) {
	eng, s := setupEngine(t, queue.Policy{Name: "ORDER_PROCESSING", Concurrency: 2})

	var runs atomic.Int32
	err := eng.RegisterProcessor("ORDER_PROCESSING", func(_ context.Context, _ *job.Job) error {
		runs.Add(1)
		return nil
	}, 0)
	if err != nil {
		t.Fatalf("RegisterProcessor: %v", err)
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Close(context.Background())

	j, err := eng.EnqueueRaw(context.Background(), "ORDER_PROCESSING", "parse-order", []byte(`{"order":1}`))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		got, getErr := s.GetJob(context.Background(), j.ID)
		return getErr == nil && got.State == job.StateCompleted
	})

	if runs.Load() != 1 {
		t.Errorf("handler ran %d times, want 1", runs.Load())
	}
}

func TestEngine_RetriesThenSucceeds(t *testing.T) {
	eng, s := setupEngine(t, queue.Policy{Name: "FLAKY"})

	var calls atomic.Int32
	_ = eng.RegisterProcessor("FLAKY", func(_ context.Context, _ *job.Job) error {
		if calls.Add(1) < 3 {
			return errors.New("vendor timeout")
		}
		return nil
	}, 1)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Close(context.Background())

	j, err := eng.EnqueueRaw(context.Background(), "FLAKY", "flaky", nil,
		job.WithMaxAttempts(5),
		job.WithBackoff(job.BackoffFixed, 10*time.Millisecond))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		got, getErr := s.GetJob(context.Background(), j.ID)
		return getErr == nil && got.State == job.StateCompleted
	})

	got, _ := s.GetJob(context.Background(), j.ID)
	if got.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3 (two failures plus the success)", got.Attempts)
	}
	if got.LastError != "" {
		t.Errorf("LastError = %q, want empty after success", got.LastError)
	}
}

func TestEngine_ExhaustedJobDeadLetters(t *testing.T) {
	eng, s := setupEngine(t, queue.Policy{Name: "DOOMED"})

	_ = eng.RegisterProcessor("DOOMED", func(_ context.Context, _ *job.Job) error {
		return errors.New("schema drift")
	}, 1)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Close(context.Background())

	j, err := eng.EnqueueRaw(context.Background(), "DOOMED", "doomed", []byte("x"),
		job.WithMaxAttempts(2),
		job.WithBackoff(job.BackoffFixed, 10*time.Millisecond))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		n, countErr := eng.DeadLetterCount(context.Background())
		return countErr == nil && n == 1
	})

	got, _ := s.GetJob(context.Background(), j.ID)
	if got.State != job.StateFailed {
		t.Errorf("job state = %q, want failed", got.State)
	}

	entries, err := eng.ListDeadLetter(context.Background(), dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDeadLetter: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 dead letter entry, got %d", len(entries))
	}
	e := entries[0]
	if e.JobID != j.ID {
		t.Errorf("entry JobID = %s, want %s", e.JobID, j.ID)
	}
	if e.Attempts != 2 {
		t.Errorf("entry Attempts = %d, want 2", e.Attempts)
	}
	if e.Reason == "" {
		t.Error("entry Reason is empty")
	}
	if e.Review != dlq.ReviewPending {
		t.Errorf("entry Review = %q, want pending", e.Review)
	}
}

func TestEngine_RetryDeadLetter(t *testing.T) {
	eng, s := setupEngine(t, queue.Policy{Name: "Q", MaxAttempts: 3})

	j := &job.Job{
		ID: jobID(t), Queue: "Q", Name: "broken", Payload: []byte("p"),
		State: job.StateFailed, Attempts: 3, MaxAttempts: 3,
		RunAt: time.Now().UTC(), CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	svc := dlq.NewService(s)
	entry, err := svc.Push(context.Background(), j, errors.New("boom"), "")
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	fresh, err := eng.RetryDeadLetter(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("RetryDeadLetter: %v", err)
	}
	if fresh.ID == j.ID {
		t.Error("expected a brand-new job ID")
	}
	if fresh.Attempts != 0 {
		t.Errorf("fresh Attempts = %d, want 0", fresh.Attempts)
	}
	if fresh.State != job.StatePending {
		t.Errorf("fresh State = %q, want pending", fresh.State)
	}
	if string(fresh.Payload) != "p" {
		t.Errorf("fresh Payload = %q, want original", fresh.Payload)
	}

	// Entry is removed, so a second resubmission cannot happen.
	if n, _ := eng.DeadLetterCount(context.Background()); n != 0 {
		t.Errorf("DeadLetterCount = %d, want 0", n)
	}
	if _, err := eng.RetryDeadLetter(context.Background(), entry.ID); !errors.Is(err, conveyor.ErrDLQNotFound) {
		t.Errorf("second retry: expected ErrDLQNotFound, got %v", err)
	}
}

// brokenEnqueueStore rejects job inserts while broken is set, standing
// in for a broker that stops accepting writes.
type brokenEnqueueStore struct {
	*memory.Store
	broken atomic.Bool
}

func (s *brokenEnqueueStore) EnqueueJob(ctx context.Context, j *job.Job) error {
	if s.broken.Load() {
		return errors.New("broker write refused")
	}
	return s.Store.EnqueueJob(ctx, j)
}

func TestEngine_RetryDeadLetterRollsBackOnEnqueueFailure(t *testing.T) {
	s := &brokenEnqueueStore{Store: memory.New()}
	eng, err := engine.New(s, testConfig(queue.Policy{Name: "Q", MaxAttempts: 3}))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	j := &job.Job{
		ID: jobID(t), Queue: "Q", Name: "broken", Payload: []byte("p"),
		State: job.StateFailed, Attempts: 3, MaxAttempts: 3,
		RunAt: time.Now().UTC(), CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	entry, err := dlq.NewService(s).Push(context.Background(), j, errors.New("boom"), "")
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	s.broken.Store(true)
	if _, err := eng.RetryDeadLetter(context.Background(), entry.ID); err == nil {
		t.Fatal("expected resubmit error while the broker refuses writes")
	}

	// The entry rolls back to pending review instead of stranding in
	// retried with its payload unrecoverable.
	got, err := s.GetDLQ(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("GetDLQ after failed resubmit: %v", err)
	}
	if got.Review != dlq.ReviewPending {
		t.Fatalf("Review = %q, want pending after rollback", got.Review)
	}
	if got.RetriedAt != nil {
		t.Error("RetriedAt should be cleared by the rollback")
	}

	// Once the broker recovers, the same entry resubmits cleanly.
	s.broken.Store(false)
	fresh, err := eng.RetryDeadLetter(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("RetryDeadLetter after recovery: %v", err)
	}
	if string(fresh.Payload) != "p" {
		t.Errorf("fresh Payload = %q, want original", fresh.Payload)
	}
	if n, _ := eng.DeadLetterCount(context.Background()); n != 0 {
		t.Errorf("DeadLetterCount = %d, want 0", n)
	}
}

func TestEngine_MarkPermanentlyFailedBlocksRetry(t *testing.T) {
	eng, s := setupEngine(t, queue.Policy{Name: "Q"})

	j := &job.Job{
		ID: jobID(t), Queue: "Q", Name: "broken",
		State: job.StateFailed, Attempts: 3, MaxAttempts: 3,
		RunAt: time.Now().UTC(), CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	entry, err := dlq.NewService(s).Push(context.Background(), j, errors.New("boom"), "")
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	if err := eng.MarkPermanentlyFailed(context.Background(), entry.ID, "vendor gone"); err != nil {
		t.Fatalf("MarkPermanentlyFailed: %v", err)
	}

	if _, err := eng.RetryDeadLetter(context.Background(), entry.ID); !errors.Is(err, conveyor.ErrDLQConflict) {
		t.Errorf("expected ErrDLQConflict after permanent failure, got %v", err)
	}

	got, _ := s.GetDLQ(context.Background(), entry.ID)
	if got.Review != dlq.ReviewPermanentlyFailed {
		t.Errorf("Review = %q, want permanently-failed", got.Review)
	}
	if got.Notes != "vendor gone" {
		t.Errorf("Notes = %q, want operator notes", got.Notes)
	}
}

func TestEngine_RetryJob(t *testing.T) {
	eng, s := setupEngine(t, queue.Policy{Name: "Q"})

	j := &job.Job{
		ID: jobID(t), Queue: "Q", Name: "n",
		State: job.StateFailed, Attempts: 3, MaxAttempts: 3, LastError: "boom",
		RunAt: time.Now().UTC(), CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("seed: %v", err)
	}

	reset, err := eng.RetryJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if reset.State != job.StatePending || reset.Attempts != 0 || reset.LastError != "" {
		t.Errorf("reset job = %q/%d/%q, want pending/0/empty", reset.State, reset.Attempts, reset.LastError)
	}

	// A job that has not finished cannot be retried.
	if _, err := eng.RetryJob(context.Background(), j.ID); !errors.Is(err, conveyor.ErrJobActive) {
		t.Errorf("expected ErrJobActive for non-terminal job, got %v", err)
	}
}

func TestEngine_RetryJobDropsDedupKey(t *testing.T) {
	eng, s := setupEngine(t, queue.Policy{Name: "SYNC"})

	first, err := eng.EnqueueRaw(context.Background(), "SYNC", "sync-vendor", nil,
		job.WithDeduplication("vendor-7"))
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	// Going terminal releases the key; a successor claims it.
	first.State = job.StateFailed
	if err := s.UpdateJob(context.Background(), first); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	successor, err := eng.EnqueueRaw(context.Background(), "SYNC", "sync-vendor", nil,
		job.WithDeduplication("vendor-7"))
	if err != nil {
		t.Fatalf("successor enqueue: %v", err)
	}

	reset, err := eng.RetryJob(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if reset.DedupKey != "" {
		t.Errorf("retried job kept dedup key %q", reset.DedupKey)
	}

	// The successor still owns the key: at most one non-terminal job
	// per (queue, key).
	held, err := s.FindByDedupKey(context.Background(), "SYNC", "vendor-7")
	if err != nil {
		t.Fatalf("FindByDedupKey: %v", err)
	}
	if held.ID != successor.ID {
		t.Errorf("key held by %s, want successor %s", held.ID, successor.ID)
	}
}

func TestEngine_RemoveJob(t *testing.T) {
	eng, s := setupEngine(t, queue.Policy{Name: "Q"})

	j, err := eng.EnqueueRaw(context.Background(), "Q", "n", nil, job.WithDelay(time.Hour))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	if err := eng.RemoveJob(context.Background(), j.ID); err != nil {
		t.Fatalf("RemoveJob: %v", err)
	}
	got, _ := s.GetJob(context.Background(), j.ID)
	if got.State != job.StateCancelled {
		t.Errorf("State = %q, want cancelled", got.State)
	}

	// Claimed jobs cannot be cancelled mid-flight.
	active, err := eng.EnqueueRaw(context.Background(), "Q", "n2", nil)
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	if _, err := s.DequeueJobs(context.Background(), "Q", 1); err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if err := eng.RemoveJob(context.Background(), active.ID); !errors.Is(err, conveyor.ErrJobActive) {
		t.Errorf("expected ErrJobActive, got %v", err)
	}
}

func TestEngine_AllQueueStats(t *testing.T) {
	eng, _ := setupEngine(t,
		queue.Policy{Name: "A", Concurrency: 3},
		queue.Policy{Name: "B"},
	)

	if _, err := eng.EnqueueRaw(context.Background(), "A", "n", nil); err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	if err := eng.PauseQueue("B"); err != nil {
		t.Fatalf("PauseQueue: %v", err)
	}

	stats, err := eng.AllQueueStats(context.Background())
	if err != nil {
		t.Fatalf("AllQueueStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got stats for %d queues, want 2", len(stats))
	}
	if stats["A"].Waiting != 1 {
		t.Errorf("A.Waiting = %d, want 1", stats["A"].Waiting)
	}
	if stats["A"].Concurrency != 3 {
		t.Errorf("A.Concurrency = %d, want 3", stats["A"].Concurrency)
	}
	if !stats["B"].Paused {
		t.Error("B should report paused")
	}
}

func TestEngine_PauseUnknownQueue(t *testing.T) {
	eng, _ := setupEngine(t, queue.Policy{Name: "Q"})

	if err := eng.PauseQueue("NOPE"); !errors.Is(err, conveyor.ErrQueueNotFound) {
		t.Errorf("PauseQueue: expected ErrQueueNotFound, got %v", err)
	}
	if err := eng.ResumeQueue("NOPE"); !errors.Is(err, conveyor.ErrQueueNotFound) {
		t.Errorf("ResumeQueue: expected ErrQueueNotFound, got %v", err)
	}
}

func TestEngine_PurgeCompleted(t *testing.T) {
	eng, s := setupEngine(t, queue.Policy{Name: "Q"})

	old := time.Now().UTC().Add(-48 * time.Hour)
	j := &job.Job{
		ID: jobID(t), Queue: "Q", Name: "old",
		State: job.StateCompleted, CompletedAt: &old,
		RunAt: old, CreatedAt: old, UpdatedAt: old,
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := eng.EnqueueRaw(context.Background(), "Q", "fresh", nil); err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	purged, err := eng.PurgeCompleted(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeCompleted: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
	if _, err := s.GetJob(context.Background(), j.ID); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("old job should be gone, got %v", err)
	}
}

func TestEngine_RegisterCron(t *testing.T) {
	eng, s := setupEngine(t, queue.Policy{Name: "REPORTS"})

	if err := eng.RegisterCron(context.Background(), "nightly", "0 3 * * *", "REPORTS", "build-report", nil); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	// Re-registration of the same name is idempotent.
	if err := eng.RegisterCron(context.Background(), "nightly", "0 3 * * *", "REPORTS", "build-report", nil); err != nil {
		t.Fatalf("second RegisterCron: %v", err)
	}

	entry, err := s.GetCronByName(context.Background(), "nightly")
	if err != nil {
		t.Fatalf("GetCronByName: %v", err)
	}
	if entry.NextRunAt == nil || !entry.NextRunAt.After(time.Now().UTC()) {
		t.Error("NextRunAt should be in the future")
	}
	if !entry.Enabled {
		t.Error("new cron entries should be enabled")
	}

	if err := eng.RegisterCron(context.Background(), "bad", "not-a-schedule", "REPORTS", "x", nil); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if err := eng.RegisterCron(context.Background(), "orphan", "* * * * *", "NOPE", "x", nil); !errors.Is(err, conveyor.ErrQueueNotFound) {
		t.Errorf("expected ErrQueueNotFound, got %v", err)
	}
}

func TestEngine_EnqueueAfterCloseFails(t *testing.T) {
	eng, _ := setupEngine(t, queue.Policy{Name: "Q"})

	if err := eng.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := eng.EnqueueRaw(context.Background(), "Q", "n", nil); !errors.Is(err, conveyor.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestOpen_NoBrokerFallsBackToInline(t *testing.T) {
	cfg := testConfig(queue.Policy{Name: "Q"})
	cfg.BrokerAddr = ""

	svc, err := engine.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer svc.Close(context.Background())

	var ran atomic.Bool
	if err := svc.RegisterProcessor("Q", func(_ context.Context, _ *job.Job) error {
		ran.Store(true)
		return nil
	}, 1); err != nil {
		t.Fatalf("RegisterProcessor: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Inline execution runs in the caller's goroutine, so the handler
	// has finished by the time EnqueueRaw returns.
	j, err := svc.EnqueueRaw(context.Background(), "Q", "n", []byte("x"))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	if !ran.Load() {
		t.Error("handler did not run synchronously")
	}
	if j.State != job.StateCompleted {
		t.Errorf("State = %q, want completed", j.State)
	}

	counts, err := svc.QueueCounts(context.Background(), "Q")
	if err != nil {
		t.Fatalf("QueueCounts: %v", err)
	}
	if counts != (job.Counts{}) {
		t.Errorf("inline QueueCounts = %+v, want zeroes", counts)
	}
}

// jobID returns a fresh job identifier for seeded records.
func jobID(t *testing.T) id.JobID {
	t.Helper()
	return id.NewJobID()
}
