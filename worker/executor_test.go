package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/vantor/conveyor"
	"github.com/vantor/conveyor/dlq"
	"github.com/vantor/conveyor/hook"
	"github.com/vantor/conveyor/job"
	"github.com/vantor/conveyor/store/memory"
	"github.com/vantor/conveyor/worker"
)

func setupExecutor(t *testing.T) (*worker.Executor, *memory.Store, *job.Registry) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	hooks := hook.NewRegistry(logger)
	dlqSvc := dlq.NewService(s)
	return worker.NewExecutor(reg, hooks, s, dlqSvc, logger), s, reg
}

// claim moves a pending job to running the way a pool would.
func claim(t *testing.T, s *memory.Store, queueName string) *job.Job {
	t.Helper()
	jobs, err := s.DequeueJobs(context.Background(), queueName, 1)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 claimable job, got %d", len(jobs))
	}
	return jobs[0]
}

func TestExecutor_UnboundQueue(t *testing.T) {
	exec, s, _ := setupExecutor(t)

	j := testJob("NOBODY_HOME", "orphan", nil)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed := claim(t, s, "NOBODY_HOME")

	err := exec.Execute(context.Background(), claimed)
	if !errors.Is(err, conveyor.ErrProcessorNotFound) {
		t.Fatalf("expected ErrProcessorNotFound, got %v", err)
	}
}

func TestExecutor_ExponentialBackoffSchedule(t *testing.T) {
	exec, s, reg := setupExecutor(t)

	reg.Bind("SLOW_VENDOR", func(_ context.Context, _ *job.Job) error {
		return errors.New("vendor unavailable")
	}, 1)

	j := testJob("SLOW_VENDOR", "sync-vendor", nil)
	j.MaxAttempts = 5
	j.Backoff = job.BackoffExponential
	j.BackoffBase = 5 * time.Second
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Delays double from the base: 5s, 10s, 20s.
	wantDelays := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	for attempt, want := range wantDelays {
		claimed := claim(t, s, "SLOW_VENDOR")
		before := time.Now().UTC()
		if err := exec.Execute(context.Background(), claimed); err == nil {
			t.Fatalf("attempt %d: expected failure", attempt+1)
		}

		got, err := s.GetJob(context.Background(), j.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.State != job.StateRetrying {
			t.Fatalf("attempt %d: state = %q, want retrying", attempt+1, got.State)
		}
		delay := got.RunAt.Sub(before)
		if delay < want-time.Second || delay > want+time.Second {
			t.Errorf("attempt %d: retry delay = %v, want ~%v", attempt+1, delay, want)
		}

		// Pull the job forward so the next claim sees it as runnable.
		got.RunAt = time.Now().UTC()
		if err := s.UpdateJob(context.Background(), got); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}
	}
}

func TestExecutor_LinearBackoffSchedule(t *testing.T) {
	exec, s, reg := setupExecutor(t)

	reg.Bind("RAMPING", func(_ context.Context, _ *job.Job) error {
		return errors.New("catalog busy")
	}, 1)

	j := testJob("RAMPING", "refresh-catalog", nil)
	j.MaxAttempts = 4
	j.Backoff = job.BackoffLinear
	j.BackoffBase = 4 * time.Second
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Delays grow by the base each attempt: 4s, 8s, 12s.
	wantDelays := []time.Duration{4 * time.Second, 8 * time.Second, 12 * time.Second}
	for attempt, want := range wantDelays {
		claimed := claim(t, s, "RAMPING")
		before := time.Now().UTC()
		if err := exec.Execute(context.Background(), claimed); err == nil {
			t.Fatalf("attempt %d: expected failure", attempt+1)
		}

		got, err := s.GetJob(context.Background(), j.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.State != job.StateRetrying {
			t.Fatalf("attempt %d: state = %q, want retrying", attempt+1, got.State)
		}
		delay := got.RunAt.Sub(before)
		if delay < want-time.Second || delay > want+time.Second {
			t.Errorf("attempt %d: retry delay = %v, want ~%v", attempt+1, delay, want)
		}

		got.RunAt = time.Now().UTC()
		if err := s.UpdateJob(context.Background(), got); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}
	}
}

func TestExecutor_FixedBackoffSchedule(t *testing.T) {
	exec, s, reg := setupExecutor(t)

	reg.Bind("STEADY", func(_ context.Context, _ *job.Job) error {
		return errors.New("still down")
	}, 1)

	j := testJob("STEADY", "steady", nil)
	j.MaxAttempts = 3
	j.Backoff = job.BackoffFixed
	j.BackoffBase = 2 * time.Second
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		claimed := claim(t, s, "STEADY")
		before := time.Now().UTC()
		if err := exec.Execute(context.Background(), claimed); err == nil {
			t.Fatalf("attempt %d: expected failure", attempt)
		}

		got, err := s.GetJob(context.Background(), j.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		delay := got.RunAt.Sub(before)
		if delay < time.Second || delay > 3*time.Second {
			t.Errorf("attempt %d: retry delay = %v, want ~2s", attempt, delay)
		}

		got.RunAt = time.Now().UTC()
		if err := s.UpdateJob(context.Background(), got); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}
	}
}

func TestExecutor_SuccessClearsLastError(t *testing.T) {
	exec, s, reg := setupExecutor(t)

	reg.Bind("RECOVERS", func(_ context.Context, _ *job.Job) error { return nil }, 1)

	j := testJob("RECOVERS", "recovers", nil)
	j.LastError = "previous attempt error"
	j.Attempts = 1
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed := claim(t, s, "RECOVERS")
	if err := exec.Execute(context.Background(), claimed); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateCompleted {
		t.Errorf("state = %q, want completed", got.State)
	}
	if got.LastError != "" {
		t.Errorf("LastError = %q, want empty", got.LastError)
	}
	if got.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", got.Attempts)
	}
}
