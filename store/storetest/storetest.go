// Package storetest exercises the persistence contracts shared by every
// store backend. The memory backend runs the suite hermetically; the
// Redis and Postgres backends opt in when pointed at a live service.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vantor/conveyor"
	"github.com/vantor/conveyor/cron"
	"github.com/vantor/conveyor/dlq"
	"github.com/vantor/conveyor/id"
	"github.com/vantor/conveyor/job"
	"github.com/vantor/conveyor/store"
)

// Factory returns a migrated store for one subtest. Live backends may
// return the same connection each time; queue and cron names are
// generated per subtest so runs never collide.
type Factory func(t *testing.T) store.Store

// Run drives the job, dead letter, and cron contracts against the
// backend produced by the factory.
func Run(t *testing.T, newStore Factory) {
	t.Run("JobRoundtrip", func(t *testing.T) { testJobRoundtrip(t, newStore(t)) })
	t.Run("DuplicateJobID", func(t *testing.T) { testDuplicateJobID(t, newStore(t)) })
	t.Run("DedupKeyBindsOneJob", func(t *testing.T) { testDedupKeyBindsOneJob(t, newStore(t)) })
	t.Run("TerminalUpdateReleasesDedupKey", func(t *testing.T) { testTerminalUpdateReleasesDedupKey(t, newStore(t)) })
	t.Run("DequeueOrdersByPriority", func(t *testing.T) { testDequeueOrdersByPriority(t, newStore(t)) })
	t.Run("DequeueSkipsDelayed", func(t *testing.T) { testDequeueSkipsDelayed(t, newStore(t)) })
	t.Run("DLQReviewTransitions", func(t *testing.T) { testDLQReviewTransitions(t, newStore(t)) })
	t.Run("DLQReopen", func(t *testing.T) { testDLQReopen(t, newStore(t)) })
	t.Run("CronNameUnique", func(t *testing.T) { testCronNameUnique(t, newStore(t)) })
}

// uniqueName derives a collision-free queue or cron name for one subtest.
func uniqueName(prefix string) string {
	return prefix + "_" + id.NewJobID().String()
}

func seedJob(queueName, name string) *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		ID:          id.NewJobID(),
		Queue:       queueName,
		Name:        name,
		Payload:     []byte(`{"seed":true}`),
		State:       job.StatePending,
		MaxAttempts: 3,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func seedEntry(queueName string) *dlq.Entry {
	now := time.Now().UTC()
	return &dlq.Entry{
		ID:          id.NewDLQID(),
		JobID:       id.NewJobID(),
		JobName:     "doomed",
		Queue:       queueName,
		Payload:     []byte(`{"seed":true}`),
		Reason:      "vendor timeout",
		Attempts:    3,
		MaxAttempts: 3,
		Review:      dlq.ReviewPending,
		FailedAt:    now,
		CreatedAt:   now,
	}
}

func testJobRoundtrip(t *testing.T, st store.Store) {
	ctx := context.Background()
	q := uniqueName("RT")

	j := seedJob(q, "parse-order")
	if err := st.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := st.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != j.ID || got.Queue != q || got.Name != "parse-order" {
		t.Errorf("roundtrip = %s/%s/%s, want original identity", got.ID, got.Queue, got.Name)
	}
	if string(got.Payload) != `{"seed":true}` {
		t.Errorf("Payload = %q, want original", got.Payload)
	}
	if got.State != job.StatePending {
		t.Errorf("State = %q, want pending", got.State)
	}

	if _, err := st.GetJob(ctx, id.NewJobID()); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("unknown job: expected ErrJobNotFound, got %v", err)
	}
}

func testDuplicateJobID(t *testing.T, st store.Store) {
	ctx := context.Background()
	j := seedJob(uniqueName("DUP"), "n")

	if err := st.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := st.EnqueueJob(ctx, j); !errors.Is(err, conveyor.ErrJobAlreadyExists) {
		t.Errorf("expected ErrJobAlreadyExists, got %v", err)
	}
}

func testDedupKeyBindsOneJob(t *testing.T, st store.Store) {
	ctx := context.Background()
	q := uniqueName("DEDUP")

	first := seedJob(q, "sync-vendor")
	first.DedupKey = "vendor-42"
	if err := st.EnqueueJob(ctx, first); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	second := seedJob(q, "sync-vendor")
	second.DedupKey = "vendor-42"
	if err := st.EnqueueJob(ctx, second); !errors.Is(err, conveyor.ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}

	held, err := st.FindByDedupKey(ctx, q, "vendor-42")
	if err != nil {
		t.Fatalf("FindByDedupKey: %v", err)
	}
	if held.ID != first.ID {
		t.Errorf("key held by %s, want %s", held.ID, first.ID)
	}

	if _, err := st.FindByDedupKey(ctx, q, "free-key"); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("free key: expected ErrJobNotFound, got %v", err)
	}
}

func testTerminalUpdateReleasesDedupKey(t *testing.T, st store.Store) {
	ctx := context.Background()
	q := uniqueName("RELEASE")

	first := seedJob(q, "sync-vendor")
	first.DedupKey = "vendor-7"
	if err := st.EnqueueJob(ctx, first); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first.State = job.StateCompleted
	if err := st.UpdateJob(ctx, first); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	if _, err := st.FindByDedupKey(ctx, q, "vendor-7"); !errors.Is(err, conveyor.ErrJobNotFound) {
		t.Errorf("terminal job should release its key, got %v", err)
	}

	successor := seedJob(q, "sync-vendor")
	successor.DedupKey = "vendor-7"
	if err := st.EnqueueJob(ctx, successor); err != nil {
		t.Errorf("successor enqueue after release: %v", err)
	}
}

func testDequeueOrdersByPriority(t *testing.T, st store.Store) {
	ctx := context.Background()
	q := uniqueName("PRIO")

	low := seedJob(q, "low")
	low.Priority = 5
	urgent := seedJob(q, "urgent")
	urgent.Priority = 1
	for _, j := range []*job.Job{low, urgent} {
		if err := st.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("enqueue %s: %v", j.Name, err)
		}
	}

	claimed, err := st.DequeueJobs(ctx, q, 1)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d jobs, want 1", len(claimed))
	}
	if claimed[0].ID != urgent.ID {
		t.Errorf("claimed %s first, want the lower priority value", claimed[0].Name)
	}
	if claimed[0].State != job.StateRunning {
		t.Errorf("claimed State = %q, want running", claimed[0].State)
	}
	if claimed[0].StartedAt == nil {
		t.Error("claimed job has no StartedAt")
	}

	// The claim is exclusive: a second dequeue sees only the other job.
	rest, err := st.DequeueJobs(ctx, q, 10)
	if err != nil {
		t.Fatalf("second DequeueJobs: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != low.ID {
		t.Errorf("second claim = %d jobs, want only the remaining one", len(rest))
	}
}

func testDequeueSkipsDelayed(t *testing.T, st store.Store) {
	ctx := context.Background()
	q := uniqueName("DELAY")

	j := seedJob(q, "later")
	j.RunAt = time.Now().UTC().Add(time.Hour)
	if err := st.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := st.DequeueJobs(ctx, q, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("claimed %d delayed jobs, want 0", len(claimed))
	}

	counts, err := st.QueueCounts(ctx, q)
	if err != nil {
		t.Fatalf("QueueCounts: %v", err)
	}
	if counts.Delayed != 1 || counts.Waiting != 0 {
		t.Errorf("counts = %+v, want 1 delayed and 0 waiting", counts)
	}
}

func testDLQReviewTransitions(t *testing.T, st store.Store) {
	ctx := context.Background()
	entry := seedEntry(uniqueName("DLQ"))

	if err := st.PushDLQ(ctx, entry); err != nil {
		t.Fatalf("PushDLQ: %v", err)
	}

	if err := st.MarkRetriedDLQ(ctx, entry.ID); err != nil {
		t.Fatalf("MarkRetriedDLQ: %v", err)
	}
	got, err := st.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.Review != dlq.ReviewRetried {
		t.Errorf("Review = %q, want retried", got.Review)
	}
	if got.RetriedAt == nil {
		t.Error("RetriedAt not stamped")
	}

	// Only one reviewer wins the transition.
	if err := st.MarkRetriedDLQ(ctx, entry.ID); !errors.Is(err, conveyor.ErrDLQConflict) {
		t.Errorf("second mark: expected ErrDLQConflict, got %v", err)
	}
	if err := st.MarkPermanentlyFailedDLQ(ctx, entry.ID, "n"); !errors.Is(err, conveyor.ErrDLQConflict) {
		t.Errorf("permanent after retried: expected ErrDLQConflict, got %v", err)
	}

	if err := st.MarkRetriedDLQ(ctx, id.NewDLQID()); !errors.Is(err, conveyor.ErrDLQNotFound) {
		t.Errorf("unknown entry: expected ErrDLQNotFound, got %v", err)
	}
}

func testDLQReopen(t *testing.T, st store.Store) {
	ctx := context.Background()
	entry := seedEntry(uniqueName("REOPEN"))

	if err := st.PushDLQ(ctx, entry); err != nil {
		t.Fatalf("PushDLQ: %v", err)
	}

	// Pending entries cannot be reopened; only retried ones roll back.
	if err := st.ReopenDLQ(ctx, entry.ID); !errors.Is(err, conveyor.ErrDLQConflict) {
		t.Errorf("reopen pending: expected ErrDLQConflict, got %v", err)
	}

	if err := st.MarkRetriedDLQ(ctx, entry.ID); err != nil {
		t.Fatalf("MarkRetriedDLQ: %v", err)
	}
	if err := st.ReopenDLQ(ctx, entry.ID); err != nil {
		t.Fatalf("ReopenDLQ: %v", err)
	}

	got, err := st.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.Review != dlq.ReviewPending {
		t.Errorf("Review = %q, want pending after reopen", got.Review)
	}
	if got.RetriedAt != nil {
		t.Error("RetriedAt should be cleared by reopen")
	}

	// A reopened entry accepts a fresh review.
	if err := st.MarkPermanentlyFailedDLQ(ctx, entry.ID, "gave up"); err != nil {
		t.Errorf("review after reopen: %v", err)
	}

	if err := st.ReopenDLQ(ctx, id.NewDLQID()); !errors.Is(err, conveyor.ErrDLQNotFound) {
		t.Errorf("unknown entry: expected ErrDLQNotFound, got %v", err)
	}
}

func testCronNameUnique(t *testing.T, st store.Store) {
	ctx := context.Background()
	name := uniqueName("nightly")
	now := time.Now().UTC()
	next := now.Add(time.Hour)

	entry := &cron.Entry{
		ID:        id.NewCronID(),
		Name:      name,
		Schedule:  "0 3 * * *",
		Queue:     uniqueName("REPORTS"),
		JobName:   "build-report",
		NextRunAt: &next,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.RegisterCron(ctx, entry); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	clone := *entry
	clone.ID = id.NewCronID()
	if err := st.RegisterCron(ctx, &clone); !errors.Is(err, conveyor.ErrDuplicateCron) {
		t.Errorf("expected ErrDuplicateCron, got %v", err)
	}

	got, err := st.GetCronByName(ctx, name)
	if err != nil {
		t.Fatalf("GetCronByName: %v", err)
	}
	if got.ID != entry.ID || !got.Enabled {
		t.Errorf("got %s/enabled=%v, want original entry", got.ID, got.Enabled)
	}
}
