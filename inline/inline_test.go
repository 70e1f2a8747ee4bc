package inline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vantor/conveyor"
	"github.com/vantor/conveyor/inline"
	"github.com/vantor/conveyor/job"
	"github.com/vantor/conveyor/queue"
)

func testConfig() conveyor.Config {
	cfg := conveyor.DefaultConfig()
	cfg.Queues = []queue.Policy{{Name: "ORDER_PROCESSING"}, {Name: "SIDE"}}
	return cfg
}

func TestInline_ExecutesSynchronously(t *testing.T) {
	e := inline.New(testConfig())

	var got []byte
	err := e.RegisterProcessor("ORDER_PROCESSING", func(_ context.Context, j *job.Job) error {
		got = j.Payload
		return nil
	}, 1)
	if err != nil {
		t.Fatalf("RegisterProcessor: %v", err)
	}

	j, err := e.EnqueueRaw(context.Background(), "ORDER_PROCESSING", "parse-order", []byte(`{"order":7}`))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	if string(got) != `{"order":7}` {
		t.Errorf("handler saw payload %q", got)
	}
	if j.State != job.StateCompleted {
		t.Errorf("State = %q, want completed", j.State)
	}
	if j.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", j.Attempts)
	}
	if j.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestInline_SwallowsHandlerError(t *testing.T) {
	e := inline.New(testConfig())

	_ = e.RegisterProcessor("ORDER_PROCESSING", func(_ context.Context, _ *job.Job) error {
		return errors.New("vendor unavailable")
	}, 1)

	// The submission succeeds even though the handler failed; inline
	// execution trades durability for availability.
	j, err := e.EnqueueRaw(context.Background(), "ORDER_PROCESSING", "parse-order", nil)
	if err != nil {
		t.Fatalf("EnqueueRaw returned %v, want nil", err)
	}
	if j.State != job.StateFailed {
		t.Errorf("State = %q, want failed", j.State)
	}
	if j.LastError == "" {
		t.Error("LastError not recorded")
	}

	// No dead letter capture in inline mode.
	if n, _ := e.DeadLetterCount(context.Background()); n != 0 {
		t.Errorf("DeadLetterCount = %d, want 0", n)
	}
}

func TestInline_RecoversPanic(t *testing.T) {
	e := inline.New(testConfig())

	_ = e.RegisterProcessor("ORDER_PROCESSING", func(_ context.Context, _ *job.Job) error {
		panic("nil order document")
	}, 1)

	j, err := e.EnqueueRaw(context.Background(), "ORDER_PROCESSING", "parse-order", nil)
	if err != nil {
		t.Fatalf("EnqueueRaw returned %v, want nil", err)
	}
	if j.State != job.StateFailed {
		t.Errorf("State = %q, want failed", j.State)
	}
}

func TestInline_UnknownQueue(t *testing.T) {
	e := inline.New(testConfig())

	if _, err := e.EnqueueRaw(context.Background(), "NOPE", "n", nil); !errors.Is(err, conveyor.ErrQueueNotFound) {
		t.Errorf("expected ErrQueueNotFound, got %v", err)
	}
}

func TestInline_UnboundQueue(t *testing.T) {
	e := inline.New(testConfig())

	if _, err := e.EnqueueRaw(context.Background(), "SIDE", "n", nil); !errors.Is(err, conveyor.ErrProcessorNotFound) {
		t.Errorf("expected ErrProcessorNotFound, got %v", err)
	}
}

func TestInline_PausedQueueRejects(t *testing.T) {
	e := inline.New(testConfig())

	_ = e.RegisterProcessor("ORDER_PROCESSING", func(_ context.Context, _ *job.Job) error { return nil }, 1)
	if err := e.PauseQueue("ORDER_PROCESSING"); err != nil {
		t.Fatalf("PauseQueue: %v", err)
	}

	if _, err := e.EnqueueRaw(context.Background(), "ORDER_PROCESSING", "n", nil); err == nil {
		t.Fatal("expected error for paused queue")
	}

	if err := e.ResumeQueue("ORDER_PROCESSING"); err != nil {
		t.Fatalf("ResumeQueue: %v", err)
	}
	if _, err := e.EnqueueRaw(context.Background(), "ORDER_PROCESSING", "n", nil); err != nil {
		t.Fatalf("EnqueueRaw after resume: %v", err)
	}
}

func TestInline_TimeoutApplies(t *testing.T) {
	e := inline.New(testConfig())

	_ = e.RegisterProcessor("ORDER_PROCESSING", func(ctx context.Context, _ *job.Job) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	}, 1)

	start := time.Now()
	j, err := e.EnqueueRaw(context.Background(), "ORDER_PROCESSING", "slow", nil,
		job.WithTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("handler was not cancelled, took %v", elapsed)
	}
	if j.State != job.StateFailed {
		t.Errorf("State = %q, want failed", j.State)
	}
}

func TestInline_CloseRejectsSubmissions(t *testing.T) {
	e := inline.New(testConfig())

	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := e.EnqueueRaw(context.Background(), "ORDER_PROCESSING", "n", nil); !errors.Is(err, conveyor.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestInline_ZeroStats(t *testing.T) {
	e := inline.New(testConfig())

	stats, err := e.AllQueueStats(context.Background())
	if err != nil {
		t.Fatalf("AllQueueStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d queues, want 2", len(stats))
	}
	if stats["ORDER_PROCESSING"].Waiting != 0 || stats["ORDER_PROCESSING"].Active != 0 {
		t.Error("inline stats should be zeroed")
	}
}
