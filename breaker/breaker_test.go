package breaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vantor/conveyor/breaker"
)

var errVendor = errors.New("vendor unavailable")

func succeed(context.Context) error { return nil }
func fail(context.Context) error    { return errVendor }

// trip drives the breaker open: enough failures to clear the request
// floor and exceed the failure threshold.
func trip(t *testing.T, b *breaker.Breaker, calls int) {
	t.Helper()
	for range calls {
		if err := b.Do(context.Background(), fail); !errors.Is(err, errVendor) {
			t.Fatalf("Do during trip: %v", err)
		}
	}
	if got := b.State(); got != breaker.StateOpen {
		t.Fatalf("State after %d failures = %v, want open", calls, got)
	}
}

func TestBreaker_StaysClosedBelowRequestFloor(t *testing.T) {
	b := breaker.New(breaker.Settings{Name: "parse-order", MinRequests: 5})

	for range 4 {
		_ = b.Do(context.Background(), fail)
	}

	if got := b.State(); got != breaker.StateClosed {
		t.Errorf("State = %v, want closed below request floor", got)
	}
	if err := b.Do(context.Background(), succeed); err != nil {
		t.Errorf("Do while closed: %v", err)
	}
}

func TestBreaker_TripsAtFailureThreshold(t *testing.T) {
	b := breaker.New(breaker.Settings{Name: "assess-risk", MinRequests: 4})

	// Two successes then two failures: 50% failure rate at the floor.
	_ = b.Do(context.Background(), succeed)
	_ = b.Do(context.Background(), succeed)
	_ = b.Do(context.Background(), fail)
	_ = b.Do(context.Background(), fail)

	if got := b.State(); got != breaker.StateOpen {
		t.Fatalf("State = %v, want open at 50%% failures", got)
	}

	called := false
	err := b.Do(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, breaker.ErrOpen) {
		t.Errorf("Do while open = %v, want ErrOpen", err)
	}
	if called {
		t.Error("open breaker still invoked the function")
	}
}

func TestBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	b := breaker.New(breaker.Settings{Name: "optimize-routing", MinRequests: 2, Cooldown: 30 * time.Millisecond})
	trip(t, b, 2)

	time.Sleep(50 * time.Millisecond)

	if err := b.Do(context.Background(), succeed); err != nil {
		t.Fatalf("probe after cooldown: %v", err)
	}
	if got := b.State(); got != breaker.StateClosed {
		t.Errorf("State after successful probe = %v, want closed", got)
	}
	if err := b.Do(context.Background(), succeed); err != nil {
		t.Errorf("Do after close: %v", err)
	}
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b := breaker.New(breaker.Settings{Name: "analyze-pricing", MinRequests: 2, Cooldown: 30 * time.Millisecond})
	trip(t, b, 2)

	time.Sleep(50 * time.Millisecond)

	if err := b.Do(context.Background(), fail); !errors.Is(err, errVendor) {
		t.Fatalf("probe after cooldown: %v", err)
	}
	if got := b.State(); got != breaker.StateOpen {
		t.Errorf("State after failed probe = %v, want open", got)
	}
	if err := b.Do(context.Background(), succeed); !errors.Is(err, breaker.ErrOpen) {
		t.Errorf("Do after failed probe = %v, want ErrOpen", err)
	}
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	b := breaker.New(breaker.Settings{Name: "parse-order", MinRequests: 2, Cooldown: 20 * time.Millisecond})
	trip(t, b, 2)

	time.Sleep(40 * time.Millisecond)

	entered := make(chan struct{})
	release := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		probeDone <- b.Do(context.Background(), func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	// A second call while the probe is in flight is rejected.
	if err := b.Do(context.Background(), succeed); !errors.Is(err, breaker.ErrOpen) {
		t.Errorf("concurrent call during probe = %v, want ErrOpen", err)
	}

	close(release)
	if err := <-probeDone; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if got := b.State(); got != breaker.StateClosed {
		t.Errorf("State after probe = %v, want closed", got)
	}
}

func TestBreaker_TimeoutCountsAsFailure(t *testing.T) {
	b := breaker.New(breaker.Settings{Name: "assess-risk", MinRequests: 1, CallTimeout: 20 * time.Millisecond})

	start := time.Now()
	err := b.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, breaker.ErrTimeout) {
		t.Fatalf("Do = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout not enforced, took %v", elapsed)
	}
	if got := b.State(); got != breaker.StateOpen {
		t.Errorf("State = %v, want open after timeout with floor 1", got)
	}
}

func TestBreaker_CallerCancellationPropagates(t *testing.T) {
	b := breaker.New(breaker.Settings{Name: "parse-order"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Do(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do = %v, want context.Canceled", err)
	}
}

func TestBreaker_WindowExpiresOldOutcomes(t *testing.T) {
	b := breaker.New(breaker.Settings{
		Name:        "optimize-routing",
		MinRequests: 10,
		Window:      100 * time.Millisecond,
		Buckets:     2,
	})

	for range 3 {
		_ = b.Do(context.Background(), fail)
	}
	time.Sleep(150 * time.Millisecond)
	_ = b.Do(context.Background(), succeed)

	snap := b.Snapshot()
	if snap.Failures != 0 {
		t.Errorf("Failures = %d, want 0 after window expiry", snap.Failures)
	}
	if snap.Successes != 1 {
		t.Errorf("Successes = %d, want 1", snap.Successes)
	}
}

func TestBreaker_Snapshot(t *testing.T) {
	b := breaker.New(breaker.Settings{Name: "analyze-pricing", MinRequests: 10})

	_ = b.Do(context.Background(), succeed)
	_ = b.Do(context.Background(), fail)

	snap := b.Snapshot()
	if snap.Name != "analyze-pricing" {
		t.Errorf("Name = %q", snap.Name)
	}
	if snap.State != "closed" {
		t.Errorf("State = %q, want closed", snap.State)
	}
	if snap.Successes != 1 || snap.Failures != 1 {
		t.Errorf("counts = %d/%d, want 1/1", snap.Successes, snap.Failures)
	}
	if snap.FailureRate != 0.5 {
		t.Errorf("FailureRate = %v, want 0.5", snap.FailureRate)
	}
}

func TestRegistry_PerOperationBreakers(t *testing.T) {
	r := breaker.NewRegistry(breaker.Settings{MinRequests: 2}, map[string]breaker.Settings{
		"assess-risk": {MinRequests: 100},
	})

	parse := r.Get("parse-order")
	if parse != r.Get("parse-order") {
		t.Error("Get returned a different breaker for the same operation")
	}

	// Tripping parse-order leaves other operations untouched.
	_ = parse.Do(context.Background(), fail)
	_ = parse.Do(context.Background(), fail)
	if got := parse.State(); got != breaker.StateOpen {
		t.Fatalf("parse-order State = %v, want open", got)
	}

	risk := r.Get("assess-risk")
	if got := risk.State(); got != breaker.StateClosed {
		t.Errorf("assess-risk State = %v, want closed", got)
	}
	// Override applied: two failures stay under the raised floor.
	_ = risk.Do(context.Background(), fail)
	_ = risk.Do(context.Background(), fail)
	if got := risk.State(); got != breaker.StateClosed {
		t.Errorf("assess-risk State = %v, want closed under override floor", got)
	}

	snaps := r.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("Snapshots returned %d entries, want 2", len(snaps))
	}
	if snaps["parse-order"].State != "open" {
		t.Errorf("parse-order snapshot state = %q", snaps["parse-order"].State)
	}
}
