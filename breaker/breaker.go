// Package breaker implements a per-operation circuit breaker: a
// failure-rate tracker cycling closed → open → half-open that gates calls
// to an unreliable dependency. Counters are process-local; in a
// horizontally scaled deployment each instance trips independently.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker is open and the call was not
// attempted.
var ErrOpen = errors.New("breaker: circuit open")

// ErrTimeout is returned when the call exceeded the hard call timeout.
// Timeouts count as failures.
var ErrTimeout = errors.New("breaker: call timed out")

// State is the breaker's position in the closed → open → half-open cycle.
type State int

const (
	// StateClosed admits all calls and tracks outcomes.
	StateClosed State = iota
	// StateOpen rejects all calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits a single probe whose outcome decides the
	// next state.
	StateHalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Settings tunes one breaker. Zero values fall back to the defaults
// documented on each field.
type Settings struct {
	// Name identifies the protected operation in snapshots and errors.
	Name string

	// FailureThreshold is the rolling failure rate that trips the
	// breaker. Default 0.5.
	FailureThreshold float64

	// MinRequests is the request floor below which the rate is not
	// evaluated, so a single early failure cannot trip the breaker.
	// Default 5.
	MinRequests int64

	// Window is the length of the sliding window. Default 10s.
	Window time.Duration

	// Buckets is the number of slots the window is divided into.
	// Default 10.
	Buckets int

	// Cooldown is how long the breaker stays open before admitting a
	// half-open probe. Default 60s.
	Cooldown time.Duration

	// CallTimeout is the hard per-call deadline. Calls still running at
	// the deadline count as failures. Default 30s.
	CallTimeout time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 0.5
	}
	if s.MinRequests <= 0 {
		s.MinRequests = 5
	}
	if s.Window <= 0 {
		s.Window = 10 * time.Second
	}
	if s.Buckets <= 0 {
		s.Buckets = 10
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 60 * time.Second
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = 30 * time.Second
	}
	return s
}

// bucket accumulates outcomes for one slot of the sliding window.
type bucket struct {
	successes int64
	failures  int64
}

// Breaker tracks the rolling failure rate of one operation.
type Breaker struct {
	settings Settings

	mu             sync.Mutex
	state          State
	buckets        []bucket
	bucketStart    time.Time
	bucketIdx      int
	openedAt       time.Time
	probeInFlight  bool
	lastTransition time.Time
}

// New creates a Breaker with the given settings.
func New(settings Settings) *Breaker {
	settings = settings.withDefaults()
	now := time.Now()
	return &Breaker{
		settings:       settings,
		state:          StateClosed,
		buckets:        make([]bucket, settings.Buckets),
		bucketStart:    now,
		lastTransition: now,
	}
}

// Name returns the operation name this breaker protects.
func (b *Breaker) Name() string { return b.settings.Name }

// Do runs fn under the breaker. An open breaker rejects immediately with
// ErrOpen; a half-open breaker admits one probe and rejects the rest.
// The call runs under the hard call timeout; exceeding it returns
// ErrTimeout and counts as a failure.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := b.call(ctx, fn)
	b.record(err == nil)
	return err
}

// call enforces the hard timeout. The function runs in its own goroutine
// so a hung dependency cannot pin the caller past the deadline; the
// goroutine is left to finish on its own and its late result discarded.
func (b *Breaker) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.settings.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", b.settings.Name, ErrTimeout)
		}
		return ctx.Err()
	}
}

// allow decides whether a call may proceed, handling the open→half-open
// transition when the cooldown has elapsed.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.openedAt) < b.settings.Cooldown {
			return fmt.Errorf("%s: %w", b.settings.Name, ErrOpen)
		}
		b.transition(StateHalfOpen)
		b.probeInFlight = true
		return nil
	case StateHalfOpen:
		if b.probeInFlight {
			return fmt.Errorf("%s: %w", b.settings.Name, ErrOpen)
		}
		b.probeInFlight = true
		return nil
	default:
		return fmt.Errorf("%s: %w", b.settings.Name, ErrOpen)
	}
}

// record applies a call outcome to the state machine.
func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.probeInFlight = false
		if success {
			// The probe succeeded; the dependency is back.
			b.transition(StateClosed)
			b.resetWindow()
			return
		}
		b.transition(StateOpen)
		b.openedAt = time.Now()
		return

	case StateClosed:
		b.rotate()
		if success {
			b.buckets[b.bucketIdx].successes++
		} else {
			b.buckets[b.bucketIdx].failures++
		}

		successes, failures := b.totals()
		total := successes + failures
		if total < b.settings.MinRequests {
			return
		}
		rate := float64(failures) / float64(total)
		if rate >= b.settings.FailureThreshold {
			b.transition(StateOpen)
			b.openedAt = time.Now()
		}

	case StateOpen:
		// A call admitted before the trip finished after it; its
		// outcome no longer matters.
	}
}

// rotate advances the bucket ring to the slot covering the current time,
// zeroing every slot that fell out of the window.
func (b *Breaker) rotate() {
	bucketLen := b.settings.Window / time.Duration(b.settings.Buckets)
	elapsed := time.Since(b.bucketStart)
	if elapsed < bucketLen {
		return
	}

	steps := int(elapsed / bucketLen)
	if steps >= b.settings.Buckets {
		b.resetWindow()
		return
	}
	for range steps {
		b.bucketIdx = (b.bucketIdx + 1) % b.settings.Buckets
		b.buckets[b.bucketIdx] = bucket{}
	}
	b.bucketStart = b.bucketStart.Add(time.Duration(steps) * bucketLen)
}

func (b *Breaker) resetWindow() {
	for i := range b.buckets {
		b.buckets[i] = bucket{}
	}
	b.bucketIdx = 0
	b.bucketStart = time.Now()
}

func (b *Breaker) totals() (successes, failures int64) {
	for _, bk := range b.buckets {
		successes += bk.successes
		failures += bk.failures
	}
	return successes, failures
}

// transition moves to the given state and stamps the transition time.
func (b *Breaker) transition(to State) {
	b.state = to
	b.lastTransition = time.Now()
}

// State returns the current state, applying the open→half-open cooldown
// check so dashboards see "half-open" as soon as a probe would be
// admitted.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.settings.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Snapshot is a point-in-time view of one breaker for dashboards.
type Snapshot struct {
	Name           string    `json:"name"`
	State          string    `json:"state"`
	Successes      int64     `json:"successes"`
	Failures       int64     `json:"failures"`
	FailureRate    float64   `json:"failure_rate"`
	LastTransition time.Time `json:"last_transition"`
}

// Snapshot returns the current counters and state.
func (b *Breaker) Snapshot() Snapshot {
	state := b.State()

	b.mu.Lock()
	defer b.mu.Unlock()

	successes, failures := b.totals()
	var rate float64
	if total := successes + failures; total > 0 {
		rate = float64(failures) / float64(total)
	}
	return Snapshot{
		Name:           b.settings.Name,
		State:          state.String(),
		Successes:      successes,
		Failures:       failures,
		FailureRate:    rate,
		LastTransition: b.lastTransition,
	}
}
