package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// queueState tracks runtime state for a single queue.
type queueState struct {
	policy  Policy
	limiter *rate.Limiter
	active  int
	paused  bool
}

// Manager gates dequeueing per queue: pause state, token-bucket rate
// limiting, and an active-count concurrency cap. It is safe for
// concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
}

// NewManager creates a Manager for the given queue policies. Only
// declared queues exist; Acquire on an unknown queue always fails.
func NewManager(policies ...Policy) *Manager {
	m := &Manager{
		queues: make(map[string]*queueState, len(policies)),
	}
	for _, p := range policies {
		m.queues[p.Name] = newQueueState(p.WithDefaults())
	}
	return m
}

func newQueueState(p Policy) *queueState {
	qs := &queueState{policy: p}
	if p.RateLimit.Max > 0 {
		perSecond := float64(p.RateLimit.Max) / p.RateLimit.Window.Seconds()
		qs.limiter = rate.NewLimiter(rate.Limit(perSecond), p.RateLimit.Max)
	}
	return qs
}

// Known reports whether the queue was declared.
func (m *Manager) Known(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.queues[queue]
	return ok
}

// Policy returns the effective policy for a queue.
func (m *Manager) Policy(queue string) (Policy, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qs, ok := m.queues[queue]
	if !ok {
		return Policy{}, false
	}
	return qs.policy, true
}

// Acquire checks pause state, the rate limit, and the concurrency cap for
// the given queue. If the job may proceed it increments the active counter
// and returns true. The caller MUST call Release when the job completes.
func (m *Manager) Acquire(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs, ok := m.queues[queue]
	if !ok {
		return false
	}
	if qs.paused {
		return false
	}
	if qs.policy.Concurrency > 0 && qs.active >= qs.policy.Concurrency {
		return false
	}
	if qs.limiter != nil && !qs.limiter.Allow() {
		return false
	}
	qs.active++
	return true
}

// Release decrements the active job count for the queue.
func (m *Manager) Release(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
}

// Pause suspends dequeueing from the queue. In-flight jobs run to
// completion. Returns false if the queue is not declared.
func (m *Manager) Pause(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	qs, ok := m.queues[queue]
	if !ok {
		return false
	}
	qs.paused = true
	return true
}

// Resume lifts a pause. Returns false if the queue is not declared.
func (m *Manager) Resume(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	qs, ok := m.queues[queue]
	if !ok {
		return false
	}
	qs.paused = false
	return true
}

// Paused reports whether the queue is currently paused.
func (m *Manager) Paused(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.paused
	}
	return false
}

// ActiveCount returns the current number of active jobs for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}

// Names returns all declared queue names.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	return names
}
