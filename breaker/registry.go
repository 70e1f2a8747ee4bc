package breaker

import "sync"

// Registry hands out one breaker per operation name, so independent
// operations against the same dependency trip independently.
type Registry struct {
	defaults  Settings
	overrides map[string]Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a Registry. defaults apply to every operation;
// overrides replace them wholesale for the named operations.
func NewRegistry(defaults Settings, overrides map[string]Settings) *Registry {
	ov := make(map[string]Settings, len(overrides))
	for name, s := range overrides {
		ov[name] = s
	}
	return &Registry{
		defaults:  defaults,
		overrides: ov,
		breakers:  make(map[string]*Breaker),
	}
}

// Get returns the breaker for the operation, creating it on first use.
func (r *Registry) Get(operation string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[operation]; ok {
		return b
	}

	settings := r.defaults
	if ov, ok := r.overrides[operation]; ok {
		settings = ov
	}
	settings.Name = operation

	b := New(settings)
	r.breakers[operation] = b
	return b
}

// Snapshots returns the current state of every breaker created so far,
// keyed by operation name.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Snapshot, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Snapshot()
	}
	return out
}
