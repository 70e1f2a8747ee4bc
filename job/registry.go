package job

import "sync"

// Binding pairs a processor with its concurrency override.
type Binding struct {
	Handler     HandlerFunc
	Concurrency int
}

// Registry maps queue names to processor bindings. Processors are resolved
// by queue identity at dispatch time; an unbound queue is a hard error for
// the caller, never a silent no-op. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

// NewRegistry creates an empty processor registry.
func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[string]Binding),
	}
}

// Bind registers a processor for a queue. Re-binding replaces the
// previous processor.
func (r *Registry) Bind(queueName string, h HandlerFunc, concurrency int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[queueName] = Binding{Handler: h, Concurrency: concurrency}
}

// Get returns the binding for the given queue.
// Returns false if no processor is bound.
func (r *Registry) Get(queueName string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[queueName]
	return b, ok
}

// Queues returns all queue names with a bound processor.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		names = append(names, name)
	}
	return names
}
