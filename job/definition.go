package job

import (
	"context"
	"encoding/json"
	"fmt"
)

// HandlerFunc is a type-erased processor invoked by workers. It receives
// the full job record so processors can inspect attempt metadata.
type HandlerFunc func(ctx context.Context, j *Job) error

// Definition is a typed processor definition. T is the payload type
// (must be JSON-serializable).
type Definition[T any] struct {
	// Handler is the function that processes the job payload.
	Handler func(ctx context.Context, payload T) error

	// Concurrency overrides the queue policy's worker count when > 0.
	Concurrency int
}

// NewDefinition creates a typed processor definition.
func NewDefinition[T any](handler func(ctx context.Context, payload T) error) *Definition[T] {
	return &Definition[T]{Handler: handler}
}

// WithConcurrency sets the worker count override for this processor.
func (d *Definition[T]) WithConcurrency(n int) *Definition[T] {
	d.Concurrency = n
	return d
}

// Erase converts a typed definition into a HandlerFunc by closing over
// JSON unmarshal + the typed handler.
func Erase[T any](def *Definition[T]) HandlerFunc {
	return func(ctx context.Context, j *Job) error {
		var t T
		if len(j.Payload) > 0 {
			if err := json.Unmarshal(j.Payload, &t); err != nil {
				return fmt.Errorf("unmarshal payload for job %q: %w", j.Name, err)
			}
		}
		return def.Handler(ctx, t)
	}
}
