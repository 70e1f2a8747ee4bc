package middleware

import (
	"context"

	"github.com/vantor/conveyor/job"
)

// Handler is the terminal function that executes job logic.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic around one job
// execution. A middleware that does not call next short-circuits the
// rest of the chain.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain folds the middleware into one. The first middleware listed is
// the outermost wrapper, so Chain(a, b)(..., h) runs a, then b, then h.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			h = bind(mws[i], j, h)
		}
		return h(ctx)
	}
}

// bind fixes a middleware's job and next-handler arguments, leaving a
// plain Handler.
func bind(mw Middleware, j *job.Job, next Handler) Handler {
	return func(ctx context.Context) error {
		return mw(ctx, j, next)
	}
}
