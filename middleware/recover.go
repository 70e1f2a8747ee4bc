package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/vantor/conveyor/job"
)

// PanicError is the error produced when a handler panics. The captured
// stack travels with the error so the dead letter entry can preserve it.
type PanicError struct {
	JobName string
	Value   any
	Stack   string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in job %s: %v", e.JobName, e.Value)
}

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to [PanicError] and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job handler panicked",
					slog.String("job_name", j.Name),
					slog.String("job_id", j.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = &PanicError{JobName: j.Name, Value: r, Stack: stack}
			}
		}()
		return next(ctx)
	}
}
