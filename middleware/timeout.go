package middleware

import (
	"context"
	"log/slog"

	"github.com/vantor/conveyor/job"
)

// Timeout enforces the job's deadline, stamped from the queue policy or
// a per-job option. The handler sees a cancelled context once the
// deadline passes and is expected to return context.DeadlineExceeded.
// Jobs without a timeout run unconstrained.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout <= 0 {
			return next(ctx)
		}
		logger.Debug("enforcing job deadline",
			slog.String("job_id", j.ID.String()),
			slog.Duration("timeout", j.Timeout),
		)
		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()
		return next(ctx)
	}
}
