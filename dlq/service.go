package dlq

import (
	"context"
	"time"

	"github.com/vantor/conveyor/id"
	"github.com/vantor/conveyor/job"
)

// Service provides high-level dead letter operations over a Store.
type Service struct {
	store Store
}

// NewService creates a dead letter service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Push builds an Entry from a job that exhausted its attempt budget and
// persists it in pending review. trace carries the panic stack or the
// formatted error chain, whichever the executor captured.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error, trace string) (*Entry, error) {
	now := time.Now().UTC()
	entry := &Entry{
		ID:          id.NewDLQID(),
		JobID:       j.ID,
		JobName:     j.Name,
		Queue:       j.Queue,
		Payload:     j.Payload,
		Reason:      jobErr.Error(),
		Trace:       trace,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		Review:      ReviewPending,
		FailedAt:    now,
		CreatedAt:   now,
	}
	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Store returns the underlying dead letter store for direct access to
// Get, List, Delete, Purge, and Count operations.
func (s *Service) Store() Store {
	return s.store
}
