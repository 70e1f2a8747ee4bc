package dlq

import (
	"time"

	"github.com/vantor/conveyor/id"
)

// ReviewStatus tracks the operator disposition of a dead letter entry.
type ReviewStatus string

const (
	// ReviewPending means no operator has acted on the entry yet.
	ReviewPending ReviewStatus = "pending"
	// ReviewRetried means the entry was re-enqueued as a fresh job.
	ReviewRetried ReviewStatus = "retried"
	// ReviewPermanentlyFailed means an operator gave up on the entry.
	ReviewPermanentlyFailed ReviewStatus = "permanently-failed"
)

// Entry represents a job that has exhausted its attempt budget and been
// moved to the dead letter store for review.
type Entry struct {
	ID          id.DLQID     `json:"id"`
	JobID       id.JobID     `json:"job_id"`
	JobName     string       `json:"job_name"`
	Queue       string       `json:"queue"`
	Payload     []byte       `json:"payload"`
	Reason      string       `json:"reason"`
	Trace       string       `json:"trace,omitempty"`
	Attempts    int          `json:"attempts"`
	MaxAttempts int          `json:"max_attempts"`
	Review      ReviewStatus `json:"review"`
	Notes       string       `json:"notes,omitempty"`
	FailedAt    time.Time    `json:"failed_at"`
	RetriedAt   *time.Time   `json:"retried_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
