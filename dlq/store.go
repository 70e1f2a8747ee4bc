package dlq

import (
	"context"
	"time"

	"github.com/vantor/conveyor/id"
)

// ListOpts controls pagination and filtering for dead letter list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// Store defines the persistence contract for the dead letter store.
type Store interface {
	// PushDLQ adds a failed job entry.
	PushDLQ(ctx context.Context, entry *Entry) error

	// GetDLQ retrieves an entry by ID.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ListDLQ returns entries matching the given options, newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// MarkRetriedDLQ transitions an entry from pending review to retried
	// and stamps RetriedAt. If the entry is not in pending review it
	// returns conveyor.ErrDLQConflict, so only one caller wins the
	// transition.
	MarkRetriedDLQ(ctx context.Context, entryID id.DLQID) error

	// MarkPermanentlyFailedDLQ transitions an entry from pending review
	// to permanently-failed, recording the operator's notes. Returns
	// conveyor.ErrDLQConflict if the entry already left pending review.
	MarkPermanentlyFailedDLQ(ctx context.Context, entryID id.DLQID, notes string) error

	// ReopenDLQ returns a retried entry to pending review, clearing
	// RetriedAt. Used to roll back a retried mark whose resubmission
	// failed. Entries in any other review state return
	// conveyor.ErrDLQConflict.
	ReopenDLQ(ctx context.Context, entryID id.DLQID) error

	// DeleteDLQ removes an entry by ID.
	DeleteDLQ(ctx context.Context, entryID id.DLQID) error

	// PurgeDLQ removes entries that failed before the given time.
	// Returns the number removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of entries.
	CountDLQ(ctx context.Context) (int64, error)
}
