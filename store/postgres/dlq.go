package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vantor/conveyor"
	"github.com/vantor/conveyor/dlq"
	"github.com/vantor/conveyor/id"
)

const dlqColumns = `
	id, job_id, job_name, queue, payload, reason, trace,
	attempts, max_attempts, review, notes,
	failed_at, retried_at, created_at`

// PushDLQ adds a failed job entry to the dead letter store.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_dlq (`+dlqColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		entry.ID.String(), entry.JobID.String(), entry.JobName,
		entry.Queue, entry.Payload, entry.Reason, entry.Trace,
		entry.Attempts, entry.MaxAttempts, string(entry.Review), entry.Notes,
		entry.FailedAt, entry.RetriedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: push dlq: %w", err)
	}
	return nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM conveyor_dlq WHERE id = $1`,
		entryID.String(),
	)

	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrDLQNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ListDLQ returns DLQ entries matching the given options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM conveyor_dlq WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY failed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// MarkRetriedDLQ transitions an entry from pending review to retried.
// The WHERE clause makes the transition a compare-and-swap: when another
// reviewer already moved the entry, zero rows match and the caller gets
// ErrDLQConflict.
func (s *Store) MarkRetriedDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_dlq
		SET review = 'retried', retried_at = NOW()
		WHERE id = $1 AND review = 'pending'`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: mark dlq retried: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.reviewMissOrConflict(ctx, entryID)
	}
	return nil
}

// MarkPermanentlyFailedDLQ transitions an entry from pending review to
// permanently-failed, recording the operator's notes.
func (s *Store) MarkPermanentlyFailedDLQ(ctx context.Context, entryID id.DLQID, notes string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_dlq
		SET review = 'permanently-failed', notes = $2
		WHERE id = $1 AND review = 'pending'`,
		entryID.String(), notes,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: mark dlq permanently failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.reviewMissOrConflict(ctx, entryID)
	}
	return nil
}

// ReopenDLQ returns a retried entry to pending review, clearing
// retried_at. Rolls back a retried mark whose resubmission failed.
func (s *Store) ReopenDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_dlq
		SET review = 'pending', retried_at = NULL
		WHERE id = $1 AND review = 'retried'`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: reopen dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.reviewMissOrConflict(ctx, entryID)
	}
	return nil
}

// reviewMissOrConflict distinguishes a missing entry from a lost review
// race after a zero-row CAS update.
func (s *Store) reviewMissOrConflict(ctx context.Context, entryID id.DLQID) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM conveyor_dlq WHERE id = $1)`,
		entryID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: check dlq exists: %w", err)
	}
	if !exists {
		return conveyor.ErrDLQNotFound
	}
	return conveyor.ErrDLQConflict
}

// DeleteDLQ removes a DLQ entry by ID.
func (s *Store) DeleteDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conveyor_dlq WHERE id = $1`, entryID.String())
	if err != nil {
		return fmt.Errorf("conveyor/postgres: delete dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conveyor_dlq WHERE failed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("conveyor/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of entries in the dead letter store.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conveyor_dlq`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("conveyor/postgres: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single DLQ entry row.
func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e         dlq.Entry
		idStr     string
		jobIDStr  string
		reviewStr string
	)
	err := row.Scan(
		&idStr, &jobIDStr, &e.JobName, &e.Queue, &e.Payload, &e.Reason, &e.Trace,
		&e.Attempts, &e.MaxAttempts, &reviewStr, &e.Notes,
		&e.FailedAt, &e.RetriedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Review = dlq.ReviewStatus(reviewStr)

	parsedID, parseErr := id.ParseDLQID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("conveyor/postgres: parse dlq id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	parsedJobID, jobParseErr := id.ParseJobID(jobIDStr)
	if jobParseErr != nil {
		return nil, fmt.Errorf("conveyor/postgres: parse job id %q: %w", jobIDStr, jobParseErr)
	}
	e.JobID = parsedJobID

	return &e, nil
}
