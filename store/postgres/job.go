package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vantor/conveyor"
	"github.com/vantor/conveyor/id"
	"github.com/vantor/conveyor/job"
)

const jobColumns = `
	id, queue, name, payload, state, priority, attempts, max_attempts,
	backoff, backoff_base, dedup_key, last_error, worker_id,
	run_at, timeout, started_at, completed_at, heartbeat_at,
	created_at, updated_at`

// EnqueueJob persists a new job in pending state. The partial unique
// index on (queue, dedup_key) rejects a second non-terminal job with the
// same key; that violation surfaces as ErrDuplicateJob.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20
		)`,
		j.ID.String(), j.Queue, j.Name, j.Payload, string(j.State),
		j.Priority, j.Attempts, j.MaxAttempts,
		string(j.Backoff), j.BackoffBase.Nanoseconds(), j.DedupKey, j.LastError, j.WorkerID.String(),
		j.RunAt, j.Timeout.Nanoseconds(), j.StartedAt, j.CompletedAt, j.HeartbeatAt,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if violatesConstraint(err, "idx_conveyor_jobs_dedup") {
			return conveyor.ErrDuplicateJob
		}
		if isDuplicateKey(err) {
			return conveyor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conveyor/postgres: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit runnable jobs from the given
// queue, sets them to running, and returns them. SELECT FOR UPDATE SKIP
// LOCKED keeps concurrent workers from claiming the same row.
func (s *Store) DequeueJobs(ctx context.Context, queueName string, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH dequeued AS (
			UPDATE conveyor_jobs
			SET state = 'running', started_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM conveyor_jobs
				WHERE state IN ('pending', 'retrying')
				  AND queue = $1
				  AND run_at <= NOW()
				ORDER BY priority ASC, run_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM dequeued ORDER BY priority ASC, run_at ASC`,
		queueName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: dequeue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM conveyor_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job. Terminal states fall out
// of the partial dedup index automatically, which releases the job's
// dedup key.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs SET
			queue = $2, name = $3, payload = $4, state = $5,
			priority = $6, attempts = $7, max_attempts = $8,
			backoff = $9, backoff_base = $10, dedup_key = $11,
			last_error = $12, worker_id = $13, run_at = $14,
			timeout = $15, started_at = $16, completed_at = $17,
			heartbeat_at = $18, updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.Queue, j.Name, j.Payload, string(j.State),
		j.Priority, j.Attempts, j.MaxAttempts,
		string(j.Backoff), j.BackoffBase.Nanoseconds(), j.DedupKey,
		j.LastError, j.WorkerID.String(), j.RunAt,
		j.Timeout.Nanoseconds(), j.StartedAt, j.CompletedAt,
		j.HeartbeatAt,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conveyor_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("conveyor/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// FindByDedupKey returns the non-terminal job bound to (queue, key).
func (s *Store) FindByDedupKey(ctx context.Context, queueName, dedup string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM conveyor_jobs
		WHERE queue = $1
		  AND dedup_key = $2
		  AND state IN ('pending', 'running', 'retrying')`,
		queueName, dedup,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: find by dedup key: %w", err)
	}
	return j, nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM conveyor_jobs WHERE state = $1`
	args := []interface{}{string(state)}
	argIdx := 2

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

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
		return nil, fmt.Errorf("conveyor/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// QueueCounts returns the per-state counts for one queue.
func (s *Store) QueueCounts(ctx context.Context, queueName string) (job.Counts, error) {
	var counts job.Counts
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE state IN ('pending', 'retrying') AND run_at <= NOW()),
			COUNT(*) FILTER (WHERE state = 'running'),
			COUNT(*) FILTER (WHERE state = 'completed'),
			COUNT(*) FILTER (WHERE state IN ('failed', 'cancelled')),
			COUNT(*) FILTER (WHERE state IN ('pending', 'retrying') AND run_at > NOW())
		FROM conveyor_jobs
		WHERE queue = $1`,
		queueName,
	).Scan(&counts.Waiting, &counts.Active, &counts.Completed, &counts.Failed, &counts.Delayed)
	if err != nil {
		return job.Counts{}, fmt.Errorf("conveyor/postgres: queue counts: %w", err)
	}
	return counts, nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conveyor_jobs SET heartbeat_at = NOW(), worker_id = $2, updated_at = NOW() WHERE id = $1`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// RequeueStalled returns running jobs whose last heartbeat is older than
// the threshold to pending state and reports them.
func (s *Store) RequeueStalled(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE conveyor_jobs
		SET state = 'pending', worker_id = '', started_at = NULL,
			heartbeat_at = NULL, updated_at = NOW()
		WHERE state = 'running'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < NOW() - $1::interval
		RETURNING `+jobColumns,
		threshold.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: requeue stalled: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// PurgeJobs removes terminal jobs that completed before the given time.
func (s *Store) PurgeJobs(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM conveyor_jobs
		WHERE state IN ('completed', 'failed', 'cancelled')
		  AND COALESCE(completed_at, updated_at) < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("conveyor/postgres: purge jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j           job.Job
		idStr       string
		stateStr    string
		backoffStr  string
		workerStr   string
		backoffNs   int64
		timeoutNs   int64
	)
	err := row.Scan(
		&idStr, &j.Queue, &j.Name, &j.Payload, &stateStr,
		&j.Priority, &j.Attempts, &j.MaxAttempts,
		&backoffStr, &backoffNs, &j.DedupKey, &j.LastError, &workerStr,
		&j.RunAt, &timeoutNs, &j.StartedAt, &j.CompletedAt, &j.HeartbeatAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Backoff = job.BackoffKind(backoffStr)
	j.BackoffBase = time.Duration(backoffNs)
	j.Timeout = time.Duration(timeoutNs)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("conveyor/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
