package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vantor/conveyor"
	"github.com/vantor/conveyor/id"
	"github.com/vantor/conveyor/job"
)

// EnqueueJob stores the job as a Hash and adds it to the queue's Sorted Set.
// Dedup keys are claimed with SETNX so concurrent submitters race safely.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return conveyor.ErrJobAlreadyExists
	}

	if j.DedupKey != "" {
		ok, setErr := s.client.SetNX(ctx, dedupIndexKey(j.Queue, j.DedupKey), jID, 0).Result()
		if setErr != nil {
			return fmt.Errorf("conveyor/redis: enqueue claim dedup key: %w", setErr)
		}
		if !ok {
			return conveyor.ErrDuplicateJob
		}
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	pipe.ZAdd(ctx, queueKey(j.Queue), goredis.Z{Score: jobScore(j.Priority, j.RunAt), Member: jID})
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/redis: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs claims up to limit runnable jobs from the given queue.
// Members are walked in score order (priority ascending, then RunAt);
// jobs whose RunAt has not elapsed are skipped. A job is claimed only if
// ZRem removes its member, so two workers never hold the same record.
func (s *Store) DequeueJobs(ctx context.Context, queueName string, limit int) ([]*job.Job, error) {
	now := time.Now().UTC()
	qk := queueKey(queueName)

	members, err := s.client.ZRange(ctx, qk, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: dequeue zrange: %w", err)
	}

	var jobs []*job.Job
	for _, jID := range members {
		if len(jobs) >= limit {
			break
		}

		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			s.client.ZRem(ctx, qk, jID)
			continue
		}
		if j.State != job.StatePending && j.State != job.StateRetrying {
			s.client.ZRem(ctx, qk, jID)
			continue
		}
		if j.RunAt.After(now) {
			continue
		}

		removed, remErr := s.client.ZRem(ctx, qk, jID).Result()
		if remErr != nil {
			return nil, fmt.Errorf("conveyor/redis: dequeue claim: %w", remErr)
		}
		if removed == 0 {
			continue // another worker claimed it first
		}

		j.State = job.StateRunning
		j.StartedAt = &now
		j.HeartbeatAt = &now
		j.UpdatedAt = now
		_, setErr := s.client.HSet(ctx, jobKey(jID),
			"state", string(job.StateRunning),
			"started_at", now.Format(time.RFC3339Nano),
			"heartbeat_at", now.Format(time.RFC3339Nano),
			"updated_at", now.Format(time.RFC3339Nano),
		).Result()
		if setErr != nil {
			return nil, fmt.Errorf("conveyor/redis: dequeue update: %w", setErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// UpdateJob persists changes to an existing job and keeps the queue index
// consistent: runnable states are re-indexed, terminal states drop out of
// the queue and release the job's dedup key.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return conveyor.ErrJobNotFound
	}

	j.UpdatedAt = time.Now().UTC()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	switch {
	case j.State == job.StatePending || j.State == job.StateRetrying:
		pipe.ZAdd(ctx, queueKey(j.Queue), goredis.Z{Score: jobScore(j.Priority, j.RunAt), Member: jID})
	default:
		pipe.ZRem(ctx, queueKey(j.Queue), jID)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: update job: %w", err)
	}

	if j.Terminal() && j.DedupKey != "" {
		if relErr := s.releaseDedupKey(ctx, j.Queue, j.DedupKey, jID); relErr != nil {
			return relErr
		}
	}
	return nil
}

// DeleteJob removes a job by ID and releases its dedup key.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	j, err := s.getJobByKey(ctx, key)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.ZRem(ctx, queueKey(j.Queue), jID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: delete job: %w", err)
	}

	if j.DedupKey != "" {
		return s.releaseDedupKey(ctx, j.Queue, j.DedupKey, jID)
	}
	return nil
}

// FindByDedupKey returns the non-terminal job bound to (queue, key).
func (s *Store) FindByDedupKey(ctx context.Context, queueName, dedup string) (*job.Job, error) {
	jID, err := s.client.Get(ctx, dedupIndexKey(queueName, dedup)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/redis: find by dedup key: %w", err)
	}

	j, err := s.getJobByKey(ctx, jobKey(jID))
	if err != nil {
		return nil, err
	}
	if j.Terminal() {
		return nil, conveyor.ErrJobNotFound
	}
	return j, nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		jobs = append(jobs, j)
	}

	if opts.Offset > 0 && opts.Offset < len(jobs) {
		jobs = jobs[opts.Offset:]
	} else if opts.Offset >= len(jobs) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// QueueCounts returns the per-state counts for one queue. Pending and
// retrying jobs whose RunAt has not elapsed count as delayed.
func (s *Store) QueueCounts(ctx context.Context, queueName string) (job.Counts, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return job.Counts{}, fmt.Errorf("conveyor/redis: queue counts smembers: %w", err)
	}

	now := time.Now().UTC()
	var counts job.Counts
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.Queue != queueName {
			continue
		}
		switch j.State {
		case job.StatePending, job.StateRetrying:
			if j.RunAt.After(now) {
				counts.Delayed++
			} else {
				counts.Waiting++
			}
		case job.StateRunning:
			counts.Active++
		case job.StateCompleted:
			counts.Completed++
		case job.StateFailed, job.StateCancelled:
			counts.Failed++
		}
	}
	return counts, nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	key := jobKey(jobID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return conveyor.ErrJobNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.client.HSet(ctx, key,
		"heartbeat_at", now,
		"worker_id", workerID.String(),
		"updated_at", now,
	).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: heartbeat job: %w", err)
	}
	return nil
}

// RequeueStalled returns running jobs whose last heartbeat is older than
// the threshold to pending state and reports them.
func (s *Store) RequeueStalled(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: requeue stalled smembers: %w", err)
	}

	var requeued []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.State != job.StateRunning {
			continue
		}
		if j.HeartbeatAt == nil || !j.HeartbeatAt.Before(cutoff) {
			continue
		}

		j.State = job.StatePending
		j.WorkerID = id.Nil
		j.StartedAt = nil
		j.HeartbeatAt = nil
		if updErr := s.UpdateJob(ctx, j); updErr != nil {
			return requeued, updErr
		}
		requeued = append(requeued, j)
	}
	return requeued, nil
}

// PurgeJobs removes terminal jobs that completed before the given time.
func (s *Store) PurgeJobs(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("conveyor/redis: purge jobs smembers: %w", err)
	}

	var purged int64
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if !j.Terminal() {
			continue
		}
		finished := j.UpdatedAt
		if j.CompletedAt != nil {
			finished = *j.CompletedAt
		}
		if !finished.Before(before) {
			continue
		}
		if delErr := s.DeleteJob(ctx, j.ID); delErr != nil {
			return purged, delErr
		}
		purged++
	}
	return purged, nil
}

// ── helpers ──

// releaseDedupKey frees the dedup binding only if it still points at the
// given job, so a successor that re-claimed the key is left alone.
func (s *Store) releaseDedupKey(ctx context.Context, queue, dedup, jobID string) error {
	key := dedupIndexKey(queue, dedup)
	bound, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		return fmt.Errorf("conveyor/redis: release dedup key get: %w", err)
	}
	if bound != jobID {
		return nil
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("conveyor/redis: release dedup key: %w", err)
	}
	return nil
}

// jobScore computes a sorted-set score from priority and run_at.
// Lower score = dequeued first; lower priority values are served first,
// with a fractional time component for FIFO within the same priority.
func jobScore(priority int, runAt time.Time) float64 {
	return float64(priority) + float64(runAt.UnixMilli())/1e15
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":           j.ID.String(),
		"queue":        j.Queue,
		"name":         j.Name,
		"payload":      string(j.Payload),
		"state":        string(j.State),
		"priority":     strconv.Itoa(j.Priority),
		"attempts":     strconv.Itoa(j.Attempts),
		"max_attempts": strconv.Itoa(j.MaxAttempts),
		"backoff":      string(j.Backoff),
		"backoff_base": strconv.FormatInt(int64(j.BackoffBase), 10),
		"dedup_key":    j.DedupKey,
		"last_error":   j.LastError,
		"worker_id":    j.WorkerID.String(),
		"run_at":       j.RunAt.Format(time.RFC3339Nano),
		"timeout":      strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":   j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	} else {
		m["started_at"] = ""
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	} else {
		m["completed_at"] = ""
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = j.HeartbeatAt.Format(time.RFC3339Nano)
	} else {
		m["heartbeat_at"] = ""
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, conveyor.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])                        //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])                        //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])                 //nolint:errcheck // best-effort parse from trusted Redis data
	backoffBase, _ := strconv.ParseInt(m["backoff_base"], 10, 64)     //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)              //nolint:errcheck // best-effort parse from trusted Redis data
	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])             //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])     //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])     //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		ID:          jID,
		Queue:       m["queue"],
		Name:        m["name"],
		Payload:     []byte(m["payload"]),
		State:       job.State(m["state"]),
		Priority:    priority,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		Backoff:     job.BackoffKind(m["backoff"]),
		BackoffBase: time.Duration(backoffBase),
		DedupKey:    m["dedup_key"],
		LastError:   m["last_error"],
		RunAt:       runAt,
		Timeout:     time.Duration(timeout),
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}

	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.CompletedAt = &t
	}
	if v := m["heartbeat_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.HeartbeatAt = &t
	}
	return j, nil
}
