package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vantor/conveyor"
	"github.com/vantor/conveyor/dlq"
	"github.com/vantor/conveyor/id"
)

// PushDLQ adds a failed job entry to the dead letter store.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, dlqKey(eID), dlqToMap(entry))
	pipe.SAdd(ctx, dlqIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: push dlq: %w", err)
	}
	return nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, dlqKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, conveyor.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// ListDLQ returns DLQ entries matching the given options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, dlqKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		e, convErr := mapToDLQ(vals)
		if convErr != nil {
			continue
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].FailedAt.After(entries[j].FailedAt)
	})

	if opts.Offset > 0 && opts.Offset < len(entries) {
		entries = entries[opts.Offset:]
	} else if opts.Offset >= len(entries) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// MarkRetriedDLQ transitions an entry from pending review to retried.
// The WATCH guard ensures only one reviewer wins the transition; the
// loser gets ErrDLQConflict.
func (s *Store) MarkRetriedDLQ(ctx context.Context, entryID id.DLQID) error {
	return s.transitionReview(ctx, entryID, dlq.ReviewPending, func(e *dlq.Entry, now time.Time) {
		e.Review = dlq.ReviewRetried
		e.RetriedAt = &now
	})
}

// MarkPermanentlyFailedDLQ transitions an entry from pending review to
// permanently-failed, recording the operator's notes.
func (s *Store) MarkPermanentlyFailedDLQ(ctx context.Context, entryID id.DLQID, notes string) error {
	return s.transitionReview(ctx, entryID, dlq.ReviewPending, func(e *dlq.Entry, _ time.Time) {
		e.Review = dlq.ReviewPermanentlyFailed
		e.Notes = notes
	})
}

// ReopenDLQ returns a retried entry to pending review, clearing
// RetriedAt. Rolls back a retried mark whose resubmission failed.
func (s *Store) ReopenDLQ(ctx context.Context, entryID id.DLQID) error {
	return s.transitionReview(ctx, entryID, dlq.ReviewRetried, func(e *dlq.Entry, _ time.Time) {
		e.Review = dlq.ReviewPending
		e.RetriedAt = nil
	})
}

// transitionReview applies a review transition under an optimistic WATCH
// on the entry key. Entries not in the expected review state return
// ErrDLQConflict.
func (s *Store) transitionReview(ctx context.Context, entryID id.DLQID, from dlq.ReviewStatus, apply func(*dlq.Entry, time.Time)) error {
	key := dlqKey(entryID.String())

	client, ok := s.client.(*goredis.Client)
	if !ok {
		// Cmdable without Watch support (pipelines, mocks): fall back to
		// a read-check-write on the review field.
		e, err := s.GetDLQ(ctx, entryID)
		if err != nil {
			return err
		}
		if e.Review != from {
			return conveyor.ErrDLQConflict
		}
		apply(e, time.Now().UTC())
		if _, err := s.client.HSet(ctx, key, dlqToMap(e)).Result(); err != nil {
			return fmt.Errorf("conveyor/redis: mark dlq review: %w", err)
		}
		return nil
	}

	txf := func(tx *goredis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("conveyor/redis: mark dlq get: %w", err)
		}
		if len(vals) == 0 {
			return conveyor.ErrDLQNotFound
		}
		e, err := mapToDLQ(vals)
		if err != nil {
			return err
		}
		if e.Review != from {
			return conveyor.ErrDLQConflict
		}
		apply(e, time.Now().UTC())

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, dlqToMap(e))
			return nil
		})
		return err
	}

	err := client.Watch(ctx, txf, key)
	if errors.Is(err, goredis.TxFailedErr) {
		return conveyor.ErrDLQConflict
	}
	return err
}

// DeleteDLQ removes a DLQ entry by ID.
func (s *Store) DeleteDLQ(ctx context.Context, entryID id.DLQID) error {
	eID := entryID.String()
	key := dlqKey(eID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: delete dlq exists: %w", err)
	}
	if exists == 0 {
		return conveyor.ErrDLQNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, dlqIDsKey, eID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: delete dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("conveyor/redis: purge dlq smembers: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		key := dlqKey(eID)
		failedAtStr, getErr := s.client.HGet(ctx, key, "failed_at").Result()
		if getErr != nil {
			if errors.Is(getErr, goredis.Nil) {
				continue
			}
			return purged, fmt.Errorf("conveyor/redis: purge dlq get: %w", getErr)
		}

		failedAt, _ := time.Parse(time.RFC3339Nano, failedAtStr) //nolint:errcheck // best-effort parse from trusted Redis data
		if failedAt.Before(before) {
			pipe := s.client.TxPipeline()
			pipe.Del(ctx, key)
			pipe.SRem(ctx, dlqIDsKey, eID)
			if _, pErr := pipe.Exec(ctx); pErr != nil {
				return purged, fmt.Errorf("conveyor/redis: purge dlq del: %w", pErr)
			}
			purged++
		}
	}
	return purged, nil
}

// CountDLQ returns the total number of entries in the dead letter store.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.SCard(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("conveyor/redis: count dlq: %w", err)
	}
	return count, nil
}

// ── helpers ──

func dlqToMap(e *dlq.Entry) map[string]interface{} {
	m := map[string]interface{}{
		"id":           e.ID.String(),
		"job_id":       e.JobID.String(),
		"job_name":     e.JobName,
		"queue":        e.Queue,
		"payload":      string(e.Payload),
		"reason":       e.Reason,
		"trace":        e.Trace,
		"attempts":     strconv.Itoa(e.Attempts),
		"max_attempts": strconv.Itoa(e.MaxAttempts),
		"review":       string(e.Review),
		"notes":        e.Notes,
		"failed_at":    e.FailedAt.Format(time.RFC3339Nano),
		"created_at":   e.CreatedAt.Format(time.RFC3339Nano),
	}
	if e.RetriedAt != nil {
		m["retried_at"] = e.RetriedAt.Format(time.RFC3339Nano)
	} else {
		m["retried_at"] = ""
	}
	return m
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: parse dlq id: %w", err)
	}
	jobID, _ := id.ParseJobID(m["job_id"])                        //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])             //nolint:errcheck // best-effort parse from trusted Redis data
	failedAt, _ := time.Parse(time.RFC3339Nano, m["failed_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &dlq.Entry{
		ID:          eID,
		JobID:       jobID,
		JobName:     m["job_name"],
		Queue:       m["queue"],
		Payload:     []byte(m["payload"]),
		Reason:      m["reason"],
		Trace:       m["trace"],
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		Review:      dlq.ReviewStatus(m["review"]),
		Notes:       m["notes"],
		FailedAt:    failedAt,
		CreatedAt:   createdAt,
	}

	if v := m["retried_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.RetriedAt = &t
	}
	return e, nil
}
