// Package memory provides a fully in-memory store backend. Safe for
// concurrent access. Intended for unit testing, development, and the
// inline fallback path where no broker is reachable.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vantor/conveyor"
	"github.com/vantor/conveyor/cron"
	"github.com/vantor/conveyor/dlq"
	"github.com/vantor/conveyor/id"
	"github.com/vantor/conveyor/job"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store  = (*Store)(nil)
	_ dlq.Store  = (*Store)(nil)
	_ cron.Store = (*Store)(nil)
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs  map[string]*job.Job
	dlqs  map[string]*dlq.Entry
	crons map[string]*cron.Entry

	// dedup maps queue+"\x00"+key to the job ID currently holding it.
	// A key is held only while its job is non-terminal.
	dedup map[string]string
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:  make(map[string]*job.Job),
		dlqs:  make(map[string]*dlq.Entry),
		crons: make(map[string]*cron.Entry),
		dedup: make(map[string]string),
	}
}

func dedupKey(queue, key string) string {
	return queue + "\x00" + key
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job in pending state.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return conveyor.ErrJobAlreadyExists
	}
	if j.DedupKey != "" {
		dk := dedupKey(j.Queue, j.DedupKey)
		if _, held := m.dedup[dk]; held {
			return conveyor.ErrDuplicateJob
		}
		m.dedup[dk] = key
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// DequeueJobs atomically claims up to limit runnable jobs from the given
// queue, sets them to running, and returns them.
func (m *Store) DequeueJobs(_ context.Context, queueName string, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	// Collect candidates.
	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.Queue != queueName {
			continue
		}
		if j.State != job.StatePending && j.State != job.StateRetrying {
			continue
		}
		if !j.RunAt.IsZero() && j.RunAt.After(now) {
			continue
		}
		candidates = append(candidates, j)
	}

	// Sort: priority ASC (lower served first), RunAt ASC.
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority < candidates[k].Priority
		}
		return candidates[i].RunAt.Before(candidates[k].RunAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.State = job.StateRunning
		n := now
		j.StartedAt = &n
		j.HeartbeatAt = &n
		// Return a copy so callers can mutate without racing with the store.
		cp := *j
		result[i] = &cp
	}

	return result, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, conveyor.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job. Terminal updates release
// the job's dedup key.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return conveyor.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp

	if cp.Terminal() && cp.DedupKey != "" {
		dk := dedupKey(cp.Queue, cp.DedupKey)
		if m.dedup[dk] == key {
			delete(m.dedup, dk)
		}
	}
	return nil
}

// DeleteJob removes a job by ID and releases its dedup key.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	j, ok := m.jobs[key]
	if !ok {
		return conveyor.ErrJobNotFound
	}
	if j.DedupKey != "" {
		dk := dedupKey(j.Queue, j.DedupKey)
		if m.dedup[dk] == key {
			delete(m.dedup, dk)
		}
	}
	delete(m.jobs, key)
	return nil
}

// FindByDedupKey returns the non-terminal job bound to (queue, key).
func (m *Store) FindByDedupKey(_ context.Context, queueName, key string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobID, held := m.dedup[dedupKey(queueName, key)]
	if !held {
		return nil, conveyor.ErrJobNotFound
	}
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, conveyor.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// ListJobsByState returns jobs matching the given state.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	// Apply offset / limit.
	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// QueueCounts returns the per-state counts for one queue.
func (m *Store) QueueCounts(_ context.Context, queueName string) (job.Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()
	var c job.Counts
	for _, j := range m.jobs {
		if j.Queue != queueName {
			continue
		}
		switch j.State {
		case job.StatePending, job.StateRetrying:
			if !j.RunAt.IsZero() && j.RunAt.After(now) {
				c.Delayed++
			} else {
				c.Waiting++
			}
		case job.StateRunning:
			c.Active++
		case job.StateCompleted:
			c.Completed++
		case job.StateFailed, job.StateCancelled:
			c.Failed++
		}
	}
	return c, nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, _ id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return conveyor.ErrJobNotFound
	}
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	return nil
}

// RequeueStalled returns running jobs whose heartbeat is older than
// threshold to pending state and reports them.
func (m *Store) RequeueStalled(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var stalled []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StateRunning {
			continue
		}
		if j.HeartbeatAt == nil || j.HeartbeatAt.After(cutoff) {
			continue
		}
		j.State = job.StatePending
		j.WorkerID = id.Nil
		j.StartedAt = nil
		j.HeartbeatAt = nil
		j.UpdatedAt = time.Now().UTC()
		cp := *j
		stalled = append(stalled, &cp)
	}
	return stalled, nil
}

// PurgeJobs removes terminal jobs older than the given time.
func (m *Store) PurgeJobs(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, j := range m.jobs {
		if !j.Terminal() {
			continue
		}
		stamp := j.UpdatedAt
		if j.CompletedAt != nil {
			stamp = *j.CompletedAt
		}
		if stamp.Before(before) {
			delete(m.jobs, key)
			removed++
		}
	}
	return removed, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a failed job entry.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// GetDLQ retrieves an entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, conveyor.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// ListDLQ returns entries matching the given options, newest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.After(result[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// MarkRetriedDLQ transitions an entry from pending review to retried.
func (m *Store) MarkRetriedDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return conveyor.ErrDLQNotFound
	}
	if e.Review != dlq.ReviewPending {
		return conveyor.ErrDLQConflict
	}
	now := time.Now().UTC()
	e.Review = dlq.ReviewRetried
	e.RetriedAt = &now
	return nil
}

// MarkPermanentlyFailedDLQ transitions an entry from pending review to
// permanently-failed with the operator's notes.
func (m *Store) MarkPermanentlyFailedDLQ(_ context.Context, entryID id.DLQID, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return conveyor.ErrDLQNotFound
	}
	if e.Review != dlq.ReviewPending {
		return conveyor.ErrDLQConflict
	}
	e.Review = dlq.ReviewPermanentlyFailed
	e.Notes = notes
	return nil
}

// ReopenDLQ returns a retried entry to pending review.
func (m *Store) ReopenDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return conveyor.ErrDLQNotFound
	}
	if e.Review != dlq.ReviewRetried {
		return conveyor.ErrDLQConflict
	}
	e.Review = dlq.ReviewPending
	e.RetriedAt = nil
	return nil
}

// DeleteDLQ removes an entry by ID.
func (m *Store) DeleteDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.dlqs[key]; !ok {
		return conveyor.ErrDLQNotFound
	}
	delete(m.dlqs, key)
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			removed++
		}
	}
	return removed, nil
}

// CountDLQ returns the total number of entries.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Cron Store
// ──────────────────────────────────────────────────

// RegisterCron persists a new cron entry.
func (m *Store) RegisterCron(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.crons {
		if e.Name == entry.Name {
			return conveyor.ErrDuplicateCron
		}
	}
	cp := *entry
	m.crons[entry.ID.String()] = &cp
	return nil
}

// GetCron retrieves a cron entry by ID.
func (m *Store) GetCron(_ context.Context, entryID id.CronID) (*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return nil, conveyor.ErrCronNotFound
	}
	cp := *e
	return &cp, nil
}

// GetCronByName retrieves a cron entry by its unique name.
func (m *Store) GetCronByName(_ context.Context, name string) (*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.crons {
		if e.Name == name {
			cp := *e
			return &cp, nil
		}
	}
	return nil, conveyor.ErrCronNotFound
}

// ListCrons returns all cron entries.
func (m *Store) ListCrons(_ context.Context) ([]*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cron.Entry, 0, len(m.crons))
	for _, e := range m.crons {
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].Name < result[k].Name
	})
	return result, nil
}

// UpdateCronEntry updates a cron entry.
func (m *Store) UpdateCronEntry(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	if _, ok := m.crons[key]; !ok {
		return conveyor.ErrCronNotFound
	}
	cp := *entry
	cp.UpdatedAt = time.Now().UTC()
	m.crons[key] = &cp
	return nil
}

// DeleteCron removes a cron entry by ID.
func (m *Store) DeleteCron(_ context.Context, entryID id.CronID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.crons[key]; !ok {
		return conveyor.ErrCronNotFound
	}
	delete(m.crons, key)
	return nil
}
