package audithook

import (
	"context"
	"log/slog"
	"time"

	"github.com/vantor/conveyor/hook"
	"github.com/vantor/conveyor/id"
	"github.com/vantor/conveyor/job"
)

// Compile-time interface checks.
var (
	_ hook.Hook         = (*Hook)(nil)
	_ hook.JobEnqueued  = (*Hook)(nil)
	_ hook.JobStarted   = (*Hook)(nil)
	_ hook.JobCompleted = (*Hook)(nil)
	_ hook.JobRetrying  = (*Hook)(nil)
	_ hook.JobFailed    = (*Hook)(nil)
	_ hook.JobDLQ       = (*Hook)(nil)
	_ hook.CronFired    = (*Hook)(nil)
)

// Recorder is the interface audit backends must implement. It is defined
// locally so this package does not depend on any particular audit
// product — callers inject an adapter at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// AuditEvent is one audit trail record.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Hook emits audit events for job and cron lifecycle transitions.
type Hook struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates a Hook that emits audit events through the provided
// Recorder.
func New(r Recorder, opts ...Option) *Hook {
	h := &Hook{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements hook.Hook.
func (h *Hook) Name() string { return "audit-hook" }

// OnJobEnqueued implements hook.JobEnqueued.
func (h *Hook) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return h.record(ctx, ActionJobEnqueued, SeverityInfo, OutcomeSuccess, j.ID.String(), "",
		"job_name", j.Name,
		"queue", j.Queue,
	)
}

// OnJobStarted implements hook.JobStarted.
func (h *Hook) OnJobStarted(ctx context.Context, j *job.Job) error {
	return h.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess, j.ID.String(), "",
		"job_name", j.Name,
		"queue", j.Queue,
		"attempt", j.Attempts+1,
	)
}

// OnJobCompleted implements hook.JobCompleted.
func (h *Hook) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return h.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess, j.ID.String(), "",
		"job_name", j.Name,
		"queue", j.Queue,
		"attempts", j.Attempts,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobRetrying implements hook.JobRetrying.
func (h *Hook) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	return h.record(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure, j.ID.String(), j.LastError,
		"job_name", j.Name,
		"queue", j.Queue,
		"attempt", attempt,
		"next_run_at", nextRunAt,
	)
}

// OnJobFailed implements hook.JobFailed.
func (h *Hook) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return h.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure, j.ID.String(), reason,
		"job_name", j.Name,
		"queue", j.Queue,
		"attempts", j.Attempts,
	)
}

// OnJobDLQ implements hook.JobDLQ.
func (h *Hook) OnJobDLQ(ctx context.Context, j *job.Job, entryID id.DLQID, err error) error {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return h.record(ctx, ActionJobDLQ, SeverityCritical, OutcomeFailure, j.ID.String(), reason,
		"job_name", j.Name,
		"queue", j.Queue,
		"attempts", j.Attempts,
		"dlq_entry_id", entryID.String(),
	)
}

// OnCronFired implements hook.CronFired.
func (h *Hook) OnCronFired(ctx context.Context, entryName string, jobID id.JobID) error {
	if !h.wants(ActionCronFired) {
		return nil
	}
	evt := &AuditEvent{
		Action:     ActionCronFired,
		Resource:   ResourceCron,
		Category:   CategoryCron,
		ResourceID: entryName,
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
		Metadata:   map[string]any{"job_id": jobID.String()},
	}
	return h.emit(ctx, evt)
}

func (h *Hook) wants(action string) bool {
	return h.enabled == nil || h.enabled[action]
}

// record builds and emits a job audit event; kv is a flat key/value list.
func (h *Hook) record(ctx context.Context, action, severity, outcome, jobID, reason string, kv ...any) error {
	if !h.wants(action) {
		return nil
	}

	meta := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		meta[key] = kv[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   ResourceJob,
		Category:   CategoryJob,
		ResourceID: jobID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}
	return h.emit(ctx, evt)
}

// emit hands the event to the recorder. Recorder failures are logged,
// not propagated: the audit trail must never fail a job.
func (h *Hook) emit(ctx context.Context, evt *AuditEvent) error {
	if err := h.recorder.Record(ctx, evt); err != nil {
		h.logger.Error("audit record failed",
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
