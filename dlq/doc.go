// Package dlq provides the dead letter store for jobs that have exhausted
// their attempt budget. It supports inspection, manual retry, review
// marking, and purging.
//
// When a job fails and MaxAttempts has been reached, the executor calls
// [Service.Push] to record it. The original payload, final error, and
// captured trace are preserved for operator review.
//
// # Entry
//
// An [Entry] captures:
//   - JobID / JobName / Queue: original job identity
//   - Payload: the raw JSON payload at time of failure
//   - Reason / Trace: the final error message and stack or error chain
//   - Attempts / MaxAttempts: the exhausted attempt budget
//   - ReviewStatus: pending, retried, or permanently-failed
//   - FailedAt / RetriedAt: review timeline
//
// # Review lifecycle
//
// Entries start in [ReviewPending]. An operator either retries the entry
// (the engine re-enqueues a fresh job and removes the entry) or marks it
// [ReviewPermanentlyFailed] with notes. Both transitions are
// compare-and-swap guarded so two operators cannot double-dispatch the
// same entry.
package dlq
