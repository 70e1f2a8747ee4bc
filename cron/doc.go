// Package cron provides recurring job schedules.
//
// Cron entries are stored alongside jobs and evaluated by a tick loop.
// When an entry is due the scheduler enqueues the configured job through
// the engine's regular submission path, so deduplication and queue
// policies apply to cron-fired jobs the same as to manual submissions.
//
// # Entry
//
// An [Entry] represents a recurring job schedule:
//   - Schedule: standard cron expression (e.g., "0 9 * * 1-5") or a
//     descriptor such as "@every 30s"
//   - Queue / JobName: where and what to enqueue when fired
//   - Payload: static JSON payload passed to every triggered job
//   - Enabled: whether the entry fires
//
// # Scheduler
//
// The [Scheduler] evaluates due entries on every tick, enqueues the
// corresponding job, and updates LastRunAt and NextRunAt. The
// [hook.CronFired] lifecycle hook fires after each enqueue. Each fired
// job carries a deduplication key derived from the entry name and the
// scheduled time, so a missed-and-recovered tick cannot double-fire.
package cron
