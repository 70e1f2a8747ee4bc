package postgres

import (
	"context"
	"fmt"
)

// migration is a named schema change applied exactly once.
type migration struct {
	name string
	stmt string
}

// migrations run in order. Applied names are recorded in
// conveyor_migrations, so adding a new entry at the end is safe on
// existing databases.
var migrations = []migration{
	{
		name: "001_create_jobs",
		stmt: `
			CREATE TABLE IF NOT EXISTS conveyor_jobs (
				id              TEXT PRIMARY KEY,
				queue           TEXT NOT NULL DEFAULT 'default',
				name            TEXT NOT NULL,
				payload         BYTEA NOT NULL,
				state           TEXT NOT NULL DEFAULT 'pending',
				priority        INTEGER NOT NULL DEFAULT 0,
				attempts        INTEGER NOT NULL DEFAULT 0,
				max_attempts    INTEGER NOT NULL DEFAULT 3,
				backoff         TEXT NOT NULL DEFAULT '',
				backoff_base    BIGINT NOT NULL DEFAULT 0,
				dedup_key       TEXT NOT NULL DEFAULT '',
				last_error      TEXT NOT NULL DEFAULT '',
				worker_id       TEXT NOT NULL DEFAULT '',
				run_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				timeout         BIGINT NOT NULL DEFAULT 0,
				started_at      TIMESTAMPTZ,
				completed_at    TIMESTAMPTZ,
				heartbeat_at    TIMESTAMPTZ,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
	},
	{
		name: "002_jobs_dequeue_index",
		stmt: `
			CREATE INDEX IF NOT EXISTS idx_conveyor_jobs_dequeue
				ON conveyor_jobs (queue, priority ASC, run_at ASC)
				WHERE state IN ('pending', 'retrying')`,
	},
	{
		name: "003_jobs_state_index",
		stmt: `
			CREATE INDEX IF NOT EXISTS idx_conveyor_jobs_state
				ON conveyor_jobs (state)`,
	},
	{
		name: "004_jobs_heartbeat_index",
		stmt: `
			CREATE INDEX IF NOT EXISTS idx_conveyor_jobs_heartbeat
				ON conveyor_jobs (heartbeat_at)
				WHERE state = 'running'`,
	},
	{
		// One non-terminal job per (queue, dedup_key). The partial index
		// stops covering a row the moment it reaches a terminal state,
		// which releases the key with no bookkeeping.
		name: "005_jobs_dedup_index",
		stmt: `
			CREATE UNIQUE INDEX IF NOT EXISTS idx_conveyor_jobs_dedup
				ON conveyor_jobs (queue, dedup_key)
				WHERE state IN ('pending', 'running', 'retrying')
				  AND dedup_key <> ''`,
	},
	{
		name: "006_create_dlq",
		stmt: `
			CREATE TABLE IF NOT EXISTS conveyor_dlq (
				id              TEXT PRIMARY KEY,
				job_id          TEXT NOT NULL,
				job_name        TEXT NOT NULL,
				queue           TEXT NOT NULL,
				payload         BYTEA NOT NULL,
				reason          TEXT NOT NULL DEFAULT '',
				trace           TEXT NOT NULL DEFAULT '',
				attempts        INTEGER NOT NULL DEFAULT 0,
				max_attempts    INTEGER NOT NULL DEFAULT 0,
				review          TEXT NOT NULL DEFAULT 'pending',
				notes           TEXT NOT NULL DEFAULT '',
				failed_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				retried_at      TIMESTAMPTZ,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
	},
	{
		name: "007_dlq_indexes",
		stmt: `
			CREATE INDEX IF NOT EXISTS idx_conveyor_dlq_queue
				ON conveyor_dlq (queue, failed_at DESC)`,
	},
	{
		name: "008_create_cron",
		stmt: `
			CREATE TABLE IF NOT EXISTS conveyor_cron (
				id              TEXT PRIMARY KEY,
				name            TEXT NOT NULL UNIQUE,
				schedule        TEXT NOT NULL,
				queue           TEXT NOT NULL,
				job_name        TEXT NOT NULL,
				payload         BYTEA,
				last_run_at     TIMESTAMPTZ,
				next_run_at     TIMESTAMPTZ,
				enabled         BOOLEAN NOT NULL DEFAULT TRUE,
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
	},
}

// Migrate applies all pending schema migrations in order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS conveyor_migrations (
			name        TEXT PRIMARY KEY,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: create migrations table: %w", err)
	}

	for _, m := range migrations {
		var applied bool
		err = s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM conveyor_migrations WHERE name = $1)`,
			m.name,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("conveyor/postgres: check migration %s: %w", m.name, err)
		}
		if applied {
			continue
		}

		if _, err = s.pool.Exec(ctx, m.stmt); err != nil {
			return fmt.Errorf("conveyor/postgres: execute migration %s: %w", m.name, err)
		}

		if _, err = s.pool.Exec(ctx,
			`INSERT INTO conveyor_migrations (name) VALUES ($1)`, m.name,
		); err != nil {
			return fmt.Errorf("conveyor/postgres: record migration %s: %w", m.name, err)
		}

		s.logger.Info("applied migration", "name", m.name)
	}

	return nil
}
