// Package store defines the aggregate persistence interface. Each subsystem
// (job, dlq, cron) defines its own store interface and the composite Store
// composes them all. Backends: Redis, Postgres, and Memory.
package store

import (
	"context"

	"github.com/vantor/conveyor/cron"
	"github.com/vantor/conveyor/dlq"
	"github.com/vantor/conveyor/job"
)

// Store is the aggregate persistence interface. Each subsystem store is a
// composable interface; a single backend implements all of them.
type Store interface {
	job.Store
	dlq.Store
	cron.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks broker connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
