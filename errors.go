package conveyor

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("conveyor: no store configured")
	ErrStoreClosed     = errors.New("conveyor: store closed")
	ErrMigrationFailed = errors.New("conveyor: migration failed")

	// Not found errors.
	ErrJobNotFound   = errors.New("conveyor: job not found")
	ErrQueueNotFound = errors.New("conveyor: queue not found")
	ErrDLQNotFound   = errors.New("conveyor: dead letter entry not found")
	ErrCronNotFound  = errors.New("conveyor: cron entry not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("conveyor: job already exists")
	ErrDuplicateJob     = errors.New("conveyor: duplicate job submission")
	ErrDLQConflict      = errors.New("conveyor: dead letter entry already reviewed")
	ErrDuplicateCron    = errors.New("conveyor: duplicate cron entry")

	// State errors.
	ErrInvalidState      = errors.New("conveyor: invalid state transition")
	ErrProcessorNotFound = errors.New("conveyor: no processor bound for queue")
	ErrClosed            = errors.New("conveyor: service closed")
	ErrBrokerUnavailable = errors.New("conveyor: broker unavailable")
	ErrJobActive         = errors.New("conveyor: job is active and cannot be removed")
)
