package cron

import (
	"time"

	"github.com/vantor/conveyor/id"
)

// Entry represents a scheduled recurring job.
type Entry struct {
	ID        id.CronID  `json:"id"`
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Queue     string     `json:"queue"`
	JobName   string     `json:"job_name"`
	Payload   []byte     `json:"payload,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	Enabled   bool       `json:"enabled"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
