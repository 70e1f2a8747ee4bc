package conveyor

import (
	"time"

	"github.com/vantor/conveyor/queue"
)

// Config holds configuration for the job-processing core.
type Config struct {
	// BrokerAddr is the address of the shared Redis broker
	// ("host:port"). An empty address means no broker is configured and
	// Open falls back to the synchronous inline executor.
	BrokerAddr string

	// BrokerPassword authenticates against the broker, if required.
	BrokerPassword string

	// BrokerDB selects the broker database index.
	BrokerDB int

	// ConnectAttempts is the bounded attempt budget for reaching the
	// broker at startup before degrading to inline execution.
	ConnectAttempts int

	// ConnectBackoff is the delay between broker connection attempts.
	ConnectBackoff time.Duration

	// Queues declares every queue and its execution policy. Enqueueing
	// to a queue not listed here fails the caller synchronously.
	Queues []queue.Policy

	// PollInterval is how often idle workers poll for new jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time Close waits for active jobs
	// to drain before cancelling them.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running jobs send heartbeats.
	HeartbeatInterval time.Duration

	// StallThreshold is how long before a running job without a
	// heartbeat is considered stalled and requeued by the broker.
	StallThreshold time.Duration
}

// DefaultConfig returns a Config with sensible defaults and no queues.
func DefaultConfig() Config {
	return Config{
		ConnectAttempts:   3,
		ConnectBackoff:    2 * time.Second,
		PollInterval:      1 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StallThreshold:    30 * time.Second,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig. Queue policies
// are normalized by the queue package, not here.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = d.ConnectAttempts
	}
	if c.ConnectBackoff <= 0 {
		c.ConnectBackoff = d.ConnectBackoff
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = d.StallThreshold
	}
	return c
}
