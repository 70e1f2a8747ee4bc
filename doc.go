// Package conveyor provides the background job-processing and
// external-dependency-resilience core for an ordering platform. It offers
// named queues with per-queue execution policies, at-least-once delivery
// with retry and backoff, a dead letter store for exhausted jobs, and a
// synchronous in-process fallback used when the broker is unreachable.
//
// Conveyor is a library, not a service. Configure a store, describe your
// queues, bind processors as ordinary Go functions, and start:
//
//	svc, err := engine.Open(ctx, conveyor.Config{
//	    BrokerAddr: "localhost:6379",
//	    Queues: []queue.Policy{
//	        {Name: "ORDER_PROCESSING", Concurrency: 4, MaxAttempts: 3},
//	        {Name: "WHATSAPP", Concurrency: 10},
//	    },
//	})
//
// # Architecture
//
// Each subsystem (job, dlq, cron) defines its own store interface and a
// single backend implements all of them: Redis for the shared broker,
// Postgres for durable deployments, and an in-memory store for tests.
// If the broker is absent or unreachable at startup, Open returns a
// degraded Service that executes processors inline, so producers never
// branch on which implementation is active.
//
// Calls to external AI providers go through the provider package, where a
// per-operation circuit breaker routes traffic to a fallback implementation
// when the primary is unhealthy.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package conveyor
