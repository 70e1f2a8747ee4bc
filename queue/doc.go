// Package queue defines named queue policies and the runtime gate that
// enforces them.
//
// Queues are named channels that group related jobs. Jobs carry a Queue
// field that determines which queue they belong to, and every queue is
// declared up front with a [Policy] that fixes its concurrency, attempt
// budget, retry backoff, and rate limit. Submitting to an undeclared
// queue is an error, never a silent default.
//
// # Per-Queue Policy
//
//	queue.Policy{
//	    Name:        "WHATSAPP",
//	    Concurrency: 5,
//	    MaxAttempts: 3,
//	    RateLimit:   queue.RateLimit{Max: 10, Window: time.Second},
//	}
//
// Pass policies through [conveyor.Config.Queues] when opening the engine.
//
// # Manager
//
// [Manager] enforces pause state, rate limits, and concurrency caps at
// dequeue time. It uses a token-bucket rate limiter (golang.org/x/time/rate)
// and an active-count gate:
//
//	m := queue.NewManager(policies...)
//	if m.Acquire(queueName) {
//	    defer m.Release(queueName)
//	    // process the job
//	}
package queue
