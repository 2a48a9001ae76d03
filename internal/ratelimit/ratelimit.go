// Package ratelimit provides a pluggable per-key rate limiting interface.
//
// The OSS distribution ships an in-memory fixed-window limiter
// (MemoryLimiter). Deployments that need cross-instance coordination can
// substitute a Redis-backed implementation — the Limiter interface is the
// contract.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of an admission check.
type Decision struct {
	// Allowed reports whether the request should proceed.
	Allowed bool

	// RetryAfter is how long the caller should wait before the current
	// window expires. Only meaningful when Allowed is false.
	RetryAfter time.Duration

	// Remaining is the number of requests left in the current window
	// under the ceiling the check was made against.
	Remaining int
}

// Limiter decides whether a request identified by key should be admitted.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Admit records one request against key and reports whether it fits
	// under ceiling (requests per window). The ceiling is re-evaluated on
	// every call: the window's count persists, but the threshold it is
	// compared to follows whatever the caller supplies.
	//
	// Returning an error signals a limiter malfunction; callers should
	// treat errors as fail-open (permit the request) rather than blocking
	// traffic.
	Admit(ctx context.Context, key string, ceiling int) (Decision, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter admits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Admit always allows.
func (NoopLimiter) Admit(_ context.Context, _ string, ceiling int) (Decision, error) {
	return Decision{Allowed: true, Remaining: ceiling}, nil
}

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
