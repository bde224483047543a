// Package ratelimit counts attempts per client key within a time window.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one attempt.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether another attempt for key is allowed. Every call
// counts as an attempt.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}
