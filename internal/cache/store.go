// Package cache provides the shared counter store behind the rate limiter.
// Counters live in Redis when one is configured and fall back to the primary
// database otherwise.
package cache

import (
	"context"
	"time"
)

// Store is the fixed-window counter contract used by the rate limiter.
type Store interface {
	// IncrementWithTTL bumps the counter for key, starting a new window of
	// the given length on the first hit, and reports the count together with
	// the time left until the window resets.
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}
