/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-egressthrottle/counterstore"
)

// FixedWindowLimiter implements fixed window rate limiting algorithm on top of a counter store.
// When the store is distributed (e.g. Redis), the limit is enforced cluster-wide.
type FixedWindowLimiter struct {
	store   counterstore.Store
	maxRate Rate
}

// NewFixedWindowLimiter creates a new fixed window rate limiter backed by the provided counter store.
func NewFixedWindowLimiter(maxRate Rate, store counterstore.Store) *FixedWindowLimiter {
	return &FixedWindowLimiter{store: store, maxRate: maxRate}
}

// Allow checks if the request should be allowed based on the rate limit.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (allow bool, retryAfter time.Duration, err error) {
	now := time.Now()
	windowStart := now.Truncate(l.maxRate.Duration)

	count, err := l.store.Increment(ctx, l.windowKey(key, windowStart), l.maxRate.Duration)
	if err != nil {
		return false, 0, err
	}
	if count <= int64(l.maxRate.Count) {
		return true, 0, nil
	}
	return false, windowStart.Add(l.maxRate.Duration).Sub(now), nil
}

func (l *FixedWindowLimiter) windowKey(key string, windowStart time.Time) string {
	return fmt.Sprintf("%s:%d", key, windowStart.UnixNano())
}
