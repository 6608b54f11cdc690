/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucketLimiter implements token bucket rate limiting algorithm.
type TokenBucketLimiter struct {
	getLimiter func(key string) *rate.Limiter
}

// NewTokenBucketLimiter creates a new token bucket rate limiter.
// maxBurst allows temporary spikes in request rate (1 is the minimum meaningful value).
// maxKeys limits the number of per-key buckets; 0 means a single bucket shared by all keys.
func NewTokenBucketLimiter(maxRate Rate, maxBurst, maxKeys int) *TokenBucketLimiter {
	if maxBurst <= 0 {
		maxBurst = 1
	}
	limit := rate.Every(maxRate.Duration / time.Duration(maxRate.Count))
	newBucket := func() *rate.Limiter { return rate.NewLimiter(limit, maxBurst) }

	if maxKeys == 0 {
		lim := newBucket()
		return &TokenBucketLimiter{getLimiter: func(_ string) *rate.Limiter { return lim }}
	}

	store := newKeyedValues[*rate.Limiter](maxKeys)
	return &TokenBucketLimiter{
		getLimiter: func(key string) *rate.Limiter {
			return store.getOrAdd(key, newBucket)
		},
	}
}

// Allow checks if the request should be allowed based on the rate limit.
func (l *TokenBucketLimiter) Allow(_ context.Context, key string) (allow bool, retryAfter time.Duration, err error) {
	reservation := l.getLimiter(key).Reserve()
	delay := reservation.Delay()
	if delay == 0 {
		return true, 0, nil
	}
	reservation.Cancel()
	return false, delay, nil
}
