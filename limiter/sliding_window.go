/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"context"
	"time"

	"github.com/RussellLuo/slidingwindow"
)

// SlidingWindowLimiter implements sliding window rate limiting algorithm.
type SlidingWindowLimiter struct {
	getLimiter func(key string) *slidingwindow.Limiter
	maxRate    Rate
}

// NewSlidingWindowLimiter creates a new sliding window rate limiter.
// maxKeys limits the number of per-key windows; 0 means a single window shared by all keys.
func NewSlidingWindowLimiter(maxRate Rate, maxKeys int) *SlidingWindowLimiter {
	newWindowLimiter := func() *slidingwindow.Limiter {
		lim, _ := slidingwindow.NewLimiter(
			maxRate.Duration, int64(maxRate.Count), func() (slidingwindow.Window, slidingwindow.StopFunc) {
				return slidingwindow.NewLocalWindow()
			})
		return lim
	}

	if maxKeys == 0 {
		lim := newWindowLimiter()
		return &SlidingWindowLimiter{
			maxRate:    maxRate,
			getLimiter: func(_ string) *slidingwindow.Limiter { return lim },
		}
	}

	store := newKeyedValues[*slidingwindow.Limiter](maxKeys)
	return &SlidingWindowLimiter{
		maxRate: maxRate,
		getLimiter: func(key string) *slidingwindow.Limiter {
			return store.getOrAdd(key, newWindowLimiter)
		},
	}
}

// Allow checks if the request should be allowed based on the rate limit.
func (l *SlidingWindowLimiter) Allow(_ context.Context, key string) (allow bool, retryAfter time.Duration, err error) {
	if l.getLimiter(key).Allow() {
		return true, 0, nil
	}
	now := time.Now()
	retryAfter = now.Truncate(l.maxRate.Duration).Add(l.maxRate.Duration).Sub(now)
	return false, retryAfter, nil
}
