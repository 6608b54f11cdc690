/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package counterstore

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// CacheStore adapts a generic distributed cache to the Store interface.
//
// The cache contract has no atomic increment, so counting is read-modify-write
// and may undercount under contention. It is a best-effort middle ground
// between cluster-wide consistent Redis counters and the in-process fallback.
type CacheStore struct {
	cache Cache
}

// NewCacheStore creates a new counter store on top of the provided distributed cache.
func NewCacheStore(cache Cache) *CacheStore {
	return &CacheStore{cache: cache}
}

// Increment is a part of Store interface implementation.
func (s *CacheStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	value, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("get counter %q from cache: %w", key, err)
	}

	var count int64
	if ok {
		count, err = strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed counter %q in cache: %w", key, err)
		}
	}
	count++

	if err := s.cache.Set(ctx, key, []byte(strconv.FormatInt(count, 10)), ttl); err != nil {
		return 0, fmt.Errorf("set counter %q in cache: %w", key, err)
	}
	return count, nil
}
