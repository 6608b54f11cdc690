/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package counterstore

import (
	"context"
	"time"
)

// Store is a backend for rate-limit counters.
// Implementations must be safe for concurrent use.
type Store interface {
	// Increment atomically increments the counter behind the key and returns its new value.
	// When the counter is created by the call, it is given the provided TTL.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Cache is a minimal distributed cache abstraction that can back a Store
// when no keyed, script-capable engine is available.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
