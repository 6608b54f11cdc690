/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package counterstore

import (
	"github.com/redis/go-redis/v9"
)

// Backends describes external counter backends available to Resolve.
type Backends struct {
	// Redis is a keyed, script-capable distributed engine. Preferred among non-explicit backends.
	Redis redis.UniversalClient

	// RedisKeyPrefix namespaces the keys of the Redis-backed store.
	RedisKeyPrefix string

	// Cache is a generic distributed cache abstraction. Used when Redis is not available.
	Cache Cache

	// MemoryMaxKeys limits the number of counters in the in-process fallback store.
	MemoryMaxKeys int
}

// Resolve picks a counter store backend. Priority, first available wins:
// the explicitly configured store, Redis, the distributed cache,
// the in-process memory store. Resolve never fails.
func Resolve(explicit Store, backends Backends) Store {
	if explicit != nil {
		return explicit
	}
	if backends.Redis != nil {
		return NewRedisStore(backends.Redis, backends.RedisKeyPrefix)
	}
	if backends.Cache != nil {
		return NewCacheStore(backends.Cache)
	}
	return NewMemoryStore(backends.MemoryMaxKeys)
}
