/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package counterstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithTTLScript increments the counter and sets TTL on its first touch in a single atomic step.
var incrWithTTLScript = redis.NewScript(`
local v = redis.call('INCR', KEYS[1])
if v == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return v
`)

// RedisStore keeps rate-limit counters in Redis.
// Counters are incremented by a server-side script, so they stay consistent cluster-wide.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore creates a new Redis-backed counter store.
// keyPrefix (may be empty) namespaces all keys the store touches.
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

// Increment is a part of Store interface implementation.
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	val, err := incrWithTTLScript.Run(ctx, s.client, []string{s.keyPrefix + key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("increment counter %q in redis: %w", key, err)
	}
	return val, nil
}
