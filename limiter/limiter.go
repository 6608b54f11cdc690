/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"context"
	"sync"
	"time"
)

// Rate describes the frequency of requests.
type Rate struct {
	Count    int
	Duration time.Duration
}

// Limiter interface defines the rate limiting contract.
type Limiter interface {
	Allow(ctx context.Context, key string) (allow bool, retryAfter time.Duration, err error)
}

// keyedValues is a bounded per-key container used by limiters that keep
// in-process state for each throttling key. When the limit is reached,
// an arbitrary entry is dropped to make room; per-key state is advisory
// and can always be rebuilt from scratch.
type keyedValues[V any] struct {
	maxKeys int

	mu     sync.Mutex
	values map[string]V
}

func newKeyedValues[V any](maxKeys int) *keyedValues[V] {
	return &keyedValues[V]{maxKeys: maxKeys, values: make(map[string]V)}
}

func (kv *keyedValues[V]) getOrAdd(key string, provider func() V) V {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if v, ok := kv.values[key]; ok {
		return v
	}
	if kv.maxKeys > 0 && len(kv.values) >= kv.maxKeys {
		for k := range kv.values {
			delete(kv.values, k)
			break
		}
	}
	v := provider()
	kv.values[key] = v
	return v
}
