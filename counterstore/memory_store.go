/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package counterstore

import (
	"context"
	"sync"
	"time"
)

// DefaultMemoryStoreMaxKeys limits the number of tracked counters in MemoryStore.
const DefaultMemoryStoreMaxKeys = 10000

type memoryCounter struct {
	value     int64
	expiresAt time.Time
}

// MemoryStore is an in-process, single-node counter store.
// It is the terminal fallback of Resolve and is always available.
type MemoryStore struct {
	maxKeys int

	mu       sync.Mutex
	counters map[string]*memoryCounter
}

// NewMemoryStore creates a new in-process counter store.
// maxKeys limits the number of tracked counters (DefaultMemoryStoreMaxKeys if 0 is passed);
// when the limit is reached, expired counters are evicted first,
// and the oldest-expiring one is dropped as the last resort.
func NewMemoryStore(maxKeys int) *MemoryStore {
	if maxKeys <= 0 {
		maxKeys = DefaultMemoryStoreMaxKeys
	}
	return &MemoryStore{maxKeys: maxKeys, counters: make(map[string]*memoryCounter)}
}

// Increment is a part of Store interface implementation.
func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.counters[key]; ok && now.Before(c.expiresAt) {
		c.value++
		return c.value, nil
	}

	if len(s.counters) >= s.maxKeys {
		s.evictLocked(now)
	}
	s.counters[key] = &memoryCounter{value: 1, expiresAt: now.Add(ttl)}
	return 1, nil
}

func (s *MemoryStore) evictLocked(now time.Time) {
	var oldestKey string
	var oldestAt time.Time
	for k, c := range s.counters {
		if !now.Before(c.expiresAt) {
			delete(s.counters, k)
			continue
		}
		if oldestKey == "" || c.expiresAt.Before(oldestAt) {
			oldestKey, oldestAt = k, c.expiresAt
		}
	}
	if len(s.counters) >= s.maxKeys && oldestKey != "" {
		delete(s.counters, oldestKey)
	}
}
