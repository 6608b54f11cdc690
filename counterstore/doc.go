/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package counterstore provides backends for persisting rate-limit counters
// and a resolver that picks the best available backend.
//
// Backends, from the most to the least preferable:
//   - an explicitly configured Store instance;
//   - Redis (cluster-wide consistent counters via an atomic INCR+PEXPIRE script);
//   - a generic distributed cache behind the Cache interface (best-effort consistency);
//   - an in-process memory store (single-node counters).
//
// Resolve never fails: when no external backend is available, it degrades to
// the in-process store so that the service can always start.
package counterstore
