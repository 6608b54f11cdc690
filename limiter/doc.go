/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package limiter provides rate-limiting algorithms behind a single Limiter interface.
//
// Four algorithms are available:
//   - leaky bucket (GCRA variant, in-process);
//   - sliding window (in-process);
//   - token bucket (in-process);
//   - fixed window (backed by a counterstore.Store, so counters may be shared cluster-wide).
//
// All limiters report an estimated retry-after duration along with the rejection.
package limiter
