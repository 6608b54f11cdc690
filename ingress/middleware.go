/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ingress provides HTTP server middleware that answers inbound requests
// with "429 Too Many Requests" when an outbound call made on their behalf was throttled.
package ingress

import (
	"fmt"
	"net/http"

	"github.com/acronis/go-egressthrottle/log"
	"github.com/acronis/go-egressthrottle/throttle"
)

// PropagationOpts represents options for the Propagation middleware.
type PropagationOpts struct {
	// Logger is used for logging.
	Logger log.FieldLogger

	// OnThrottled is an optional callback invoked when a throttling signal
	// is translated into an inbound response.
	OnThrottled func(r *http.Request, signal *throttle.TooManyRequestsError)
}

// Propagation is a middleware that installs a throttling signal receiver into the request
// context and translates a delivered signal into a "429 Too Many Requests" response,
// unless the wrapped handler has already written its own response.
func Propagation() func(next http.Handler) http.Handler {
	return PropagationWithOpts(PropagationOpts{})
}

// PropagationWithOpts is a more configurable version of the Propagation middleware.
func PropagationWithOpts(opts PropagationOpts) func(next http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			ctx, receiver := throttle.ContextWithReceiver(r.Context())
			wrappedRW := &propagationResponseWriter{ResponseWriter: rw}

			next.ServeHTTP(wrappedRW, r.WithContext(ctx))

			signal := receiver.Signal()
			if signal == nil {
				return
			}
			if wrappedRW.wroteHeader {
				logger.Warn("throttling signal received after response headers were written, signal dropped",
					log.String("retry_after", signal.RetryAfterHeaderValue))
				return
			}

			if signal.RetryAfterHeaderValue != "" {
				wrappedRW.Header().Set("Retry-After", signal.RetryAfterHeaderValue)
			}
			wrappedRW.Header().Set("Content-Type", "text/plain; charset=utf-8")
			wrappedRW.WriteHeader(http.StatusTooManyRequests)
			_, _ = fmt.Fprintln(wrappedRW, "Too many requests.")

			logger.Info("inbound request rejected after egress throttling",
				log.String("method", r.Method),
				log.String("uri", r.URL.RequestURI()),
				log.String("retry_after", signal.RetryAfterHeaderValue))
			if opts.OnThrottled != nil {
				opts.OnThrottled(r, signal)
			}
		})
	}
}

type propagationResponseWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (rw *propagationResponseWriter) WriteHeader(statusCode int) {
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *propagationResponseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}
