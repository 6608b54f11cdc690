/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"context"
	"errors"
	"sync"
)

// TooManyRequestsError is the propagation signal raised when an egress call finishes
// with a "too many requests" outcome and propagation to ingress is enabled.
// It is not a response: it means "abandon the normal return path; the inbound pipeline
// must decide how to respond to its caller using the carried value".
type TooManyRequestsError struct {
	// RetryAfterHeaderValue is the final response's Retry-After header text, verbatim.
	// May be empty when the advised value could not be produced.
	RetryAfterHeaderValue string
}

// Error implements the error interface.
func (e *TooManyRequestsError) Error() string {
	if e.RetryAfterHeaderValue == "" {
		return "egress request was throttled"
	}
	return "egress request was throttled, retry after " + e.RetryAfterHeaderValue
}

// AsTooManyRequestsError extracts a TooManyRequestsError from the error chain.
func AsTooManyRequestsError(err error) (*TooManyRequestsError, bool) {
	var tmrErr *TooManyRequestsError
	ok := errors.As(err, &tmrErr)
	return tmrErr, ok
}

// Receiver collects a throttling signal propagated from an egress call made while
// handling an inbound request. The first delivered signal wins; later ones are dropped.
type Receiver struct {
	mu     sync.Mutex
	signal *TooManyRequestsError
}

// Deliver hands the signal to the receiver.
func (rc *Receiver) Deliver(signal *TooManyRequestsError) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.signal == nil {
		rc.signal = signal
	}
}

// Signal returns the delivered signal, or nil if none was delivered.
func (rc *Receiver) Signal() *TooManyRequestsError {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.signal
}

type receiverCtxKey struct{}

// ContextWithReceiver derives a context carrying a new propagation Receiver.
// Outbound requests made with this context can have their throttling decision
// bubbled up to the code that installed the receiver.
func ContextWithReceiver(ctx context.Context) (context.Context, *Receiver) {
	rc := &Receiver{}
	return context.WithValue(ctx, receiverCtxKey{}, rc), rc
}

// ReceiverFromContext extracts a propagation Receiver from the context.
// Returns nil if the context carries none.
func ReceiverFromContext(ctx context.Context) *Receiver {
	rc, _ := ctx.Value(receiverCtxKey{}).(*Receiver)
	return rc
}
