/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package egress

import (
	"context"
	"net/http"
	"net/url"

	"github.com/acronis/go-egressthrottle/throttle"
)

// RequestProxy is a read-only snapshot of the outbound request exposed to the Response Fabric hook.
// It is a view: it does not own the underlying transport request.
type RequestProxy struct {
	req *http.Request
}

func newRequestProxy(req *http.Request) *RequestProxy {
	return &RequestProxy{req: req}
}

// Method returns the request method.
func (p *RequestProxy) Method() string {
	return p.req.Method
}

// URL returns a copy of the request target URL.
func (p *RequestProxy) URL() *url.URL {
	u := *p.req.URL
	return &u
}

// Header returns a deep copy of the request headers.
func (p *RequestProxy) Header() http.Header {
	return cloneHTTPHeader(p.req.Header)
}

// ResponseProxy is a mutable wrapper around the produced response exposed to the
// Response Fabric hook. Its lifetime is one fabric invocation.
type ResponseProxy struct {
	resp       *http.Response
	retryCount int

	shouldRetry bool
	replacement *http.Response
}

func newResponseProxy(resp *http.Response, retryCount int) *ResponseProxy {
	return &ResponseProxy{resp: resp, retryCount: retryCount}
}

// Response returns the response produced so far (synthesized or forwarded).
func (p *ResponseProxy) Response() *http.Response {
	return p.resp
}

// RetryCount returns the number of retries done so far, starting at 0.
func (p *ResponseProxy) RetryCount() int {
	return p.retryCount
}

// SetShouldRetry requests one more attempt after a backoff wait.
func (p *ResponseProxy) SetShouldRetry(shouldRetry bool) {
	p.shouldRetry = shouldRetry
}

// SetReplacementResponse substitutes the response that will be handed back
// when the hook decides not to retry.
func (p *ResponseProxy) SetReplacementResponse(resp *http.Response) {
	p.replacement = resp
}

// ResponseFabricFunc is a user-supplied hook that may customize the throttled response
// and/or request an additional retry. exceeded is nil when the 429 came from the
// downstream service rather than from the local evaluator.
// An error returned by the hook propagates to the original caller uninterrupted.
type ResponseFabricFunc func(
	ctx context.Context, exceeded *throttle.ExceededResult, req *RequestProxy, resp *ResponseProxy) error

func cloneHTTPHeader(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for key, values := range in {
		newValues := make([]string, len(values))
		copy(newValues, values)
		out[key] = newValues
	}
	return out
}
