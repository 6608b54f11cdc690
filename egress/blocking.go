/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package egress

import (
	"net/http"
)

// BlockingClient runs each request through a throttling transport on its own goroutine
// and blocks the caller until the outcome settles or the request context is canceled.
// It exists for call sites that must not hold the calling goroutine hostage to a
// backoff wait longer than their own deadline; plain callers should use an http.Client
// with ThrottlingRoundTripper as its Transport instead.
type BlockingClient struct {
	// Transport performs the request. Usually a *ThrottlingRoundTripper.
	Transport http.RoundTripper
}

// NewBlockingClient returns a new BlockingClient over the given transport.
func NewBlockingClient(transport http.RoundTripper) *BlockingClient {
	return &BlockingClient{Transport: transport}
}

type roundTripResult struct {
	resp *http.Response
	err  error
}

// Do performs the request and waits for the result.
// When the request context is canceled first, Do returns the context error immediately;
// the in-flight attempt keeps running until the transport observes the cancellation,
// and its response body (if any) is closed on completion.
func (c *BlockingClient) Do(req *http.Request) (*http.Response, error) {
	resultCh := make(chan roundTripResult, 1)
	go func() {
		resp, err := c.Transport.RoundTrip(req)
		resultCh <- roundTripResult{resp: resp, err: err}
	}()

	select {
	case res := <-resultCh:
		return res.resp, res.err
	case <-req.Context().Done():
		go func() {
			res := <-resultCh
			if res.resp != nil && res.resp.Body != nil {
				_ = res.resp.Body.Close()
			}
		}()
		return nil, req.Context().Err()
	}
}
