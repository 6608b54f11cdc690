/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package egress provides an HTTP transport that enforces admission control on outbound requests.
//
// ThrottlingRoundTripper wraps a delegate http.RoundTripper and consults a throttle.Evaluator
// before forwarding each request. Exceeded limits are converted into standardized
// "429 Too Many Requests" responses with a Retry-After hint. A user-supplied Response Fabric
// hook can customize the throttled response or request another attempt after a cancellable
// backoff wait. When propagation to ingress is enabled in the active configuration,
// a final throttled outcome is raised as throttle.TooManyRequestsError instead of
// being returned as a response, so the inbound pipeline can answer its own caller coherently.
package egress
