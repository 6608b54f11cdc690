/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package egress

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/acronis/go-egressthrottle/log"
	"github.com/acronis/go-egressthrottle/retry"
	"github.com/acronis/go-egressthrottle/throttle"
)

// DefaultBackoffInterval is a wait time before the next retry attempt
// when the response carries no parseable Retry-After value.
const DefaultBackoffInterval = 5 * time.Second

// RetryAttemptNumberHeader is an HTTP header name that will contain the serial number of the retry attempt.
const RetryAttemptNumberHeader = "X-Retry-Attempt"

// DefaultBackoffPolicy is used when ThrottlingRoundTripperOpts.BackoffPolicy is not specified.
var DefaultBackoffPolicy = retry.NewConstantBackoffPolicy(DefaultBackoffInterval, 0)

// ThrottlingRoundTripper wraps an object that implements http.RoundTripper interface
// and enforces admission control on outgoing HTTP requests.
type ThrottlingRoundTripper struct {
	// Delegate is the next http.RoundTripper in the chain, used for forwarding admitted requests.
	Delegate http.RoundTripper

	// Evaluator decides whether a configured limit is currently exceeded for the request.
	// Evaluator failures are logged and treated as "not limited", so that an evaluator
	// outage does not block all egress traffic.
	Evaluator throttle.Evaluator

	// ConfigProvider supplies the active throttling config. Its propagation flag is read
	// once per call. May be nil; propagation to ingress is then disabled.
	ConfigProvider *throttle.ConfigProvider

	// ResponseFabric is an optional hook invoked on each "too many requests" outcome.
	// It may request a retry or substitute the final response.
	ResponseFabric ResponseFabricFunc

	// BackoffPolicy computes wait time before the next retry attempt when the response
	// carries no parseable Retry-After value. DefaultBackoffPolicy is used by default.
	BackoffPolicy retry.Policy

	// Logger is used for logging.
	// When it's necessary to use context-specific logger, LoggerProvider should be used instead.
	Logger log.FieldLogger

	// LoggerProvider is a function that provides a context-specific logger.
	LoggerProvider func(ctx context.Context) log.FieldLogger

	// Collector is a metrics collector. May be nil; metrics are then disabled.
	Collector MetricsCollector
}

// ThrottlingRoundTripperOpts represents options for ThrottlingRoundTripper.
type ThrottlingRoundTripperOpts struct {
	// ConfigProvider supplies the active throttling config.
	// Its background reload task (if any) is started by the constructor
	// and stopped by ThrottlingRoundTripper.Close.
	ConfigProvider *throttle.ConfigProvider

	// ResponseFabric is an optional hook invoked on each "too many requests" outcome.
	ResponseFabric ResponseFabricFunc

	// BackoffPolicy computes wait time before the next retry attempt when the response
	// carries no parseable Retry-After value. DefaultBackoffPolicy is used by default.
	BackoffPolicy retry.Policy

	// Logger is used for logging.
	Logger log.FieldLogger

	// LoggerProvider is a function that provides a context-specific logger.
	LoggerProvider func(ctx context.Context) log.FieldLogger

	// Collector is a metrics collector.
	Collector MetricsCollector
}

// NewThrottlingRoundTripper returns a new instance of ThrottlingRoundTripper.
func NewThrottlingRoundTripper(delegate http.RoundTripper, evaluator throttle.Evaluator) *ThrottlingRoundTripper {
	return NewThrottlingRoundTripperWithOpts(delegate, evaluator, ThrottlingRoundTripperOpts{})
}

// NewThrottlingRoundTripperWithOpts creates a new instance of ThrottlingRoundTripper with specified options.
func NewThrottlingRoundTripperWithOpts(
	delegate http.RoundTripper, evaluator throttle.Evaluator, opts ThrottlingRoundTripperOpts,
) *ThrottlingRoundTripper {
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.BackoffPolicy == nil {
		opts.BackoffPolicy = DefaultBackoffPolicy
	}
	if opts.ConfigProvider != nil {
		opts.ConfigProvider.Start()
	}
	return &ThrottlingRoundTripper{
		Delegate:       delegate,
		Evaluator:      evaluator,
		ConfigProvider: opts.ConfigProvider,
		ResponseFabric: opts.ResponseFabric,
		BackoffPolicy:  opts.BackoffPolicy,
		Logger:         opts.Logger,
		LoggerProvider: opts.LoggerProvider,
		Collector:      opts.Collector,
	}
}

// Close stops the background reload task of the bound ConfigProvider.
// The round tripper itself keeps no other resources.
func (rt *ThrottlingRoundTripper) Close() {
	if rt.ConfigProvider != nil {
		rt.ConfigProvider.Stop()
	}
}

// RoundTrip evaluates throttling limits for the request, forwards it or synthesizes
// a "429 Too Many Requests" response, lets the Response Fabric hook customize the outcome
// and retry with a cancellable backoff wait, and finally either returns the settled
// response or raises throttle.TooManyRequestsError when propagation to ingress is enabled.
// nolint: gocyclo
func (rt *ThrottlingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	reqCtx := req.Context()

	cfg, err := rt.currentConfig(reqCtx)
	if err != nil {
		return nil, err
	}
	propagate := cfg != nil && cfg.PropagateToIngress

	rewindReqBody := func(r *http.Request) error { return nil }
	if req.Body != nil {
		originalReqBody := req.Body
		defer func() {
			_ = originalReqBody.Close() // Per RoundTripper contract.
		}()

		rewindReqBody, err = makeRequestBodyRewindable(req)
		if err != nil {
			return nil, err
		}
	}

	getNextWaitTime := rt.makeNextWaitTimeProvider()
	reqCloned := false
	retryCount := 0

	var resp *http.Response
	for {
		if retryCount > 0 {
			if rewindErr := rewindReqBody(req); rewindErr != nil {
				rt.logger(reqCtx).Error("failed to rewind request body between retry attempts",
					log.Error(rewindErr))
				break
			}
			if !reqCloned {
				req, reqCloned = req.Clone(reqCtx), true // Per RoundTripper contract.
			}
			req.Header.Set(RetryAttemptNumberHeader, strconv.Itoa(retryCount))
		}

		exceeded := rt.evaluate(reqCtx, req)
		if exceeded == nil {
			var roundTripErr error
			resp, roundTripErr = rt.Delegate.RoundTrip(req)
			if roundTripErr != nil {
				return resp, roundTripErr
			}
		} else {
			rt.logger(reqCtx).Info("egress request throttled",
				log.String("rule", exceeded.Rule),
				log.String("throttle_key", exceeded.Key),
				log.Int("retry_count", retryCount))
			if rt.Collector != nil {
				rt.Collector.RequestThrottled(exceeded.Rule)
			}
			resp = NewTooManyRequestsResponse(req, exceeded)
		}

		if resp.StatusCode != http.StatusTooManyRequests || rt.ResponseFabric == nil {
			break
		}

		respProxy := newResponseProxy(resp, retryCount)
		if fabricErr := rt.ResponseFabric(reqCtx, exceeded, newRequestProxy(req), respProxy); fabricErr != nil {
			rt.drainResponseBody(reqCtx, resp)
			return nil, fabricErr
		}

		if !respProxy.shouldRetry {
			if respProxy.replacement != nil {
				rt.drainResponseBody(reqCtx, resp)
				resp = respProxy.replacement
			}
			break
		}

		waitTime, stop := getNextWaitTime(resp)
		if stop {
			rt.logger(reqCtx).Warnf("backoff policy stopped retrying, %d request attempt(s) done", retryCount+1)
			break
		}
		rt.drainResponseBody(reqCtx, resp)

		if waitErr := rt.waitBeforeRetry(reqCtx, waitTime, retryCount); waitErr != nil {
			return nil, waitErr
		}
		retryCount++
		if rt.Collector != nil {
			rt.Collector.RetryAttemptDone()
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests && propagate {
		signal := &throttle.TooManyRequestsError{RetryAfterHeaderValue: resp.Header.Get("Retry-After")}
		if receiver := throttle.ReceiverFromContext(reqCtx); receiver != nil {
			receiver.Deliver(signal)
		}
		rt.drainResponseBody(reqCtx, resp)
		if rt.Collector != nil {
			rt.Collector.SignalPropagated()
		}
		rt.logger(reqCtx).Info("egress throttling decision propagated to ingress",
			log.String("retry_after", signal.RetryAfterHeaderValue))
		return nil, signal
	}
	return resp, nil
}

func (rt *ThrottlingRoundTripper) currentConfig(ctx context.Context) (*throttle.Config, error) {
	if rt.ConfigProvider == nil {
		return nil, nil
	}
	return rt.ConfigProvider.GetCurrent(ctx)
}

func (rt *ThrottlingRoundTripper) evaluate(ctx context.Context, req *http.Request) *throttle.ExceededResult {
	if rt.Evaluator == nil {
		return nil
	}
	exceeded, err := rt.Evaluator.Evaluate(ctx, req)
	if err != nil {
		rt.logger(ctx).Warn("failed to evaluate throttling limits, request is allowed to proceed",
			log.Error(err))
		return nil
	}
	return exceeded
}

// waitBeforeRetry sleeps for the computed backoff duration. Cancellation is observed
// both before committing to the wait and immediately after waking.
func (rt *ThrottlingRoundTripper) waitBeforeRetry(ctx context.Context, waitTime time.Duration, doneAttempts int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timer := time.NewTimer(waitTime)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		rt.logger(ctx).Warnf("context canceled (%v) while waiting for the next retry attempt, %d request(s) done",
			ctx.Err(), doneAttempts+1)
		return ctx.Err()
	case <-timer.C:
	}

	return ctx.Err()
}

type waitTimeProvider func(resp *http.Response) (waitTime time.Duration, stop bool)

func (rt *ThrottlingRoundTripper) makeNextWaitTimeProvider() waitTimeProvider {
	var bf backoff.BackOff
	return func(resp *http.Response) (waitTime time.Duration, stop bool) {
		if retryAfter, ok := retryAfterFromResponse(resp); ok {
			return retryAfter, false
		}
		if bf == nil {
			bf = rt.BackoffPolicy.NewBackOff()
		}
		waitTime = bf.NextBackOff()
		return waitTime, waitTime == backoff.Stop
	}
}

func (rt *ThrottlingRoundTripper) drainResponseBody(ctx context.Context, resp *http.Response) {
	if resp.Body == nil {
		return
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			rt.logger(ctx).Error("failed to close previous response body between retry attempts", log.Error(closeErr))
		}
	}()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		rt.logger(ctx).Error("failed to discard previous response body between retry attempts", log.Error(err))
	}
}

func (rt *ThrottlingRoundTripper) logger(ctx context.Context) log.FieldLogger {
	if rt.LoggerProvider != nil {
		return rt.LoggerProvider(ctx)
	}
	return rt.Logger
}

// retryAfterFromResponse computes the backoff wait time from the response's Retry-After value.
// An integer is a delta in seconds; an HTTP date is an absolute moment
// (a moment in the past means no wait).
func retryAfterFromResponse(resp *http.Response) (retryAfter time.Duration, ok bool) {
	retryAfterVal := resp.Header.Get("Retry-After")
	if retryAfterVal == "" {
		return 0, false
	}

	if secs, secsOK := parseRetryAfterSeconds(retryAfterVal); secsOK {
		return time.Duration(secs) * time.Second, true
	}
	if t, dateOK := parseRetryAfterDate(retryAfterVal); dateOK {
		if until := time.Until(t); until > 0 {
			return until, true
		}
		return 0, true
	}
	return 0, false
}

// makeRequestBodyRewindable prepares a request body for potential retries.
// It prefers http.Request.GetBody, falls back to seeking when the body is an io.ReadSeeker,
// and buffers the entire body in memory as a last resort (unsuitable for very large uploads).
func makeRequestBodyRewindable(req *http.Request) (func(*http.Request) error, error) {
	if req.GetBody != nil {
		initialBody, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("get body before doing first request: %w", err)
		}
		req.Body = initialBody
		return func(r *http.Request) error {
			newBody, newBodyErr := r.GetBody()
			if newBodyErr != nil {
				return fmt.Errorf("get body for retry: %w", newBodyErr)
			}
			r.Body = newBody
			return nil
		}, nil
	}

	if reqBodySeeker, ok := req.Body.(io.ReadSeeker); ok {
		reqBodySeekOffset, err := reqBodySeeker.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, fmt.Errorf("seek request body before doing first request: %w", err)
		}
		req.Body = io.NopCloser(req.Body)
		return func(r *http.Request) error {
			if _, seekErr := reqBodySeeker.Seek(reqBodySeekOffset, io.SeekStart); seekErr != nil {
				return fmt.Errorf("seek request body (offset=%d) for retry: %w", reqBodySeekOffset, seekErr)
			}
			return nil
		}, nil
	}

	bufferedReqBody, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read all request body before doing first request: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(bufferedReqBody))
	return func(r *http.Request) error {
		r.Body = io.NopCloser(bytes.NewReader(bufferedReqBody))
		return nil
	}, nil
}
