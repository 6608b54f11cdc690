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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-egressthrottle/log"
	"github.com/acronis/go-egressthrottle/log/logtest"
	"github.com/acronis/go-egressthrottle/retry"
	"github.com/acronis/go-egressthrottle/throttle"
)

type mockDelegate struct {
	mu            sync.Mutex
	statuses      []int
	retryAfters   []string
	callsCount    int
	retryAttempts []string
	bodies        []string
}

func (d *mockDelegate) RoundTrip(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.retryAttempts = append(d.retryAttempts, req.Header.Get(RetryAttemptNumberHeader))
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		d.bodies = append(d.bodies, string(b))
	}

	status := http.StatusOK
	if d.callsCount < len(d.statuses) {
		status = d.statuses[d.callsCount]
	}
	header := make(http.Header)
	if d.callsCount < len(d.retryAfters) && d.retryAfters[d.callsCount] != "" {
		header.Set("Retry-After", d.retryAfters[d.callsCount])
	}
	d.callsCount++

	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader("hi")),
		Request:    req,
	}, nil
}

func (d *mockDelegate) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.callsCount
}

func alwaysExceeded(result throttle.ExceededResult) throttle.Evaluator {
	return throttle.EvaluatorFunc(func(ctx context.Context, r *http.Request) (*throttle.ExceededResult, error) {
		res := result
		return &res, nil
	})
}

func neverExceeded() throttle.Evaluator {
	return throttle.EvaluatorFunc(func(ctx context.Context, r *http.Request) (*throttle.ExceededResult, error) {
		return nil, nil
	})
}

func TestThrottlingRoundTripperForwardsAllowedRequest(t *testing.T) {
	delegate := &mockDelegate{}
	rt := NewThrottlingRoundTripper(delegate, neverExceeded())

	req, err := http.NewRequest(http.MethodGet, "https://example.com/hello", http.NoBody)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, delegate.calls())
	require.Equal(t, []string{""}, delegate.retryAttempts)
}

func TestThrottlingRoundTripperSynthesizesResponse(t *testing.T) {
	retryAt := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)

	tests := []struct {
		name            string
		retryAfterValue string
		wantHeader      string
		wantBodyPart    string
	}{
		{
			name:            "delta seconds",
			retryAfterValue: "42",
			wantHeader:      "42",
			wantBodyPart:    "Retry after 42 second(s)",
		},
		{
			name:            "http date",
			retryAfterValue: retryAt,
			wantHeader:      retryAt,
			wantBodyPart:    "Retry after " + retryAt,
		},
		{
			name:            "unparseable value, header omitted",
			retryAfterValue: "in a while",
			wantHeader:      "",
			wantBodyPart:    "Too many requests.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delegate := &mockDelegate{}
			rt := NewThrottlingRoundTripper(delegate, alwaysExceeded(throttle.ExceededResult{
				Rule: "per-host", Key: "example.com", RetryAfterValue: tt.retryAfterValue,
			}))

			req, err := http.NewRequest(http.MethodGet, "https://example.com/hello", http.NoBody)
			require.NoError(t, err)
			resp, err := rt.RoundTrip(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
			require.Equal(t, tt.wantHeader, resp.Header.Get("Retry-After"))
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			require.Contains(t, string(body), tt.wantBodyPart)
			require.Equal(t, 0, delegate.calls())
		})
	}
}

func TestThrottlingRoundTripperEvaluatorFailureAllowsRequest(t *testing.T) {
	logRecorder := logtest.NewRecorder()
	delegate := &mockDelegate{}
	failingEvaluator := throttle.EvaluatorFunc(func(ctx context.Context, r *http.Request) (*throttle.ExceededResult, error) {
		return nil, fmt.Errorf("backend unavailable")
	})
	rt := NewThrottlingRoundTripperWithOpts(delegate, failingEvaluator, ThrottlingRoundTripperOpts{Logger: logRecorder})

	req, err := http.NewRequest(http.MethodGet, "https://example.com/hello", http.NoBody)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, delegate.calls())
	loggedEntry, found := logRecorder.FindEntry("failed to evaluate throttling limits, request is allowed to proceed")
	require.True(t, found)
	require.Equal(t, log.LevelWarn, loggedEntry.Level)
}

func TestThrottlingRoundTripperFabricRetries(t *testing.T) {
	var evaluateCalls int
	evaluator := throttle.EvaluatorFunc(func(ctx context.Context, r *http.Request) (*throttle.ExceededResult, error) {
		evaluateCalls++
		if evaluateCalls == 1 {
			return &throttle.ExceededResult{Rule: "per-host", RetryAfterValue: "0"}, nil
		}
		return nil, nil
	})

	var fabricCalls int
	fabric := func(ctx context.Context, exceeded *throttle.ExceededResult, req *RequestProxy, resp *ResponseProxy) error {
		fabricCalls++
		require.NotNil(t, exceeded)
		require.Equal(t, "per-host", exceeded.Rule)
		require.Equal(t, http.MethodPost, req.Method())
		if resp.RetryCount() == 0 {
			resp.SetShouldRetry(true)
		}
		return nil
	}

	delegate := &mockDelegate{}
	rt := NewThrottlingRoundTripperWithOpts(delegate, evaluator, ThrottlingRoundTripperOpts{ResponseFabric: fabric})

	req, err := http.NewRequest(http.MethodPost, "https://example.com/hello", bytes.NewReader([]byte("payload")))
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, fabricCalls)
	require.Equal(t, 1, delegate.calls())
	require.Equal(t, []string{"1"}, delegate.retryAttempts)
	require.Equal(t, []string{"payload"}, delegate.bodies)
}

func TestThrottlingRoundTripperFabricRetriesDownstreamResponse(t *testing.T) {
	delegate := &mockDelegate{
		statuses:    []int{http.StatusTooManyRequests, http.StatusOK},
		retryAfters: []string{"0", ""},
	}
	fabric := func(ctx context.Context, exceeded *throttle.ExceededResult, req *RequestProxy, resp *ResponseProxy) error {
		require.Nil(t, exceeded) // The 429 came from the downstream service.
		resp.SetShouldRetry(resp.RetryCount() == 0)
		return nil
	}
	rt := NewThrottlingRoundTripperWithOpts(delegate, neverExceeded(), ThrottlingRoundTripperOpts{ResponseFabric: fabric})

	req, err := http.NewRequest(http.MethodPost, "https://example.com/hello", bytes.NewReader([]byte("payload")))
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 2, delegate.calls())
	require.Equal(t, []string{"", "1"}, delegate.retryAttempts)
	require.Equal(t, []string{"payload", "payload"}, delegate.bodies)
}

func TestThrottlingRoundTripperFabricReplacesResponse(t *testing.T) {
	replacement := &http.Response{
		StatusCode: http.StatusServiceUnavailable,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("try later")),
	}
	fabric := func(ctx context.Context, exceeded *throttle.ExceededResult, req *RequestProxy, resp *ResponseProxy) error {
		resp.SetReplacementResponse(replacement)
		return nil
	}
	delegate := &mockDelegate{}
	rt := NewThrottlingRoundTripperWithOpts(delegate, alwaysExceeded(throttle.ExceededResult{
		Rule: "per-host", RetryAfterValue: "5",
	}), ThrottlingRoundTripperOpts{ResponseFabric: fabric})

	req, err := http.NewRequest(http.MethodGet, "https://example.com/hello", http.NoBody)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Same(t, replacement, resp)
	require.Equal(t, 0, delegate.calls())
}

func TestThrottlingRoundTripperFabricErrorIsReturned(t *testing.T) {
	wantErr := fmt.Errorf("fabric exploded")
	fabric := func(ctx context.Context, exceeded *throttle.ExceededResult, req *RequestProxy, resp *ResponseProxy) error {
		return wantErr
	}
	rt := NewThrottlingRoundTripperWithOpts(&mockDelegate{}, alwaysExceeded(throttle.ExceededResult{
		Rule: "per-host", RetryAfterValue: "5",
	}), ThrottlingRoundTripperOpts{ResponseFabric: fabric})

	req, err := http.NewRequest(http.MethodGet, "https://example.com/hello", http.NoBody)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.ErrorIs(t, err, wantErr)
	require.Nil(t, resp)
}

func TestThrottlingRoundTripperPropagatesToIngress(t *testing.T) {
	provider := throttle.NewStaticConfigProvider(&throttle.Config{PropagateToIngress: true})
	rt := NewThrottlingRoundTripperWithOpts(&mockDelegate{}, alwaysExceeded(throttle.ExceededResult{
		Rule: "per-host", RetryAfterValue: "7",
	}), ThrottlingRoundTripperOpts{ConfigProvider: provider})
	defer rt.Close()

	ctx, receiver := throttle.ContextWithReceiver(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://example.com/hello", http.NoBody)
	require.NoError(t, err)

	resp, err := rt.RoundTrip(req)
	require.Nil(t, resp)
	tmrErr, ok := throttle.AsTooManyRequestsError(err)
	require.True(t, ok)
	require.Equal(t, "7", tmrErr.RetryAfterHeaderValue)

	signal := receiver.Signal()
	require.NotNil(t, signal)
	require.Equal(t, "7", signal.RetryAfterHeaderValue)
}

func TestThrottlingRoundTripperPropagatesDownstreamTooManyRequests(t *testing.T) {
	provider := throttle.NewStaticConfigProvider(&throttle.Config{PropagateToIngress: true})
	delegate := &mockDelegate{
		statuses:    []int{http.StatusTooManyRequests},
		retryAfters: []string{"11"},
	}
	rt := NewThrottlingRoundTripperWithOpts(delegate, neverExceeded(), ThrottlingRoundTripperOpts{ConfigProvider: provider})
	defer rt.Close()

	req, err := http.NewRequest(http.MethodGet, "https://example.com/hello", http.NoBody)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.Nil(t, resp)
	tmrErr, ok := throttle.AsTooManyRequestsError(err)
	require.True(t, ok)
	require.Equal(t, "11", tmrErr.RetryAfterHeaderValue)
}

func TestThrottlingRoundTripperWaitIsCancelable(t *testing.T) {
	fabric := func(ctx context.Context, exceeded *throttle.ExceededResult, req *RequestProxy, resp *ResponseProxy) error {
		resp.SetShouldRetry(true)
		return nil
	}
	rt := NewThrottlingRoundTripperWithOpts(&mockDelegate{}, alwaysExceeded(throttle.ExceededResult{
		Rule: "per-host", RetryAfterValue: "unparseable",
	}), ThrottlingRoundTripperOpts{
		ResponseFabric: fabric,
		BackoffPolicy:  retry.NewConstantBackoffPolicy(time.Hour, 0),
	})

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://example.com/hello", http.NoBody)
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	resp, err := rt.RoundTrip(req)
	require.Nil(t, resp)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestThrottlingRoundTripperBackoffStopEndsRetries(t *testing.T) {
	fabric := func(ctx context.Context, exceeded *throttle.ExceededResult, req *RequestProxy, resp *ResponseProxy) error {
		resp.SetShouldRetry(true)
		return nil
	}
	rt := NewThrottlingRoundTripperWithOpts(&mockDelegate{}, alwaysExceeded(throttle.ExceededResult{
		Rule: "per-host", RetryAfterValue: "unparseable",
	}), ThrottlingRoundTripperOpts{
		ResponseFabric: fabric,
		BackoffPolicy:  retry.NewConstantBackoffPolicy(time.Millisecond, 2),
	})

	req, err := http.NewRequest(http.MethodGet, "https://example.com/hello", http.NoBody)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
