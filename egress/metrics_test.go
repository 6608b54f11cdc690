/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package egress

import (
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-egressthrottle/throttle"
)

func TestPrometheusMetricsCollector(t *testing.T) {
	collector := NewPrometheusMetricsCollector("test")
	collector.MustRegister()
	defer collector.Unregister()

	rt := NewThrottlingRoundTripperWithOpts(&mockDelegate{}, alwaysExceeded(throttle.ExceededResult{
		Rule: "per-host", RetryAfterValue: "5",
	}), ThrottlingRoundTripperOpts{Collector: collector})

	req, err := http.NewRequest(http.MethodGet, "https://example.com/hello", http.NoBody)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, 1, int(testutil.ToFloat64(collector.ThrottledRequests.WithLabelValues("per-host"))))
	require.Equal(t, 0, int(testutil.ToFloat64(collector.RetryAttempts)))
	require.Equal(t, 0, int(testutil.ToFloat64(collector.PropagatedSignals)))
}

func TestPrometheusMetricsCollectorCountsPropagation(t *testing.T) {
	collector := NewPrometheusMetricsCollector("test2")
	collector.MustRegister()
	defer collector.Unregister()

	provider := throttle.NewStaticConfigProvider(&throttle.Config{PropagateToIngress: true})
	rt := NewThrottlingRoundTripperWithOpts(&mockDelegate{}, alwaysExceeded(throttle.ExceededResult{
		Rule: "per-host", RetryAfterValue: "5",
	}), ThrottlingRoundTripperOpts{ConfigProvider: provider, Collector: collector})
	defer rt.Close()

	req, err := http.NewRequest(http.MethodGet, "https://example.com/hello", http.NoBody)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	_, isThrottled := throttle.AsTooManyRequestsError(err)
	require.True(t, isThrottled)

	require.Equal(t, 1, int(testutil.ToFloat64(collector.PropagatedSignals)))
}
