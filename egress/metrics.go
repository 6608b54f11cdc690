/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package egress

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector is an interface for collecting throttling metrics.
type MetricsCollector interface {
	// RequestThrottled increments the counter of requests rejected by the given rule.
	RequestThrottled(rule string)

	// RetryAttemptDone increments the counter of retry attempts performed after a backoff wait.
	RetryAttemptDone()

	// SignalPropagated increments the counter of throttled outcomes raised to the ingress pipeline.
	SignalPropagated()
}

// PrometheusMetricsCollector implements MetricsCollector on Prometheus counters.
type PrometheusMetricsCollector struct {
	ThrottledRequests *prometheus.CounterVec
	RetryAttempts     prometheus.Counter
	PropagatedSignals prometheus.Counter
}

// NewPrometheusMetricsCollector creates a new metrics collector.
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	return &PrometheusMetricsCollector{
		ThrottledRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "egress_throttled_requests_total",
			Help:      "Total number of outbound requests rejected by a throttling rule.",
		}, []string{"rule"}),
		RetryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "egress_throttle_retry_attempts_total",
			Help:      "Total number of retry attempts performed after a throttled outcome.",
		}),
		PropagatedSignals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "egress_throttle_propagated_signals_total",
			Help:      "Total number of throttled outcomes propagated to the ingress pipeline.",
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (c *PrometheusMetricsCollector) MustRegister() {
	prometheus.MustRegister(
		c.ThrottledRequests,
		c.RetryAttempts,
		c.PropagatedSignals,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (c *PrometheusMetricsCollector) Unregister() {
	prometheus.Unregister(c.ThrottledRequests)
	prometheus.Unregister(c.RetryAttempts)
	prometheus.Unregister(c.PropagatedSignals)
}

// RequestThrottled increments the counter of requests rejected by the given rule.
func (c *PrometheusMetricsCollector) RequestThrottled(rule string) {
	c.ThrottledRequests.WithLabelValues(rule).Inc()
}

// RetryAttemptDone increments the counter of retry attempts performed after a backoff wait.
func (c *PrometheusMetricsCollector) RetryAttemptDone() {
	c.RetryAttempts.Inc()
}

// SignalPropagated increments the counter of throttled outcomes raised to the ingress pipeline.
func (c *PrometheusMetricsCollector) SignalPropagated() {
	c.PropagatedSignals.Inc()
}
