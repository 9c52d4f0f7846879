/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package quota

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const labelQuery = "query"

// MetricsCollector represents a collector of metrics for rate-limited queries.
type MetricsCollector interface {
	// IncRetries increments the number of retried attempts of the query with the given label.
	IncRetries(label string)

	// IncRateLimited increments the number of queries failed because of rate limiting after all attempts.
	IncRateLimited(label string)

	// SetCooldown reflects the state of the quota exceeded signal.
	SetCooldown(active bool, retryAfter time.Duration)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents a Prometheus metrics for rate-limited queries.
type PrometheusMetrics struct {
	RetriesTotal       *prometheus.CounterVec
	RateLimitedTotal   *prometheus.CounterVec
	CooldownActive     prometheus.Gauge
	CooldownRetryAfter prometheus.Gauge
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	return &PrometheusMetrics{
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "quota_query_retries_total",
			Help:        "Number of retried attempts of rate-limited queries.",
			ConstLabels: opts.ConstLabels,
		}, []string{labelQuery}),
		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "quota_query_rate_limited_total",
			Help:        "Number of queries failed because of rate limiting after all attempts.",
			ConstLabels: opts.ConstLabels,
		}, []string{labelQuery}),
		CooldownActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "quota_cooldown_active",
			Help:        "1 if the quota exceeded signal is active, 0 otherwise.",
			ConstLabels: opts.ConstLabels,
		}),
		CooldownRetryAfter: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "quota_cooldown_retry_after_seconds",
			Help:        "Retry-after hint of the active quota exceeded signal (0 if unknown or inactive).",
			ConstLabels: opts.ConstLabels,
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.RetriesTotal, pm.RateLimitedTotal, pm.CooldownActive, pm.CooldownRetryAfter)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.RetriesTotal)
	prometheus.Unregister(pm.RateLimitedTotal)
	prometheus.Unregister(pm.CooldownActive)
	prometheus.Unregister(pm.CooldownRetryAfter)
}

// IncRetries increments the number of retried attempts.
func (pm *PrometheusMetrics) IncRetries(label string) {
	pm.RetriesTotal.WithLabelValues(label).Inc()
}

// IncRateLimited increments the number of rate-limited queries.
func (pm *PrometheusMetrics) IncRateLimited(label string) {
	pm.RateLimitedTotal.WithLabelValues(label).Inc()
}

// SetCooldown reflects the state of the quota exceeded signal.
func (pm *PrometheusMetrics) SetCooldown(active bool, retryAfter time.Duration) {
	if !active {
		pm.CooldownActive.Set(0)
		pm.CooldownRetryAfter.Set(0)
		return
	}
	pm.CooldownActive.Set(1)
	pm.CooldownRetryAfter.Set(retryAfter.Seconds())
}

type disabledMetrics struct{}

func (disabledMetrics) IncRetries(string)               {}
func (disabledMetrics) IncRateLimited(string)           {}
func (disabledMetrics) SetCooldown(bool, time.Duration) {}

var disabledMetricsCollector = disabledMetrics{}
