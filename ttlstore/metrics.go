/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package ttlstore

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector represents a collector of metrics to analyze how (effectively or not) the store is used.
type MetricsCollector interface {
	// SetAmount sets the total number of entries in the store.
	SetAmount(int)

	// IncHits increments the total number of successfully found keys.
	IncHits()

	// IncMisses increments the total number of not found (or expired) keys.
	IncMisses()

	// AddExpirations increments the total number of removed expired entries.
	AddExpirations(int)

	// IncWriteFailures increments the total number of rejected writes.
	IncWriteFailures()
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels

	// CurriedLabelNames is a list of label names that will be curried with the provided labels.
	// See PrometheusMetrics.MustCurryWith method for more details.
	CurriedLabelNames []string
}

// PrometheusMetrics represents a Prometheus metrics for the store.
type PrometheusMetrics struct {
	EntriesAmount      *prometheus.GaugeVec
	HitsTotal          *prometheus.CounterVec
	MissesTotal        *prometheus.CounterVec
	ExpirationsTotal   *prometheus.CounterVec
	WriteFailuresTotal *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	makeCounter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: opts.ConstLabels,
		}, opts.CurriedLabelNames)
	}
	return &PrometheusMetrics{
		EntriesAmount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "ttlstore_entries_amount",
			Help:        "Total number of entries in the store (updated on writes, sweeps and stats requests).",
			ConstLabels: opts.ConstLabels,
		}, opts.CurriedLabelNames),
		HitsTotal:          makeCounter("ttlstore_hits_total", "Number of successfully found keys in the store."),
		MissesTotal:        makeCounter("ttlstore_misses_total", "Number of not found or expired keys in the store."),
		ExpirationsTotal:   makeCounter("ttlstore_expirations_total", "Number of removed expired entries."),
		WriteFailuresTotal: makeCounter("ttlstore_write_failures_total", "Number of rejected writes."),
	}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (pm *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{
		EntriesAmount:      pm.EntriesAmount.MustCurryWith(labels),
		HitsTotal:          pm.HitsTotal.MustCurryWith(labels),
		MissesTotal:        pm.MissesTotal.MustCurryWith(labels),
		ExpirationsTotal:   pm.ExpirationsTotal.MustCurryWith(labels),
		WriteFailuresTotal: pm.WriteFailuresTotal.MustCurryWith(labels),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.EntriesAmount,
		pm.HitsTotal,
		pm.MissesTotal,
		pm.ExpirationsTotal,
		pm.WriteFailuresTotal,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.EntriesAmount)
	prometheus.Unregister(pm.HitsTotal)
	prometheus.Unregister(pm.MissesTotal)
	prometheus.Unregister(pm.ExpirationsTotal)
	prometheus.Unregister(pm.WriteFailuresTotal)
}

// SetAmount sets the total number of entries in the store.
func (pm *PrometheusMetrics) SetAmount(amount int) {
	pm.EntriesAmount.With(nil).Set(float64(amount))
}

// IncHits increments the total number of successfully found keys.
func (pm *PrometheusMetrics) IncHits() {
	pm.HitsTotal.With(nil).Inc()
}

// IncMisses increments the total number of not found keys.
func (pm *PrometheusMetrics) IncMisses() {
	pm.MissesTotal.With(nil).Inc()
}

// AddExpirations increments the total number of removed expired entries.
func (pm *PrometheusMetrics) AddExpirations(n int) {
	pm.ExpirationsTotal.With(nil).Add(float64(n))
}

// IncWriteFailures increments the total number of rejected writes.
func (pm *PrometheusMetrics) IncWriteFailures() {
	pm.WriteFailuresTotal.With(nil).Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) SetAmount(int)      {}
func (disabledMetrics) IncHits()           {}
func (disabledMetrics) IncMisses()         {}
func (disabledMetrics) AddExpirations(int) {}
func (disabledMetrics) IncWriteFailures()  {}

var disabledMetricsCollector = disabledMetrics{}
