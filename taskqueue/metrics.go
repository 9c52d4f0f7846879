/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package taskqueue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const labelTaskType = "task_type"

// DefaultTaskDurationBuckets is default buckets for the task execution time histogram.
var DefaultTaskDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// MetricsCollector represents a collector of metrics of the queue.
type MetricsCollector interface {
	// IncEnqueued increments the number of enqueued tasks.
	IncEnqueued(taskType string)

	// IncCompleted increments the number of completed tasks and observes the execution time.
	IncCompleted(taskType string, duration time.Duration)

	// IncFailed increments the number of tasks failed after all retries.
	IncFailed(taskType string)

	// IncRetried increments the number of retried attempts.
	IncRetried(taskType string)

	// IncCleared increments the number of tasks rejected by Clear or Close.
	IncCleared(taskType string)

	// SetPending sets the number of tasks waiting for a slot or for a retry.
	SetPending(int)

	// SetRunning sets the number of running tasks.
	SetRunning(int)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// DurationBuckets is a list of buckets for the task execution time histogram.
	// DefaultTaskDurationBuckets is used by default.
	DurationBuckets []float64

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels

	// CurriedLabelNames is a list of label names that will be curried with the provided labels.
	// See PrometheusMetrics.MustCurryWith method for more details.
	// Keep in mind that if this list is not empty,
	// PrometheusMetrics.MustCurryWith method must be called further with the same labels.
	// Otherwise, the collector will panic.
	CurriedLabelNames []string
}

// PrometheusMetrics represents a Prometheus metrics for the queue.
type PrometheusMetrics struct {
	EnqueuedTotal  *prometheus.CounterVec
	CompletedTotal *prometheus.CounterVec
	FailedTotal    *prometheus.CounterVec
	RetriedTotal   *prometheus.CounterVec
	ClearedTotal   *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
	PendingTasks   *prometheus.GaugeVec
	RunningTasks   *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	buckets := opts.DurationBuckets
	if buckets == nil {
		buckets = DefaultTaskDurationBuckets
	}
	typeLabelNames := append(append(make([]string, 0, len(opts.CurriedLabelNames)+1), opts.CurriedLabelNames...), labelTaskType)

	makeCounter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: opts.ConstLabels,
		}, typeLabelNames)
	}
	makeGauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: opts.ConstLabels,
		}, opts.CurriedLabelNames)
	}

	return &PrometheusMetrics{
		EnqueuedTotal:  makeCounter("queue_tasks_enqueued_total", "Number of enqueued tasks."),
		CompletedTotal: makeCounter("queue_tasks_completed_total", "Number of completed tasks."),
		FailedTotal:    makeCounter("queue_tasks_failed_total", "Number of tasks failed after all retries."),
		RetriedTotal:   makeCounter("queue_task_retries_total", "Number of retried task attempts."),
		ClearedTotal:   makeCounter("queue_tasks_cleared_total", "Number of tasks removed from the queue before completion."),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "queue_task_duration_seconds",
			Help:        "Execution time of the successful task attempts.",
			Buckets:     buckets,
			ConstLabels: opts.ConstLabels,
		}, typeLabelNames),
		PendingTasks: makeGauge("queue_pending_tasks", "Number of tasks waiting for a slot or for a retry."),
		RunningTasks: makeGauge("queue_running_tasks", "Number of running tasks."),
	}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (pm *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{
		EnqueuedTotal:  pm.EnqueuedTotal.MustCurryWith(labels),
		CompletedTotal: pm.CompletedTotal.MustCurryWith(labels),
		FailedTotal:    pm.FailedTotal.MustCurryWith(labels),
		RetriedTotal:   pm.RetriedTotal.MustCurryWith(labels),
		ClearedTotal:   pm.ClearedTotal.MustCurryWith(labels),
		TaskDuration:   pm.TaskDuration.MustCurryWith(labels).(*prometheus.HistogramVec),
		PendingTasks:   pm.PendingTasks.MustCurryWith(labels),
		RunningTasks:   pm.RunningTasks.MustCurryWith(labels),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.EnqueuedTotal,
		pm.CompletedTotal,
		pm.FailedTotal,
		pm.RetriedTotal,
		pm.ClearedTotal,
		pm.TaskDuration,
		pm.PendingTasks,
		pm.RunningTasks,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.EnqueuedTotal)
	prometheus.Unregister(pm.CompletedTotal)
	prometheus.Unregister(pm.FailedTotal)
	prometheus.Unregister(pm.RetriedTotal)
	prometheus.Unregister(pm.ClearedTotal)
	prometheus.Unregister(pm.TaskDuration)
	prometheus.Unregister(pm.PendingTasks)
	prometheus.Unregister(pm.RunningTasks)
}

// IncEnqueued increments the number of enqueued tasks.
func (pm *PrometheusMetrics) IncEnqueued(taskType string) {
	pm.EnqueuedTotal.With(prometheus.Labels{labelTaskType: taskType}).Inc()
}

// IncCompleted increments the number of completed tasks and observes the execution time.
func (pm *PrometheusMetrics) IncCompleted(taskType string, duration time.Duration) {
	pm.CompletedTotal.With(prometheus.Labels{labelTaskType: taskType}).Inc()
	pm.TaskDuration.With(prometheus.Labels{labelTaskType: taskType}).Observe(duration.Seconds())
}

// IncFailed increments the number of tasks failed after all retries.
func (pm *PrometheusMetrics) IncFailed(taskType string) {
	pm.FailedTotal.With(prometheus.Labels{labelTaskType: taskType}).Inc()
}

// IncRetried increments the number of retried attempts.
func (pm *PrometheusMetrics) IncRetried(taskType string) {
	pm.RetriedTotal.With(prometheus.Labels{labelTaskType: taskType}).Inc()
}

// IncCleared increments the number of tasks rejected by Clear or Close.
func (pm *PrometheusMetrics) IncCleared(taskType string) {
	pm.ClearedTotal.With(prometheus.Labels{labelTaskType: taskType}).Inc()
}

// SetPending sets the number of tasks waiting for a slot or for a retry.
func (pm *PrometheusMetrics) SetPending(n int) {
	pm.PendingTasks.With(nil).Set(float64(n))
}

// SetRunning sets the number of running tasks.
func (pm *PrometheusMetrics) SetRunning(n int) {
	pm.RunningTasks.With(nil).Set(float64(n))
}

type disabledMetrics struct{}

func (disabledMetrics) IncEnqueued(string)                 {}
func (disabledMetrics) IncCompleted(string, time.Duration) {}
func (disabledMetrics) IncFailed(string)                   {}
func (disabledMetrics) IncRetried(string)                  {}
func (disabledMetrics) IncCleared(string)                  {}
func (disabledMetrics) SetPending(int)                     {}
func (disabledMetrics) SetRunning(int)                     {}

var disabledMetricsCollector = disabledMetrics{}
