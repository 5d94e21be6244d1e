// Package metrics exposes prometheus collectors for the billing core.
package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	JobReasonDeadlineExceeded = "deadline_exceeded"
	JobReasonConflict         = "conflict"
	JobReasonUnknown          = "unknown"
)

// Metrics captures billing and provisioning health signals.
type Metrics struct {
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobTimeouts *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec

	invoicesExpired        prometheus.Counter
	subscriptionsSuspended prometheus.Counter
	paymentsProcessed      *prometheus.CounterVec
	webhooksRejected       prometheus.Counter

	syncRuns     *prometheus.CounterVec
	syncFailures *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// Default returns the singleton metrics registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics(prometheus.DefaultRegisterer)
	})
	return metrics
}

// ResetForTest resets the singleton so tests can swap the default registerer.
func ResetForTest() {
	metricsOnce = sync.Once{}
	metrics = nil
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wispbill_scheduler_job_runs_total",
			Help: "Scheduler job runs by name.",
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wispbill_scheduler_job_duration_seconds",
			Help:    "Scheduler job latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wispbill_scheduler_job_timeouts_total",
			Help: "Scheduler jobs cut off by their deadline.",
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wispbill_scheduler_job_errors_total",
			Help: "Scheduler job errors by low-cardinality reason.",
		}, []string{"job", "reason"}),
		invoicesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wispbill_invoices_expired_total",
			Help: "Unpaid invoices expired by the overdue sweep.",
		}),
		subscriptionsSuspended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wispbill_subscriptions_suspended_total",
			Help: "Subscriptions suspended for non-payment.",
		}),
		paymentsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wispbill_payments_processed_total",
			Help: "Invoices marked paid by source.",
		}, []string{"source"}),
		webhooksRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wispbill_webhooks_rejected_total",
			Help: "Gateway callbacks rejected for bad or mismatched tokens.",
		}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wispbill_provisioning_sync_total",
			Help: "Provisioning sync attempts by outcome.",
		}, []string{"outcome"}),
		syncFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wispbill_provisioning_sync_failures_total",
			Help: "Provisioning sync failures by reason.",
		}, []string{"reason"}),
	}

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.invoicesExpired,
		m.subscriptionsSuspended,
		m.paymentsProcessed,
		m.webhooksRejected,
		m.syncRuns,
		m.syncFailures,
	)
	return m
}

func (m *Metrics) IncJobRun(job string) {
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *Metrics) ObserveJobDuration(job string, d time.Duration) {
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) IncJobTimeout(job string) {
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *Metrics) IncJobError(job string, err error) {
	m.jobErrors.WithLabelValues(job, classifyJobReason(err)).Inc()
}

func (m *Metrics) AddInvoicesExpired(n int) {
	m.invoicesExpired.Add(float64(n))
}

func (m *Metrics) AddSubscriptionsSuspended(n int) {
	m.subscriptionsSuspended.Add(float64(n))
}

func (m *Metrics) IncPaymentProcessed(source string) {
	m.paymentsProcessed.WithLabelValues(source).Inc()
}

func (m *Metrics) IncWebhookRejected() {
	m.webhooksRejected.Inc()
}

func (m *Metrics) IncSyncRun(outcome string) {
	m.syncRuns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncSyncFailure(reason string) {
	m.syncFailures.WithLabelValues(reason).Inc()
}

// RegisterQueueStats exposes the outbound gateway queue's state as gauges.
// snapshot returns pending, processing, completed and failed counts.
func RegisterQueueStats(registerer prometheus.Registerer, snapshot func() (int, int, int, int)) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	gauge := func(name, help string, pick func(p, pr, c, f int) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return float64(pick(snapshot()))
		})
	}
	registerer.MustRegister(
		gauge("wispbill_gateway_queue_pending", "Gateway queue items waiting for dispatch.", func(p, _, _, _ int) int { return p }),
		gauge("wispbill_gateway_queue_processing", "Gateway queue items in flight.", func(_, pr, _, _ int) int { return pr }),
		gauge("wispbill_gateway_queue_completed", "Gateway queue items completed.", func(_, _, c, _ int) int { return c }),
		gauge("wispbill_gateway_queue_failed", "Gateway queue items awaiting manual retry.", func(_, _, _, f int) int { return f }),
	)
}

func classifyJobReason(err error) string {
	switch {
	case err == nil:
		return JobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return JobReasonDeadlineExceeded
	default:
		return JobReasonUnknown
	}
}
