package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the Prometheus collectors for the order-processing
// core. A single instance is constructed in main and threaded through
// component constructors, mirroring the no-global-state directive
// applied to the logger.
type Metrics struct {
	OrdersCreatedTotal   prometheus.Counter
	OrdersConfirmedTotal prometheus.Counter
	OrdersFailedTotal    *prometheus.CounterVec

	StockReserveLatency         prometheus.Histogram
	StockReservationsFailed     *prometheus.CounterVec
	StockCompensationFailures   prometheus.Counter
	StockVersionConflictRetries prometheus.Counter

	QueueJobsWaiting   prometheus.Gauge
	QueueJobsActive    prometheus.Gauge
	QueueJobsRetried   prometheus.Counter
	QueueJobsDeadLettered prometheus.Counter
	QueueJobsStalled     prometheus.Counter
	QueueDispatchLatency  prometheus.Histogram

	PaymentAttemptsTotal prometheus.Counter
	PaymentFailedTotal   prometheus.Counter

	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec
}

// NewMetrics registers all collectors against the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		OrdersCreatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders created as PENDING.",
		}),
		OrdersConfirmedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orders_confirmed_total",
			Help: "Total number of orders that reached CONFIRMED.",
		}),
		OrdersFailedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_failed_total",
			Help: "Total number of orders that reached FAILED, by reason.",
		}, []string{"reason"}),

		StockReserveLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stock_reserve_latency_seconds",
			Help:    "Latency of stock reservation CAS attempts, including internal version-conflict retries.",
			Buckets: prometheus.DefBuckets,
		}),
		StockReservationsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_reservations_failed_total",
			Help: "Total number of failed stock reservations, by reason.",
		}, []string{"reason"}),
		StockCompensationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stock_compensation_failures_total",
			Help: "Total number of failed compensating releases after a reserved order failed downstream. Each occurrence requires operator reconciliation.",
		}),
		StockVersionConflictRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stock_version_conflict_retries_total",
			Help: "Total number of CAS retries triggered by a lost version race.",
		}),

		QueueJobsWaiting: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "queue_jobs_waiting",
			Help: "Current number of jobs waiting for dispatch.",
		}),
		QueueJobsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "queue_jobs_active",
			Help: "Current number of jobs leased to a worker.",
		}),
		QueueJobsRetried: promauto.NewCounter(prometheus.CounterOpts{
			Name: "queue_jobs_retried_total",
			Help: "Total number of jobs rescheduled after a transient handler failure.",
		}),
		QueueJobsDeadLettered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "queue_jobs_dead_lettered_total",
			Help: "Total number of jobs that reached the failed state.",
		}),
		QueueJobsStalled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "queue_jobs_stalled_total",
			Help: "Total number of active jobs recovered by the stall reaper.",
		}),
		QueueDispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "queue_dispatch_latency_seconds",
			Help:    "Time a job spent waiting before being dispatched to a worker.",
			Buckets: prometheus.DefBuckets,
		}),

		PaymentAttemptsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "payment_attempts_total",
			Help: "Total number of payment side-effect invocations.",
		}),
		PaymentFailedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "payment_failed_total",
			Help: "Total number of payment side-effect failures.",
		}),

		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
	}
}
