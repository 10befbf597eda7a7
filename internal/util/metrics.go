package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created in PENDING_PAYMENT",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of order creations that rolled back",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of orders cancelled for missing payment",
	})

	CancellationsScheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_cancellations_scheduled_total",
		Help: "Total number of deferred cancellations scheduled",
	})

	CancellationsRequeuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_cancellations_requeued_total",
		Help: "Total number of deferred cancellations re-queued after failure",
	})

	InventoryReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_reserve_latency_seconds",
		Help:    "Latency of inventory decrease operations including lock wait",
		Buckets: prometheus.DefBuckets,
	})

	InventoryReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_failed_total",
		Help: "Total number of failed inventory decreases",
	}, []string{"reason"})

	InventoryRestoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_restored_units_total",
		Help: "Total number of stock units restored",
	})

	LockAcquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lock_acquisitions_total",
		Help: "Distributed lock acquisitions by outcome",
	}, []string{"outcome"})

	LockWaitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lock_wait_seconds",
		Help:    "Time spent waiting for a distributed lock",
		Buckets: prometheus.DefBuckets,
	})

	LockReleasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lock_releases_total",
		Help: "Distributed lock releases by outcome",
	}, []string{"outcome"})

	PaymentAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment completion attempts",
	})

	PaymentCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_completed_total",
		Help: "Total number of completed payments",
	})

	PaymentFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_failed_total",
		Help: "Total number of failed payments",
	}, []string{"reason"})

	PaymentProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_processing_latency_seconds",
		Help:    "Latency of payment completion",
		Buckets: prometheus.DefBuckets,
	})

	CompensationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_compensation_failures_total",
		Help: "Compensation writes that failed and need manual reconciliation",
	})

	SalesAccumulationRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_accumulation_retries_total",
		Help: "Sales accumulation attempts that failed and were retried",
	})

	SalesAccumulationExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_accumulation_exhausted_total",
		Help: "Sales accumulations that exhausted retries and were dead-lettered",
	})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_published_total",
		Help: "Messages written to Kafka",
	}, []string{"topic", "status"})

	EventsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_consumed_total",
		Help: "Messages handled from Kafka",
	}, []string{"topic", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
