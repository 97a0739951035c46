// internal/service/voucher/application/metrics.go
package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	admissionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seckill_admission_total",
		Help: "Admission decisions by outcome.",
	}, []string{"result"})

	admissionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "seckill_admission_duration_seconds",
		Help:    "Latency of the atomic admission script.",
		Buckets: prometheus.DefBuckets,
	})

	ordersPersistedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seckill_orders_persisted_total",
		Help: "Orders durably persisted by the background worker.",
	})

	recoveryRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seckill_recovery_retries_total",
		Help: "Retries performed by the pending-list recovery loop.",
	})

	deadLettersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seckill_dead_letters_total",
		Help: "Order records abandoned to the dead-letter topic.",
	})
)
