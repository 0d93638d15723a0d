package queue

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	queueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "apptrack_queue_size",
		Help: "Current number of delivery strings in the request queue",
	})

	queueCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "apptrack_queue_capacity",
		Help: "Maximum number of delivery strings held by the request queue",
	})

	queueEnqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apptrack_queue_enqueued_total",
		Help: "Total number of delivery strings enqueued",
	})

	queueEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apptrack_queue_evicted_total",
		Help: "Total number of oldest entries evicted because the queue was full",
	})

	queueDeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apptrack_queue_delivered_total",
		Help: "Total number of entries removed after confirmed delivery",
	})

	queuePersistedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apptrack_queue_persisted_total",
		Help: "Total number of successful writes of the backing file",
	})

	queueRestoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apptrack_queue_restored_total",
		Help: "Total number of entries restored from the backing file",
	})

	queuePersistErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apptrack_queue_persist_errors_total",
		Help: "Backing file failures by operation (persist, restore, delete)",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(queueSize)
	prometheus.MustRegister(queueCapacity)
	prometheus.MustRegister(queueEnqueuedTotal)
	prometheus.MustRegister(queueEvictedTotal)
	prometheus.MustRegister(queueDeliveredTotal)
	prometheus.MustRegister(queuePersistedTotal)
	prometheus.MustRegister(queueRestoredTotal)
	prometheus.MustRegister(queuePersistErrorsTotal)
}
